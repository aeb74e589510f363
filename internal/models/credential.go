// Package models defines types shared across internal packages.
package models

import "time"

// CredentialRecord is the cached OAuth credential for one token directory.
// GitHub device-grant tokens are typically non-expiring, so ExpiresAt is
// nil unless the token endpoint reported a lifetime.
type CredentialRecord struct {
	AccessToken string     `json:"access_token"`
	TokenType   string     `json:"token_type"`
	Scopes      []string   `json:"scopes,omitempty"`
	IssuedAt    time.Time  `json:"issued_at"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

// Valid reports whether the record holds a usable token at the given time.
// A nil ExpiresAt means the token does not expire.
func (r *CredentialRecord) Valid(now time.Time) bool {
	if r == nil || r.AccessToken == "" {
		return false
	}
	return !r.Stale(now)
}

// Stale reports whether the record's expiry has passed.
func (r *CredentialRecord) Stale(now time.Time) bool {
	if r == nil || r.ExpiresAt == nil {
		return false
	}
	return !now.Before(*r.ExpiresAt)
}

// Status is the read-only diagnostic projection of the stored credential.
// It never carries the raw access token.
type Status struct {
	Authenticated bool       `json:"authenticated"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	Scopes        []string   `json:"scopes,omitempty"`
	TokenDir      string     `json:"token_dir"`
}
