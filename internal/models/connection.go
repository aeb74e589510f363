package models

// Mode describes how requests reach the Copilot API.
type Mode string

const (
	// ModeDirect talks to the Copilot API directly.
	ModeDirect Mode = "direct"

	// ModeProxied routes requests through a local LiteLLM-style proxy.
	ModeProxied Mode = "proxied"
)

// CredentialSource identifies which credential won resolution.
type CredentialSource string

const (
	SourceExplicitKey CredentialSource = "explicit_key"
	SourceOAuthToken  CredentialSource = "oauth_token"
	SourceEnvironment CredentialSource = "environment_variable"
	SourceNone        CredentialSource = "none"
)

// ResolvedConnection is the derived connection configuration for one
// request path. It is a value: Source == SourceNone is a valid result,
// and the caller decides whether a missing credential is fatal.
type ResolvedConnection struct {
	Mode    Mode
	Model   string
	BaseURL string
	Source  CredentialSource
	APIKey  string
	Headers map[string]string

	// Known is false when the model name is not on the supported list.
	// Resolution still succeeds; callers may warn.
	Known bool
}

// Usable reports whether the connection carries a credential.
func (c ResolvedConnection) Usable() bool {
	return c.Source != SourceNone
}
