// Package auth coordinates the credential lifecycle: it reads the
// on-disk store, runs the device-authorization flow when no usable
// credential exists, and serializes concurrent attempts so one
// interactive flow serves every waiter.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/mwhitfield/copilot-auth/internal/credstore"
	"github.com/mwhitfield/copilot-auth/internal/deviceflow"
	cerrors "github.com/mwhitfield/copilot-auth/internal/errors"
	"github.com/mwhitfield/copilot-auth/internal/models"
)

// Flow runs one device-authorization attempt to a terminal state.
// Satisfied by *deviceflow.Authenticator.
type Flow interface {
	Run(ctx context.Context) deviceflow.Result
}

// AuthResult is delivered on the channel returned by AuthenticateAsync.
type AuthResult struct {
	Record *models.CredentialRecord
	Err    error
}

// Manager owns the stored credential for one token directory.
type Manager struct {
	store  *credstore.Store
	flow   Flow
	logger *slog.Logger

	// group collapses concurrent Authenticate calls in this process
	// onto a single flow run. Cross-process exclusion is the store's
	// file lock.
	group singleflight.Group

	// RemoteRevoke, when set, is notified on Revoke with the token
	// being discarded. Failures are logged, never returned; the local
	// delete is authoritative.
	RemoteRevoke func(ctx context.Context, token string) error
}

// NewManager creates a Manager over the given store and flow.
func NewManager(store *credstore.Store, flow Flow, logger *slog.Logger) *Manager {
	return &Manager{
		store:  store,
		flow:   flow,
		logger: logger,
	}
}

// IsAuthenticated reports whether a usable credential is stored.
// A corrupt or locked store reads as not authenticated.
func (m *Manager) IsAuthenticated() bool {
	rec := m.readUsable()
	return rec != nil
}

// Credential returns the stored access token if one is usable.
func (m *Manager) Credential() (string, bool) {
	rec := m.readUsable()
	if rec == nil {
		return "", false
	}
	return rec.AccessToken, true
}

// readUsable reads the store, treating corruption as absence. The
// distinct warning keeps a corrupt store diagnosable without blocking
// the credential path.
func (m *Manager) readUsable() *models.CredentialRecord {
	rec, err := m.store.Read()
	if err != nil {
		if errors.Is(err, cerrors.ErrCorruptStore) {
			m.logger.Warn("token store unreadable, treating as unauthenticated",
				slog.String("path", m.store.Path()),
				slog.String("error", err.Error()),
			)
		} else {
			m.logger.Warn("reading token store failed", slog.String("error", err.Error()))
		}
		return nil
	}

	if !rec.Valid(time.Now()) {
		return nil
	}
	return rec
}

// Authenticate returns the stored credential, running the device flow
// first if none is usable. timeout, when positive, bounds the whole
// operation including the wait for the store lock. Concurrent callers
// share a single flow run and all receive its result.
func (m *Manager) Authenticate(ctx context.Context, timeout time.Duration) (*models.CredentialRecord, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	v, err, _ := m.group.Do("authenticate", func() (any, error) {
		return m.authenticate(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.CredentialRecord), nil
}

// AuthenticateAsync starts Authenticate without blocking the caller and
// delivers the result on the returned channel. The channel is buffered;
// the result is never lost if the caller reads late.
func (m *Manager) AuthenticateAsync(ctx context.Context, timeout time.Duration) <-chan AuthResult {
	ch := make(chan AuthResult, 1)
	go func() {
		rec, err := m.Authenticate(ctx, timeout)
		ch <- AuthResult{Record: rec, Err: err}
	}()
	return ch
}

// authenticate recovers from a corrupt store by discarding it and
// retrying once, then defers to lockedAuthenticate.
func (m *Manager) authenticate(ctx context.Context) (*models.CredentialRecord, error) {
	rec, err := m.lockedAuthenticate(ctx)
	if errors.Is(err, cerrors.ErrCorruptStore) {
		m.logger.Warn("token store corrupt, discarding and re-authenticating",
			slog.String("path", m.store.Path()),
		)
		if delErr := m.store.Delete(); delErr != nil {
			return nil, delErr
		}
		rec, err = m.lockedAuthenticate(ctx)
	}
	return rec, err
}

// lockedAuthenticate holds the store lock across the check-then-act
// sequence, so a credential written by another process while we waited
// is reused instead of triggering a second interactive flow.
func (m *Manager) lockedAuthenticate(ctx context.Context) (*models.CredentialRecord, error) {
	var rec *models.CredentialRecord

	err := m.store.WithLock(ctx, func(l *credstore.Locked) error {
		existing, err := l.Read()
		switch {
		case err == nil && existing.Valid(time.Now()):
			rec = existing
			return nil
		case errors.Is(err, cerrors.ErrCorruptStore):
			m.logger.Warn("token store corrupt, re-authenticating",
				slog.String("path", m.store.Path()),
			)
		case err != nil:
			return err
		}

		res := m.flow.Run(ctx)
		if res.Outcome != deviceflow.OutcomeAuthorized {
			return res.Err
		}

		if err := l.Write(res.Record); err != nil {
			return fmt.Errorf("persisting credential: %w", err)
		}

		m.logger.Info("authentication succeeded",
			slog.String("token_dir", m.store.Dir()),
			slog.Any("scopes", res.Record.Scopes),
		)
		rec = res.Record
		return nil
	})
	if err != nil {
		if !isTypedAuthError(err) && ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", cerrors.ErrAuthenticationCancelled, ctx.Err())
		}
		return nil, err
	}

	return rec, nil
}

// isTypedAuthError reports whether err already carries one of the
// taxonomy errors callers branch on, so it is not re-wrapped as a
// cancellation even when the context has since expired.
func isTypedAuthError(err error) bool {
	return errors.Is(err, cerrors.ErrAuthorizationDenied) ||
		errors.Is(err, cerrors.ErrGrantExpired) ||
		errors.Is(err, cerrors.ErrAuthenticationCancelled) ||
		errors.Is(err, cerrors.ErrLockTimeout) ||
		cerrors.IsNetwork(err)
}

// Revoke discards the stored credential. The local delete decides the
// outcome; a configured remote revocation is attempted first and its
// failure only logged.
func (m *Manager) Revoke(ctx context.Context) error {
	err := m.store.WithLock(ctx, func(l *credstore.Locked) error {
		if m.RemoteRevoke != nil {
			if rec, err := l.Read(); err == nil && rec != nil {
				if err := m.RemoteRevoke(ctx, rec.AccessToken); err != nil {
					m.logger.Warn("remote revocation failed, removing local credential anyway",
						slog.String("error", err.Error()),
					)
				}
			}
		}
		return l.Delete()
	})
	if errors.Is(err, cerrors.ErrCorruptStore) {
		// Nothing salvageable to revoke remotely; drop the file.
		m.logger.Warn("token store corrupt, removing it",
			slog.String("path", m.store.Path()),
		)
		return m.store.Delete()
	}
	return err
}

// Status reports the stored credential without exposing the token. A
// corrupt store is reported as unauthenticated alongside the error so
// diagnostic commands can surface it.
func (m *Manager) Status() (models.Status, error) {
	st := models.Status{TokenDir: m.store.Dir()}

	rec, err := m.store.Read()
	if err != nil {
		return st, err
	}
	if !rec.Valid(time.Now()) {
		return st, nil
	}

	st.Authenticated = true
	st.ExpiresAt = rec.ExpiresAt
	st.Scopes = rec.Scopes
	return st, nil
}
