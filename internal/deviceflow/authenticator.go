// Package deviceflow implements the OAuth device-authorization grant
// against GitHub's authorization endpoints. The flow is a strict state
// machine: a device code is requested, the user code is surfaced to the
// caller, and the token endpoint is polled until a terminal state is
// reached. The package owns the protocol; transport and time are
// injected capabilities.
package deviceflow

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	cerrors "github.com/mwhitfield/copilot-auth/internal/errors"
	"github.com/mwhitfield/copilot-auth/internal/models"
)

const (
	deviceCodeEndpoint  = "https://github.com/login/device/code"
	accessTokenEndpoint = "https://github.com/login/oauth/access_token"

	// clientID is the GitHub OAuth app used for Copilot device
	// authorization.
	clientID   = "Iv1.b507a08c87ecfe98"
	oauthScope = "read:user"
	grantType  = "urn:ietf:params:oauth:grant-type:device_code"

	// slowDownStep is added to the poll interval on every slow_down
	// response (RFC 8628 §3.5). The interval never decreases.
	slowDownStep = 5 * time.Second

	// minInterval is the floor for server-dictated poll intervals.
	minInterval = time.Second
)

// DeviceGrant is one in-flight authorization attempt. It is never
// persisted; the device code is a secret used only for polling.
type DeviceGrant struct {
	DeviceCode      string
	UserCode        string
	VerificationURI string
	Interval        time.Duration
	ExpiresAt       time.Time
}

// Outcome is the terminal state of a flow run.
type Outcome int

const (
	OutcomeAuthorized Outcome = iota + 1
	OutcomeDenied
	OutcomeExpired
	OutcomeCancelled
	OutcomeError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAuthorized:
		return "authorized"
	case OutcomeDenied:
		return "denied"
	case OutcomeExpired:
		return "expired"
	case OutcomeCancelled:
		return "cancelled"
	case OutcomeError:
		return "error"
	}
	return "unknown"
}

// Result is the discriminated outcome of a flow run. Record is set only
// for OutcomeAuthorized; Err is set for every other outcome and carries
// the typed reason, so callers branch without string matching.
type Result struct {
	Outcome Outcome
	Record  *models.CredentialRecord
	Err     error
}

// Authenticator runs the device-authorization grant. Endpoints default
// to GitHub's but are fields so tests can point at fakes.
type Authenticator struct {
	requester Requester
	clock     Clock
	logger    *slog.Logger

	// OnGrant is invoked with the grant before polling begins; this is
	// where the user code and verification URL must be shown.
	OnGrant func(DeviceGrant)

	deviceCodeURL string
	tokenURL      string
}

// New creates an Authenticator with the given capabilities. A nil clock
// falls back to the system clock.
func New(requester Requester, clock Clock, logger *slog.Logger) *Authenticator {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Authenticator{
		requester:     requester,
		clock:         clock,
		logger:        logger,
		deviceCodeURL: deviceCodeEndpoint,
		tokenURL:      accessTokenEndpoint,
	}
}

// Run executes the flow to a terminal state. Cancellation of ctx
// (including its deadline) yields OutcomeCancelled; the poll sleep is
// interrupted promptly rather than waiting out the interval.
func (a *Authenticator) Run(ctx context.Context) Result {
	grant, err := a.requestCode(ctx)
	if err != nil {
		return Result{Outcome: OutcomeError, Err: err}
	}

	a.logger.Info("device authorization started",
		slog.String("verification_uri", grant.VerificationURI),
		slog.String("user_code", grant.UserCode),
		slog.Time("grant_expires", grant.ExpiresAt),
	)

	if a.OnGrant != nil {
		a.OnGrant(grant)
	}

	return a.poll(ctx, grant)
}

// requestCode performs the INIT -> CODE_REQUESTED transition.
func (a *Authenticator) requestCode(ctx context.Context) (DeviceGrant, error) {
	form := url.Values{
		"client_id": {clientID},
		"scope":     {oauthScope},
	}

	status, body, err := a.requester.Post(ctx, a.deviceCodeURL, jsonAccept(), form)
	if err != nil {
		return DeviceGrant{}, &cerrors.NetworkError{Err: fmt.Errorf("requesting device code: %w", err)}
	}
	if status != 200 {
		return DeviceGrant{}, &cerrors.NetworkError{Err: fmt.Errorf("device code endpoint returned status %d", status)}
	}

	grant := DeviceGrant{
		DeviceCode:      gjson.GetBytes(body, "device_code").Str,
		UserCode:        gjson.GetBytes(body, "user_code").Str,
		VerificationURI: gjson.GetBytes(body, "verification_uri").Str,
		Interval:        time.Duration(gjson.GetBytes(body, "interval").Int()) * time.Second,
		ExpiresAt:       a.clock.Now().Add(time.Duration(gjson.GetBytes(body, "expires_in").Int()) * time.Second),
	}

	if grant.DeviceCode == "" || grant.UserCode == "" || grant.VerificationURI == "" {
		return DeviceGrant{}, fmt.Errorf("malformed device code response: missing required fields")
	}
	if grant.Interval < minInterval {
		grant.Interval = minInterval
	}
	if !grant.ExpiresAt.After(a.clock.Now()) {
		return DeviceGrant{}, fmt.Errorf("malformed device code response: grant already expired")
	}

	return grant, nil
}

// poll is the POLLING self-loop. The interval only ever grows: each
// slow_down response adds slowDownStep for all subsequent polls.
func (a *Authenticator) poll(ctx context.Context, grant DeviceGrant) Result {
	interval := grant.Interval

	form := url.Values{
		"client_id":   {clientID},
		"device_code": {grant.DeviceCode},
		"grant_type":  {grantType},
	}

	for {
		if !a.clock.Now().Before(grant.ExpiresAt) {
			return Result{Outcome: OutcomeExpired, Err: cerrors.ErrGrantExpired}
		}

		if err := a.clock.Sleep(ctx, interval); err != nil {
			return Result{Outcome: OutcomeCancelled, Err: fmt.Errorf("%w: %v", cerrors.ErrAuthenticationCancelled, err)}
		}

		status, body, err := a.requester.Post(ctx, a.tokenURL, jsonAccept(), form)
		if err != nil {
			if ctx.Err() != nil {
				return Result{Outcome: OutcomeCancelled, Err: fmt.Errorf("%w: %v", cerrors.ErrAuthenticationCancelled, ctx.Err())}
			}
			return Result{Outcome: OutcomeError, Err: &cerrors.NetworkError{Err: fmt.Errorf("polling token endpoint: %w", err)}}
		}

		switch errCode := gjson.GetBytes(body, "error").Str; errCode {
		case "":
			token := gjson.GetBytes(body, "access_token").Str
			if token == "" {
				return Result{Outcome: OutcomeError, Err: fmt.Errorf("malformed token response (status %d): no access token", status)}
			}
			return Result{Outcome: OutcomeAuthorized, Record: a.buildRecord(body, token)}

		case "authorization_pending":
			// Stay in POLLING, interval unchanged.

		case "slow_down":
			interval += slowDownStep
			a.logger.Debug("server requested slow down", slog.Duration("interval", interval))

		case "access_denied":
			return Result{Outcome: OutcomeDenied, Err: cerrors.ErrAuthorizationDenied}

		case "expired_token":
			return Result{Outcome: OutcomeExpired, Err: cerrors.ErrGrantExpired}

		default:
			return Result{Outcome: OutcomeError, Err: fmt.Errorf("token endpoint error %q (status %d)", errCode, status)}
		}
	}
}

// buildRecord assembles the credential from a successful token
// response. GitHub device-grant tokens usually carry no expires_in, in
// which case the record is non-expiring and re-authentication replaces
// it when revoked upstream.
func (a *Authenticator) buildRecord(body []byte, token string) *models.CredentialRecord {
	now := a.clock.Now()

	rec := &models.CredentialRecord{
		AccessToken: token,
		TokenType:   gjson.GetBytes(body, "token_type").Str,
		IssuedAt:    now,
	}
	if rec.TokenType == "" {
		rec.TokenType = "bearer"
	}

	if scope := gjson.GetBytes(body, "scope").Str; scope != "" {
		rec.Scopes = strings.Fields(scope)
	}

	if expiresIn := gjson.GetBytes(body, "expires_in").Int(); expiresIn > 0 {
		expires := now.Add(time.Duration(expiresIn) * time.Second)
		rec.ExpiresAt = &expires
	}

	return rec
}

func jsonAccept() map[string]string {
	return map[string]string{"Accept": "application/json"}
}
