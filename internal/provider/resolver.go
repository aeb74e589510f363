// Package provider resolves a partial LLM configuration into a concrete
// connection: operating mode, effective base URL, winning credential and
// request headers. Resolution is pure; it never touches disk or network.
package provider

import (
	"fmt"
	"strings"

	cerrors "github.com/mwhitfield/copilot-auth/internal/errors"
	"github.com/mwhitfield/copilot-auth/internal/models"
)

const (
	// directBaseURL is the Copilot API address used in direct mode.
	directBaseURL = "https://api.githubcopilot.com"

	// proxyBaseURL is the conventional local LiteLLM proxy address.
	proxyBaseURL = "http://localhost:4000"

	copilotPrefix = "github_copilot/"
	shortPrefix   = "copilot/"
	proxyPrefix   = "litellm_proxy/" + copilotPrefix
)

// editorHeaders identify the client to the Copilot API. Direct mode
// only; a proxy injects its own.
var editorHeaders = map[string]string{
	"Editor-Version":         "vscode/1.85.0",
	"Editor-Plugin-Version":  "copilot-chat/0.11.1",
	"User-Agent":             "GitHubCopilot/1.0",
	"Copilot-Integration-Id": "vscode-chat",
}

// supportedModels is the published Copilot model list. Names outside it
// still resolve; Known is false so callers can warn.
var supportedModels = map[string]struct{}{
	"gpt-4.1":         {},
	"gpt-4o":          {},
	"gpt-4o-mini":     {},
	"o1-preview":      {},
	"o1-mini":         {},
	"claude-sonnet-4": {},
}

// Inputs is the partial configuration resolution starts from. Empty
// strings mean "not provided".
type Inputs struct {
	Model       string
	ExplicitKey string
	BaseURL     string
	EnvToken    string
	OAuthToken  string
}

// IsCopilotModel reports whether the identifier names a Copilot model:
// a recognized prefix, the proxy marker, or a bare supported name.
func IsCopilotModel(model string) bool {
	if strings.HasPrefix(model, copilotPrefix) ||
		strings.HasPrefix(model, shortPrefix) ||
		strings.HasPrefix(model, proxyPrefix) {
		return true
	}
	_, ok := supportedModels[model]
	return ok
}

// Resolve derives the connection for the given inputs. A missing
// credential is not an error (Source is SourceNone); only contradictory
// input fails, wrapped in ErrConfig.
func Resolve(in Inputs) (models.ResolvedConnection, error) {
	if !IsCopilotModel(in.Model) {
		return models.ResolvedConnection{}, fmt.Errorf("%w: %q is not a Copilot model", cerrors.ErrConfig, in.Model)
	}

	if strings.HasPrefix(in.Model, proxyPrefix) {
		return resolveProxied(in)
	}
	return resolveDirect(in)
}

func resolveProxied(in Inputs) (models.ResolvedConnection, error) {
	name := strings.TrimPrefix(in.Model, proxyPrefix)
	if name == "" {
		return models.ResolvedConnection{}, fmt.Errorf("%w: proxy model %q names no model", cerrors.ErrConfig, in.Model)
	}

	conn := models.ResolvedConnection{
		Mode:    models.ModeProxied,
		Model:   in.Model, // proxied identifiers pass through untouched
		BaseURL: in.BaseURL,
		Known:   isKnown(name),
	}
	if conn.BaseURL == "" {
		conn.BaseURL = proxyBaseURL
	}

	conn.Source, conn.APIKey = pickCredential(in)
	return conn, nil
}

func resolveDirect(in Inputs) (models.ResolvedConnection, error) {
	name := in.Model
	if strings.HasPrefix(name, copilotPrefix) {
		name = strings.TrimPrefix(name, copilotPrefix)
	} else if strings.HasPrefix(name, shortPrefix) {
		name = strings.TrimPrefix(name, shortPrefix)
	}
	if name == "" {
		return models.ResolvedConnection{}, fmt.Errorf("%w: model %q names no model", cerrors.ErrConfig, in.Model)
	}

	conn := models.ResolvedConnection{
		Mode:    models.ModeDirect,
		Model:   copilotPrefix + name,
		BaseURL: in.BaseURL,
		Headers: directHeaders(),
		Known:   isKnown(name),
	}
	if conn.BaseURL == "" {
		conn.BaseURL = directBaseURL
	}

	conn.Source, conn.APIKey = pickCredential(in)
	return conn, nil
}

// pickCredential applies the precedence: explicit key, then cached
// OAuth token, then environment token, then none.
func pickCredential(in Inputs) (models.CredentialSource, string) {
	switch {
	case in.ExplicitKey != "":
		return models.SourceExplicitKey, in.ExplicitKey
	case in.OAuthToken != "":
		return models.SourceOAuthToken, in.OAuthToken
	case in.EnvToken != "":
		return models.SourceEnvironment, in.EnvToken
	}
	return models.SourceNone, ""
}

func isKnown(name string) bool {
	_, ok := supportedModels[name]
	return ok
}

// directHeaders returns a fresh copy so callers can add headers without
// mutating the shared defaults.
func directHeaders() map[string]string {
	h := make(map[string]string, len(editorHeaders))
	for k, v := range editorHeaders {
		h[k] = v
	}
	return h
}
