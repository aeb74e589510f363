package cli

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	authpkg "github.com/mwhitfield/copilot-auth/internal/auth"
	"github.com/mwhitfield/copilot-auth/internal/credstore"
	"github.com/mwhitfield/copilot-auth/internal/deviceflow"
	cerrors "github.com/mwhitfield/copilot-auth/internal/errors"
	"github.com/mwhitfield/copilot-auth/internal/models"
)

// cliEnv points all paths at a temp dir and clears ambient credentials.
func cliEnv(t *testing.T) (tokenDir, settingsPath string) {
	t.Helper()

	tokenDir = t.TempDir()
	settingsPath = filepath.Join(t.TempDir(), "settings.json")

	t.Setenv("COPILOT_AUTH_TOKEN_DIR", tokenDir)
	t.Setenv("COPILOT_AUTH_SETTINGS_PATH", settingsPath)
	t.Setenv("ENVIRONMENT", "development")
	t.Setenv("GITHUB_TOKEN", "")
	os.Unsetenv("GITHUB_TOKEN")

	return tokenDir, settingsPath
}

func runCLI(t *testing.T, stdin io.Reader, args ...string) (string, error) {
	t.Helper()

	root := NewRootCmd("test")
	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetErr(&buf)
	if stdin != nil {
		root.SetIn(stdin)
	}
	root.SetArgs(args)

	err := root.Execute()
	return buf.String(), err
}

// stubFlow stands in for the real device flow in login tests.
type stubFlow struct {
	onGrant func(deviceflow.DeviceGrant)
	result  deviceflow.Result
	runs    *int
}

func (f stubFlow) Run(context.Context) deviceflow.Result {
	if f.runs != nil {
		*f.runs++
	}
	if f.onGrant != nil {
		f.onGrant(deviceflow.DeviceGrant{
			UserCode:        "ABCD-1234",
			VerificationURI: "https://github.com/login/device",
			Interval:        5 * time.Second,
			ExpiresAt:       time.Now().Add(15 * time.Minute),
		})
	}
	return f.result
}

func stubFlowResult(t *testing.T, res deviceflow.Result) *int {
	t.Helper()

	runs := new(int)
	orig := newFlow
	t.Cleanup(func() { newFlow = orig })
	newFlow = func(_ *slog.Logger, onGrant func(deviceflow.DeviceGrant)) authpkg.Flow {
		return stubFlow{onGrant: onGrant, result: res, runs: runs}
	}
	return runs
}

func seedCredential(t *testing.T, tokenDir, token string) {
	t.Helper()
	require.NoError(t, credstore.New(tokenDir).Write(&models.CredentialRecord{
		AccessToken: token,
		TokenType:   "bearer",
		Scopes:      []string{"read:user"},
		IssuedAt:    time.Now().UTC(),
	}))
}

func TestLogin_RunsDeviceFlow(t *testing.T) {
	tokenDir, _ := cliEnv(t)
	runs := stubFlowResult(t, deviceflow.Result{
		Outcome: deviceflow.OutcomeAuthorized,
		Record: &models.CredentialRecord{
			AccessToken: "gho_cli",
			TokenType:   "bearer",
			Scopes:      []string{"read:user"},
			IssuedAt:    time.Now().UTC(),
		},
	})

	out, err := runCLI(t, nil, "login")
	require.NoError(t, err)
	assert.Equal(t, 1, *runs)
	assert.Contains(t, out, "enter code ABCD-1234")
	assert.Contains(t, out, "Authentication successful.")
	assert.Contains(t, out, "read:user")

	rec, err := credstore.New(tokenDir).Read()
	require.NoError(t, err)
	assert.Equal(t, "gho_cli", rec.AccessToken)
}

func TestLogin_AlreadyAuthenticatedSkipsFlow(t *testing.T) {
	tokenDir, _ := cliEnv(t)
	seedCredential(t, tokenDir, "gho_existing")
	runs := stubFlowResult(t, deviceflow.Result{Outcome: deviceflow.OutcomeError})

	out, err := runCLI(t, nil, "login")
	require.NoError(t, err)
	assert.Contains(t, out, "Already authenticated.")
	assert.Zero(t, *runs)
}

func TestLogin_DeniedMapsToExitOne(t *testing.T) {
	cliEnv(t)
	stubFlowResult(t, deviceflow.Result{
		Outcome: deviceflow.OutcomeDenied,
		Err:     cerrors.ErrAuthorizationDenied,
	})

	_, err := runCLI(t, nil, "login")
	require.ErrorIs(t, err, cerrors.ErrAuthorizationDenied)
	assert.Equal(t, 1, ExitCode(err))
}

func TestLogin_CheckOnly(t *testing.T) {
	tokenDir, _ := cliEnv(t)

	out, err := runCLI(t, nil, "login", "--check-only")
	require.ErrorIs(t, err, cerrors.ErrNoCredentials)
	assert.Equal(t, 1, ExitCode(err))
	assert.Contains(t, out, "copilot-auth login")
	assert.Contains(t, out, "GITHUB_TOKEN")

	seedCredential(t, tokenDir, "gho_check")
	out, err = runCLI(t, nil, "login", "--check-only")
	require.NoError(t, err)
	assert.Contains(t, out, "Authenticated.")
}

func TestStatus(t *testing.T) {
	tokenDir, _ := cliEnv(t)

	out, err := runCLI(t, nil, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "Authenticated: false")
	assert.Contains(t, out, "Token dir: "+tokenDir)
	assert.Contains(t, out, "GITHUB_TOKEN: not set")
	assert.Contains(t, out, "copilot-auth login")

	seedCredential(t, tokenDir, "gho_status")
	out, err = runCLI(t, nil, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "Authenticated: true")
	assert.Contains(t, out, "Scopes: read:user")
	assert.Contains(t, out, "Expires: never")
}

func TestRevoke(t *testing.T) {
	tokenDir, _ := cliEnv(t)
	seedCredential(t, tokenDir, "gho_revoke")

	out, err := runCLI(t, nil, "revoke")
	require.NoError(t, err)
	assert.Contains(t, out, "Credential revoked.")

	rec, err := credstore.New(tokenDir).Read()
	require.NoError(t, err)
	assert.Nil(t, rec)

	out, err = runCLI(t, nil, "revoke")
	require.NoError(t, err)
	assert.Contains(t, out, "No credential to revoke.")
}

func TestKey_PipedStdin(t *testing.T) {
	cliEnv(t)
	configPath := filepath.Join(t.TempDir(), "config.toml")

	out, err := runCLI(t, strings.NewReader("sk-piped\n"),
		"key", "--config", configPath, "--model", "github_copilot/gpt-4o")
	require.NoError(t, err)
	assert.Contains(t, out, "API key saved")

	data, err := os.ReadFile(configPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), `api_key = "sk-piped"`)
	assert.Contains(t, string(data), `model = "github_copilot/gpt-4o"`)
}

func TestKey_EmptyInputFails(t *testing.T) {
	cliEnv(t)
	configPath := filepath.Join(t.TempDir(), "config.toml")

	_, err := runCLI(t, strings.NewReader("\n"), "key", "--config", configPath)
	require.ErrorIs(t, err, cerrors.ErrConfig)
	assert.Equal(t, 2, ExitCode(err))
	assert.NoFileExists(t, configPath)
}

func writeConfigTOML(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestInit_ProjectsProxySettings(t *testing.T) {
	_, settingsPath := cliEnv(t)
	t.Setenv("GITHUB_TOKEN", "gho_env")

	configPath := writeConfigTOML(t, `
[llm]
model = "litellm_proxy/github_copilot/gpt-4o"
`)

	out, err := runCLI(t, nil, "init", "--config", configPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Mode: proxied")
	assert.Contains(t, out, "Credential source: environment_variable")
	assert.Contains(t, out, "Settings written to "+settingsPath)
	assert.FileExists(t, settingsPath)
}

func TestInit_SecondRunNeedsForce(t *testing.T) {
	_, settingsPath := cliEnv(t)
	t.Setenv("GITHUB_TOKEN", "gho_env")

	configPath := writeConfigTOML(t, `
[llm]
model = "github_copilot/gpt-4o"
`)

	_, err := runCLI(t, nil, "init", "--config", configPath)
	require.NoError(t, err)

	out, err := runCLI(t, nil, "init", "--config", configPath)
	require.NoError(t, err)
	assert.Contains(t, out, "already exist")

	out, err = runCLI(t, nil, "init", "--config", configPath, "--force")
	require.NoError(t, err)
	assert.Contains(t, out, "Settings written to "+settingsPath)
}

func TestInit_DryRunWritesNothing(t *testing.T) {
	_, settingsPath := cliEnv(t)
	t.Setenv("GITHUB_TOKEN", "gho_env")

	configPath := writeConfigTOML(t, `
[llm]
model = "github_copilot/gpt-4o"
`)

	out, err := runCLI(t, nil, "init", "--config", configPath, "--dry-run")
	require.NoError(t, err)
	assert.Contains(t, out, "Dry run: would write")
	assert.NoFileExists(t, settingsPath)
}

func TestInit_NoCopilotConfig(t *testing.T) {
	_, settingsPath := cliEnv(t)

	configPath := writeConfigTOML(t, `
[llm]
model = "openai/gpt-4o"
`)

	out, err := runCLI(t, nil, "init", "--config", configPath)
	require.NoError(t, err)
	assert.Contains(t, out, "No Copilot configuration detected.")
	assert.NoFileExists(t, settingsPath)
}

func TestInit_NoCredential(t *testing.T) {
	cliEnv(t)

	configPath := writeConfigTOML(t, `
[llm]
model = "github_copilot/gpt-4o"
`)

	out, err := runCLI(t, nil, "init", "--config", configPath)
	require.ErrorIs(t, err, cerrors.ErrNoCredentials)
	assert.Equal(t, 1, ExitCode(err))
	assert.Contains(t, out, "copilot-auth login")
}

func TestInit_InvalidMode(t *testing.T) {
	cliEnv(t)

	_, err := runCLI(t, nil, "init", "--mode", "sideways")
	require.ErrorIs(t, err, cerrors.ErrConfig)
	assert.Equal(t, 2, ExitCode(err))
}

func TestApplyMode(t *testing.T) {
	tests := []struct {
		model string
		mode  string
		want  string
	}{
		{"litellm_proxy/github_copilot/gpt-4o", "auto", "litellm_proxy/github_copilot/gpt-4o"},
		{"litellm_proxy/github_copilot/gpt-4o", "direct", "github_copilot/gpt-4o"},
		{"github_copilot/gpt-4o", "proxy", "litellm_proxy/github_copilot/gpt-4o"},
		{"copilot/gpt-4o", "proxy", "litellm_proxy/github_copilot/gpt-4o"},
		{"github_copilot/gpt-4o", "auto", "github_copilot/gpt-4o"},
		{"litellm_proxy/github_copilot/gpt-4o", "proxy", "litellm_proxy/github_copilot/gpt-4o"},
		{"", "proxy", ""},
	}

	for _, tt := range tests {
		t.Run(tt.model+"_"+tt.mode, func(t *testing.T) {
			assert.Equal(t, tt.want, applyMode(tt.model, tt.mode))
		})
	}
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, ExitCode(nil))
	assert.Equal(t, 1, ExitCode(cerrors.ErrAuthorizationDenied))
	assert.Equal(t, 1, ExitCode(cerrors.ErrGrantExpired))
	assert.Equal(t, 1, ExitCode(cerrors.ErrAuthenticationCancelled))
	assert.Equal(t, 1, ExitCode(cerrors.ErrNoCredentials))
	assert.Equal(t, 1, ExitCode(&cerrors.NetworkError{Err: io.EOF}))
	assert.Equal(t, 2, ExitCode(cerrors.ErrConfig))
	assert.Equal(t, 2, ExitCode(cerrors.ErrCorruptStore))
	assert.Equal(t, 2, ExitCode(io.EOF))
}
