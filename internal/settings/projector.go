// Package settings materializes a resolved connection into a settings
// snapshot for a host UI. Projection is write-once: an existing snapshot
// is never overwritten unless explicitly forced.
package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/mwhitfield/copilot-auth/internal/models"
	"github.com/mwhitfield/copilot-auth/internal/provider"
)

const (
	defaultAgent         = "CodeActAgent"
	defaultMaxIterations = 100

	filePerm = fs.FileMode(0o600)
	dirPerm  = fs.FileMode(0o700)
)

// Snapshot is the persisted projection. It carries the API key, so the
// file is written owner-only.
type Snapshot struct {
	Language         string `json:"language"`
	Agent            string `json:"agent"`
	MaxIterations    int    `json:"max_iterations"`
	ConfirmationMode bool   `json:"confirmation_mode"`
	Model            string `json:"llm_model"`
	BaseURL          string `json:"llm_base_url,omitempty"`
	APIKey           string `json:"llm_api_key,omitempty"`
	CredentialSource string `json:"credential_source"`
	Mode             string `json:"mode"`
}

// FromConnection builds a snapshot from a resolved connection. Zero
// agent/maxIterations fall back to the defaults.
func FromConnection(conn models.ResolvedConnection, agent string, maxIterations int) Snapshot {
	if agent == "" {
		agent = defaultAgent
	}
	if maxIterations <= 0 {
		maxIterations = defaultMaxIterations
	}
	return Snapshot{
		Language:         "en",
		Agent:            agent,
		MaxIterations:    maxIterations,
		ConfirmationMode: true,
		Model:            conn.Model,
		BaseURL:          conn.BaseURL,
		APIKey:           conn.APIKey,
		CredentialSource: string(conn.Source),
		Mode:             string(conn.Mode),
	}
}

// Options control a projection.
type Options struct {
	// Force overwrites an existing snapshot.
	Force bool

	// DryRun computes the result without touching disk.
	DryRun bool
}

// Result reports what a projection did (or would do, under DryRun).
type Result struct {
	Written bool
	Path    string
}

// Projector writes snapshots to a fixed path.
type Projector struct {
	path   string
	logger *slog.Logger
}

// NewProjector creates a projector targeting the given settings path.
func NewProjector(path string, logger *slog.Logger) *Projector {
	return &Projector{path: path, logger: logger}
}

// Path returns the target settings path.
func (p *Projector) Path() string { return p.path }

// Project writes the snapshot unless one already exists and Force is
// off. The write is atomic: the snapshot lands under a temporary name
// and is moved into place, so a crash never leaves a partial file. The
// no-clobber check and the move are a single link operation, not a
// stat-then-write race.
func (p *Projector) Project(snap Snapshot, opts Options) (Result, error) {
	res := Result{Path: p.path}

	if opts.DryRun {
		_, err := os.Stat(p.path)
		switch {
		case err == nil:
			res.Written = opts.Force
		case os.IsNotExist(err):
			res.Written = true
		default:
			return res, fmt.Errorf("statting settings file: %w", err)
		}
		return res, nil
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return res, fmt.Errorf("encoding settings: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(p.path)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return res, fmt.Errorf("creating settings directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".settings-*.json")
	if err != nil {
		return res, fmt.Errorf("creating temp settings file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := writeTemp(tmp, data); err != nil {
		return res, err
	}

	if opts.Force {
		if err := os.Rename(tmp.Name(), p.path); err != nil {
			return res, fmt.Errorf("replacing settings file: %w", err)
		}
		p.logger.Info("settings snapshot replaced", slog.String("path", p.path))
		res.Written = true
		return res, nil
	}

	// Link fails with EEXIST when a snapshot is already present, which
	// is exactly the no-clobber contract.
	if err := os.Link(tmp.Name(), p.path); err != nil {
		if errors.Is(err, fs.ErrExist) {
			p.logger.Debug("settings snapshot already exists, not overwriting",
				slog.String("path", p.path),
			)
			return res, nil
		}
		return res, fmt.Errorf("writing settings file: %w", err)
	}

	p.logger.Info("settings snapshot written", slog.String("path", p.path))
	res.Written = true
	return res, nil
}

func writeTemp(tmp *os.File, data []byte) error {
	defer tmp.Close()

	if err := tmp.Chmod(filePerm); err != nil {
		return fmt.Errorf("setting settings file mode: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("writing temp settings file: %w", err)
	}
	return nil
}

// AutoProject projects only when the inputs describe a Copilot
// configuration, detecting the mode from the model identifier. A
// non-Copilot or empty model is not an error; nothing is written.
func (p *Projector) AutoProject(in provider.Inputs, agent string, maxIterations int, opts Options) (Result, error) {
	if in.Model == "" || !provider.IsCopilotModel(in.Model) {
		p.logger.Debug("no copilot configuration detected, skipping settings projection")
		return Result{Path: p.path}, nil
	}

	conn, err := provider.Resolve(in)
	if err != nil {
		return Result{Path: p.path}, err
	}

	return p.Project(FromConnection(conn, agent, maxIterations), opts)
}
