// ABOUTME: File-based Deployer with atomic writes and a bounded reload command
// ABOUTME: Each deployment gets an ID so logs and API responses can be correlated

package deploy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/smokingpi/smokeadmin/internal/store"
	"github.com/smokingpi/smokeadmin/internal/synth"
)

// File names written into the target directory.
const (
	TargetsFileName = "Targets"
	ProbesFileName  = "Probes"
)

// DefaultReloadTimeout bounds the reload command.
const DefaultReloadTimeout = 30 * time.Second

// ErrReload is returned when the files were written but the reload failed.
var ErrReload = errors.New("reload failed")

// Outcome describes one deployment.
type Outcome struct {
	DeploymentID string    `json:"deployment_id"`
	TargetsPath  string    `json:"targets_path"`
	ProbesPath   string    `json:"probes_path"`
	Reloaded     bool      `json:"reloaded"`
	ReloadOutput string    `json:"reload_output,omitempty"`
	ReloadError  string    `json:"reload_error,omitempty"`
	DeployedAt   time.Time `json:"deployed_at"`
}

// Deployer installs rendered configuration.
type Deployer interface {
	Deploy(ctx context.Context, r synth.Rendered) (*Outcome, error)
}

// FileDeployer writes into a directory and runs a reload command.
type FileDeployer struct {
	dir        string
	reload     []string
	timeout    time.Duration
	keepBackup int
	now        func() time.Time
	logger     *slog.Logger
}

// Option configures a FileDeployer.
type Option func(*FileDeployer)

// WithReloadCommand sets the argv run after writing. An empty argv skips
// the reload.
func WithReloadCommand(argv []string, timeout time.Duration) Option {
	return func(d *FileDeployer) {
		d.reload = argv
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

// WithBackupRetention keeps at most n backups of each file.
func WithBackupRetention(n int) Option {
	return func(d *FileDeployer) { d.keepBackup = n }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(d *FileDeployer) { d.now = now }
}

// NewFileDeployer creates a deployer writing into dir.
func NewFileDeployer(dir string, opts ...Option) *FileDeployer {
	d := &FileDeployer{
		dir:     dir,
		timeout: DefaultReloadTimeout,
		now:     time.Now,
		logger:  slog.Default().With("component", "deploy"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dir returns the target directory.
func (d *FileDeployer) Dir() string { return d.dir }

// Deploy implements Deployer.
func (d *FileDeployer) Deploy(ctx context.Context, r synth.Rendered) (*Outcome, error) {
	now := d.now()
	out := &Outcome{
		DeploymentID: uuid.New().String(),
		TargetsPath:  filepath.Join(d.dir, TargetsFileName),
		ProbesPath:   filepath.Join(d.dir, ProbesFileName),
		DeployedAt:   now.UTC(),
	}
	logger := d.logger.With("deployment_id", out.DeploymentID)

	for _, f := range []struct {
		path string
		text string
	}{{out.ProbesPath, r.Probes}, {out.TargetsPath, r.Targets}} {
		if _, err := store.Backup(f.path, now); err != nil {
			return out, err
		}
		if err := store.WriteFileAtomic(f.path, []byte(f.text)); err != nil {
			return out, fmt.Errorf("writing %s: %w", filepath.Base(f.path), err)
		}
		if err := store.PruneBackups(f.path, d.keepBackup); err != nil {
			logger.Warn("pruning backups failed", "file", f.path, "error", err)
		}
	}
	logger.Info("configuration written", "dir", d.dir)

	if len(d.reload) == 0 {
		return out, nil
	}
	output, err := d.runReload(ctx)
	out.ReloadOutput = output
	if err != nil {
		out.ReloadError = err.Error()
		logger.Error("reload failed", "command", d.reload[0], "error", err)
		return out, fmt.Errorf("%w: %w", ErrReload, err)
	}
	out.Reloaded = true
	logger.Info("daemon reloaded", "command", d.reload[0])
	return out, nil
}

func (d *FileDeployer) runReload(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, d.reload[0], d.reload[1:]...)
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	err := cmd.Run()
	output := strings.TrimSpace(buf.String())
	if ctx.Err() == context.DeadlineExceeded {
		return output, fmt.Errorf("timed out after %s", d.timeout)
	}
	return output, err
}
