// ABOUTME: Generate, apply, status and bandwidth operations
// ABOUTME: Apply runs generate, validate, write and reload in that order

package admin

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/smokingpi/smokeadmin/internal/deploy"
	"github.com/smokingpi/smokeadmin/internal/store"
	"github.com/smokingpi/smokeadmin/internal/synth"
)

// GenerateResult is the outcome of rendering.
type GenerateResult struct {
	Rendered   synth.Rendered `json:"-"`
	Targets    int            `json:"targets"`
	Categories int            `json:"categories"`
	Probes     int            `json:"probes"`
	Warnings   []string       `json:"warnings,omitempty"`
}

// ApplyResult is the outcome of Apply.
type ApplyResult struct {
	Result
	Generated *GenerateResult `json:"generated,omitempty"`
	Deploy    *deploy.Outcome `json:"deploy,omitempty"`
}

// Bandwidth is the probe traffic estimate.
type Bandwidth struct {
	ActiveTargets int     `json:"active_targets"`
	PerTargetBps  float64 `json:"per_target_bps"`
	Bps           float64 `json:"bps"`
	Kbps          float64 `json:"kbps"`
	Mbps          float64 `json:"mbps"`
}

// Status summarizes the running configuration.
type Status struct {
	Backend        store.Backend     `json:"backend"`
	BackendReason  string            `json:"backend_reason"`
	SelectedAt     time.Time         `json:"selected_at"`
	ConfigFiles    map[string]bool   `json:"config_files"`
	GeneratedFiles map[string]bool   `json:"generated_files,omitempty"`
	ActiveTargets  int               `json:"active_targets"`
	TotalTargets   int               `json:"total_targets"`
	Categories     int               `json:"categories"`
	Probes         int               `json:"probes"`
	Bandwidth      Bandwidth         `json:"bandwidth"`
	LastSync       map[string]string `json:"last_sync,omitempty"`
}

// ErrNoDeployer is returned by Apply when no deployer is configured.
var ErrNoDeployer = errors.New("no deployer configured")

// Generate renders both configuration sections without writing them.
func (s *Service) Generate(ctx context.Context) (*GenerateResult, error) {
	m, err := synth.LoadModel(ctx, s.store, s.cfg.DefaultProbe)
	if err != nil {
		return nil, err
	}
	r, err := s.renderer.Render(m)
	if err != nil {
		return nil, err
	}
	return &GenerateResult{
		Rendered:   r,
		Targets:    m.TargetCount(),
		Categories: len(m.Categories),
		Probes:     len(m.Probes),
		Warnings:   r.Warnings,
	}, nil
}

// Apply generates, validates, writes and reloads. Nothing is written when
// generation fails. A reload failure is reported, not retried.
func (s *Service) Apply(ctx context.Context) (*ApplyResult, error) {
	res := &ApplyResult{}
	if s.deployer == nil {
		res.Message = ErrNoDeployer.Error()
		return res, ErrNoDeployer
	}

	gen, err := s.Generate(ctx)
	if err != nil {
		res.Message = err.Error()
		return res, err
	}
	res.Generated = gen

	out, err := s.deployer.Deploy(ctx, gen.Rendered)
	res.Deploy = out
	if err != nil {
		res.Message = err.Error()
		s.logger.Error("apply failed", "error", err)
		return res, err
	}
	res.Success = true
	res.Message = fmt.Sprintf("applied %d targets in %d categories", gen.Targets, gen.Categories)
	if out != nil && out.Reloaded {
		res.Message += ", daemon reloaded"
	}
	s.logger.Info("configuration applied", "targets", gen.Targets)
	return res, nil
}

// Bandwidth estimates probe traffic for the active targets.
func (s *Service) Bandwidth(ctx context.Context) (Bandwidth, error) {
	active, err := s.store.GetTargets(ctx, store.TargetFilter{ActiveOnly: true})
	if err != nil {
		return Bandwidth{}, err
	}
	return estimate(len(active)), nil
}

func estimate(n int) Bandwidth {
	bps := float64(n) * store.BandwidthPerTargetBps
	return Bandwidth{
		ActiveTargets: n,
		PerTargetBps:  store.BandwidthPerTargetBps,
		Bps:           bps,
		Kbps:          bps / 1000,
		Mbps:          store.EstimateBandwidthMbps(n),
	}
}

// Status reports the backend in use, file presence and target counts.
func (s *Service) Status(ctx context.Context) (*Status, error) {
	st := &Status{
		Backend:       s.store.Backend(),
		BackendReason: s.cfg.Selection.Reason,
		SelectedAt:    s.cfg.Selection.DecidedAt,
		ConfigFiles:   make(map[string]bool),
	}
	for _, name := range store.RequiredDocuments {
		st.ConfigFiles[name] = fileExists(filepath.Join(s.cfg.ConfigDir, name))
	}
	if d, ok := s.deployer.(interface{ Dir() string }); ok {
		st.GeneratedFiles = map[string]bool{
			deploy.TargetsFileName: fileExists(filepath.Join(d.Dir(), deploy.TargetsFileName)),
			deploy.ProbesFileName:  fileExists(filepath.Join(d.Dir(), deploy.ProbesFileName)),
		}
	}

	targets, err := s.store.GetTargets(ctx, store.TargetFilter{})
	if err != nil {
		return nil, err
	}
	st.TotalTargets = len(targets)
	st.ActiveTargets = store.CountActive(targets)
	st.Bandwidth = estimate(st.ActiveTargets)

	cats, err := s.store.GetCategories(ctx)
	if err != nil {
		return nil, err
	}
	st.Categories = len(cats)
	probes, err := s.store.GetProbes(ctx)
	if err != nil {
		return nil, err
	}
	st.Probes = len(probes)

	sources, err := s.store.GetSources(ctx)
	if err != nil {
		return nil, err
	}
	for _, src := range sources {
		v, err := s.store.GetMetadata(ctx, LastSyncPrefix+src.Name)
		if err != nil {
			continue
		}
		if st.LastSync == nil {
			st.LastSync = make(map[string]string)
		}
		st.LastSync[src.Name] = v
	}
	return st, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
