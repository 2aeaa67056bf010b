// ABOUTME: Admin service composing store, reconciliation, synthesis and deployment
// ABOUTME: The single entry point used by the REST API and the CLI

package admin

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/smokingpi/smokeadmin/internal/deploy"
	"github.com/smokingpi/smokeadmin/internal/discovery"
	"github.com/smokingpi/smokeadmin/internal/reconcile"
	"github.com/smokingpi/smokeadmin/internal/store"
	"github.com/smokingpi/smokeadmin/internal/synth"
)

// Result is the human-readable summary every mutating operation returns.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// CandidateSource produces ready-made candidates, e.g. CDN appliances.
type CandidateSource interface {
	Candidates(ctx context.Context, maxTargets int) ([]reconcile.Candidate, error)
}

// Config holds the settings the service needs from the application config.
type Config struct {
	ConfigDir      string
	DefaultProbe   string
	CategoryProbes map[string]string
	Country        string
	MaxSites       int
	Selection      store.Selection
}

// Service implements every administrative operation.
type Service struct {
	store    store.Store
	engine   *reconcile.Engine
	renderer *synth.Renderer
	deployer deploy.Deployer
	cfg      Config

	mu         sync.RWMutex
	listers    map[string]discovery.Lister
	candidates map[string]CandidateSource

	now    func() time.Time
	logger *slog.Logger
}

// New creates a Service. deployer may be nil, in which case Apply fails.
func New(s store.Store, renderer *synth.Renderer, deployer deploy.Deployer, cfg Config) *Service {
	if cfg.MaxSites <= 0 || cfg.MaxSites > reconcile.MaxCandidates {
		cfg.MaxSites = reconcile.MaxCandidates
	}
	if cfg.Country == "" {
		cfg.Country = discovery.GlobalCountry
	}
	return &Service{
		store: s,
		engine: reconcile.New(s,
			reconcile.WithCategoryProbes(cfg.CategoryProbes),
			reconcile.WithDefaultProbe(cfg.DefaultProbe),
		),
		renderer:   renderer,
		deployer:   deployer,
		cfg:        cfg,
		listers:    make(map[string]discovery.Lister),
		candidates: make(map[string]CandidateSource),
		now:        time.Now,
		logger:     slog.Default().With("component", "admin"),
	}
}

// RegisterLister makes category syncable without an explicit domain list.
func (s *Service) RegisterLister(category string, l discovery.Lister) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listers[category] = l
}

// RegisterCandidateSource makes category syncable from a candidate source.
func (s *Service) RegisterCandidateSource(category string, src CandidateSource) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.candidates[category] = src
}

// Store returns the store in use.
func (s *Service) Store() store.Store { return s.store }
