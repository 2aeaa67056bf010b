// ABOUTME: Category sync: resolves desired candidates and runs reconciliation
// ABOUTME: Explicit domains win, then a candidate source, then a registered lister

package admin

import (
	"context"
	"fmt"
	"time"

	"github.com/smokingpi/smokeadmin/internal/reconcile"
	"github.com/smokingpi/smokeadmin/internal/store"
)

// LastSyncPrefix prefixes the metadata key recording a category's last sync.
const LastSyncPrefix = "last_sync."

// Sync reconciles category. A nil domains takes the desired list from the
// candidate source or lister registered for the category. A non-nil empty
// domains is an explicit empty list and deactivates every discovered target.
func (s *Service) Sync(ctx context.Context, category string, domains []string) (reconcile.Result, error) {
	if category == "" {
		err := invalid("category", "", "category is required")
		return reconcile.Result{Message: err.Error()}, err
	}

	src, err := s.source(ctx, category)
	if err != nil {
		return reconcile.Result{Category: category, Message: err.Error()}, err
	}
	if src != nil && !src.Enabled {
		err := invalid("source", category, "source is disabled")
		return reconcile.Result{Category: category, Message: err.Error()}, err
	}

	desired, err := s.desired(ctx, category, domains, src)
	if err != nil {
		return reconcile.Result{Category: category, Message: err.Error()}, err
	}

	res, err := s.engine.Reconcile(ctx, category, desired)
	if err != nil {
		return res, err
	}
	if err := s.store.SetMetadata(ctx, LastSyncPrefix+category, s.now().UTC().Format(time.RFC3339)); err != nil {
		s.logger.Warn("recording sync time failed", "category", category, "error", err)
	}
	return res, nil
}

func (s *Service) source(ctx context.Context, category string) (*store.Source, error) {
	sources, err := s.store.GetSources(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading sources: %w", err)
	}
	for i := range sources {
		if sources[i].Name == category {
			return &sources[i], nil
		}
	}
	return nil, nil
}

func (s *Service) desired(ctx context.Context, category string, domains []string, src *store.Source) ([]reconcile.Candidate, error) {
	if domains != nil {
		return reconcile.FromDomains(domains), nil
	}

	s.mu.RLock()
	cands, hasCands := s.candidates[category]
	lister, hasLister := s.listers[category]
	s.mu.RUnlock()

	limit := s.cfg.MaxSites
	if src != nil && src.MaxTargets > 0 && src.MaxTargets < limit {
		limit = src.MaxTargets
	}

	switch {
	case hasCands:
		out, err := cands.Candidates(ctx, limit)
		if err != nil {
			return nil, fmt.Errorf("discovering %s: %w", category, err)
		}
		return out, nil
	case hasLister:
		list, err := lister.List(ctx, s.cfg.Country, limit)
		if err != nil {
			return nil, fmt.Errorf("fetching %s list: %w", category, err)
		}
		return reconcile.FromDomains(list), nil
	}
	return nil, invalid("domains", category, "no domains given and no source configured")
}
