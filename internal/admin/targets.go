// ABOUTME: Manual target management with form-level validation rules
// ABOUTME: DNS targets get resolver defaults; ICMP targets pick a probe by IP family

package admin

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/smokingpi/smokeadmin/internal/naming"
	"github.com/smokingpi/smokeadmin/internal/store"
)

// Target types accepted by AddTarget
const (
	TypeICMP = "icmp"
	TypeDNS  = "dns"
)

// DefaultDNSServer is used when a DNS target has no host.
const DefaultDNSServer = "8.8.8.8"

var lookupRegex = regexp.MustCompile(`^[A-Za-z0-9.-]+$`)

// AddTargetRequest is the input for a manually added target.
type AddTargetRequest struct {
	Name       string `json:"name"`
	Host       string `json:"host"`
	Title      string `json:"title"`
	Type       string `json:"type"`        // icmp (default) or dns
	Lookup     string `json:"lookup"`      // DNS query domain
	ForceProbe string `json:"force_probe"` // FPing or FPing6; empty picks by address family
	Category   string `json:"category"`
}

// UpdateTargetRequest is a partial update. Nil fields are left unchanged.
type UpdateTargetRequest struct {
	Host     *string `json:"host"`
	Title    *string `json:"title"`
	Category *string `json:"category"`
	Probe    *string `json:"probe"`
	Lookup   *string `json:"lookup"`
	Active   *bool   `json:"active"`
}

func invalid(field, record, reason string) error {
	return &store.ValidationError{Field: field, Record: record, Reason: reason}
}

// ListTargets returns targets matching filter.
func (s *Service) ListTargets(ctx context.Context, filter store.TargetFilter) ([]store.Target, error) {
	return s.store.GetTargets(ctx, filter)
}

// GetTarget returns one target or store.ErrNotFound.
func (s *Service) GetTarget(ctx context.Context, id string) (*store.Target, error) {
	return s.store.GetTarget(ctx, id)
}

// AddTarget validates req and creates a manual, active target.
func (s *Service) AddTarget(ctx context.Context, req AddTargetRequest) (*store.Target, error) {
	data, err := buildTarget(req)
	if err != nil {
		return nil, err
	}
	t, err := s.store.CreateTarget(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("creating target: %w", err)
	}
	s.logger.Info("target added", "name", t.Name, "host", t.Host, "category", t.Category, "probe", t.Probe)
	return t, nil
}

func buildTarget(req AddTargetRequest) (store.TargetData, error) {
	name := strings.TrimSpace(req.Name)
	host := strings.TrimSpace(req.Host)
	lookup := strings.TrimSpace(req.Lookup)

	if name == "" {
		return store.TargetData{}, invalid("name", "", "name is required")
	}
	if err := naming.ValidateName(name); err != nil {
		return store.TargetData{}, invalid("name", name, err.Error())
	}

	data := store.TargetData{
		Name:   name,
		Title:  strings.TrimSpace(req.Title),
		Active: true,
		Origin: store.OriginManual,
	}
	if data.Title == "" {
		data.Title = name
	}

	switch strings.ToLower(req.Type) {
	case TypeDNS:
		if lookup == "" {
			return store.TargetData{}, invalid("lookup", name, "DNS query domain is required for DNS targets")
		}
		if !lookupRegex.MatchString(lookup) {
			return store.TargetData{}, invalid("lookup", name, "DNS query domain contains invalid characters")
		}
		if host == "" {
			host = DefaultDNSServer
		}
		if err := naming.ValidateHost(host); err != nil {
			return store.TargetData{}, invalid("host", name, err.Error())
		}
		data.Host = host
		data.Probe = "DNS"
		data.Lookup = lookup
		data.Category = store.CategoryDNSResolvers

	case TypeICMP, "":
		if host == "" {
			return store.TargetData{}, invalid("host", name, "hostname or IP is required")
		}
		if err := naming.ValidateHost(host); err != nil {
			return store.TargetData{}, invalid("host", name, err.Error())
		}
		data.Host = host
		data.Probe = pickProbe(host, req.ForceProbe)
		data.Category = store.CategoryCustom

	default:
		return store.TargetData{}, invalid("type", name, fmt.Sprintf("unknown target type %q", req.Type))
	}

	if req.Category != "" {
		data.Category = req.Category
	}
	return data, nil
}

func pickProbe(host, force string) string {
	switch force {
	case "FPing", "FPing6":
		return force
	}
	if naming.IsIPv6(host) {
		return "FPing6"
	}
	return "FPing"
}

// UpdateTarget applies a partial update.
func (s *Service) UpdateTarget(ctx context.Context, id string, req UpdateTargetRequest) (*store.Target, error) {
	if req.Host != nil {
		h := strings.TrimSpace(*req.Host)
		if err := naming.ValidateHost(h); err != nil {
			return nil, invalid("host", id, err.Error())
		}
		req.Host = &h
	}
	if req.Lookup != nil && *req.Lookup != "" && !lookupRegex.MatchString(*req.Lookup) {
		return nil, invalid("lookup", id, "DNS query domain contains invalid characters")
	}
	t, err := s.store.UpdateTarget(ctx, id, store.TargetPatch{
		Host:     req.Host,
		Title:    req.Title,
		Category: req.Category,
		Probe:    req.Probe,
		Lookup:   req.Lookup,
		Active:   req.Active,
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("target updated", "id", id, "name", t.Name)
	return t, nil
}

// DeleteTarget removes a target. A missing target is store.ErrNotFound.
func (s *Service) DeleteTarget(ctx context.Context, id string) (Result, error) {
	ok, err := s.store.DeleteTarget(ctx, id)
	if err != nil {
		return Result{Message: err.Error()}, err
	}
	if !ok {
		return Result{Message: fmt.Sprintf("target %s not found", id)}, fmt.Errorf("target %s: %w", id, store.ErrNotFound)
	}
	s.logger.Info("target deleted", "id", id)
	return Result{Success: true, Message: fmt.Sprintf("target %s deleted", id)}, nil
}

// ToggleTarget flips a target's active flag.
func (s *Service) ToggleTarget(ctx context.Context, id string) (*store.Target, error) {
	t, err := s.store.ToggleActive(ctx, id)
	if err != nil {
		return nil, err
	}
	s.logger.Info("target toggled", "id", id, "active", t.Active)
	return t, nil
}

// Categories lists categories.
func (s *Service) Categories(ctx context.Context) ([]store.Category, error) {
	return s.store.GetCategories(ctx)
}

// Probes lists probes.
func (s *Service) Probes(ctx context.Context) ([]store.Probe, error) {
	return s.store.GetProbes(ctx)
}

// Sources lists sources.
func (s *Service) Sources(ctx context.Context) ([]store.Source, error) {
	return s.store.GetSources(ctx)
}
