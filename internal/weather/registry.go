package weather

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// MinComplianceScore is the admission threshold for provider descriptors.
const MinComplianceScore = 80

// DefaultCallTimeout bounds a single provider call made by the registry.
const DefaultCallTimeout = 15 * time.Second

// Method selects which provider operation a failover call invokes.
type Method int

const (
	MethodCurrent Method = iota
	MethodForecast
	MethodHistorical
)

func (m Method) String() string {
	switch m {
	case MethodCurrent:
		return "current"
	case MethodForecast:
		return "forecast"
	case MethodHistorical:
		return "historical"
	default:
		return fmt.Sprintf("method(%d)", int(m))
	}
}

func (m Method) capability() Capability {
	switch m {
	case MethodCurrent:
		return CapabilityCurrent
	case MethodForecast:
		return CapabilityForecast
	default:
		return CapabilityHistorical
	}
}

// FetchRequest carries the arguments of one failover call.
type FetchRequest struct {
	Method Method
	Lat    float64
	Lon    float64
	Days   int       // forecast only
	Start  time.Time // historical only
	End    time.Time // historical only
}

// FetchResult is the first successful provider response.
type FetchResult struct {
	Provider     string
	Observations []Observation
}

type registeredProvider struct {
	desc     ProviderDescriptor
	provider Provider
	order    int // position in the configuration list
}

// ProviderStatus describes an admitted provider for inspection.
type ProviderStatus struct {
	ProviderDescriptor
	Active  bool `json:"active"`
	Primary bool `json:"primary"`
}

// Registry holds admitted providers and computes the failover order.
type Registry struct {
	providers   []registeredProvider
	callTimeout time.Duration

	mu      sync.RWMutex
	active  map[string]bool
	primary string
}

// NewRegistry admits every descriptor whose compliance score reaches
// MinComplianceScore and builds its provider with factory. Rejected or
// unbuildable descriptors are logged and skipped; a registry with no admitted
// providers is returned in a degraded state rather than as an error.
func NewRegistry(descs []ProviderDescriptor, factory ProviderFactory, callTimeout time.Duration) *Registry {
	if callTimeout <= 0 {
		callTimeout = DefaultCallTimeout
	}
	r := &Registry{
		callTimeout: callTimeout,
		active:      make(map[string]bool),
	}

	for i, d := range descs {
		if d.ComplianceScore < MinComplianceScore {
			slog.Warn("provider rejected: compliance score below threshold",
				"provider", d.Name, "score", d.ComplianceScore, "threshold", MinComplianceScore)
			continue
		}
		if r.find(d.Name) != nil {
			slog.Warn("provider rejected: duplicate name", "provider", d.Name)
			continue
		}
		p, err := factory(d)
		if err != nil {
			slog.Warn("provider rejected: construction failed", "provider", d.Name, "type", d.Type, "error", err)
			continue
		}
		r.providers = append(r.providers, registeredProvider{desc: d, provider: p, order: i})
		if d.Active {
			r.active[d.Name] = true
		}
		if d.Primary && d.Active && r.primary == "" {
			r.primary = d.Name
		}
		slog.Info("provider admitted", "provider", d.Name, "type", d.Type,
			"score", d.ComplianceScore, "verified", d.Verified, "active", d.Active)
	}

	if r.Degraded() {
		slog.Error("provider registry is degraded: no active providers", "configured", len(descs), "admitted", len(r.providers))
	}
	return r
}

func (r *Registry) find(name string) *registeredProvider {
	for i := range r.providers {
		if r.providers[i].desc.Name == name {
			return &r.providers[i]
		}
	}
	return nil
}

// Activate adds an admitted provider to the active set.
func (r *Registry) Activate(name string) error {
	if r.find(name) == nil {
		return fmt.Errorf("%w: %s", ErrProviderNotFound, name)
	}
	r.mu.Lock()
	r.active[name] = true
	r.mu.Unlock()
	return nil
}

// Deactivate removes a provider from the active set, clearing it as primary.
func (r *Registry) Deactivate(name string) error {
	if r.find(name) == nil {
		return fmt.Errorf("%w: %s", ErrProviderNotFound, name)
	}
	r.mu.Lock()
	delete(r.active, name)
	if r.primary == name {
		r.primary = ""
	}
	r.mu.Unlock()
	return nil
}

// SetPrimary designates an active provider as primary; it is tried first.
func (r *Registry) SetPrimary(name string) error {
	if r.find(name) == nil {
		return fmt.Errorf("%w: %s", ErrProviderNotFound, name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.active[name] {
		return fmt.Errorf("%w: %s", ErrProviderInactive, name)
	}
	r.primary = name
	return nil
}

// Degraded reports whether no provider is currently active.
func (r *Registry) Degraded() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.active) == 0
}

// Descriptors lists admitted providers in configuration order.
func (r *Registry) Descriptors() []ProviderStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ProviderStatus, 0, len(r.providers))
	for _, p := range r.providers {
		out = append(out, ProviderStatus{
			ProviderDescriptor: p.desc,
			Active:             r.active[p.desc.Name],
			Primary:            r.primary == p.desc.Name,
		})
	}
	return out
}

// FailoverOrder returns the names of active providers in the order they are tried:
// primary first, then by compliance score and verified flag descending, ties
// kept in configuration order.
func (r *Registry) FailoverOrder() []string {
	ordered := r.ordered()
	names := make([]string, len(ordered))
	for i, p := range ordered {
		names[i] = p.desc.Name
	}
	return names
}

func (r *Registry) ordered() []registeredProvider {
	r.mu.RLock()
	primary := r.primary
	var list []registeredProvider
	for _, p := range r.providers {
		if r.active[p.desc.Name] {
			list = append(list, p)
		}
	}
	r.mu.RUnlock()

	sort.SliceStable(list, func(i, j int) bool {
		a, b := list[i], list[j]
		if (a.desc.Name == primary) != (b.desc.Name == primary) {
			return a.desc.Name == primary
		}
		if a.desc.ComplianceScore != b.desc.ComplianceScore {
			return a.desc.ComplianceScore > b.desc.ComplianceScore
		}
		if a.desc.Verified != b.desc.Verified {
			return a.desc.Verified
		}
		return a.order < b.order
	})
	return list
}

// FetchWithFailover tries providers in failover order and returns the first
// non-error, non-empty result. Per-provider failures (including timeouts) are
// logged and swallowed; when every provider fails the returned error wraps
// both ErrAllProvidersFailed and the last provider error.
func (r *Registry) FetchWithFailover(ctx context.Context, req FetchRequest) (FetchResult, error) {
	if !ValidateCoordinates(req.Lat, req.Lon) {
		return FetchResult{}, fmt.Errorf("%w: lat=%f lon=%f", ErrInvalidCoordinates, req.Lat, req.Lon)
	}

	var lastErr error = ErrNoProviders
	for _, p := range r.ordered() {
		if !p.desc.Supports(req.Method.capability()) {
			continue
		}

		obs, err := r.call(ctx, p.provider, req)
		if err == nil && len(obs) == 0 {
			err = fmt.Errorf("%w: empty response", ErrProviderData)
		}
		if err != nil {
			slog.Warn("provider call failed; trying next", "provider", p.desc.Name, "method", req.Method.String(), "error", err)
			lastErr = err
			if ctx.Err() != nil {
				break
			}
			continue
		}

		return FetchResult{Provider: p.desc.Name, Observations: obs}, nil
	}

	return FetchResult{}, fmt.Errorf("%w (%s): %w", ErrAllProvidersFailed, req.Method, lastErr)
}

func (r *Registry) call(ctx context.Context, p Provider, req FetchRequest) ([]Observation, error) {
	ctx, cancel := context.WithTimeout(ctx, r.callTimeout)
	defer cancel()

	switch req.Method {
	case MethodCurrent:
		o, err := p.Current(ctx, req.Lat, req.Lon)
		if err != nil {
			return nil, err
		}
		return []Observation{o}, nil
	case MethodForecast:
		return p.Forecast(ctx, req.Lat, req.Lon, req.Days)
	case MethodHistorical:
		return p.Historical(ctx, req.Lat, req.Lon, req.Start, req.End)
	default:
		return nil, fmt.Errorf("%w: %s", ErrCapabilityUnsupported, req.Method)
	}
}
