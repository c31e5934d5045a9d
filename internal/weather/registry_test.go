package weather

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// callLog records provider invocations across goroutines.
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(name string) {
	l.mu.Lock()
	l.calls = append(l.calls, name)
	l.mu.Unlock()
}

func (l *callLog) names() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

type fakeProvider struct {
	name  string
	log   *callLog
	err   error
	empty bool
	block bool // wait for ctx cancellation
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) result(ctx context.Context) ([]Observation, error) {
	p.log.add(p.name)
	if p.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if p.err != nil {
		return nil, p.err
	}
	if p.empty {
		return nil, nil
	}
	return []Observation{{Provider: p.name, Timestamp: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC), Temperature: 20}}, nil
}

func (p *fakeProvider) Current(ctx context.Context, _, _ float64) (Observation, error) {
	obs, err := p.result(ctx)
	if err != nil || len(obs) == 0 {
		return Observation{}, err
	}
	return obs[0], nil
}

func (p *fakeProvider) Forecast(ctx context.Context, _, _ float64, _ int) ([]Observation, error) {
	return p.result(ctx)
}

func (p *fakeProvider) Historical(ctx context.Context, _, _ float64, _, _ time.Time) ([]Observation, error) {
	return p.result(ctx)
}

func newTestRegistry(t *testing.T, descs []ProviderDescriptor, fakes map[string]*fakeProvider, timeout time.Duration) *Registry {
	t.Helper()
	return NewRegistry(descs, func(d ProviderDescriptor) (Provider, error) {
		p, ok := fakes[d.Name]
		if !ok {
			return nil, errors.New("no fake for " + d.Name)
		}
		return p, nil
	}, timeout)
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestNewRegistry_AdmitsOnlyCompliantProviders(t *testing.T) {
	log := &callLog{}
	fakes := map[string]*fakeProvider{
		"low":    {name: "low", log: log},
		"edge":   {name: "edge", log: log},
		"high":   {name: "high", log: log},
		"broken": {name: "broken", log: log},
	}
	descs := []ProviderDescriptor{
		{Name: "low", ComplianceScore: 79, Active: true},
		{Name: "edge", ComplianceScore: 80, Active: true},
		{Name: "high", ComplianceScore: 99},
		{Name: "edge", ComplianceScore: 100, Active: true}, // duplicate
		{Name: "unbuildable", ComplianceScore: 95, Active: true},
	}
	r := newTestRegistry(t, descs, fakes, time.Second)

	var names []string
	for _, d := range r.Descriptors() {
		names = append(names, d.Name)
	}
	if !equalStrings(names, []string{"edge", "high"}) {
		t.Fatalf("admitted = %v, want [edge high]", names)
	}

	// Admission does not imply activation.
	if order := r.FailoverOrder(); !equalStrings(order, []string{"edge"}) {
		t.Fatalf("failover order = %v, want [edge]", order)
	}
	if r.Degraded() {
		t.Fatal("registry with an active provider must not be degraded")
	}
}

func TestRegistry_FailoverOrder(t *testing.T) {
	log := &callLog{}
	fakes := map[string]*fakeProvider{}
	for _, n := range []string{"a", "b", "c", "d"} {
		fakes[n] = &fakeProvider{name: n, log: log}
	}
	descs := []ProviderDescriptor{
		{Name: "a", ComplianceScore: 90, Active: true},
		{Name: "b", ComplianceScore: 90, Verified: true, Active: true},
		{Name: "c", ComplianceScore: 95, Active: true},
		{Name: "d", ComplianceScore: 85, Active: true},
	}
	r := newTestRegistry(t, descs, fakes, time.Second)

	if got := r.FailoverOrder(); !equalStrings(got, []string{"c", "b", "a", "d"}) {
		t.Fatalf("order = %v, want [c b a d]", got)
	}
	// Recomputing gives the same answer.
	if got := r.FailoverOrder(); !equalStrings(got, []string{"c", "b", "a", "d"}) {
		t.Fatalf("order not deterministic: %v", got)
	}

	if err := r.SetPrimary("d"); err != nil {
		t.Fatalf("SetPrimary: %v", err)
	}
	if got := r.FailoverOrder(); !equalStrings(got, []string{"d", "c", "b", "a"}) {
		t.Fatalf("order with primary = %v, want [d c b a]", got)
	}

	if err := r.Deactivate("d"); err != nil {
		t.Fatalf("Deactivate: %v", err)
	}
	if got := r.FailoverOrder(); !equalStrings(got, []string{"c", "b", "a"}) {
		t.Fatalf("order after deactivate = %v", got)
	}
	if err := r.SetPrimary("d"); !errors.Is(err, ErrProviderInactive) {
		t.Fatalf("SetPrimary on inactive: %v", err)
	}
	if err := r.Activate("zzz"); !errors.Is(err, ErrProviderNotFound) {
		t.Fatalf("Activate unknown: %v", err)
	}

	for _, d := range r.Descriptors() {
		if d.Name == "d" && (d.Active || d.Primary) {
			t.Errorf("d should be inactive and not primary: %+v", d)
		}
	}
}

func TestFetchWithFailover_FirstSuccessWins(t *testing.T) {
	log := &callLog{}
	fakes := map[string]*fakeProvider{
		"a": {name: "a", log: log, err: ErrRateLimitExceeded},
		"b": {name: "b", log: log},
		"c": {name: "c", log: log},
	}
	descs := []ProviderDescriptor{
		{Name: "a", ComplianceScore: 99, Active: true},
		{Name: "b", ComplianceScore: 90, Active: true},
		{Name: "c", ComplianceScore: 85, Active: true},
	}
	r := newTestRegistry(t, descs, fakes, time.Second)

	res, err := r.FetchWithFailover(context.Background(), FetchRequest{Method: MethodForecast, Lat: 42.1, Lon: 24.7, Days: 3})
	if err != nil {
		t.Fatalf("FetchWithFailover: %v", err)
	}
	if res.Provider != "b" {
		t.Errorf("provider = %s, want b", res.Provider)
	}
	if got := log.names(); !equalStrings(got, []string{"a", "b"}) {
		t.Errorf("calls = %v, want [a b]", got)
	}
}

func TestFetchWithFailover_AllFail(t *testing.T) {
	log := &callLog{}
	lastErr := errors.New("b exploded")
	fakes := map[string]*fakeProvider{
		"a": {name: "a", log: log, err: ErrAuthenticationFailed},
		"b": {name: "b", log: log, err: lastErr},
	}
	descs := []ProviderDescriptor{
		{Name: "a", ComplianceScore: 99, Active: true},
		{Name: "b", ComplianceScore: 90, Active: true},
	}
	r := newTestRegistry(t, descs, fakes, time.Second)

	_, err := r.FetchWithFailover(context.Background(), FetchRequest{Method: MethodCurrent, Lat: 1, Lon: 1})
	if !errors.Is(err, ErrAllProvidersFailed) {
		t.Fatalf("expected ErrAllProvidersFailed, got %v", err)
	}
	if !errors.Is(err, lastErr) {
		t.Fatalf("expected last provider error to be wrapped, got %v", err)
	}
	if got := log.names(); !equalStrings(got, []string{"a", "b"}) {
		t.Errorf("calls = %v, want [a b]", got)
	}
}

func TestFetchWithFailover_InvalidCoordinatesMakesNoCalls(t *testing.T) {
	log := &callLog{}
	r := newTestRegistry(t,
		[]ProviderDescriptor{{Name: "a", ComplianceScore: 99, Active: true}},
		map[string]*fakeProvider{"a": {name: "a", log: log}}, time.Second)

	for _, c := range [][2]float64{{91, 0}, {-91, 0}, {0, 181}, {0, -180.5}} {
		_, err := r.FetchWithFailover(context.Background(), FetchRequest{Method: MethodCurrent, Lat: c[0], Lon: c[1]})
		if !errors.Is(err, ErrInvalidCoordinates) {
			t.Errorf("(%v,%v): expected ErrInvalidCoordinates, got %v", c[0], c[1], err)
		}
	}
	if n := len(log.names()); n != 0 {
		t.Fatalf("expected no provider calls, got %d", n)
	}
}

func TestFetchWithFailover_SkipsProvidersWithoutCapability(t *testing.T) {
	log := &callLog{}
	fakes := map[string]*fakeProvider{
		"a": {name: "a", log: log},
		"b": {name: "b", log: log},
	}
	descs := []ProviderDescriptor{
		{Name: "a", ComplianceScore: 99, Active: true, Capabilities: []Capability{CapabilityCurrent, CapabilityForecast}},
		{Name: "b", ComplianceScore: 90, Active: true},
	}
	r := newTestRegistry(t, descs, fakes, time.Second)

	res, err := r.FetchWithFailover(context.Background(), FetchRequest{
		Method: MethodHistorical, Lat: 1, Lon: 1,
		Start: time.Now().Add(-48 * time.Hour), End: time.Now(),
	})
	if err != nil {
		t.Fatalf("FetchWithFailover: %v", err)
	}
	if res.Provider != "b" || !equalStrings(log.names(), []string{"b"}) {
		t.Fatalf("expected only b to be called, got %v (provider %s)", log.names(), res.Provider)
	}
}

func TestFetchWithFailover_EmptyAndSlowProvidersFailOver(t *testing.T) {
	log := &callLog{}
	fakes := map[string]*fakeProvider{
		"slow":  {name: "slow", log: log, block: true},
		"empty": {name: "empty", log: log, empty: true},
		"ok":    {name: "ok", log: log},
	}
	descs := []ProviderDescriptor{
		{Name: "slow", ComplianceScore: 99, Active: true},
		{Name: "empty", ComplianceScore: 95, Active: true},
		{Name: "ok", ComplianceScore: 90, Active: true},
	}
	r := newTestRegistry(t, descs, fakes, 50*time.Millisecond)

	res, err := r.FetchWithFailover(context.Background(), FetchRequest{Method: MethodForecast, Lat: 1, Lon: 1, Days: 1})
	if err != nil {
		t.Fatalf("FetchWithFailover: %v", err)
	}
	if res.Provider != "ok" {
		t.Fatalf("provider = %s, want ok", res.Provider)
	}
	if got := log.names(); !equalStrings(got, []string{"slow", "empty", "ok"}) {
		t.Errorf("calls = %v", got)
	}
}

func TestFetchWithFailover_Degraded(t *testing.T) {
	r := NewRegistry(nil, nil, 0)
	if !r.Degraded() {
		t.Fatal("empty registry must be degraded")
	}
	_, err := r.FetchWithFailover(context.Background(), FetchRequest{Method: MethodCurrent, Lat: 1, Lon: 1})
	if !errors.Is(err, ErrAllProvidersFailed) || !errors.Is(err, ErrNoProviders) {
		t.Fatalf("expected ErrAllProvidersFailed wrapping ErrNoProviders, got %v", err)
	}
}
