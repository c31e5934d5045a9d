package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/i474232898/agro-weather/internal/weather"
)

//go:embed providers.default.yaml
var defaultProviders []byte

type providersFile struct {
	Providers []weather.ProviderDescriptor `yaml:"providers"`
}

// LoadProviders reads provider descriptors from path. A missing file falls
// back to the embedded keyless default. An unreadable or malformed file yields
// no descriptors, which leaves the registry degraded instead of stopping startup.
func LoadProviders(path string) []weather.ProviderDescriptor {
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		slog.Info("providers file not found; using built-in default", "path", path)
		data = defaultProviders
	case err != nil:
		slog.Error("providers file unreadable; starting without providers", "path", path, "error", err)
		return nil
	}
	return ParseProviders(data)
}

// ParseProviders decodes a providers document. Invalid entries are logged and
// skipped; a document that does not parse yields no descriptors.
func ParseProviders(data []byte) []weather.ProviderDescriptor {
	var f providersFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		slog.Error("providers document does not parse; starting without providers", "error", err)
		return nil
	}

	seen := make(map[string]bool, len(f.Providers))
	out := make([]weather.ProviderDescriptor, 0, len(f.Providers))
	for i, d := range f.Providers {
		if err := checkDescriptor(d, seen); err != nil {
			slog.Warn("provider descriptor skipped", "index", i+1, "error", err)
			continue
		}
		seen[d.Name] = true
		out = append(out, d)
	}
	return out
}

func checkDescriptor(d weather.ProviderDescriptor, seen map[string]bool) error {
	if d.Name == "" {
		return fmt.Errorf("name is required")
	}
	if d.Type == "" {
		return fmt.Errorf("provider %s: type is required", d.Name)
	}
	if seen[d.Name] {
		return fmt.Errorf("provider %s: duplicate name", d.Name)
	}
	if d.ComplianceScore < 0 || d.ComplianceScore > 100 {
		return fmt.Errorf("provider %s: compliance_score %d out of range [0,100]", d.Name, d.ComplianceScore)
	}
	if d.MaxRequestsPerWindow < 0 {
		return fmt.Errorf("provider %s: max_requests_per_window must not be negative", d.Name)
	}
	for _, c := range d.Capabilities {
		switch c {
		case weather.CapabilityCurrent, weather.CapabilityForecast, weather.CapabilityHistorical:
		default:
			return fmt.Errorf("provider %s: unknown capability %q", d.Name, c)
		}
	}
	return nil
}
