package cost

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/nandanakrishna556/gictor-server/internal/domain"
)

// LoadTable overlays price entries from a YAML file onto the built-in table.
// Kinds absent from the file keep their defaults. An empty path returns the
// default model untouched.
//
// File shape:
//
//	lip_sync:
//	  per_second: 0.15
//	  min_credits: 0.15
//	script:
//	  flat: 0.25
func LoadTable(path string) (*Model, error) {
	m := NewModel()
	if path == "" {
		return m, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cost: read table %s: %w", path, err)
	}
	var overrides map[string]Entry
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return nil, fmt.Errorf("cost: parse table %s: %w", path, err)
	}
	for kind, entry := range overrides {
		if entry.Flat < 0 || entry.PerSecond < 0 || entry.MinCredits < 0 {
			return nil, fmt.Errorf("cost: negative price for kind %q", kind)
		}
		m.table[domain.Kind(kind)] = entry
	}
	return m, nil
}
