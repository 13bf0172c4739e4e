package config

import (
	"fmt"
	"os"

	"github.com/hyperio-mc/agent-talk/src/models"
	"gopkg.in/yaml.v3"
)

// tiersFile is the on-disk layout of TIERS_FILE
type tiersFile struct {
	Tiers []models.TierConfig `yaml:"tiers"`
}

// LoadTiers overlays the tiers defined in path onto base.
// Entries are matched by name; an empty path returns base unchanged.
func LoadTiers(path string, base []models.TierConfig) ([]models.TierConfig, error) {
	if path == "" {
		return base, nil
	}

	content, err := os.ReadFile(path) // #nosec G304 -- operator supplied path
	if err != nil {
		return nil, fmt.Errorf("failed to read tiers file: %w", err)
	}
	return ParseTiers(content, base)
}

// ParseTiers overlays YAML tier definitions onto base
func ParseTiers(content []byte, base []models.TierConfig) ([]models.TierConfig, error) {
	var file tiersFile
	if err := yaml.Unmarshal(content, &file); err != nil {
		return nil, fmt.Errorf("failed to parse tiers file: %w", err)
	}

	merged := make([]models.TierConfig, len(base))
	copy(merged, base)

	for _, override := range file.Tiers {
		if override.Name == "" {
			return nil, fmt.Errorf("tier entry without a name")
		}
		replaced := false
		for i := range merged {
			if merged[i].Name == override.Name {
				merged[i] = override
				replaced = true
				break
			}
		}
		if !replaced {
			merged = append(merged, override)
		}
	}

	return merged, nil
}
