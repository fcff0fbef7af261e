// Package state persists the one piece of user state the pipeline has: the
// quality control value. Codec state is never saved.
package state

import (
	"errors"
	"fmt"
	"math"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

var ErrInvalidPreset = errors.New("state: invalid preset")

// Preset is the saved control value.
type Preset struct {
	Quality float64   `yaml:"quality"`
	SavedAt time.Time `yaml:"saved_at,omitempty"`
}

// Validate rejects values the control cannot take.
func (p Preset) Validate() error {
	if math.IsNaN(p.Quality) || p.Quality < 0 || p.Quality > 1 {
		return fmt.Errorf("%w: quality %v outside [0, 1]", ErrInvalidPreset, p.Quality)
	}
	return nil
}

// Save writes p to path as YAML. SavedAt is stamped when zero.
func Save(path string, p Preset) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if p.SavedAt.IsZero() {
		p.SavedAt = time.Now().UTC()
	}
	data, err := yaml.Marshal(p)
	if err != nil {
		return fmt.Errorf("state: encode preset: %w", err)
	}
	if err := SaveFileAtomic(path, data, 0o644); err != nil {
		return fmt.Errorf("state: save %s: %w", path, err)
	}
	return nil
}

// Load reads a preset. A missing file returns an error wrapping
// os.ErrNotExist.
func Load(path string) (Preset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Preset{}, fmt.Errorf("state: load %s: %w", path, err)
	}
	var p Preset
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Preset{}, fmt.Errorf("state: decode %s: %w", path, err)
	}
	if err := p.Validate(); err != nil {
		return Preset{}, err
	}
	return p, nil
}
