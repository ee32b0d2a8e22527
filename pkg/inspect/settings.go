package inspect

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/teslashibe/go-inspect/pkg/frame"
)

// Settings are the knobs an operator can turn while the station runs.
type Settings struct {
	SampleInterval int `json:"sample_interval"` // Forward every Nth frame
	DisplayWidth   int `json:"display_width"`   // Crop target width
	DisplayHeight  int `json:"display_height"`  // Crop target height
	JPEGQuality    int `json:"jpeg_quality"`    // 1-100
}

// DefaultSettings is the 876x330 overlay box, sampling every 5th frame.
func DefaultSettings() Settings {
	return Settings{
		SampleInterval: 5,
		DisplayWidth:   876,
		DisplayHeight:  330,
		JPEGQuality:    frame.DefaultJPEGQuality,
	}
}

// Display presets.
var displayPresets = map[string][2]int{
	"overlay": {876, 330},
	"16:9":    {1920, 1080},
	"4:3":     {640, 480},
	"square":  {1, 1},
}

// Aspect returns the display aspect ratio.
func (s Settings) Aspect() float64 {
	return frame.AspectOf(s.DisplayWidth, s.DisplayHeight)
}

// Validate returns a list of problems, or nil if valid.
func (s *Settings) Validate() []string {
	var problems []string
	if s.SampleInterval < 1 || s.SampleInterval > 1000 {
		problems = append(problems, "sample_interval must be between 1 and 1000")
	}
	if s.DisplayWidth < 1 || s.DisplayHeight < 1 {
		problems = append(problems, "display_width and display_height must be positive")
	}
	if s.JPEGQuality < 1 || s.JPEGQuality > 100 {
		problems = append(problems, "jpeg_quality must be between 1 and 100")
	}
	return problems
}

// ValidationError lists every rejected setting.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid settings: " + strings.Join(e.Problems, "; ")
}

// SettingsManager holds the current settings and applies updates.
type SettingsManager struct {
	settings Settings
	mu       sync.RWMutex

	// OnChange is called after every accepted update.
	OnChange func(s Settings) error
}

// NewSettingsManager creates a manager with initial settings.
func NewSettingsManager(initial Settings) *SettingsManager {
	return &SettingsManager{settings: initial}
}

// Get returns the current settings.
func (m *SettingsManager) Get() Settings {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.settings
}

// Set replaces the settings after validation.
func (m *SettingsManager) Set(s Settings) error {
	if problems := s.Validate(); len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}

	m.mu.Lock()
	m.settings = s
	callback := m.OnChange
	m.mu.Unlock()

	if callback != nil {
		if err := callback(s); err != nil {
			return fmt.Errorf("failed to apply settings: %w", err)
		}
	}
	return nil
}

// Update applies the given fields. A "preset" key selects a display size
// first; other keys override it.
func (m *SettingsManager) Update(params map[string]any) (Settings, error) {
	s := m.Get()

	if name, ok := params["preset"].(string); ok {
		size, found := displayPresets[name]
		if !found {
			return s, fmt.Errorf("unknown preset: %s", name)
		}
		s.DisplayWidth, s.DisplayHeight = size[0], size[1]
	}

	for key, value := range params {
		var target *int
		switch key {
		case "preset":
			continue
		case "sample_interval":
			target = &s.SampleInterval
		case "display_width":
			target = &s.DisplayWidth
		case "display_height":
			target = &s.DisplayHeight
		case "jpeg_quality":
			target = &s.JPEGQuality
		default:
			return m.Get(), fmt.Errorf("unknown setting: %s", key)
		}
		v, ok := toInt(value)
		if !ok {
			return m.Get(), fmt.Errorf("%s must be a number", key)
		}
		*target = v
	}

	if err := m.Set(s); err != nil {
		return m.Get(), err
	}
	return s, nil
}

// PresetNames lists the display presets.
func PresetNames() []string {
	return []string{"overlay", "16:9", "4:3", "square"}
}

func toInt(v any) (int, bool) {
	switch val := v.(type) {
	case int:
		return val, true
	case int64:
		return int(val), true
	case float64:
		if val != float64(int(val)) {
			return 0, false
		}
		return int(val), true
	case json.Number:
		i, err := val.Int64()
		if err == nil {
			return int(i), true
		}
	}
	return 0, false
}
