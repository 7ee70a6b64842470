package railreader2

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// ColourEffect selects a display accessibility filter applied to the
// rasterized page image before compositing (spec §6). The filters
// themselves are a GUI-layer concern (spec §1 Non-goals); this package only
// carries the selected mode and intensity through configuration.
type ColourEffect int

const (
	ColourEffectNone ColourEffect = iota
	ColourEffectInvert
	ColourEffectGrayscale
	ColourEffectHighContrast
)

var colourEffectNames = [...]string{"none", "invert", "grayscale", "high_contrast"}

// String returns the toml-file spelling of e.
func (e ColourEffect) String() string {
	if int(e) < 0 || int(e) >= len(colourEffectNames) {
		return "none"
	}
	return colourEffectNames[e]
}

func colourEffectByName(name string) (ColourEffect, bool) {
	for i, n := range colourEffectNames {
		if n == name {
			return ColourEffect(i), true
		}
	}
	return ColourEffectNone, false
}

// Config is the configuration schema from spec §6, loaded from a TOML file.
// Fields mirror the file's snake_case keys via struct tags, following the
// decode-into-defaults pattern used for watcher configuration.
type Config struct {
	RailZoomThreshold      float64  `toml:"rail_zoom_threshold"`
	SnapDurationMs         float64  `toml:"snap_duration_ms"`
	ScrollSpeedStart       float64  `toml:"scroll_speed_start"`
	ScrollSpeedMax         float64  `toml:"scroll_speed_max"`
	ScrollRampTime         float64  `toml:"scroll_ramp_time"`
	AnalysisLookaheadPages int      `toml:"analysis_lookahead_pages"`
	ColourEffectName       string   `toml:"colour_effect"`
	ColourEffectIntensity  float64  `toml:"colour_effect_intensity"`
	NavigableClassNames    []string `toml:"navigable_classes"`
}

// DefaultConfig returns the schema's documented defaults (spec §6).
func DefaultConfig() Config {
	defaults := DefaultNavigableClasses()
	names := make([]string, 0, len(defaults))
	for id := ClassID(0); int(id) < classCount; id++ {
		if defaults[id] {
			names = append(names, ClassName(id))
		}
	}
	return Config{
		RailZoomThreshold:      3.0,
		SnapDurationMs:         300,
		ScrollSpeedStart:       10,
		ScrollSpeedMax:         50,
		ScrollRampTime:         1.5,
		AnalysisLookaheadPages: 2,
		ColourEffectName:       ColourEffectNone.String(),
		ColourEffectIntensity:  1.0,
		NavigableClassNames:    names,
	}
}

// LoadConfig returns DefaultConfig() unchanged if path does not exist
// (spec §6 "absent file is not an error"), otherwise decodes path over the
// defaults so a partial file only overrides the keys it sets.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode config %s: %w", path, err)
	}
	return cfg, nil
}

// ColourEffect resolves the configured colour effect name, defaulting to
// ColourEffectNone for an unrecognized value.
func (c Config) ColourEffect() ColourEffect {
	e, ok := colourEffectByName(c.ColourEffectName)
	if !ok {
		return ColourEffectNone
	}
	return e
}

// NavigableClasses resolves NavigableClassNames into a class-ID set. Names
// are resolved against the canonical class table and then the schema's
// legacy aliases (document_title, references), the same resolution
// DefaultNavigableClasses uses, so a file written with the documented
// default spellings round-trips. Anything still unresolved is silently
// dropped (spec §7: an unrecognized class name in configuration is ignored
// rather than rejected, so a config file written against a newer class
// table still loads on an older build).
func (c Config) NavigableClasses() map[ClassID]bool {
	out := make(map[ClassID]bool, len(c.NavigableClassNames))
	for _, name := range c.NavigableClassNames {
		if id, ok := ClassByConfigName(name); ok {
			out[id] = true
		}
	}
	return out
}
