// Package settings holds the generation settings chosen in the page sidebar.
package settings

import (
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"
)

// Framework is the UI framework the generated code targets.
type Framework string

const (
	React   Framework = "React"
	Flutter Framework = "Flutter"
)

// Slider bounds and defaults.
const (
	MinMaxTokens     = 50
	MaxMaxTokens     = 500
	DefaultMaxTokens = 300
	MaxTokensStep    = 1

	MinTemperature     = 0.1
	MaxTemperature     = 1.0
	DefaultTemperature = 0.7
	TemperatureStep    = 0.01
)

// Frameworks returns the selectable frameworks in display order.
func Frameworks() []Framework {
	return []Framework{React, Flutter}
}

// ParseFramework matches s case-insensitively against the known frameworks.
func ParseFramework(s string) (Framework, error) {
	for _, f := range Frameworks() {
		if strings.EqualFold(strings.TrimSpace(s), string(f)) {
			return f, nil
		}
	}
	return "", fmt.Errorf("unknown framework %q", s)
}

// Language is the syntax hint for the code view.
func (f Framework) Language() string {
	if f == Flutter {
		return "dart"
	}
	return "javascript"
}

// Filename is the name offered for the downloaded code.
func (f Framework) Filename() string {
	if f == Flutter {
		return "ui_code.dart"
	}
	return "ui_code.js"
}

// Settings is the sidebar state submitted with each generation.
type Settings struct {
	Framework   Framework
	MaxTokens   int
	Temperature float64
}

// Default returns the settings shown on first page load.
func Default() Settings {
	return Settings{
		Framework:   React,
		MaxTokens:   DefaultMaxTokens,
		Temperature: DefaultTemperature,
	}
}

// Clamp pulls every field back inside its bounds.
func (s Settings) Clamp() Settings {
	if _, err := ParseFramework(string(s.Framework)); err != nil {
		s.Framework = React
	}

	s.MaxTokens = min(max(s.MaxTokens, MinMaxTokens), MaxMaxTokens)

	if math.IsNaN(s.Temperature) {
		s.Temperature = DefaultTemperature
	}
	// Snap to the slider step so 0.7 stays 0.7 after a form round trip.
	s.Temperature = math.Round(s.Temperature/TemperatureStep) / (1 / TemperatureStep)
	s.Temperature = min(max(s.Temperature, MinTemperature), MaxTemperature)

	return s
}

// Form field names used by the settings panel.
const (
	FieldFramework   = "framework"
	FieldMaxTokens   = "max_tokens"
	FieldTemperature = "temperature"
)

// FromForm reads settings from submitted form values. Missing or unparsable
// fields keep their default; everything is clamped to the slider bounds.
func FromForm(values url.Values) Settings {
	s := Default()

	if f, err := ParseFramework(values.Get(FieldFramework)); err == nil {
		s.Framework = f
	}
	if n, err := strconv.Atoi(strings.TrimSpace(values.Get(FieldMaxTokens))); err == nil {
		s.MaxTokens = n
	}
	if t, err := strconv.ParseFloat(strings.TrimSpace(values.Get(FieldTemperature)), 64); err == nil {
		s.Temperature = t
	}

	return s.Clamp()
}
