package model

import "strings"

// FingerprintConfigVersion is the current schema version of FingerprintConfig.
const FingerprintConfigVersion = 1

// FingerprintConfig is the typed browser-identity configuration stored with
// an account. Preset names a catalogue entry; Overrides replace individual
// preset fields for this account only.
type FingerprintConfig struct {
	Version   int                  `json:"version" yaml:"version,omitempty"`
	Preset    string               `json:"preset,omitempty" yaml:"preset,omitempty"`
	Overrides FingerprintOverrides `json:"overrides,omitzero" yaml:"overrides,omitempty"`
}

// FingerprintOverrides holds optional per-account replacements. A nil
// pointer or empty value keeps the preset value.
type FingerprintOverrides struct {
	Timezone  string   `json:"timezone,omitempty" yaml:"timezone,omitempty"`
	Locale    string   `json:"locale,omitempty" yaml:"locale,omitempty"`
	Languages []string `json:"languages,omitempty" yaml:"languages,omitempty"`

	// UserAgent pins the user agent instead of drawing from the preset pool.
	UserAgent string `json:"user_agent,omitempty" yaml:"user_agent,omitempty"`

	Latitude  *float64 `json:"latitude,omitempty" yaml:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty" yaml:"longitude,omitempty"`

	ScreenWidth       int     `json:"screen_width,omitempty" yaml:"screen_width,omitempty"`
	ScreenHeight      int     `json:"screen_height,omitempty" yaml:"screen_height,omitempty"`
	DeviceScaleFactor float64 `json:"device_scale_factor,omitempty" yaml:"device_scale_factor,omitempty"`

	HardwareConcurrency int    `json:"hardware_concurrency,omitempty" yaml:"hardware_concurrency,omitempty"`
	DeviceMemory        int    `json:"device_memory,omitempty" yaml:"device_memory,omitempty"`
	WebGLVendor         string `json:"webgl_vendor,omitempty" yaml:"webgl_vendor,omitempty"`
	WebGLRenderer       string `json:"webgl_renderer,omitempty" yaml:"webgl_renderer,omitempty"`

	CanvasNoise  *bool `json:"canvas_noise,omitempty" yaml:"canvas_noise,omitempty"`
	AudioNoise   *bool `json:"audio_noise,omitempty" yaml:"audio_noise,omitempty"`
	FontSpoofing *bool `json:"font_spoofing,omitempty" yaml:"font_spoofing,omitempty"`
}

// Geolocation is a spoofed position reported to the page.
type Geolocation struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Accuracy  float64 `json:"accuracy"`
}

// Screen is the emulated display.
type Screen struct {
	Width             int     `json:"width"`
	Height            int     `json:"height"`
	DeviceScaleFactor float64 `json:"device_scale_factor"`
}

// Hardware carries navigator and WebGL hints.
type Hardware struct {
	Cores         int    `json:"cores"`
	MemoryGB      int    `json:"memory_gb"`
	WebGLVendor   string `json:"webgl_vendor"`
	WebGLRenderer string `json:"webgl_renderer"`
}

// Identity is a fully resolved browser identity for one session.
//
// Deterministic fields (Timezone, Locale, Languages) depend only on the
// preset and overrides. UserAgent, Geolocation, Screen and Hardware may be
// drawn at random within the preset bounds on every resolution.
type Identity struct {
	Preset    string   `json:"preset"`
	Timezone  string   `json:"timezone,omitempty"`
	Locale    string   `json:"locale"`
	Languages []string `json:"languages"`
	UserAgent string   `json:"user_agent,omitempty"`

	// Geolocation is nil when the preset does not spoof position.
	Geolocation *Geolocation `json:"geolocation,omitempty"`

	// Screen is zero when the preset does not emulate a display.
	Screen   Screen   `json:"screen,omitzero"`
	Hardware Hardware `json:"hardware,omitzero"`

	CanvasNoise  bool `json:"canvas_noise"`
	AudioNoise   bool `json:"audio_noise"`
	FontSpoofing bool `json:"font_spoofing"`

	// NoiseSeed keeps canvas and audio noise stable within one session.
	NoiseSeed int64 `json:"noise_seed"`
}

// AcceptLanguage renders Languages as an Accept-Language header value
// with descending quality weights.
func (i Identity) AcceptLanguage() string {
	if len(i.Languages) == 0 {
		return i.Locale
	}
	var b strings.Builder
	q := 10
	for n, lang := range i.Languages {
		if n > 0 {
			b.WriteByte(',')
		}
		b.WriteString(lang)
		if n > 0 {
			q--
			if q < 1 {
				q = 1
			}
			b.WriteString(";q=0.")
			b.WriteByte(byte('0' + q))
		}
	}
	return b.String()
}

// Spoofed reports whether any override beyond the locale is applied.
func (i Identity) Spoofed() bool {
	return i.Timezone != "" || i.UserAgent != "" || i.Geolocation != nil ||
		i.Screen.Width > 0 || i.CanvasNoise || i.AudioNoise || i.FontSpoofing
}
