package fingerprint

import "github.com/nao1215/keyharvest/internal/model"

// Preset names shipped with the catalogue.
const (
	PresetRussia     = "russia_standard"
	PresetKazakhstan = "kazakhstan_standard"
	PresetBelarus    = "belarus_standard"
	PresetNone       = "no_spoofing"

	// DefaultPreset is used for empty or unknown preset names.
	DefaultPreset = PresetRussia
)

// GeoBounds is a base coordinate with a maximum jitter in degrees.
type GeoBounds struct {
	Latitude  float64
	Longitude float64
	Jitter    float64
	Accuracy  float64
}

// HardwareProfile is one navigator hardware combination.
type HardwareProfile struct {
	Cores    int
	MemoryGB int
}

// WebGLProfile is one unmasked vendor and renderer pair.
type WebGLProfile struct {
	Vendor   string
	Renderer string
}

// Preset is a named bundle of identity attributes and random bounds.
type Preset struct {
	Name      string
	Timezone  string
	Locale    string
	Languages []string

	// UserAgents is the rotation pool. Empty keeps the browser default.
	UserAgents []string

	// Geo is nil when the preset does not spoof position.
	Geo *GeoBounds

	Screens  []model.Screen
	Hardware []HardwareProfile
	WebGL    []WebGLProfile

	CanvasNoise  bool
	AudioNoise   bool
	FontSpoofing bool
}

var windowsChrome = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36",
}

var desktopScreens = []model.Screen{
	{Width: 1920, Height: 1080, DeviceScaleFactor: 1},
	{Width: 1536, Height: 864, DeviceScaleFactor: 1.25},
	{Width: 1366, Height: 768, DeviceScaleFactor: 1},
	{Width: 2560, Height: 1440, DeviceScaleFactor: 1},
}

var desktopHardware = []HardwareProfile{
	{Cores: 4, MemoryGB: 8},
	{Cores: 8, MemoryGB: 8},
	{Cores: 8, MemoryGB: 16},
	{Cores: 12, MemoryGB: 16},
}

var desktopWebGL = []WebGLProfile{
	{Vendor: "Google Inc. (NVIDIA)", Renderer: "ANGLE (NVIDIA, NVIDIA GeForce GTX 1660 Direct3D11 vs_5_0 ps_5_0, D3D11)"},
	{Vendor: "Google Inc. (Intel)", Renderer: "ANGLE (Intel, Intel(R) UHD Graphics 630 Direct3D11 vs_5_0 ps_5_0, D3D11)"},
	{Vendor: "Google Inc. (AMD)", Renderer: "ANGLE (AMD, AMD Radeon RX 580 Series Direct3D11 vs_5_0 ps_5_0, D3D11)"},
}

// Builtin returns the shipped preset catalogue keyed by name.
func Builtin() map[string]Preset {
	return map[string]Preset{
		PresetRussia: {
			Name:         PresetRussia,
			Timezone:     "Europe/Moscow",
			Locale:       "ru-RU",
			Languages:    []string{"ru-RU", "ru", "en-US", "en"},
			UserAgents:   windowsChrome,
			Geo:          &GeoBounds{Latitude: 55.7558, Longitude: 37.6173, Jitter: 0.05, Accuracy: 100},
			Screens:      desktopScreens,
			Hardware:     desktopHardware,
			WebGL:        desktopWebGL,
			CanvasNoise:  true,
			AudioNoise:   true,
			FontSpoofing: true,
		},
		PresetKazakhstan: {
			Name:         PresetKazakhstan,
			Timezone:     "Asia/Almaty",
			Locale:       "ru-KZ",
			Languages:    []string{"ru-KZ", "ru", "kk", "en-US", "en"},
			UserAgents:   windowsChrome,
			Geo:          &GeoBounds{Latitude: 43.2389, Longitude: 76.8897, Jitter: 0.05, Accuracy: 100},
			Screens:      desktopScreens,
			Hardware:     desktopHardware,
			WebGL:        desktopWebGL,
			CanvasNoise:  true,
			AudioNoise:   true,
			FontSpoofing: true,
		},
		PresetBelarus: {
			Name:         PresetBelarus,
			Timezone:     "Europe/Minsk",
			Locale:       "ru-BY",
			Languages:    []string{"ru-BY", "ru", "be", "en-US", "en"},
			UserAgents:   windowsChrome,
			Geo:          &GeoBounds{Latitude: 53.9006, Longitude: 27.5590, Jitter: 0.05, Accuracy: 100},
			Screens:      desktopScreens,
			Hardware:     desktopHardware,
			WebGL:        desktopWebGL,
			CanvasNoise:  true,
			AudioNoise:   true,
			FontSpoofing: true,
		},
		PresetNone: {
			Name:      PresetNone,
			Locale:    "ru-RU",
			Languages: []string{"ru-RU", "ru"},
		},
	}
}
