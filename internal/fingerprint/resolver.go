package fingerprint

import (
	"math/rand/v2"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/nao1215/keyharvest/internal/model"
)

// Resolver maps stored fingerprint configurations to identities.
// It is safe for concurrent use.
type Resolver struct {
	presets     map[string]Preset
	defaultName string

	mu  sync.Mutex
	rng *rand.Rand // picks the jittered fields; guarded by mu
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithPresets replaces or adds catalogue entries.
func WithPresets(presets ...Preset) Option {
	return func(r *Resolver) {
		for _, p := range presets {
			r.presets[p.Name] = p
		}
	}
}

// WithDefaultPreset changes the fallback preset. Names missing from the
// catalogue are ignored.
func WithDefaultPreset(name string) Option {
	return func(r *Resolver) {
		if _, ok := r.presets[name]; ok {
			r.defaultName = name
		}
	}
}

// WithRandSource injects the random source used for randomized fields.
func WithRandSource(src rand.Source) Option {
	return func(r *Resolver) {
		r.rng = rand.New(src)
	}
}

// NewResolver creates a Resolver over the builtin catalogue.
func NewResolver(opts ...Option) *Resolver {
	seed := uint64(time.Now().UnixNano())
	r := &Resolver{
		presets:     Builtin(),
		defaultName: DefaultPreset,
		rng:         rand.New(rand.NewPCG(seed, seed>>1|1)),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Names returns the catalogue preset names in sorted order.
func (r *Resolver) Names() []string {
	names := make([]string, 0, len(r.presets))
	for name := range r.presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lookup returns the preset for name. The second result is false when the
// name is unknown and the default preset was returned instead.
func (r *Resolver) Lookup(name string) (Preset, bool) {
	if p, ok := r.presets[name]; ok {
		return p, true
	}
	return r.presets[r.defaultName], false
}

// Resolve builds an identity for cfg.
func (r *Resolver) Resolve(cfg model.FingerprintConfig) model.Identity {
	p, _ := r.Lookup(cfg.Preset)
	o := cfg.Overrides

	id := model.Identity{
		Preset:       p.Name,
		Timezone:     firstNonEmpty(o.Timezone, p.Timezone),
		Locale:       firstNonEmpty(o.Locale, p.Locale),
		Languages:    slices.Clone(p.Languages),
		CanvasNoise:  boolOr(o.CanvasNoise, p.CanvasNoise),
		AudioNoise:   boolOr(o.AudioNoise, p.AudioNoise),
		FontSpoofing: boolOr(o.FontSpoofing, p.FontSpoofing),
	}
	if len(o.Languages) > 0 {
		id.Languages = slices.Clone(o.Languages)
	}
	if len(id.Languages) == 0 && id.Locale != "" {
		id.Languages = []string{id.Locale}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	id.UserAgent = o.UserAgent
	if id.UserAgent == "" {
		id.UserAgent = pick(r.rng, p.UserAgents)
	}

	id.Geolocation = r.geolocation(p.Geo, o)

	if s := pick(r.rng, p.Screens); s.Width > 0 {
		id.Screen = s
	}
	if o.ScreenWidth > 0 && o.ScreenHeight > 0 {
		id.Screen.Width, id.Screen.Height = o.ScreenWidth, o.ScreenHeight
		if id.Screen.DeviceScaleFactor == 0 {
			id.Screen.DeviceScaleFactor = 1
		}
	}
	if o.DeviceScaleFactor > 0 && id.Screen.Width > 0 {
		id.Screen.DeviceScaleFactor = o.DeviceScaleFactor
	}

	hw := pick(r.rng, p.Hardware)
	gl := pick(r.rng, p.WebGL)
	id.Hardware = model.Hardware{
		Cores:         intOr(o.HardwareConcurrency, hw.Cores),
		MemoryGB:      intOr(o.DeviceMemory, hw.MemoryGB),
		WebGLVendor:   firstNonEmpty(o.WebGLVendor, gl.Vendor),
		WebGLRenderer: firstNonEmpty(o.WebGLRenderer, gl.Renderer),
	}

	if id.CanvasNoise || id.AudioNoise {
		id.NoiseSeed = r.rng.Int64N(1 << 31)
	}
	return id
}

func (r *Resolver) geolocation(g *GeoBounds, o model.FingerprintOverrides) *model.Geolocation {
	if o.Latitude != nil && o.Longitude != nil {
		return &model.Geolocation{Latitude: *o.Latitude, Longitude: *o.Longitude, Accuracy: 100}
	}
	if g == nil {
		return nil
	}
	return &model.Geolocation{
		Latitude:  g.Latitude + jitter(r.rng, g.Jitter),
		Longitude: g.Longitude + jitter(r.rng, g.Jitter),
		Accuracy:  g.Accuracy,
	}
}

// jitter returns a value in [-limit, limit].
func jitter(rng *rand.Rand, limit float64) float64 {
	if limit <= 0 {
		return 0
	}
	return (rng.Float64()*2 - 1) * limit
}

func pick[T any](rng *rand.Rand, items []T) T {
	var zero T
	if len(items) == 0 {
		return zero
	}
	return items[rng.IntN(len(items))]
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func boolOr(override *bool, fallback bool) bool {
	if override != nil {
		return *override
	}
	return fallback
}

func intOr(override, fallback int) int {
	if override > 0 {
		return override
	}
	return fallback
}
