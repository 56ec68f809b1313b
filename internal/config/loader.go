package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/nao1215/keyharvest/internal/account"
	"github.com/nao1215/keyharvest/internal/fingerprint"
	"github.com/nao1215/keyharvest/internal/model"
	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the default configuration file name.
const DefaultConfigFile = ".keyharvest"

// File represents the structure of the .keyharvest configuration file.
// Zero values leave the corresponding Config field unchanged.
type File struct {
	Crawl        CrawlSection       `yaml:"crawl,omitempty"`
	Browser      BrowserSection     `yaml:"browser,omitempty"`
	Site         SiteSection        `yaml:"site,omitempty"`
	Accounts     AccountsSection    `yaml:"accounts,omitempty"`
	Proxies      ProxiesSection     `yaml:"proxies,omitempty"`
	Fingerprints FingerprintSection `yaml:"fingerprints,omitempty"`
}

// CrawlSection holds the crawl tunables.
type CrawlSection struct {
	Mode          string                `yaml:"mode,omitempty"`
	Kinds         *model.FrequencyKinds `yaml:"kinds,omitempty"`
	Depth         int                   `yaml:"depth,omitempty"`
	MinShows      *int64                `yaml:"min_shows,omitempty"`
	ExpandMin     *int64                `yaml:"expand_min,omitempty"`
	TopK          *int                  `yaml:"topk,omitempty"`
	MaxShowMore   int                   `yaml:"max_show_more,omitempty"`
	QueryInterval *time.Duration        `yaml:"query_interval,omitempty"`
	WaitTimeout   time.Duration         `yaml:"wait_timeout,omitempty"`
	DefaultRegion *int                  `yaml:"default_region,omitempty"`
	Regions       []int                 `yaml:"regions,omitempty"`
	RequeueRounds *int                  `yaml:"requeue_rounds,omitempty"`
}

// BrowserSection holds the Chrome settings.
type BrowserSection struct {
	Headless          *bool         `yaml:"headless,omitempty"`
	ChromePath        string        `yaml:"chrome_path,omitempty"`
	NavigationTimeout time.Duration `yaml:"navigation_timeout,omitempty"`
	ResponseTimeout   time.Duration `yaml:"response_timeout,omitempty"`
	ShowMoreWait      time.Duration `yaml:"show_more_wait,omitempty"`
}

// SiteSection describes the target pages.
type SiteSection struct {
	StartURL         string   `yaml:"start_url,omitempty"`
	AuthMarkers      []string `yaml:"auth_markers,omitempty"`
	CaptchaMarkers   []string `yaml:"captcha_markers,omitempty"`
	ResponsePath     string   `yaml:"response_path,omitempty"`
	SearchSelectors  []string `yaml:"search_selectors,omitempty"`
	ShowMoreSelector string   `yaml:"show_more_selector,omitempty"`
	RowSelector      string   `yaml:"row_selector,omitempty"`
	PhraseSelector   string   `yaml:"phrase_selector,omitempty"`
	ShowsSelector    string   `yaml:"shows_selector,omitempty"`
}

// AccountsSection holds the account policies and profiles.
type AccountsSection struct {
	Backoff           string        `yaml:"backoff,omitempty"`
	BackoffBase       time.Duration `yaml:"backoff_base,omitempty"`
	BackoffMax        time.Duration `yaml:"backoff_max,omitempty"`
	CaptchaThreshold  int           `yaml:"captcha_threshold,omitempty"`
	RetryErrored      *bool         `yaml:"retry_errored,omitempty"`
	ErrorRetryAfter   time.Duration `yaml:"error_retry_after,omitempty"`
	RetryCaptcha      *bool         `yaml:"retry_captcha,omitempty"`
	CaptchaRetryAfter time.Duration `yaml:"captcha_retry_after,omitempty"`
	ProfilesDir       string        `yaml:"profiles_dir,omitempty"`

	// Profiles are upserted into the account directory on start.
	Profiles []model.AccountRecord `yaml:"profiles,omitempty"`
}

// ProxiesSection holds the health check policy and static proxies.
type ProxiesSection struct {
	FailureThreshold  int           `yaml:"failure_threshold,omitempty"`
	HealthInterval    time.Duration `yaml:"health_interval,omitempty"`
	HealthTarget      string        `yaml:"health_target,omitempty"`
	HealthConcurrency int           `yaml:"health_concurrency,omitempty"`
	HealthTimeout     time.Duration `yaml:"health_timeout,omitempty"`

	// List holds proxies in any format accepted by `proxy import`.
	List []string `yaml:"list,omitempty"`
}

// FingerprintSection selects the default preset and adds custom ones.
type FingerprintSection struct {
	DefaultPreset string         `yaml:"default_preset,omitempty"`
	Presets       []PresetConfig `yaml:"presets,omitempty"`
}

// PresetConfig is a custom fingerprint preset.
type PresetConfig struct {
	Name       string   `yaml:"name"`
	Timezone   string   `yaml:"timezone,omitempty"`
	Locale     string   `yaml:"locale,omitempty"`
	Languages  []string `yaml:"languages,omitempty"`
	UserAgents []string `yaml:"user_agents,omitempty"`
	Latitude   *float64 `yaml:"latitude,omitempty"`
	Longitude  *float64 `yaml:"longitude,omitempty"`
	Jitter     float64  `yaml:"jitter,omitempty"`
}

// Preset converts pc into a fingerprint preset.
func (pc PresetConfig) Preset() fingerprint.Preset {
	p := fingerprint.Preset{
		Name:       pc.Name,
		Timezone:   pc.Timezone,
		Locale:     pc.Locale,
		Languages:  pc.Languages,
		UserAgents: pc.UserAgents,
	}
	if pc.Latitude != nil && pc.Longitude != nil {
		p.Geo = &fingerprint.GeoBounds{
			Latitude:  *pc.Latitude,
			Longitude: *pc.Longitude,
			Jitter:    pc.Jitter,
			Accuracy:  100,
		}
	}
	return p
}

// LoadConfigFile loads the configuration file at path.
// If the file does not exist, it returns ErrConfigNotFound. Callers decide
// whether that is fatal depending on whether the path was explicit.
func LoadConfigFile(path string) (*File, error) {
	data, err := os.ReadFile(path) //nolint:gosec // User-provided config path is intentional
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrConfigNotFound
		}
		return nil, err
	}

	var cf File
	if err := yaml.Unmarshal(data, &cf); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	for i, pc := range cf.Fingerprints.Presets {
		if pc.Name == "" {
			return nil, fmt.Errorf("failed to parse %s: fingerprint preset %d has no name", path, i)
		}
	}
	return &cf, nil
}

// FindConfigFile searches for the configuration file in the following order:
// 1. If configPath is specified, use it directly
// 2. Look for .keyharvest in the current directory
// 3. Look for .keyharvest in the user's home directory
// 4. Look for config.yaml in the XDG config directory
//
// Returns the path to the configuration file if found, or empty string if not found.
func FindConfigFile(configPath string) string {
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}
		return ""
	}

	var candidates []string
	if cwd, err := os.Getwd(); err == nil {
		candidates = append(candidates, filepath.Join(cwd, DefaultConfigFile))
	}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, DefaultConfigFile))
	}
	candidates = append(candidates, filepath.Join(XDGConfigDir(), "config.yaml"))

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// Apply copies the values set in f onto c and records f in c.File.
func (c *Config) Apply(f *File) error {
	if f == nil {
		return nil
	}
	c.File = f

	cr := f.Crawl
	if cr.Mode != "" {
		mode, err := model.ParseMode(cr.Mode)
		if err != nil {
			return fmt.Errorf("%w: %q", ErrInvalidMode, cr.Mode)
		}
		c.Mode = mode
	}
	if cr.Kinds != nil {
		c.Kinds = *cr.Kinds
	}
	if cr.Depth != 0 {
		c.Depth = cr.Depth
	}
	if cr.MinShows != nil {
		c.MinShows = *cr.MinShows
	}
	if cr.ExpandMin != nil {
		c.ExpandMin = *cr.ExpandMin
	}
	if cr.TopK != nil {
		c.TopK = *cr.TopK
	}
	if cr.MaxShowMore != 0 {
		c.MaxShowMore = cr.MaxShowMore
	}
	if cr.QueryInterval != nil {
		c.QueryInterval = *cr.QueryInterval
	}
	if cr.WaitTimeout != 0 {
		c.WaitTimeout = cr.WaitTimeout
	}
	if cr.DefaultRegion != nil {
		c.DefaultRegion = *cr.DefaultRegion
	}
	if len(cr.Regions) > 0 {
		c.Regions = cr.Regions
	}
	if cr.RequeueRounds != nil {
		c.RequeueRounds = *cr.RequeueRounds
	}

	b := f.Browser
	if b.Headless != nil {
		c.Headless = *b.Headless
	}
	if b.ChromePath != "" {
		c.ChromePath = b.ChromePath
	}
	if b.NavigationTimeout != 0 {
		c.Site.NavigationTimeout = b.NavigationTimeout
	}
	if b.ResponseTimeout != 0 {
		c.Site.ResponseTimeout = b.ResponseTimeout
	}
	if b.ShowMoreWait != 0 {
		c.Site.ShowMoreWait = b.ShowMoreWait
	}

	c.applySite(f.Site)

	a := f.Accounts
	if a.Backoff != "" {
		kind, err := account.ParseBackoffKind(a.Backoff)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidBackoff, err)
		}
		c.Backoff.Kind = kind
	}
	if a.BackoffBase != 0 {
		c.Backoff.Base = a.BackoffBase
	}
	if a.BackoffMax != 0 {
		c.Backoff.Max = a.BackoffMax
	}
	if a.CaptchaThreshold != 0 {
		c.CaptchaThreshold = a.CaptchaThreshold
	}
	if a.RetryErrored != nil {
		c.RetryErrored = *a.RetryErrored
	}
	if a.ErrorRetryAfter != 0 {
		c.ErrorRetryAfter = a.ErrorRetryAfter
	}
	if a.RetryCaptcha != nil {
		c.RetryCaptcha = *a.RetryCaptcha
	}
	if a.CaptchaRetryAfter != 0 {
		c.CaptchaRetryAfter = a.CaptchaRetryAfter
	}
	if a.ProfilesDir != "" {
		c.ProfilesDir = a.ProfilesDir
	}

	p := f.Proxies
	if p.FailureThreshold != 0 {
		c.ProxyFailureThreshold = p.FailureThreshold
	}
	if p.HealthInterval != 0 {
		c.HealthInterval = p.HealthInterval
	}
	if p.HealthTarget != "" {
		c.HealthTarget = p.HealthTarget
	}
	if p.HealthConcurrency != 0 {
		c.HealthConcurrency = p.HealthConcurrency
	}
	if p.HealthTimeout != 0 {
		c.HealthTimeout = p.HealthTimeout
	}

	if f.Fingerprints.DefaultPreset != "" {
		c.DefaultPreset = f.Fingerprints.DefaultPreset
	}
	return nil
}

func (c *Config) applySite(s SiteSection) {
	if s.StartURL != "" {
		c.Site.StartURL = s.StartURL
	}
	if len(s.AuthMarkers) > 0 {
		c.Site.AuthMarkers = s.AuthMarkers
	}
	if len(s.CaptchaMarkers) > 0 {
		c.Site.CaptchaMarkers = s.CaptchaMarkers
	}
	if s.ResponsePath != "" {
		c.Site.ResponsePath = s.ResponsePath
	}
	if len(s.SearchSelectors) > 0 {
		c.Site.SearchSelectors = s.SearchSelectors
	}
	if s.ShowMoreSelector != "" {
		c.Site.ShowMoreSelector = s.ShowMoreSelector
	}
	if s.RowSelector != "" {
		c.Site.RowSelector = s.RowSelector
	}
	if s.PhraseSelector != "" {
		c.Site.PhraseSelector = s.PhraseSelector
	}
	if s.ShowsSelector != "" {
		c.Site.ShowsSelector = s.ShowsSelector
	}
}

// Presets returns the custom fingerprint presets of the loaded file.
func (c *Config) Presets() []fingerprint.Preset {
	if c.File == nil {
		return nil
	}
	out := make([]fingerprint.Preset, 0, len(c.File.Fingerprints.Presets))
	for _, pc := range c.File.Fingerprints.Presets {
		out = append(out, pc.Preset())
	}
	return out
}
