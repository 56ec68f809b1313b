package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
	"github.com/nao1215/keyharvest/internal/account"
	"github.com/nao1215/keyharvest/internal/browser"
	"github.com/nao1215/keyharvest/internal/model"
)

// Default configuration values.
const (
	// AppName is the application name used for XDG directory paths.
	AppName = "keyharvest"

	// DefaultDepth limits frontier crawls to the seed level.
	DefaultDepth = 1

	// DefaultMinShows drops suggestion rows with fewer impressions.
	DefaultMinShows = 10

	// DefaultExpandMin is the impression count a row needs to be expanded
	// into the next frontier level.
	DefaultExpandMin = 100

	// DefaultTopK caps expanded children per parent.
	DefaultTopK = 50

	// DefaultMaxShowMore bounds clicks on the show more button per query.
	DefaultMaxShowMore = 50

	// DefaultQueryInterval is the minimum delay between two queries of one worker.
	DefaultQueryInterval = time.Second

	// DefaultWaitTimeout bounds one region batch.
	DefaultWaitTimeout = time.Hour

	// DefaultRequeueRounds is how often orphaned phrases are redistributed.
	DefaultRequeueRounds = 1

	// DefaultErrorRetryAfter is the delay before an errored account may be retried.
	DefaultErrorRetryAfter = 10 * time.Minute

	// DefaultCaptchaRetryAfter is the delay before a captcha account is
	// given another batch.
	DefaultCaptchaRetryAfter = 30 * time.Minute

	// DefaultCaptchaThreshold is the number of challenges tolerated before a ban.
	DefaultCaptchaThreshold = account.DefaultCaptchaThreshold

	// DefaultProxyFailureThreshold is the consecutive health check failures
	// after which a proxy is blacklisted.
	DefaultProxyFailureThreshold = 3

	// DefaultHealthInterval is the period of the proxy health sweep.
	DefaultHealthInterval = 30 * time.Minute

	// DefaultHealthTarget echoes the exit address of a proxy.
	DefaultHealthTarget = "https://api.ipify.org?format=json"

	// DefaultHealthConcurrency bounds parallel health checks.
	DefaultHealthConcurrency = 50

	// DefaultHealthTimeout bounds one health check.
	DefaultHealthTimeout = 15 * time.Second
)

// Config holds all configuration options for keyharvest.
// It is populated from the configuration file and CLI flags and passed
// through the application instead of living in global state.
type Config struct {
	// Mode selects flat frequency queries or the frontier crawl.
	Mode model.Mode

	// Kinds toggles the ws, qws and bws counts of frequency crawls.
	Kinds model.FrequencyKinds

	// Depth, MinShows, ExpandMin and TopK drive the frontier crawl.
	Depth     int
	MinShows  int64
	ExpandMin int64
	TopK      int

	// MaxShowMore bounds clicks on the show more button per query.
	MaxShowMore int

	// QueryInterval is the minimum delay between two queries of one worker.
	// Zero disables pacing.
	QueryInterval time.Duration

	// WaitTimeout bounds each region batch as a whole.
	WaitTimeout time.Duration

	// DefaultRegion is used when a crawl names no region.
	DefaultRegion int

	// Regions are the regions of the current crawl, in order.
	Regions []int

	// RequeueRounds is how often phrases orphaned by failed accounts are
	// redistributed over the remaining accounts.
	RequeueRounds int

	// RetryErrored lets errored accounts take work again after ErrorRetryAfter.
	RetryErrored    bool
	ErrorRetryAfter time.Duration

	// RetryCaptcha returns captcha accounts to rotation after
	// CaptchaRetryAfter. Repeated challenges still end in a ban.
	RetryCaptcha      bool
	CaptchaRetryAfter time.Duration

	// Backoff selects the cooldown policy for rate limited accounts.
	Backoff account.Backoff

	// CaptchaThreshold is the number of challenges an account survives.
	CaptchaThreshold int

	// Site describes the target pages, markers and selectors.
	Site browser.SiteConfig

	// Headless runs Chrome without a window.
	Headless bool

	// ChromePath is the Chrome binary. Empty lets chromedp find one.
	ChromePath string

	// ProxyFailureThreshold, HealthInterval, HealthTarget, HealthConcurrency
	// and HealthTimeout configure the proxy health checker.
	ProxyFailureThreshold int
	HealthInterval        time.Duration
	HealthTarget          string
	HealthConcurrency     int
	HealthTimeout         time.Duration

	// DefaultPreset is the fingerprint preset used when an account names none.
	DefaultPreset string

	// DBDir is the directory holding the SQLite database.
	// Defaults to the XDG data directory (~/.local/share/keyharvest on Linux).
	DBDir string

	// ProfilesDir holds account profiles created by `account add`.
	ProfilesDir string

	// ConfigFilePath is the configuration file given with --config.
	// If empty, FindConfigFile searches the default locations.
	ConfigFilePath string

	// File is the loaded configuration file, nil when none was found.
	File *File

	// Verbose enables debug logging. When false only warnings and errors are logged.
	Verbose bool

	// LogJSON switches the log output to JSON lines.
	LogJSON bool
}

// NewConfig creates a new Config with default values.
func NewConfig() *Config {
	dataDir := XDGDataDir()
	return &Config{
		Mode:                  model.ModeFrequency,
		Kinds:                 model.AllFrequencyKinds,
		Depth:                 DefaultDepth,
		MinShows:              DefaultMinShows,
		ExpandMin:             DefaultExpandMin,
		TopK:                  DefaultTopK,
		MaxShowMore:           DefaultMaxShowMore,
		QueryInterval:         DefaultQueryInterval,
		WaitTimeout:           DefaultWaitTimeout,
		DefaultRegion:         model.DefaultRegion,
		RequeueRounds:         DefaultRequeueRounds,
		ErrorRetryAfter:       DefaultErrorRetryAfter,
		RetryCaptcha:          true,
		CaptchaRetryAfter:     DefaultCaptchaRetryAfter,
		Backoff:               account.DefaultBackoff(),
		CaptchaThreshold:      DefaultCaptchaThreshold,
		Site:                  browser.DefaultSiteConfig(),
		Headless:              true,
		ProxyFailureThreshold: DefaultProxyFailureThreshold,
		HealthInterval:        DefaultHealthInterval,
		HealthTarget:          DefaultHealthTarget,
		HealthConcurrency:     DefaultHealthConcurrency,
		HealthTimeout:         DefaultHealthTimeout,
		DBDir:                 dataDir,
		ProfilesDir:           filepath.Join(dataDir, "profiles"),
	}
}

// Params returns the crawl parameters described by c.
func (c *Config) Params() model.CrawlParams {
	return model.CrawlParams{
		Mode:      c.Mode,
		Kinds:     c.Kinds,
		Depth:     c.Depth,
		MinShows:  c.MinShows,
		ExpandMin: c.ExpandMin,
		TopK:      c.TopK,
	}
}

// XDGDataDir returns the XDG data directory for keyharvest.
// On Linux: ~/.local/share/keyharvest
func XDGDataDir() string {
	return filepath.Join(xdg.DataHome, AppName)
}

// XDGConfigDir returns the XDG config directory for keyharvest.
// On Linux: ~/.config/keyharvest
func XDGConfigDir() string {
	return filepath.Join(xdg.ConfigHome, AppName)
}

// Validate checks if the configuration is valid and returns the first
// problem found.
func (c *Config) Validate() error {
	if _, err := model.ParseMode(string(c.Mode)); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidMode, c.Mode)
	}
	if c.Depth < 1 {
		return ErrInvalidDepth
	}
	if c.MinShows < 0 || c.ExpandMin < 0 {
		return ErrInvalidThreshold
	}
	if c.TopK < 0 {
		return ErrInvalidTopK
	}
	if c.QueryInterval < 0 {
		return ErrInvalidQueryInterval
	}
	if c.WaitTimeout <= 0 || c.Site.NavigationTimeout <= 0 || c.Site.ResponseTimeout <= 0 {
		return ErrInvalidTimeout
	}
	if c.ErrorRetryAfter < 0 || c.CaptchaRetryAfter < 0 {
		return fmt.Errorf("%w: account retry delays must not be negative", ErrInvalidTimeout)
	}
	if c.DefaultRegion < 0 {
		return ErrInvalidRegion
	}
	for _, r := range c.Regions {
		if r < 0 {
			return fmt.Errorf("%w: %d", ErrInvalidRegion, r)
		}
	}
	if _, err := account.ParseBackoffKind(string(c.Backoff.Kind)); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidBackoff, err)
	}
	if c.Backoff.Base <= 0 {
		return fmt.Errorf("%w: base must be positive", ErrInvalidBackoff)
	}
	if c.HealthConcurrency <= 0 {
		return ErrInvalidConcurrency
	}
	return nil
}
