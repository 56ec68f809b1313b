package browser

import (
	"strings"
	"time"
)

// Site defaults for the suggestion service.
const (
	DefaultStartURL          = "https://wordstat.yandex.ru/"
	DefaultResponsePath      = "/wordstat/api/search"
	DefaultNavigationTimeout = 60 * time.Second
	DefaultResponseTimeout   = 20 * time.Second
	DefaultShowMoreWait      = 2 * time.Second
)

// SiteConfig describes the target page structure.
type SiteConfig struct {
	StartURL string

	// AuthMarkers are URL fragments that identify the login page.
	AuthMarkers []string

	// CaptchaMarkers are URL fragments that identify a challenge page.
	CaptchaMarkers []string

	// ResponsePath identifies the search API response.
	ResponsePath string

	// SearchSelectors are tried in order to find the query input.
	SearchSelectors []string

	// ShowMoreSelector locates the button loading further rows.
	ShowMoreSelector string

	// RowSelector, PhraseSelector and ShowsSelector parse the results
	// table from the DOM when no API response was captured.
	RowSelector    string
	PhraseSelector string
	ShowsSelector  string

	NavigationTimeout time.Duration
	ResponseTimeout   time.Duration
	ShowMoreWait      time.Duration
}

// DefaultSiteConfig returns the configuration for the suggestion service.
func DefaultSiteConfig() SiteConfig {
	return SiteConfig{
		StartURL:       DefaultStartURL,
		AuthMarkers:    []string{"passport.yandex", "/auth"},
		CaptchaMarkers: []string{"showcaptcha", "/captcha"},
		ResponsePath:   DefaultResponsePath,
		SearchSelectors: []string{
			"textarea",
			"input[data-t='field:input-search']",
			"input[name='input']",
			"input[type='text']",
			"input[role='combobox']",
			"input",
		},
		ShowMoreSelector:  "button.wordstat__show-more, button[data-t='button:show-more']",
		RowSelector:       "table tbody > tr",
		PhraseSelector:    "td:first-child",
		ShowsSelector:     "td:nth-child(2)",
		NavigationTimeout: DefaultNavigationTimeout,
		ResponseTimeout:   DefaultResponseTimeout,
		ShowMoreWait:      DefaultShowMoreWait,
	}
}

// withDefaults fills zero fields from DefaultSiteConfig.
func (c SiteConfig) withDefaults() SiteConfig {
	d := DefaultSiteConfig()
	if c.StartURL == "" {
		c.StartURL = d.StartURL
	}
	if len(c.AuthMarkers) == 0 {
		c.AuthMarkers = d.AuthMarkers
	}
	if len(c.CaptchaMarkers) == 0 {
		c.CaptchaMarkers = d.CaptchaMarkers
	}
	if c.ResponsePath == "" {
		c.ResponsePath = d.ResponsePath
	}
	if len(c.SearchSelectors) == 0 {
		c.SearchSelectors = d.SearchSelectors
	}
	if c.ShowMoreSelector == "" {
		c.ShowMoreSelector = d.ShowMoreSelector
	}
	if c.RowSelector == "" {
		c.RowSelector = d.RowSelector
	}
	if c.PhraseSelector == "" {
		c.PhraseSelector = d.PhraseSelector
	}
	if c.ShowsSelector == "" {
		c.ShowsSelector = d.ShowsSelector
	}
	if c.NavigationTimeout <= 0 {
		c.NavigationTimeout = d.NavigationTimeout
	}
	if c.ResponseTimeout <= 0 {
		c.ResponseTimeout = d.ResponseTimeout
	}
	if c.ShowMoreWait <= 0 {
		c.ShowMoreWait = d.ShowMoreWait
	}
	return c
}

// IsAuthURL reports whether url is the login page.
func (c SiteConfig) IsAuthURL(url string) bool {
	return containsAny(url, c.AuthMarkers)
}

// IsCaptchaURL reports whether url is a challenge page.
func (c SiteConfig) IsCaptchaURL(url string) bool {
	return containsAny(url, c.CaptchaMarkers)
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if m != "" && strings.Contains(s, m) {
			return true
		}
	}
	return false
}
