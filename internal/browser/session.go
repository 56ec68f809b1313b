package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/nao1215/keyharvest/internal/model"
	"github.com/nao1215/keyharvest/internal/phrase"
)

// OpenRequest describes the session to open.
type OpenRequest struct {
	Account  model.AccountRecord
	// Proxy routes the context; nil connects directly.
	Proxy    *model.ProxyRecord
	// Identity is applied before the first navigation.
	Identity model.Identity
	Site     SiteConfig
	// Slots restores and saves cookies of Account's active slot. It may
	// be nil.
	Slots    SlotStore
	Headless bool
	Logger   *slog.Logger
}

// Session drives one browser context for one account.
type Session struct {
	page   Page
	site   SiteConfig
	slots  SlotStore
	logger *slog.Logger

	profileDir string
	slot       string

	// query is the text last submitted; rows, seen and total describe its
	// result page and are reset by SubmitQuery.
	query  string
	rows   []model.Suggestion
	seen   map[string]struct{} // lowercased phrases already in rows
	total  int64
	closed bool
}

// Open starts a browser context, restores the slot cookies and navigates
// to the start URL. A redirect to the login page closes the context and
// returns ErrAuthRequired.
func Open(ctx context.Context, driver Driver, req OpenRequest) (*Session, error) {
	site := req.Site.withDefaults()
	logger := req.Logger
	if logger == nil {
		logger = slog.Default()
	}
	slots := req.Slots
	if slots == nil {
		slots = FileSlotStore{}
	}

	page, err := driver.Open(ctx, OpenOptions{
		ProfileDir: req.Account.ProfileDir,
		Proxy:      req.Proxy,
		Identity:   req.Identity,
		Headless:   req.Headless,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open browser context: %w", err)
	}

	s := &Session{
		page:       page,
		site:       site,
		slots:      slots,
		logger:     logger.With("account", req.Account.ID),
		profileDir: req.Account.ProfileDir,
		slot:       req.Account.Slot(),
		total:      -1,
	}

	cookies, err := slots.Load(s.profileDir, s.slot)
	if err != nil {
		s.logger.Warn("failed to load slot cookies", "slot", s.slot, "error", err)
	} else if len(cookies) > 0 {
		if err := page.AddCookies(ctx, cookies); err != nil {
			s.logger.Warn("failed to restore slot cookies", "slot", s.slot, "error", err)
		}
	}

	if err := s.Navigate(ctx, site.StartURL); err != nil {
		_ = page.Close()
		s.closed = true
		return nil, err
	}
	return s, nil
}

// Navigate loads url and checks where the browser ended up.
func (s *Session) Navigate(ctx context.Context, url string) error {
	if s.closed {
		return ErrSessionClosed
	}
	if err := s.page.Goto(ctx, url, s.site.NavigationTimeout); err != nil {
		return fmt.Errorf("navigation to %s failed: %w", url, err)
	}
	return s.checkLocation(ctx)
}

func (s *Session) checkLocation(ctx context.Context) error {
	current, err := s.page.URL(ctx)
	if err != nil {
		return fmt.Errorf("failed to read location: %w", err)
	}
	switch {
	case s.site.IsAuthURL(current):
		return ErrAuthRequired
	case s.site.IsCaptchaURL(current):
		return ErrCaptchaDetected
	}
	return nil
}

// SubmitQuery types text into the search input and waits for the search
// API response. Rows from the response become the current result set.
func (s *Session) SubmitQuery(ctx context.Context, text string) error {
	if s.closed {
		return ErrSessionClosed
	}
	s.query = text
	s.rows = nil
	s.seen = make(map[string]struct{})
	s.total = -1

	selector, err := s.searchInput(ctx)
	if err != nil {
		return err
	}

	resp, err := s.page.WaitForResponse(ctx, s.matchSearch, s.site.ResponseTimeout, func(ctx context.Context) error {
		if err := s.page.Fill(ctx, selector, text); err != nil {
			return err
		}
		return s.page.Press(ctx, selector, "Enter")
	})
	if err != nil {
		if errors.Is(err, ErrResponseTimeout) {
			if locErr := s.checkLocation(ctx); locErr != nil {
				return locErr
			}
		}
		return err
	}
	return s.absorb(ctx, resp)
}

// ClickShowMore loads the next page of rows. It reports false when the
// button is missing or disabled, or when no further response arrived.
func (s *Session) ClickShowMore(ctx context.Context) (bool, error) {
	if s.closed {
		return false, ErrSessionClosed
	}
	var clickable bool
	script := fmt.Sprintf(`(()=>{const b=document.querySelector(%q);if(!b)return false;`+
		`if(b.disabled||b.getAttribute('aria-disabled')==='true')return false;`+
		`const st=getComputedStyle(b);return st.display!=='none'&&st.visibility!=='hidden';})()`, s.site.ShowMoreSelector)
	if err := s.page.Evaluate(ctx, script, &clickable); err != nil {
		return false, fmt.Errorf("failed to inspect show-more button: %w", err)
	}
	if !clickable {
		return false, nil
	}

	before := len(s.rows)
	resp, err := s.page.WaitForResponse(ctx, s.matchSearch, s.site.ShowMoreWait, func(ctx context.Context) error {
		return s.page.Click(ctx, s.site.ShowMoreSelector)
	})
	if err != nil {
		if errors.Is(err, ErrResponseTimeout) {
			return false, nil
		}
		return false, err
	}
	if err := s.absorb(ctx, resp); err != nil {
		return false, err
	}
	return len(s.rows) > before, nil
}

// ReadRows returns the rows collected for the current query. When no API
// response carried rows, the results table is parsed from the DOM.
func (s *Session) ReadRows(ctx context.Context) ([]model.Suggestion, error) {
	if s.closed {
		return nil, ErrSessionClosed
	}
	if len(s.rows) > 0 {
		return append([]model.Suggestion(nil), s.rows...), nil
	}
	var html string
	if err := s.page.Evaluate(ctx, `document.documentElement.outerHTML`, &html); err != nil {
		return nil, fmt.Errorf("failed to read page: %w", err)
	}
	rows, err := ExtractDOM(html, s.site)
	if err != nil {
		return nil, err
	}
	s.merge(rows)
	return append([]model.Suggestion(nil), s.rows...), nil
}

// Total returns the count reported for the current query. When the
// response had no explicit total, the row equal to the query is used.
func (s *Session) Total(ctx context.Context) (int64, error) {
	if s.total >= 0 {
		return s.total, nil
	}
	rows, err := s.ReadRows(ctx)
	if err != nil {
		return 0, err
	}
	for _, r := range rows {
		if phrase.Equal(r.Phrase, s.query) {
			return r.Shows, nil
		}
	}
	return 0, nil
}

// Close saves the current cookies to the active slot and closes the
// browser context. It is safe to call more than once.
func (s *Session) Close(ctx context.Context) error {
	if s.closed {
		return nil
	}
	s.closed = true

	var errs []error
	cookies, err := s.page.Cookies(ctx)
	if err != nil {
		errs = append(errs, fmt.Errorf("failed to read cookies: %w", err))
	} else if err := s.slots.Save(s.profileDir, s.slot, cookies); err != nil {
		errs = append(errs, err)
	}
	if err := s.page.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close browser context: %w", err))
	}
	return errors.Join(errs...)
}

func (s *Session) searchInput(ctx context.Context) (string, error) {
	for _, sel := range s.site.SearchSelectors {
		var found bool
		if err := s.page.Evaluate(ctx, fmt.Sprintf(`!!document.querySelector(%q)`, sel), &found); err != nil {
			return "", fmt.Errorf("failed to look up selector %s: %w", sel, err)
		}
		if found {
			return sel, nil
		}
	}
	if err := s.checkLocation(ctx); err != nil {
		return "", err
	}
	return "", ErrNoSearchInput
}

func (s *Session) matchSearch(url string, _ int) bool {
	return strings.Contains(url, s.site.ResponsePath)
}

func (s *Session) absorb(ctx context.Context, resp *Response) error {
	switch {
	case resp.Status == http.StatusTooManyRequests:
		return ErrRateLimited
	case resp.Status == http.StatusUnauthorized || resp.Status == http.StatusForbidden:
		if err := s.checkLocation(ctx); err != nil {
			return err
		}
		return ErrAuthRequired
	case resp.Status != http.StatusOK:
		return fmt.Errorf("search response status %d", resp.Status)
	}
	ex, err := ExtractJSON(resp.Body)
	if err != nil {
		return err
	}
	if ex.Total >= 0 && s.total < 0 {
		s.total = ex.Total
	}
	s.merge(ex.Rows)
	return nil
}

func (s *Session) merge(rows []model.Suggestion) {
	if s.seen == nil {
		s.seen = make(map[string]struct{})
	}
	for _, r := range rows {
		k := phrase.Key(r.Phrase)
		if _, ok := s.seen[k]; ok {
			continue
		}
		s.seen[k] = struct{}{}
		s.rows = append(s.rows, r)
	}
}

// timeoutError wraps ErrResponseTimeout with the waited duration.
func timeoutError(d time.Duration) error {
	return fmt.Errorf("%w after %s", ErrResponseTimeout, d)
}
