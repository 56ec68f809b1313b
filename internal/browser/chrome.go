package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	cdpbrowser "github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	cdppage "github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"github.com/go-rod/stealth"
	"github.com/nao1215/keyharvest/internal/fingerprint"
	"github.com/nao1215/keyharvest/internal/model"
)

// defaultActionTimeout bounds element actions that have no explicit timeout.
const defaultActionTimeout = 30 * time.Second

// ChromeDriver opens Chrome contexts through chromedp.
type ChromeDriver struct {
	execPath      string
	extraFlags    map[string]any
	actionTimeout time.Duration
	logger        *slog.Logger
}

// ChromeOption configures a ChromeDriver.
type ChromeOption func(*ChromeDriver)

// WithExecPath sets the Chrome binary. Empty lets chromedp find one.
func WithExecPath(path string) ChromeOption {
	return func(d *ChromeDriver) {
		d.execPath = path
	}
}

// WithFlag adds a command line flag passed to Chrome.
func WithFlag(name string, value any) ChromeOption {
	return func(d *ChromeDriver) {
		d.extraFlags[name] = value
	}
}

// WithActionTimeout bounds fill, click and evaluate calls.
func WithActionTimeout(timeout time.Duration) ChromeOption {
	return func(d *ChromeDriver) {
		if timeout > 0 {
			d.actionTimeout = timeout
		}
	}
}

// WithDriverLogger sets the logger.
func WithDriverLogger(logger *slog.Logger) ChromeOption {
	return func(d *ChromeDriver) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// NewChromeDriver creates a ChromeDriver.
func NewChromeDriver(opts ...ChromeOption) *ChromeDriver {
	d := &ChromeDriver{
		extraFlags:    make(map[string]any),
		actionTimeout: defaultActionTimeout,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Open launches Chrome with the profile directory, proxy and identity of
// opts. The browser process lives until the returned Page is closed; it is
// not bound to ctx.
func (d *ChromeDriver) Open(ctx context.Context, opts OpenOptions) (Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), d.allocatorOptions(opts)...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx, chromedp.WithErrorf(func(format string, args ...any) {
		d.logger.Debug(fmt.Sprintf(format, args...))
	}))

	p := &chromePage{
		ctx:           tabCtx,
		cancel:        func() { tabCancel(); allocCancel() },
		proxy:         opts.Proxy,
		actionTimeout: d.actionTimeout,
		pending:       make(map[network.RequestID]pendingResponse),
		logger:        d.logger,
	}
	chromedp.ListenTarget(tabCtx, p.onEvent)

	if err := chromedp.Run(tabCtx, setupActions(opts)...); err != nil {
		p.cancel()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}
	return p, nil
}

func (d *ChromeDriver) allocatorOptions(opts OpenOptions) []chromedp.ExecAllocatorOption {
	id := opts.Identity
	out := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	out = append(out,
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("no-first-run", true),
	)
	if opts.ProfileDir != "" {
		out = append(out, chromedp.UserDataDir(opts.ProfileDir))
	}
	if opts.Proxy != nil {
		out = append(out, chromedp.ProxyServer(opts.Proxy.ServerURL()))
	}
	if id.UserAgent != "" {
		out = append(out, chromedp.UserAgent(id.UserAgent))
	}
	if id.Locale != "" {
		out = append(out, chromedp.Flag("lang", id.Locale))
	}
	if id.Screen.Width > 0 && id.Screen.Height > 0 {
		out = append(out, chromedp.WindowSize(id.Screen.Width, id.Screen.Height))
	}
	if d.execPath != "" {
		out = append(out, chromedp.ExecPath(d.execPath))
	}
	for name, value := range d.extraFlags {
		out = append(out, chromedp.Flag(name, value))
	}
	return out
}

// setupActions enables the domains the page relies on and applies the
// identity before the first navigation.
func setupActions(opts OpenOptions) []chromedp.Action {
	id := opts.Identity
	actions := []chromedp.Action{network.Enable()}

	if opts.Proxy != nil && opts.Proxy.HasCredentials() {
		actions = append(actions, fetch.Enable().WithHandleAuthRequests(true))
	}

	scripts := append([]string{stealth.JS}, fingerprint.InitScripts(id)...)
	actions = append(actions, chromedp.ActionFunc(func(ctx context.Context) error {
		for _, src := range scripts {
			if _, err := cdppage.AddScriptToEvaluateOnNewDocument(src).Do(ctx); err != nil {
				return fmt.Errorf("failed to add init script: %w", err)
			}
		}
		return nil
	}))

	if id.Timezone != "" {
		actions = append(actions, emulation.SetTimezoneOverride(id.Timezone))
	}
	if id.Locale != "" {
		actions = append(actions, emulation.SetLocaleOverride().WithLocale(id.Locale))
	}
	if id.UserAgent != "" {
		actions = append(actions, emulation.SetUserAgentOverride(id.UserAgent).
			WithAcceptLanguage(id.AcceptLanguage()).
			WithPlatform("Win32"))
	}
	if g := id.Geolocation; g != nil {
		actions = append(actions,
			cdpbrowser.GrantPermissions([]cdpbrowser.PermissionType{cdpbrowser.PermissionTypeGeolocation}),
			emulation.SetGeolocationOverride().
				WithLatitude(g.Latitude).
				WithLongitude(g.Longitude).
				WithAccuracy(g.Accuracy),
		)
	}
	if s := id.Screen; s.Width > 0 && s.Height > 0 {
		actions = append(actions, emulation.SetDeviceMetricsOverride(int64(s.Width), int64(s.Height), s.DeviceScaleFactor, false))
	}
	return actions
}

type pendingResponse struct {
	url    string
	status int
}

type responseWaiter struct {
	match ResponseMatcher
	ch    chan *Response
}

// chromePage implements Page on one chromedp tab.
type chromePage struct {
	ctx           context.Context
	cancel        context.CancelFunc
	proxy         *model.ProxyRecord
	actionTimeout time.Duration
	logger        *slog.Logger

	mu      sync.Mutex
	waiters []*responseWaiter
	pending map[network.RequestID]pendingResponse
}

func (p *chromePage) onEvent(ev any) {
	switch e := ev.(type) {
	case *fetch.EventAuthRequired:
		go p.answerAuth(e.RequestID)
	case *fetch.EventRequestPaused:
		go func() {
			_ = chromedp.Run(p.ctx, fetch.ContinueRequest(e.RequestID))
		}()
	case *network.EventResponseReceived:
		if e.Response == nil {
			return
		}
		p.mu.Lock()
		for _, w := range p.waiters {
			if w.match(e.Response.URL, int(e.Response.Status)) {
				p.pending[e.RequestID] = pendingResponse{url: e.Response.URL, status: int(e.Response.Status)}
				break
			}
		}
		p.mu.Unlock()
	case *network.EventLoadingFinished:
		p.mu.Lock()
		pr, ok := p.pending[e.RequestID]
		delete(p.pending, e.RequestID)
		p.mu.Unlock()
		if ok {
			go p.deliver(e.RequestID, pr)
		}
	case *network.EventLoadingFailed:
		p.mu.Lock()
		delete(p.pending, e.RequestID)
		p.mu.Unlock()
	}
}

func (p *chromePage) answerAuth(id fetch.RequestID) {
	resp := &fetch.AuthChallengeResponse{Response: fetch.AuthChallengeResponseResponseCancelAuth}
	if p.proxy != nil && p.proxy.HasCredentials() {
		resp = &fetch.AuthChallengeResponse{
			Response: fetch.AuthChallengeResponseResponseProvideCredentials,
			Username: p.proxy.Username,
			Password: p.proxy.Password,
		}
	}
	if err := chromedp.Run(p.ctx, fetch.ContinueWithAuth(id, resp)); err != nil {
		p.logger.Debug("failed to answer proxy auth challenge", "error", err)
	}
}

func (p *chromePage) deliver(id network.RequestID, pr pendingResponse) {
	var body []byte
	err := chromedp.Run(p.ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		b, err := network.GetResponseBody(id).Do(ctx)
		body = b
		return err
	}))
	if err != nil {
		p.logger.Debug("failed to read response body", "url", pr.url, "error", err)
	}
	resp := &Response{URL: pr.url, Status: pr.status, Body: body}

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, w := range p.waiters {
		if w.match(pr.url, pr.status) {
			select {
			case w.ch <- resp:
			default:
			}
			return
		}
	}
}

func (p *chromePage) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if timeout <= 0 {
		timeout = p.actionTimeout
	}
	tctx, cancel := context.WithTimeout(p.ctx, timeout)
	defer cancel()
	return chromedp.Run(tctx, actions...)
}

func (p *chromePage) Goto(ctx context.Context, url string, timeout time.Duration) error {
	return p.run(ctx, timeout, chromedp.Navigate(url))
}

func (p *chromePage) URL(ctx context.Context) (string, error) {
	var u string
	err := p.run(ctx, 0, chromedp.Location(&u))
	return u, err
}

func (p *chromePage) Fill(ctx context.Context, selector, value string) error {
	return p.run(ctx, 0,
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.Clear(selector, chromedp.ByQuery),
		chromedp.SendKeys(selector, value, chromedp.ByQuery),
	)
}

func (p *chromePage) Click(ctx context.Context, selector string) error {
	return p.run(ctx, 0, chromedp.Click(selector, chromedp.ByQuery, chromedp.NodeVisible))
}

func (p *chromePage) Press(ctx context.Context, selector, key string) error {
	return p.run(ctx, 0, chromedp.SendKeys(selector, keyCode(key), chromedp.ByQuery))
}

func (p *chromePage) Evaluate(ctx context.Context, script string, out any) error {
	return p.run(ctx, 0, chromedp.Evaluate(script, out))
}

func (p *chromePage) WaitForResponse(ctx context.Context, match ResponseMatcher, timeout time.Duration, trigger func(context.Context) error) (*Response, error) {
	w := &responseWaiter{match: match, ch: make(chan *Response, 1)}
	p.mu.Lock()
	p.waiters = append(p.waiters, w)
	p.mu.Unlock()
	defer p.removeWaiter(w)

	if trigger != nil {
		if err := trigger(ctx); err != nil {
			return nil, err
		}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case resp := <-w.ch:
		return resp, nil
	case <-timer.C:
		return nil, timeoutError(timeout)
	case <-p.ctx.Done():
		return nil, fmt.Errorf("browser context closed: %w", p.ctx.Err())
	}
}

func (p *chromePage) removeWaiter(w *responseWaiter) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, v := range p.waiters {
		if v == w {
			p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
			return
		}
	}
}

func (p *chromePage) Cookies(ctx context.Context) ([]Cookie, error) {
	var raw []*network.Cookie
	err := p.run(ctx, 0, chromedp.ActionFunc(func(ctx context.Context) error {
		c, err := storage.GetCookies().Do(ctx)
		raw = c
		return err
	}))
	if err != nil {
		return nil, err
	}
	return fromNetworkCookies(raw), nil
}

func (p *chromePage) AddCookies(ctx context.Context, cookies []Cookie) error {
	return p.run(ctx, 0, network.SetCookies(toCookieParams(cookies)))
}

func (p *chromePage) Close() error {
	err := chromedp.Cancel(p.ctx)
	p.cancel()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func keyCode(key string) string {
	switch key {
	case "Enter":
		return kb.Enter
	case "Escape":
		return kb.Escape
	case "Tab":
		return kb.Tab
	case "Backspace":
		return kb.Backspace
	default:
		return key
	}
}

func fromNetworkCookies(raw []*network.Cookie) []Cookie {
	out := make([]Cookie, 0, len(raw))
	for _, c := range raw {
		if c == nil {
			continue
		}
		out = append(out, Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  c.Expires,
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
			SameSite: string(c.SameSite),
		})
	}
	return out
}

func toCookieParams(cookies []Cookie) []*network.CookieParam {
	out := make([]*network.CookieParam, 0, len(cookies))
	for _, c := range cookies {
		param := &network.CookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
		}
		if c.SameSite != "" {
			param.SameSite = network.CookieSameSite(c.SameSite)
		}
		if c.Expires > 0 {
			sec := int64(c.Expires)
			nsec := int64((c.Expires - float64(sec)) * float64(time.Second))
			exp := cdp.TimeSinceEpoch(time.Unix(sec, nsec))
			param.Expires = &exp
		}
		out = append(out, param)
	}
	return out
}
