package browser

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"
)

// fakePage is an in-memory Page. Submitting query q through Fill and
// Press queues responses[q]; each WaitForResponse pops one of them.
type fakePage struct {
	mu        sync.Mutex
	url       string
	landing   map[string]string
	selectors map[string]bool
	responses map[string][]*Response
	html      string
	cookies   []Cookie

	filled  string
	queue   []*Response
	added   []Cookie
	visited []string
	closed  bool
}

func newFakePage() *fakePage {
	return &fakePage{
		landing:   make(map[string]string),
		selectors: map[string]bool{"textarea": true},
		responses: make(map[string][]*Response),
	}
}

func (p *fakePage) Goto(_ context.Context, url string, _ time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.visited = append(p.visited, url)
	p.url = url
	if to, ok := p.landing[url]; ok {
		p.url = to
	}
	return nil
}

func (p *fakePage) URL(context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url, nil
}

func (p *fakePage) Fill(_ context.Context, _, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.filled = value
	return nil
}

func (p *fakePage) Click(context.Context, string) error { return nil }

func (p *fakePage) Press(_ context.Context, _, key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if key == "Enter" {
		p.queue = append([]*Response(nil), p.responses[p.filled]...)
	}
	return nil
}

func (p *fakePage) WaitForResponse(ctx context.Context, match ResponseMatcher, timeout time.Duration, trigger func(context.Context) error) (*Response, error) {
	if trigger != nil {
		if err := trigger(ctx); err != nil {
			return nil, err
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for len(p.queue) > 0 {
		resp := p.queue[0]
		p.queue = p.queue[1:]
		if match(resp.URL, resp.Status) {
			return resp, nil
		}
	}
	return nil, timeoutError(timeout)
}

func (p *fakePage) Evaluate(_ context.Context, script string, out any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case strings.HasPrefix(script, "!!document.querySelector("):
		sel, _ := strconv.Unquote(strings.TrimSuffix(strings.TrimPrefix(script, "!!document.querySelector("), ")"))
		*out.(*bool) = p.selectors[sel]
	case strings.Contains(script, "aria-disabled"):
		*out.(*bool) = len(p.queue) > 0
	case strings.Contains(script, "outerHTML"):
		*out.(*string) = p.html
	}
	return nil
}

func (p *fakePage) Cookies(context.Context) ([]Cookie, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Cookie(nil), p.cookies...), nil
}

func (p *fakePage) AddCookies(_ context.Context, cookies []Cookie) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.added = append(p.added, cookies...)
	return nil
}

func (p *fakePage) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

type fakeDriver struct {
	page   *fakePage
	opened []OpenOptions
}

func (d *fakeDriver) Open(_ context.Context, opts OpenOptions) (Page, error) {
	d.opened = append(d.opened, opts)
	return d.page, nil
}

func apiResponse(body string) *Response {
	return &Response{URL: "https://wordstat.yandex.ru/wordstat/api/search", Status: 200, Body: []byte(body)}
}
