package browser

import (
	"context"
	"time"

	"github.com/nao1215/keyharvest/internal/model"
)

// Cookie is a driver-neutral browser cookie.
type Cookie struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Domain string `json:"domain"`
	Path   string `json:"path"`

	// Expires is seconds since the Unix epoch; zero or negative marks a
	// session cookie.
	Expires  float64 `json:"expires,omitempty"`
	HTTPOnly bool    `json:"http_only,omitempty"`
	Secure   bool    `json:"secure,omitempty"`
	SameSite string  `json:"same_site,omitempty"`
}

// Response is a captured network response.
type Response struct {
	URL    string
	Status int
	Body   []byte
}

// ResponseMatcher selects the response WaitForResponse waits for.
type ResponseMatcher func(url string, status int) bool

// OpenOptions describe the browser context to open.
type OpenOptions struct {
	ProfileDir string
	Proxy      *model.ProxyRecord
	Identity   model.Identity
	Headless   bool
}

// Driver opens browser contexts.
type Driver interface {
	Open(ctx context.Context, opts OpenOptions) (Page, error)
}

// Page is one browser tab. Implementations need not be safe for
// concurrent use; a Page is owned by a single Session.
type Page interface {
	Goto(ctx context.Context, url string, timeout time.Duration) error
	URL(ctx context.Context) (string, error)
	Fill(ctx context.Context, selector, value string) error
	Click(ctx context.Context, selector string) error
	Press(ctx context.Context, selector, key string) error

	// WaitForResponse runs trigger and waits for the first response
	// accepted by match, up to timeout.
	WaitForResponse(ctx context.Context, match ResponseMatcher, timeout time.Duration, trigger func(context.Context) error) (*Response, error)

	// Evaluate runs script and decodes its result into out. out may be nil.
	Evaluate(ctx context.Context, script string, out any) error

	Cookies(ctx context.Context) ([]Cookie, error)
	AddCookies(ctx context.Context, cookies []Cookie) error
	Close() error
}
