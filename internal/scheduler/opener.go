package scheduler

import (
	"context"
	"log/slog"

	"github.com/nao1215/keyharvest/internal/browser"
	"github.com/nao1215/keyharvest/internal/crawler"
)

// WorkerSession is a crawl session the scheduler closes when the task ends.
type WorkerSession interface {
	crawler.Session
	Close(ctx context.Context) error
}

// Opener opens the session of an assignment.
type Opener interface {
	Open(ctx context.Context, a Assignment) (WorkerSession, error)
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(ctx context.Context, a Assignment) (WorkerSession, error)

// Open calls f.
func (f OpenerFunc) Open(ctx context.Context, a Assignment) (WorkerSession, error) {
	return f(ctx, a)
}

// BrowserOpener opens real browser sessions through a Driver.
type BrowserOpener struct {
	Driver browser.Driver
	Site   browser.SiteConfig

	// Slots loads the account's active cookie slot on open. It may be nil.
	Slots    browser.SlotStore
	Headless bool
	Logger   *slog.Logger
}

// Open starts the browser context of a and restores its slot cookies.
func (o BrowserOpener) Open(ctx context.Context, a Assignment) (WorkerSession, error) {
	s, err := browser.Open(ctx, o.Driver, browser.OpenRequest{
		Account:  a.Account,
		Proxy:    a.Proxy,
		Identity: a.Identity,
		Site:     o.Site,
		Slots:    o.Slots,
		Headless: o.Headless,
		Logger:   o.Logger,
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}
