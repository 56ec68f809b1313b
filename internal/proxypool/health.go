package proxypool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/nao1215/keyharvest/internal/model"
	"golang.org/x/net/proxy"
	"golang.org/x/sync/errgroup"
)

// Health check defaults.
const (
	DefaultCheckTarget      = "https://api.ipify.org?format=json"
	DefaultCheckTimeout     = 15 * time.Second
	DefaultCheckConcurrency = 50

	// maxEchoBody bounds the IP echo response read.
	maxEchoBody = 4096
)

// HealthResult is the outcome of one health check.
type HealthResult struct {
	ProxyID   string
	Latency   time.Duration
	ExitIP    string
	CheckedAt time.Time
	Err       error

	// Removed is set by Sweep when the check caused a blacklist eviction.
	Removed bool
}

// OK reports whether the check succeeded.
func (r HealthResult) OK() bool {
	return r.Err == nil
}

// Checker tests connectivity through a proxy.
type Checker interface {
	Check(ctx context.Context, rec model.ProxyRecord) HealthResult
}

// HTTPChecker fetches an IP echo URL through the proxy.
// HTTP and HTTPS proxies use the transport's proxy support; SOCKS5 proxies
// dial through golang.org/x/net/proxy.
type HTTPChecker struct {
	target  string
	timeout time.Duration
}

// NewHTTPChecker creates a checker for target. Empty values select the defaults.
func NewHTTPChecker(target string, timeout time.Duration) *HTTPChecker {
	if target == "" {
		target = DefaultCheckTarget
	}
	if timeout <= 0 {
		timeout = DefaultCheckTimeout
	}
	return &HTTPChecker{target: target, timeout: timeout}
}

// Check performs one request through rec and reports latency and exit IP.
func (c *HTTPChecker) Check(ctx context.Context, rec model.ProxyRecord) HealthResult {
	res := HealthResult{ProxyID: rec.ID}
	start := time.Now()
	ip, err := c.fetch(ctx, rec)
	res.CheckedAt = time.Now()
	res.Latency = res.CheckedAt.Sub(start)
	res.ExitIP = ip
	res.Err = err
	return res
}

func (c *HTTPChecker) fetch(ctx context.Context, rec model.ProxyRecord) (string, error) {
	transport, err := c.transport(rec)
	if err != nil {
		return "", err
	}
	defer transport.CloseIdleConnections()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.target, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	client := &http.Client{Transport: transport}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("request through proxy failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d from %s", resp.StatusCode, c.target)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxEchoBody))
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	return parseEchoIP(body)
}

func (c *HTTPChecker) transport(rec model.ProxyRecord) (*http.Transport, error) {
	switch rec.Protocol {
	case model.ProtocolSOCKS5:
		var auth *proxy.Auth
		if rec.HasCredentials() {
			auth = &proxy.Auth{User: rec.Username, Password: rec.Password}
		}
		dialer, err := proxy.SOCKS5("tcp", rec.Address(), auth, &net.Dialer{Timeout: c.timeout})
		if err != nil {
			return nil, fmt.Errorf("failed to create SOCKS5 dialer: %w", err)
		}
		cd, ok := dialer.(proxy.ContextDialer)
		if !ok {
			return nil, errors.New("SOCKS5 dialer does not support contexts")
		}
		return &http.Transport{DialContext: cd.DialContext, TLSHandshakeTimeout: c.timeout}, nil
	default:
		return &http.Transport{Proxy: http.ProxyURL(rec.URL()), TLSHandshakeTimeout: c.timeout}, nil
	}
}

// parseEchoIP accepts {"ip":"..."} or a bare address.
func parseEchoIP(body []byte) (string, error) {
	var payload struct {
		IP string `json:"ip"`
	}
	text := strings.TrimSpace(string(body))
	if err := json.Unmarshal(body, &payload); err == nil && payload.IP != "" {
		text = payload.IP
	}
	if net.ParseIP(text) == nil {
		return "", fmt.Errorf("echo response is not an IP address: %q", text)
	}
	return text, nil
}

// Test runs the pool's checker against one proxy and records the outcome.
// When ctx ends during the check the outcome is returned with ctx's error
// and the failure streak is left untouched.
func (p *Pool) Test(ctx context.Context, id string) (HealthResult, error) {
	if p.checker == nil {
		return HealthResult{}, ErrNoChecker
	}
	rec, ok := p.Get(id)
	if !ok {
		return HealthResult{}, fmt.Errorf("%w: %s", ErrUnknownProxy, id)
	}
	res := p.checker.Check(ctx, rec)
	if err := ctx.Err(); err != nil {
		// The check was cut short by the caller, not by the proxy.
		return res, err
	}
	res.Removed = p.RecordHealth(res)
	return res, nil
}

// Sweep tests every registered proxy with at most concurrency checks in
// flight and returns the results in registry order. Checks that end after
// ctx is done are returned but not recorded against the proxy.
func (p *Pool) Sweep(ctx context.Context, concurrency int) ([]HealthResult, error) {
	if p.checker == nil {
		return nil, ErrNoChecker
	}
	if concurrency <= 0 {
		concurrency = DefaultCheckConcurrency
	}

	records := p.List()
	results := make([]HealthResult, len(records))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, rec := range records {
		g.Go(func() error {
			if gctx.Err() != nil {
				results[i] = HealthResult{ProxyID: rec.ID, Err: gctx.Err()}
				return nil
			}
			res := p.checker.Check(gctx, rec)
			if ctx.Err() == nil {
				res.Removed = p.RecordHealth(res)
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, r := range results {
		if !r.OK() {
			failed++
		}
	}
	p.logger.Info("proxy health sweep finished", "total", len(results), "failed", failed)
	return results, ctx.Err()
}

// RunHealthLoop sweeps the pool every interval until ctx is done.
// onSweep, if not nil, receives each batch of results.
func (p *Pool) RunHealthLoop(ctx context.Context, interval time.Duration, concurrency int, onSweep func([]HealthResult)) {
	if interval <= 0 || p.checker == nil {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			results, err := p.Sweep(ctx, concurrency)
			if err != nil {
				return
			}
			if onSweep != nil {
				onSweep(results)
			}
		}
	}
}
