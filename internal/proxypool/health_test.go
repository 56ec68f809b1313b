package proxypool

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/nao1215/keyharvest/internal/model"
)

// echoProxy is a forward proxy that answers every plain-HTTP request with
// a fixed IP echo payload.
func echoProxy(t *testing.T, body string) model.ProxyRecord {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("failed to parse server url: %v", err)
	}
	port, _ := strconv.Atoi(u.Port())
	return model.ProxyRecord{ID: "local", Protocol: model.ProtocolHTTP, Host: u.Hostname(), Port: port, MaxConcurrent: 1, Enabled: true}
}

func TestHTTPChecker_Check(t *testing.T) {
	t.Parallel()

	t.Run("json echo reports exit ip", func(t *testing.T) {
		t.Parallel()
		rec := echoProxy(t, `{"ip":"198.51.100.4"}`)
		res := NewHTTPChecker("http://echo.invalid/", 5*time.Second).Check(context.Background(), rec)
		if res.Err != nil {
			t.Fatalf("unexpected error: %v", res.Err)
		}
		if res.ExitIP != "198.51.100.4" {
			t.Errorf("expected 198.51.100.4, got %q", res.ExitIP)
		}
		if res.Latency <= 0 {
			t.Error("expected positive latency")
		}
	})

	t.Run("plain text echo is accepted", func(t *testing.T) {
		t.Parallel()
		rec := echoProxy(t, "198.51.100.5\n")
		res := NewHTTPChecker("http://echo.invalid/", 5*time.Second).Check(context.Background(), rec)
		if res.Err != nil || res.ExitIP != "198.51.100.5" {
			t.Errorf("unexpected result %+v", res)
		}
	})

	t.Run("non ip body fails", func(t *testing.T) {
		t.Parallel()
		rec := echoProxy(t, "<html>blocked</html>")
		res := NewHTTPChecker("http://echo.invalid/", 5*time.Second).Check(context.Background(), rec)
		if res.Err == nil {
			t.Error("expected error for non-ip body")
		}
	})

	t.Run("unreachable proxy fails", func(t *testing.T) {
		t.Parallel()
		rec := model.ProxyRecord{ID: "dead", Protocol: model.ProtocolSOCKS5, Host: "127.0.0.1", Port: 1, Enabled: true}
		res := NewHTTPChecker("http://echo.invalid/", time.Second).Check(context.Background(), rec)
		if res.OK() {
			t.Error("expected failure for unreachable proxy")
		}
	})
}

func TestPool_TestRecordsHealth(t *testing.T) {
	t.Parallel()

	rec := echoProxy(t, `{"ip":"198.51.100.6"}`)
	pool := New(WithChecker(NewHTTPChecker("http://echo.invalid/", 5*time.Second)))
	_, _ = pool.Upsert(rec)

	res, err := pool.Test(context.Background(), rec.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.OK() {
		t.Fatalf("expected healthy proxy, got %v", res.Err)
	}
	got, _ := pool.Get(rec.ID)
	if got.LastIP != "198.51.100.6" || got.LastCheck.IsZero() {
		t.Errorf("health fields not recorded: %+v", got)
	}
}
