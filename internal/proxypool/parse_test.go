package proxypool

import (
	"errors"
	"strings"
	"testing"

	"github.com/nao1215/keyharvest/internal/model"
)

func TestParseLine(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		line string
		want model.ProxyRecord
	}{
		{
			name: "host and port",
			line: "192.0.2.1:8080",
			want: model.ProxyRecord{Protocol: model.ProtocolHTTP, Host: "192.0.2.1", Port: 8080},
		},
		{
			name: "credentials before host",
			line: "user:secret@192.0.2.1:8080",
			want: model.ProxyRecord{Protocol: model.ProtocolHTTP, Host: "192.0.2.1", Port: 8080, Username: "user", Password: "secret"},
		},
		{
			name: "socks5 url",
			line: "socks5://u:p@proxy.example.com:1080",
			want: model.ProxyRecord{Protocol: model.ProtocolSOCKS5, Host: "proxy.example.com", Port: 1080, Username: "u", Password: "p"},
		},
		{
			name: "vendor colon format",
			line: "192.0.2.1:8080:user:secret",
			want: model.ProxyRecord{Protocol: model.ProtocolHTTP, Host: "192.0.2.1", Port: 8080, Username: "user", Password: "secret"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParseLine(tt.line)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %+v, got %+v", tt.want, got)
			}
		})
	}

	for _, bad := range []string{"", "no-port", "192.0.2.1:99999", "ftp://192.0.2.1:21"} {
		t.Run("rejects "+bad, func(t *testing.T) {
			t.Parallel()
			if _, err := ParseLine(bad); !errors.Is(err, ErrInvalidProxyLine) {
				t.Errorf("expected ErrInvalidProxyLine, got %v", err)
			}
		})
	}
}

func TestPool_Import(t *testing.T) {
	t.Parallel()

	pool := New()
	pool.AddBlacklist("192.0.2.9:3128")
	_, _ = pool.Upsert(model.ProxyRecord{ID: "existing", Host: "192.0.2.5", Port: 3128, Enabled: true})

	input := strings.Join([]string{
		"# vendor list",
		"192.0.2.1:3128",
		"192.0.2.1:3128",
		"192.0.2.5:3128",
		"192.0.2.9:3128",
		"bogus",
		"",
		"u:p@192.0.2.2:3128",
	}, "\n")

	rep, err := pool.Import(strings.NewReader(input), ImportOptions{Geo: "RU", Protocol: model.ProtocolSOCKS5})
	if err != nil {
		t.Fatalf("import failed: %v", err)
	}
	if len(rep.Added) != 2 {
		t.Fatalf("expected 2 added, got %d", len(rep.Added))
	}
	if rep.Duplicates != 2 {
		t.Errorf("expected 2 duplicates, got %d", rep.Duplicates)
	}
	if rep.Blacklisted != 1 {
		t.Errorf("expected 1 blacklisted, got %d", rep.Blacklisted)
	}
	if len(rep.Invalid) != 1 || rep.Invalid[0] != "bogus" {
		t.Errorf("unexpected invalid lines %v", rep.Invalid)
	}

	added := rep.Added[0]
	if added.ID == "" || added.Label != "192.0.2.1:3128" {
		t.Errorf("unexpected identity fields %+v", added)
	}
	if added.Protocol != model.ProtocolSOCKS5 || added.Geo != "RU" {
		t.Errorf("import options not applied: %+v", added)
	}
	if added.MaxConcurrent != model.DefaultProxyMaxConcurrent || !added.Enabled || !added.Sticky {
		t.Errorf("defaults not applied: %+v", added)
	}
	if pool.Len() != 3 {
		t.Errorf("expected 3 proxies in pool, got %d", pool.Len())
	}
}
