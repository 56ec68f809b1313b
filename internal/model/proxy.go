package model

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ProxyProtocol is the wire protocol spoken by an upstream proxy.
type ProxyProtocol string

const (
	// ProtocolHTTP is a plain HTTP CONNECT proxy.
	ProtocolHTTP ProxyProtocol = "http"
	// ProtocolHTTPS is an HTTP proxy reached over TLS.
	ProtocolHTTPS ProxyProtocol = "https"
	// ProtocolSOCKS5 is a SOCKS5 proxy.
	ProtocolSOCKS5 ProxyProtocol = "socks5"
)

// DefaultProxyMaxConcurrent is the checkout limit applied when a record
// does not specify one.
const DefaultProxyMaxConcurrent = 10

// ErrUnknownProtocol is returned by ParseProxyProtocol for unsupported schemes.
var ErrUnknownProtocol = errors.New("unknown proxy protocol")

// ParseProxyProtocol converts a scheme string into a ProxyProtocol.
// An empty string yields ProtocolHTTP. "socks5h" is accepted as SOCKS5.
func ParseProxyProtocol(s string) (ProxyProtocol, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "http":
		return ProtocolHTTP, nil
	case "https":
		return ProtocolHTTPS, nil
	case "socks5", "socks5h", "socks":
		return ProtocolSOCKS5, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownProtocol, s)
	}
}

// ProxyRecord describes one upstream proxy that browser sessions can be
// routed through.
//
// The in-use counter is not part of the record. It lives inside the proxy
// pool so that a record can be copied freely without losing track of the
// checkouts held against it.
type ProxyRecord struct {
	// ID uniquely identifies the proxy inside the pool.
	ID string `json:"id" yaml:"id"`

	// Label is a human-readable name, typically "source_ip:port".
	Label string `json:"label,omitempty" yaml:"label,omitempty"`

	// Protocol is the proxy protocol (http, https or socks5).
	Protocol ProxyProtocol `json:"protocol" yaml:"protocol"`

	// Host and Port locate the proxy server.
	Host string `json:"host" yaml:"host"`
	Port int    `json:"port" yaml:"port"`

	// Username and Password are optional proxy credentials.
	Username string `json:"username,omitempty" yaml:"username,omitempty"`
	Password string `json:"password,omitempty" yaml:"password,omitempty"`

	// Geo is a free-form geo tag such as "RU" or "KZ".
	// Geo matching during acquisition is a soft preference only.
	Geo string `json:"geo,omitempty" yaml:"geo,omitempty"`

	// Sticky proxies stay bound to one account across sessions.
	Sticky bool `json:"sticky" yaml:"sticky"`

	// MaxConcurrent caps the number of simultaneously held checkouts.
	MaxConcurrent int `json:"max_concurrent" yaml:"max_concurrent"`

	// Enabled proxies are acquirable; disabled ones are kept for reference.
	Enabled bool `json:"enabled" yaml:"enabled"`

	Notes string `json:"notes,omitempty" yaml:"notes,omitempty"`

	// LastCheck and LastIP are written by the health sweep.
	LastCheck time.Time `json:"last_check,omitzero" yaml:"-"`
	LastIP    string    `json:"last_ip,omitempty" yaml:"-"`

	// Failures is the current streak of consecutive failed health checks.
	Failures int `json:"failures,omitempty" yaml:"-"`

	// Provider, ExternalID and ExpiresAt are set for proxies bought from a vendor.
	Provider   string    `json:"provider,omitempty" yaml:"provider,omitempty"`
	ExternalID string    `json:"external_id,omitempty" yaml:"external_id,omitempty"`
	ExpiresAt  time.Time `json:"expires_at,omitzero" yaml:"expires_at,omitempty"`
}

// Address returns "host:port".
func (p ProxyRecord) Address() string {
	return net.JoinHostPort(p.Host, strconv.Itoa(p.Port))
}

// ServerURL returns the proxy URL without credentials, suitable for a
// browser --proxy-server flag.
func (p ProxyRecord) ServerURL() string {
	return string(p.protocol()) + "://" + p.Address()
}

// URL returns the proxy URL including credentials when present.
func (p ProxyRecord) URL() *url.URL {
	u := &url.URL{Scheme: string(p.protocol()), Host: p.Address()}
	if p.Username != "" {
		u.User = url.UserPassword(p.Username, p.Password)
	}
	return u
}

// BlacklistKey identifies the server and credentials pair used by the
// blacklist. Records that differ only by ID or label share a key.
func (p ProxyRecord) BlacklistKey() string {
	return BlacklistKey(p.Host, p.Port, p.Username)
}

// HasCredentials reports whether the proxy requires authentication.
func (p ProxyRecord) HasCredentials() bool {
	return p.Username != ""
}

// Expired reports whether the proxy has a vendor expiry in the past.
func (p ProxyRecord) Expired(now time.Time) bool {
	return !p.ExpiresAt.IsZero() && !now.Before(p.ExpiresAt)
}

func (p ProxyRecord) protocol() ProxyProtocol {
	if p.Protocol == "" {
		return ProtocolHTTP
	}
	return p.Protocol
}

// BlacklistKey builds a blacklist key from its parts.
func BlacklistKey(host string, port int, username string) string {
	addr := net.JoinHostPort(strings.ToLower(host), strconv.Itoa(port))
	if username == "" {
		return addr
	}
	return username + "@" + addr
}
