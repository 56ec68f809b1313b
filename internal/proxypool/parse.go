package proxypool

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/nao1215/keyharvest/internal/model"
)

var (
	urlLine   = regexp.MustCompile(`^(?:([A-Za-z0-9]+)://)?(?:([^:@\s]+):([^@\s]*)@)?([^:@\s/]+):(\d{1,5})/?$`)
	colonLine = regexp.MustCompile(`^([^:@\s]+):(\d{1,5}):([^:@\s]+):(\S+)$`)
)

// ParseLine parses one proxy list line. Blank lines and lines starting
// with '#' are reported as ErrInvalidProxyLine as well; Import skips them
// before calling ParseLine.
func ParseLine(line string) (model.ProxyRecord, error) {
	line = strings.TrimSpace(line)
	var rec model.ProxyRecord

	if m := urlLine.FindStringSubmatch(line); m != nil {
		proto, err := model.ParseProxyProtocol(m[1])
		if err != nil {
			return rec, fmt.Errorf("%w: %w", ErrInvalidProxyLine, err)
		}
		rec.Protocol = proto
		rec.Username, rec.Password = m[2], m[3]
		rec.Host = m[4]
		rec.Port, _ = strconv.Atoi(m[5])
	} else if m := colonLine.FindStringSubmatch(line); m != nil {
		rec.Protocol = model.ProtocolHTTP
		rec.Host = m[1]
		rec.Port, _ = strconv.Atoi(m[2])
		rec.Username, rec.Password = m[3], m[4]
	} else {
		return rec, fmt.Errorf("%w: %q", ErrInvalidProxyLine, line)
	}

	if rec.Port < 1 || rec.Port > 65535 {
		return rec, fmt.Errorf("%w: port out of range in %q", ErrInvalidProxyLine, line)
	}
	return rec, nil
}

// ImportOptions fill fields that proxy list lines cannot express.
type ImportOptions struct {
	// Protocol applies to lines without a scheme. Empty keeps http.
	Protocol model.ProxyProtocol

	// Geo, Provider, MaxConcurrent and Notes are copied to every
	// imported record.
	Geo           string
	Provider      string
	MaxConcurrent int
	Notes         string
}

// ImportReport summarizes an Import call.
type ImportReport struct {
	Added       []model.ProxyRecord
	Blacklisted int
	Duplicates  int
	// Invalid holds unparsable lines verbatim, credentials included.
	Invalid     []string
}

// Import reads proxy lines from r and upserts the new ones. Lines whose
// server and credentials are blacklisted, or already registered, are
// skipped.
func (p *Pool) Import(r io.Reader, opts ImportOptions) (ImportReport, error) {
	var rep ImportReport

	known := make(map[string]struct{})
	for _, rec := range p.List() {
		known[rec.BlacklistKey()] = struct{}{}
	}

	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		rec, err := ParseLine(line)
		if err != nil {
			rep.Invalid = append(rep.Invalid, line)
			continue
		}
		if opts.Protocol != "" && !strings.Contains(line, "://") {
			rec.Protocol = opts.Protocol
		}

		key := rec.BlacklistKey()
		if p.IsBlacklisted(key) {
			rep.Blacklisted++
			continue
		}
		if _, dup := known[key]; dup {
			rep.Duplicates++
			continue
		}
		known[key] = struct{}{}

		rec.ID = uuid.NewString()
		rec.Label = rec.Address()
		rec.Geo = opts.Geo
		rec.Provider = opts.Provider
		rec.Notes = opts.Notes
		rec.MaxConcurrent = opts.MaxConcurrent
		rec.Sticky = true
		rec.Enabled = true

		stored, err := p.Upsert(rec)
		if err != nil {
			rep.Invalid = append(rep.Invalid, line)
			continue
		}
		rep.Added = append(rep.Added, stored)
	}
	if err := sc.Err(); err != nil {
		return rep, fmt.Errorf("failed to read proxy list: %w", err)
	}
	return rep, nil
}
