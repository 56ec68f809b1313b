package browser

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"github.com/nao1215/keyharvest/internal/model"
	"github.com/nao1215/keyharvest/internal/phrase"
)

var (
	tableKeys  = []string{"data", "result", "items", "phrases", "table", "tableData"}
	phraseKeys = []string{"phrase", "text", "query"}
	countKeys  = []string{"shows", "impressions", "freq", "count", "value"}
	totalKeys  = []string{"totalValue", "total", "totalCount", "requestPhraseCount"}
)

// Extraction is the parsed content of one search response.
type Extraction struct {
	Rows []model.Suggestion

	// Total is the count reported for the query itself, or -1 if the
	// response carried none.
	Total int64
}

// ExtractJSON parses a search API response body. Rows are deduplicated
// case-insensitively, keeping the first occurrence.
func ExtractJSON(body []byte) (Extraction, error) {
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return Extraction{Total: -1}, fmt.Errorf("failed to decode search response: %w", err)
	}
	ex := Extraction{Total: findTotal(doc, 0)}
	ex.Rows = dedupe(findRows(doc, 0))
	return ex, nil
}

func findRows(v any, depth int) []model.Suggestion {
	if depth > 4 {
		return nil
	}
	switch t := v.(type) {
	case []any:
		var rows []model.Suggestion
		for _, item := range t {
			obj, ok := item.(map[string]any)
			if !ok {
				continue
			}
			if s, ok := suggestionFrom(obj); ok {
				rows = append(rows, s)
			}
		}
		if len(rows) > 0 {
			return rows
		}
		for _, item := range t {
			if nested := findRows(item, depth+1); len(nested) > 0 {
				return nested
			}
		}
	case map[string]any:
		for _, k := range tableKeys {
			if child, ok := t[k]; ok {
				if rows := findRows(child, depth+1); len(rows) > 0 {
					return rows
				}
			}
		}
	}
	return nil
}

func suggestionFrom(obj map[string]any) (model.Suggestion, bool) {
	var s model.Suggestion
	for _, k := range phraseKeys {
		if v, ok := obj[k].(string); ok && strings.TrimSpace(v) != "" {
			s.Phrase = strings.TrimSpace(v)
			break
		}
	}
	if s.Phrase == "" {
		return s, false
	}
	for _, k := range countKeys {
		if n, ok := toCount(obj[k]); ok {
			s.Shows = n
			return s, true
		}
	}
	return s, false
}

func findTotal(v any, depth int) int64 {
	obj, ok := v.(map[string]any)
	if !ok || depth > 3 {
		return -1
	}
	for _, k := range totalKeys {
		if n, ok := toCount(obj[k]); ok {
			return n
		}
	}
	for _, k := range tableKeys {
		if n := findTotal(obj[k], depth+1); n >= 0 {
			return n
		}
	}
	return -1
}

func toCount(v any) (int64, bool) {
	switch t := v.(type) {
	case float64:
		return int64(t), true
	case string:
		return parseCount(t)
	}
	return 0, false
}

// parseCount reads counts rendered with group separators such as
// "1 234 567" or "1,234".
func parseCount(s string) (int64, bool) {
	digits := strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) {
			return r
		}
		if unicode.IsSpace(r) || r == ',' || r == '.' {
			return -1
		}
		return 'x'
	}, strings.TrimSpace(s))
	if digits == "" || strings.Contains(digits, "x") {
		return 0, false
	}
	n, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// ExtractDOM parses the results table from rendered HTML.
func ExtractDOM(html string, site SiteConfig) ([]model.Suggestion, error) {
	site = site.withDefaults()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse page: %w", err)
	}
	var rows []model.Suggestion
	doc.Find(site.RowSelector).Each(func(_ int, tr *goquery.Selection) {
		text := strings.TrimSpace(tr.Find(site.PhraseSelector).First().Text())
		if text == "" {
			return
		}
		shows, ok := parseCount(tr.Find(site.ShowsSelector).First().Text())
		if !ok {
			return
		}
		rows = append(rows, model.Suggestion{Phrase: strings.Join(strings.Fields(text), " "), Shows: shows})
	})
	return dedupe(rows), nil
}

func dedupe(rows []model.Suggestion) []model.Suggestion {
	seen := make(map[string]struct{}, len(rows))
	out := rows[:0]
	for _, r := range rows {
		k := phrase.Key(r.Phrase)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, r)
	}
	return out
}
