package harvest

import (
	"fmt"
	"slices"

	"github.com/nao1215/keyharvest/internal/model"
	"github.com/nao1215/keyharvest/internal/phrase"
)

// Request describes one crawl.
type Request struct {
	// Phrases are crawled in order; duplicates and blanks are dropped.
	Phrases []string
	// Regions default to Config.DefaultRegion when empty.
	Regions []int
	// Params override Config.Defaults field by field.
	Params  model.CrawlParams
}

// normalize returns the request with deduplicated phrases and regions and
// defaults applied, or an error for an unusable request.
func (r Request) normalize(defaults model.CrawlParams, defaultRegion int) (Request, error) {
	out := Request{
		Phrases: phrase.Normalize(r.Phrases),
		Regions: uniqueRegions(r.Regions, defaultRegion),
		Params:  r.Params,
	}
	if len(out.Phrases) == 0 {
		return Request{}, ErrNoPhrases
	}

	p := &out.Params
	mode, err := model.ParseMode(string(p.Mode))
	if err != nil {
		return Request{}, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	p.Mode = mode
	if !p.Kinds.Any() {
		p.Kinds = defaults.Kinds
		if !p.Kinds.Any() {
			p.Kinds = model.AllFrequencyKinds
		}
	}
	if p.Depth == 0 {
		p.Depth = defaults.Depth
	}
	if p.MinShows == 0 {
		p.MinShows = defaults.MinShows
	}
	if p.ExpandMin == 0 {
		p.ExpandMin = defaults.ExpandMin
	}
	if p.TopK == 0 {
		p.TopK = defaults.TopK
	}

	switch {
	case p.Depth < 1:
		return Request{}, fmt.Errorf("%w: depth must be at least 1, got %d", ErrInvalidRequest, p.Depth)
	case p.MinShows < 0, p.ExpandMin < 0:
		return Request{}, fmt.Errorf("%w: show thresholds must not be negative", ErrInvalidRequest)
	case p.TopK < 0:
		return Request{}, fmt.Errorf("%w: topk must not be negative, got %d", ErrInvalidRequest, p.TopK)
	}
	for _, region := range out.Regions {
		if region < 0 {
			return Request{}, fmt.Errorf("%w: region %d", ErrInvalidRequest, region)
		}
	}
	return out, nil
}

// uniqueRegions deduplicates regions in first-seen order. Empty input
// yields the default region.
func uniqueRegions(regions []int, fallback int) []int {
	out := make([]int, 0, len(regions))
	for _, r := range regions {
		if !slices.Contains(out, r) {
			out = append(out, r)
		}
	}
	if len(out) == 0 {
		out = append(out, fallback)
	}
	return out
}
