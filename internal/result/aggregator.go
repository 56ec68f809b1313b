// Package result merges the output of the workers of one crawl.
//
// Frequency rows are owned by exactly one worker per (phrase, region), so
// their merge is a disjoint union. Depth nodes are concatenated per parent
// without deduplication: the same suggestion recurring under different
// parents is kept once per parent.
package result

import (
	"sync"

	"github.com/nao1215/keyharvest/internal/model"
	"github.com/nao1215/keyharvest/internal/phrase"
)

// Set is a merged crawl result.
type Set struct {
	Rows  []model.ResultRow    `json:"rows"`
	Nodes []model.FrontierNode `json:"nodes"`
}

// Len returns the number of rows plus nodes.
func (s Set) Len() int {
	return len(s.Rows) + len(s.Nodes)
}

// Aggregator accumulates rows and nodes. It is safe for concurrent use.
type Aggregator struct {
	mu        sync.Mutex
	rows      map[rowKey]int // index into set.Rows
	set       Set
	conflicts int
}

type rowKey struct {
	phrase string
	region int
}

// NewAggregator returns an empty Aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{rows: make(map[rowKey]int)}
}

// AddRows merges frequency rows. Phrases compare case-insensitively. A row
// whose key is already present replaces the earlier one in place and is
// counted as a conflict; with correct partitioning this never happens.
func (a *Aggregator) AddRows(rows ...model.ResultRow) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, r := range rows {
		k := rowKey{phrase: phrase.Key(r.Phrase), region: r.Region}
		if i, ok := a.rows[k]; ok {
			a.set.Rows[i] = r
			a.conflicts++
			continue
		}
		a.rows[k] = len(a.set.Rows)
		a.set.Rows = append(a.set.Rows, r)
	}
}

// AddNodes appends depth nodes.
func (a *Aggregator) AddNodes(nodes ...model.FrontierNode) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.set.Nodes = append(a.set.Nodes, nodes...)
}

// Conflicts returns how many rows replaced an earlier row with the same key.
func (a *Aggregator) Conflicts() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.conflicts
}

// Set returns a copy of the merged result.
func (a *Aggregator) Set() Set {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Set{
		Rows:  append([]model.ResultRow(nil), a.set.Rows...),
		Nodes: append([]model.FrontierNode(nil), a.set.Nodes...),
	}
}

// Group is the children recorded under one parent query.
type Group struct {
	Seed     string
	Region   int
	Parent   string
	// Level is the level of the children, one below Parent.
	Level    int
	Children []model.FrontierNode
}

// GroupByParent groups nodes by (seed, region, parent, level) in first-seen
// order. Children keep their recorded order.
func GroupByParent(nodes []model.FrontierNode) []Group {
	type key struct {
		seed, parent string
		region       int
		level        int
	}
	index := make(map[key]int)
	var groups []Group
	for _, n := range nodes {
		k := key{seed: n.Seed, parent: n.Parent, region: n.Region, level: n.Level}
		i, ok := index[k]
		if !ok {
			i = len(groups)
			index[k] = i
			groups = append(groups, Group{Seed: n.Seed, Region: n.Region, Parent: n.Parent, Level: n.Level})
		}
		groups[i].Children = append(groups[i].Children, n)
	}
	return groups
}
