package statesync

import (
	"sort"
	"strings"

	"github.com/hyperengineering/syncdesk/internal/statemap"
	"github.com/hyperengineering/syncdesk/internal/table"
)

// CompareOptions controls status equality.
type CompareOptions struct {
	// FoldCase compares statuses after statemap.Normalize on both sides.
	FoldCase bool
}

// Pair counts differences moving from one mirrored status to another.
type Pair struct {
	Current  string `json:"current"`
	Proposed string `json:"proposed"`
	Count    int    `json:"count"`
}

// Stats summarizes one comparison.
type Stats struct {
	Total          int            `json:"total"`
	Unmapped       int            `json:"unmapped"`
	NoCounterpart  int            `json:"no_counterpart"`
	Consistent     int            `json:"consistent"`
	Different      int            `json:"different"`
	UnmappedLabels map[string]int `json:"unmapped_labels,omitempty"`
	Pairs          []Pair         `json:"pairs"`
}

// Comparison is the result of Compare.
type Comparison struct {
	Differences []Difference
	Stats       Stats
}

// Compare walks the source rows in order and emits a Difference for every
// ticket whose mapped status disagrees with the mirrored status in target.
// Unmapped labels and tickets missing from target are counted, not reported.
// Both tables must already be validated.
func Compare(source, target *table.Table, opts CompareOptions) *Comparison {
	index := make(map[string]table.Row, target.Len())
	for _, row := range target.Rows {
		id := statemap.NormalizeID(row[ColumnID])
		if id == "" {
			continue
		}
		if _, dup := index[id]; !dup {
			index[id] = row
		}
	}

	cmp := &Comparison{
		Differences: []Difference{},
		Stats:       Stats{UnmappedLabels: map[string]int{}, Pairs: []Pair{}},
	}
	pairIndex := make(map[[2]string]int)

	for _, row := range source.Rows {
		cmp.Stats.Total++
		label := row[ColumnSourceStatus]
		mapped, ok := statemap.Lookup(label)
		if !ok {
			cmp.Stats.Unmapped++
			cmp.Stats.UnmappedLabels[strings.TrimSpace(label)]++
			continue
		}

		id := statemap.NormalizeID(row[ColumnTicketID])
		counterpart, ok := index[id]
		if id == "" || !ok {
			cmp.Stats.NoCounterpart++
			continue
		}

		current := counterpart[ColumnMirrorStatus]
		if equalStatus(mapped, current, opts.FoldCase) {
			cmp.Stats.Consistent++
			continue
		}

		cmp.Differences = append(cmp.Differences, Difference{
			TicketID:       id,
			SourceStatus:   label,
			CurrentStatus:  current,
			ProposedStatus: mapped,
		})
		cmp.Stats.Different++

		key := [2]string{current, mapped}
		if i, seen := pairIndex[key]; seen {
			cmp.Stats.Pairs[i].Count++
		} else {
			pairIndex[key] = len(cmp.Stats.Pairs)
			cmp.Stats.Pairs = append(cmp.Stats.Pairs, Pair{Current: current, Proposed: mapped, Count: 1})
		}
	}
	return cmp
}

func equalStatus(a, b string, fold bool) bool {
	if fold {
		return statemap.Normalize(a) == statemap.Normalize(b)
	}
	return a == b
}

// SortKey orders the pre-apply summary. It never changes apply order.
type SortKey string

const (
	SortByCount    SortKey = "count"
	SortByCurrent  SortKey = "current"
	SortByProposed SortKey = "proposed"
)

// ParseSortKey accepts count, current or proposed; anything else is count.
func ParseSortKey(s string) SortKey {
	switch SortKey(strings.ToLower(strings.TrimSpace(s))) {
	case SortByCurrent:
		return SortByCurrent
	case SortByProposed:
		return SortByProposed
	default:
		return SortByCount
	}
}

// SortedPairs returns a sorted copy of pairs.
func SortedPairs(pairs []Pair, key SortKey) []Pair {
	out := append([]Pair(nil), pairs...)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		switch key {
		case SortByCurrent:
			if a.Current != b.Current {
				return a.Current < b.Current
			}
			return a.Proposed < b.Proposed
		case SortByProposed:
			if a.Proposed != b.Proposed {
				return a.Proposed < b.Proposed
			}
			return a.Current < b.Current
		default:
			return a.Count > b.Count
		}
	})
	return out
}

// LabelCount is one row of a status distribution.
type LabelCount struct {
	Label  string `json:"label"`
	Count  int    `json:"count"`
	Mapped string `json:"mapped,omitempty"`
	Known  bool   `json:"known"`
}

// Analysis is the informational coverage report shown before comparing.
type Analysis struct {
	SourceStatuses     []LabelCount
	TargetStatuses     []LabelCount
	Unmapped           []string
	WithCounterpart    int
	WithoutCounterpart int
}

// Analyze reports status distributions and mapping coverage for two
// validated tables.
func Analyze(source, target *table.Table) *Analysis {
	a := &Analysis{}

	for _, lc := range distribution(source.Values(ColumnSourceStatus)) {
		mapped, ok := statemap.Lookup(lc.Label)
		lc.Mapped, lc.Known = mapped, ok
		if !ok {
			a.Unmapped = append(a.Unmapped, lc.Label)
		}
		a.SourceStatuses = append(a.SourceStatuses, lc)
	}
	for _, lc := range distribution(target.Values(ColumnMirrorStatus)) {
		lc.Known = statemap.IsValidLabel(lc.Label)
		a.TargetStatuses = append(a.TargetStatuses, lc)
	}

	targets := idSet(target.Values(ColumnID))
	for _, raw := range source.Values(ColumnTicketID) {
		if targets[statemap.NormalizeID(raw)] {
			a.WithCounterpart++
		} else {
			a.WithoutCounterpart++
		}
	}
	return a
}

// distribution counts trimmed labels, most frequent first.
func distribution(values []string) []LabelCount {
	counts := make(map[string]int)
	var order []string
	for _, v := range values {
		v = strings.TrimSpace(v)
		if _, seen := counts[v]; !seen {
			order = append(order, v)
		}
		counts[v]++
	}
	out := make([]LabelCount, 0, len(order))
	for _, label := range order {
		out = append(out, LabelCount{Label: label, Count: counts[label]})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Count > out[j].Count })
	return out
}
