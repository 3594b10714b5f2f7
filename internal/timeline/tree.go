package timeline

import "sort"

// Interval is a half-open [Start, End) range in unix seconds. Ref indexes
// the record the interval was derived from.
type Interval struct {
	Start int64
	End   int64
	Ref   int
}

// Tree is a static interval tree: an implicit balanced BST over intervals
// sorted by start, augmented with the maximum end per subtree. Stab queries
// run in O(log n + k).
type Tree struct {
	items  []Interval
	maxEnd []int64
}

// NewTree builds a tree from the intervals. Empty intervals (End <= Start)
// are dropped.
func NewTree(intervals []Interval) *Tree {
	items := make([]Interval, 0, len(intervals))
	for _, iv := range intervals {
		if iv.End > iv.Start {
			items = append(items, iv)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Start < items[j].Start })

	t := &Tree{items: items, maxEnd: make([]int64, len(items))}
	if len(items) > 0 {
		t.build(0, len(items)-1)
	}
	return t
}

func (t *Tree) build(lo, hi int) int64 {
	mid := (lo + hi) / 2
	max := t.items[mid].End
	if lo < mid {
		if left := t.build(lo, mid-1); left > max {
			max = left
		}
	}
	if mid < hi {
		if right := t.build(mid+1, hi); right > max {
			max = right
		}
	}
	t.maxEnd[mid] = max
	return max
}

// Stab visits every interval containing the instant at.
func (t *Tree) Stab(at int64, visit func(Interval)) {
	if len(t.items) == 0 {
		return
	}
	t.stab(0, len(t.items)-1, at, visit)
}

func (t *Tree) stab(lo, hi int, at int64, visit func(Interval)) {
	mid := (lo + hi) / 2
	// Every end in this subtree is at or before the query point.
	if t.maxEnd[mid] <= at {
		return
	}
	if lo < mid {
		t.stab(lo, mid-1, at, visit)
	}
	node := t.items[mid]
	if node.Start > at {
		// Starts are sorted, so the right subtree cannot contain at either.
		return
	}
	if at < node.End {
		visit(node)
	}
	if mid < hi {
		t.stab(mid+1, hi, at, visit)
	}
}
