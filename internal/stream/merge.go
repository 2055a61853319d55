package stream

import (
	"slices"

	"github.com/daviddao/chatview/internal/model"
)

// Merge returns the ascending, deduplicated union of view and page.
//
// view must already satisfy the ordering invariant; page may be in any order
// and may overlap view. When an id appears twice the copy already in view is
// kept, unless it is pending and the incoming copy carries a confirmed
// timestamp, in which case the confirmed copy replaces it. Pending entries
// sort after all confirmed ones, view entries before page entries.
//
// Neither input is modified.
func Merge(view, page []model.Message) []model.Message {
	if len(page) == 0 {
		return view
	}

	pos := make(map[string]int, len(view))
	for i, m := range view {
		pos[m.ID] = i
	}

	incoming := make([]model.Message, 0, len(page))
	taken := make(map[string]int, len(page))
	var superseded map[int]struct{}
	for _, m := range page {
		if j, ok := taken[m.ID]; ok {
			if incoming[j].Pending() && !m.Pending() {
				incoming[j] = m
			}
			continue
		}
		if i, ok := pos[m.ID]; ok {
			if !view[i].Pending() || m.Pending() {
				continue
			}
			if superseded == nil {
				superseded = make(map[int]struct{})
			}
			superseded[i] = struct{}{}
		}
		taken[m.ID] = len(incoming)
		incoming = append(incoming, m)
	}
	if len(incoming) == 0 {
		return view
	}
	slices.SortStableFunc(incoming, model.Compare)

	out := make([]model.Message, 0, len(view)-len(superseded)+len(incoming))
	i, j := 0, 0
	for i < len(view) || j < len(incoming) {
		if i < len(view) {
			if _, gone := superseded[i]; gone {
				i++
				continue
			}
		}
		switch {
		case j == len(incoming):
			out = append(out, view[i])
			i++
		case i == len(view):
			out = append(out, incoming[j])
			j++
		case model.Compare(view[i], incoming[j]) <= 0:
			out = append(out, view[i])
			i++
		default:
			out = append(out, incoming[j])
			j++
		}
	}
	return out
}

// Ordered reports whether msgs satisfies the view invariant: ascending by
// (createdAt, id), pending entries last and no id repeated.
func Ordered(msgs []model.Message) bool {
	seen := make(map[string]struct{}, len(msgs))
	for i, m := range msgs {
		if _, dup := seen[m.ID]; dup {
			return false
		}
		seen[m.ID] = struct{}{}
		if i == 0 {
			continue
		}
		prev := msgs[i-1]
		if prev.Pending() {
			if !m.Pending() {
				return false
			}
			continue
		}
		if model.Compare(prev, m) >= 0 {
			return false
		}
	}
	return true
}
