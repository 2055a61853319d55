// Package snapshot builds immutable data snapshots from the synchronizer.
//
// A DataSnapshot captures the merged message view, its per-author totals
// and the synchronizer status at a point in time. Snapshots are rebuilt on
// every change notification and swapped atomically into the UI model.
package snapshot

import (
	"sort"
	"time"

	"github.com/daviddao/chatview/internal/model"
	"github.com/daviddao/chatview/internal/stream"
)

// Author summarises one author's messages in the view.
type Author struct {
	ID        string     `json:"id"`
	AvatarURL string     `json:"avatar_url"`
	Messages  int        `json:"messages"`
	LastSeen  *time.Time `json:"last_seen,omitempty"`
}

// DataSnapshot is an immutable, self-contained view of the chat state.
type DataSnapshot struct {
	Messages []model.Message  `json:"messages"`
	Authors  []Author         `json:"authors"`
	Me       *model.Principal `json:"me,omitempty"`

	// Counts.
	Total   int `json:"total"`
	Pending int `json:"pending"`
	Own     int `json:"own"` // sent by Me

	Oldest *time.Time `json:"oldest,omitempty"`
	Newest *time.Time `json:"newest,omitempty"`

	State     string `json:"state"`
	Exhausted bool   `json:"exhausted"`
	Loading   bool   `json:"loading"`
	Err       string `json:"error,omitempty"`

	// Timestamp of snapshot creation.
	BuiltAt time.Time `json:"built_at"`
}

// Build summarises view and st. me may be nil when nobody is signed in.
func Build(view []model.Message, st stream.Status, me *model.Principal) *DataSnapshot {
	snap := &DataSnapshot{
		Messages:  view,
		Me:        me,
		Total:     len(view),
		State:     st.State.String(),
		Exhausted: st.Exhausted,
		Loading:   st.Loading(),
		BuiltAt:   time.Now(),
	}
	if st.Err != nil {
		snap.Err = st.Err.Error()
	}

	byID := make(map[string]*Author)
	for _, m := range view {
		if m.Pending() {
			snap.Pending++
		} else {
			if snap.Oldest == nil {
				snap.Oldest = m.CreatedAt
			}
			snap.Newest = m.CreatedAt
		}
		if me != nil && m.AuthorID == me.ID {
			snap.Own++
		}

		a, ok := byID[m.AuthorID]
		if !ok {
			a = &Author{ID: m.AuthorID}
			byID[m.AuthorID] = a
		}
		a.Messages++
		a.AvatarURL = m.Avatar()
		if m.CreatedAt != nil {
			a.LastSeen = m.CreatedAt
		}
	}

	snap.Authors = make([]Author, 0, len(byID))
	for _, a := range byID {
		snap.Authors = append(snap.Authors, *a)
	}
	// Most active first, then by id for a stable listing.
	sort.Slice(snap.Authors, func(i, j int) bool {
		if snap.Authors[i].Messages != snap.Authors[j].Messages {
			return snap.Authors[i].Messages > snap.Authors[j].Messages
		}
		return snap.Authors[i].ID < snap.Authors[j].ID
	})
	return snap
}

// Mine reports whether m was sent by the signed-in principal.
func (s *DataSnapshot) Mine(m model.Message) bool {
	return s.Me != nil && m.AuthorID == s.Me.ID
}
