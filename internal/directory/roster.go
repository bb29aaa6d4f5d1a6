package directory

import (
	"chatdesk/internal/session"
	"chatdesk/pkg/types"
)

// Roster is the rendered directory for one session.
// FUNCTIONAL DISCOVERY: active and unread state are read from the session on
// every snapshot, so re-rendering never loses an unread marker
type Roster struct {
	sess    *session.Session
	entries []types.UserRecord
}

// NewRoster creates an empty roster bound to sess.
func NewRoster(sess *session.Session) *Roster {
	return &Roster{sess: sess}
}

// Render replaces every entry with the users visible to the session's
// identity and returns the new snapshot.
func (r *Roster) Render(users []types.UserRecord) []types.DirectoryEntry {
	r.entries = Filter(r.sess.Identity(), users)
	return r.Entries()
}

// Find returns the entry for id.
func (r *Roster) Find(id string) (types.UserRecord, bool) {
	return find(r.entries, id)
}

// Len is the number of rendered entries.
func (r *Roster) Len() int {
	return len(r.entries)
}

// Entries snapshots the roster in render order.
func (r *Roster) Entries() []types.DirectoryEntry {
	out := make([]types.DirectoryEntry, 0, len(r.entries))
	for _, u := range r.entries {
		out = append(out, types.DirectoryEntry{
			User:   u,
			Active: r.sess.IsActive(u.ID),
			Unread: r.sess.Unread(u.ID),
		})
	}
	return out
}
