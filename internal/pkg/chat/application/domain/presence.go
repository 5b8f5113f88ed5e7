package chat

import "time"

// Presence is the per-user online state. There is no "away" state.
type Presence struct {
	UserID     string    `db:"user_id" json:"user_id"`
	IsOnline   bool      `db:"is_online" json:"is_online"`
	LastSeenAt time.Time `db:"last_seen_at" json:"last_seen_at"`
}

// Newer reports whether p should replace cur (last writer wins on LastSeenAt).
func (p Presence) Newer(cur Presence) bool {
	return !p.LastSeenAt.Before(cur.LastSeenAt)
}
