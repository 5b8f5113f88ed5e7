package chat

import (
	"sort"
	"strings"
	"time"
)

// Reaction is keyed by (MessageID, UserID); at most one per pair.
type Reaction struct {
	MessageID string    `db:"message_id" json:"message_id"`
	UserID    string    `db:"user_id" json:"user_id"`
	Emoji     string    `db:"emoji" json:"emoji"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// ReactionOp is the store operation a reaction request resolves to.
type ReactionOp int

const (
	ReactionInsert ReactionOp = iota + 1
	ReactionReplace
	ReactionRemove
)

// ResolveReaction applies toggle semantics: same emoji removes, a different
// emoji replaces, no existing reaction inserts.
func ResolveReaction(existing *Reaction, emoji string) ReactionOp {
	switch {
	case existing == nil:
		return ReactionInsert
	case existing.Emoji == emoji:
		return ReactionRemove
	default:
		return ReactionReplace
	}
}

// ValidateEmoji trims and checks the emoji value.
func ValidateEmoji(emoji string) (string, error) {
	emoji = strings.TrimSpace(emoji)
	if emoji == "" {
		return "", invalid("emoji", "is required")
	}
	if len(emoji) > 64 {
		return "", invalid("emoji", "is too long")
	}
	return emoji, nil
}

// ReactionChange carries the net state of one (message, user) pair.
// An empty Emoji means the user has no reaction on the message.
type ReactionChange struct {
	MessageID      string `json:"message_id"`
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
	Emoji          string `json:"emoji,omitempty"`
}

// ReactionGroup is the rendering aggregate for one emoji.
type ReactionGroup struct {
	Emoji     string    `json:"emoji"`
	Count     int       `json:"count"`
	Reactors  []string  `json:"reactors"`
	FirstSeen time.Time `json:"-"`
}

// GroupReactions recomputes emoji groups from the full reaction set.
// Groups are ordered by count desc, then by first reaction time, then emoji.
func GroupReactions(reactions []Reaction) []ReactionGroup {
	byEmoji := make(map[string]*ReactionGroup)
	seen := make(map[string]struct{})
	for _, r := range reactions {
		key := r.MessageID + "\x00" + r.UserID
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		g, ok := byEmoji[r.Emoji]
		if !ok {
			g = &ReactionGroup{Emoji: r.Emoji, FirstSeen: r.CreatedAt}
			byEmoji[r.Emoji] = g
		}
		g.Count++
		g.Reactors = append(g.Reactors, r.UserID)
		if r.CreatedAt.Before(g.FirstSeen) {
			g.FirstSeen = r.CreatedAt
		}
	}

	groups := make([]ReactionGroup, 0, len(byEmoji))
	for _, g := range byEmoji {
		sort.Strings(g.Reactors)
		groups = append(groups, *g)
	}
	sort.Slice(groups, func(i, j int) bool {
		if groups[i].Count != groups[j].Count {
			return groups[i].Count > groups[j].Count
		}
		if !groups[i].FirstSeen.Equal(groups[j].FirstSeen) {
			return groups[i].FirstSeen.Before(groups[j].FirstSeen)
		}
		return groups[i].Emoji < groups[j].Emoji
	})
	return groups
}
