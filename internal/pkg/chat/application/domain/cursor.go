package chat

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Cursor is a position in a conversation's ledger. The zero cursor is the beginning.
type Cursor struct {
	CreatedAt time.Time
	Seq       int64
}

func (c Cursor) IsZero() bool { return c.Seq == 0 && c.CreatedAt.IsZero() }

// Before reports whether c orders strictly before o.
func (c Cursor) Before(o Cursor) bool {
	if !c.CreatedAt.Equal(o.CreatedAt) {
		return c.CreatedAt.Before(o.CreatedAt)
	}
	return c.Seq < o.Seq
}

// String encodes the cursor as an opaque token.
func (c Cursor) String() string {
	if c.IsZero() {
		return ""
	}
	raw := fmt.Sprintf("%d:%d", c.CreatedAt.UnixNano(), c.Seq)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// ParseCursor decodes a token produced by Cursor.String. Empty means beginning.
func ParseCursor(token string) (Cursor, error) {
	if token == "" {
		return Cursor{}, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return Cursor{}, invalid("cursor", "malformed token")
	}
	parts := strings.SplitN(string(raw), ":", 2)
	if len(parts) != 2 {
		return Cursor{}, invalid("cursor", "malformed token")
	}
	ns, err1 := strconv.ParseInt(parts[0], 10, 64)
	seq, err2 := strconv.ParseInt(parts[1], 10, 64)
	if err1 != nil || err2 != nil {
		return Cursor{}, invalid("cursor", "malformed token")
	}
	return Cursor{CreatedAt: time.Unix(0, ns).UTC(), Seq: seq}, nil
}
