package adapter

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	chat "chatcore/internal/pkg/chat/application/domain"
	repository "chatcore/internal/pkg/chat/persistence/repository/port"
)

type PgPresenceRepository struct {
	pool *pgxpool.Pool
}

var _ repository.PresenceRepository = (*PgPresenceRepository)(nil)

func NewPgPresenceRepository(pool *pgxpool.Pool) *PgPresenceRepository {
	return &PgPresenceRepository{pool: pool}
}

// SetPresence upserts the row; stale writes (older last_seen_at) are ignored.
func (r *PgPresenceRepository) SetPresence(ctx context.Context, p chat.Presence) error {
	if r == nil || r.pool == nil {
		return errNilPool
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO chat.presence (user_id, is_online, last_seen_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE
		SET is_online = EXCLUDED.is_online, last_seen_at = EXCLUDED.last_seen_at
		WHERE chat.presence.last_seen_at <= EXCLUDED.last_seen_at
	`, p.UserID, p.IsOnline, p.LastSeenAt)
	return classify("set presence", err)
}

func (r *PgPresenceRepository) GetPresence(ctx context.Context, userID string) (chat.Presence, error) {
	if r == nil || r.pool == nil {
		return chat.Presence{}, errNilPool
	}
	var p chat.Presence
	err := r.pool.QueryRow(ctx,
		"SELECT user_id, is_online, last_seen_at FROM chat.presence WHERE user_id = $1", userID,
	).Scan(&p.UserID, &p.IsOnline, &p.LastSeenAt)
	return p, classify("get presence", err)
}

func (r *PgPresenceRepository) ListOnline(ctx context.Context) ([]chat.Presence, error) {
	if r == nil || r.pool == nil {
		return nil, errNilPool
	}
	rows, err := r.pool.Query(ctx,
		"SELECT user_id, is_online, last_seen_at FROM chat.presence WHERE is_online ORDER BY user_id")
	if err != nil {
		return nil, classify("list presence", err)
	}
	defer rows.Close()

	var out []chat.Presence
	for rows.Next() {
		var p chat.Presence
		if err := rows.Scan(&p.UserID, &p.IsOnline, &p.LastSeenAt); err != nil {
			return nil, classify("list presence", err)
		}
		out = append(out, p)
	}
	return out, classify("list presence", rows.Err())
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
