package adapter

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	chat "chatcore/internal/pkg/chat/application/domain"
	repository "chatcore/internal/pkg/chat/persistence/repository/port"
)

type PgReactionRepository struct {
	pool *pgxpool.Pool
}

var _ repository.ReactionRepository = (*PgReactionRepository)(nil)

func NewPgReactionRepository(pool *pgxpool.Pool) *PgReactionRepository {
	return &PgReactionRepository{pool: pool}
}

func (r *PgReactionRepository) GetReaction(ctx context.Context, messageID, userID string) (chat.Reaction, error) {
	if r == nil || r.pool == nil {
		return chat.Reaction{}, errNilPool
	}
	var out chat.Reaction
	err := r.pool.QueryRow(ctx, `
		SELECT message_id::text, user_id, emoji, created_at
		FROM chat.reaction WHERE message_id = $1::uuid AND user_id = $2
	`, messageID, userID).Scan(&out.MessageID, &out.UserID, &out.Emoji, &out.CreatedAt)
	return out, classify("get reaction", err)
}

func (r *PgReactionRepository) PutReaction(ctx context.Context, re chat.Reaction) error {
	if r == nil || r.pool == nil {
		return errNilPool
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO chat.reaction (message_id, user_id, emoji, created_at)
		VALUES ($1::uuid, $2, $3, COALESCE($4, now()))
		ON CONFLICT (message_id, user_id)
		DO UPDATE SET emoji = EXCLUDED.emoji, created_at = EXCLUDED.created_at
	`, re.MessageID, re.UserID, re.Emoji, nullTime(re.CreatedAt))
	return classify("put reaction", err)
}

func (r *PgReactionRepository) DeleteReaction(ctx context.Context, messageID, userID, emoji string) (bool, error) {
	if r == nil || r.pool == nil {
		return false, errNilPool
	}
	ct, err := r.pool.Exec(ctx, `
		DELETE FROM chat.reaction WHERE message_id = $1::uuid AND user_id = $2 AND emoji = $3
	`, messageID, userID, emoji)
	if err != nil {
		return false, classify("delete reaction", err)
	}
	return ct.RowsAffected() > 0, nil
}

func (r *PgReactionRepository) ListReactions(ctx context.Context, messageID string) ([]chat.Reaction, error) {
	if r == nil || r.pool == nil {
		return nil, errNilPool
	}
	rows, err := r.pool.Query(ctx, `
		SELECT message_id::text, user_id, emoji, created_at
		FROM chat.reaction WHERE message_id = $1::uuid
		ORDER BY created_at, user_id
	`, messageID)
	if err != nil {
		return nil, classify("list reactions", err)
	}
	defer rows.Close()

	var out []chat.Reaction
	for rows.Next() {
		var re chat.Reaction
		if err := rows.Scan(&re.MessageID, &re.UserID, &re.Emoji, &re.CreatedAt); err != nil {
			return nil, classify("list reactions", err)
		}
		out = append(out, re)
	}
	return out, classify("list reactions", rows.Err())
}
