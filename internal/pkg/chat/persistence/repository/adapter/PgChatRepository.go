package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	chat "chatcore/internal/pkg/chat/application/domain"
	repository "chatcore/internal/pkg/chat/persistence/repository/port"
)

type PgChatRepository struct {
	pool *pgxpool.Pool
}

var _ repository.ChatRepository = (*PgChatRepository)(nil)

func NewPgChatRepository(pool *pgxpool.Pool) *PgChatRepository {
	return &PgChatRepository{pool: pool}
}

const conversationColumns = `id::text, participant_a, participant_b, created_at, last_activity_at`

func scanConversation(row pgx.Row) (chat.Conversation, error) {
	var c chat.Conversation
	err := row.Scan(&c.ID, &c.ParticipantA, &c.ParticipantB, &c.CreatedAt, &c.LastActivityAt)
	return c, err
}

func (r *PgChatRepository) FindConversationByPair(ctx context.Context, userA, userB string) (chat.Conversation, error) {
	if r == nil || r.pool == nil {
		return chat.Conversation{}, errNilPool
	}
	a, b := chat.OrderedPair(userA, userB)
	c, err := scanConversation(r.pool.QueryRow(ctx,
		"SELECT "+conversationColumns+" FROM chat.conversation WHERE participant_a = $1 AND participant_b = $2", a, b))
	return c, classify("find conversation", err)
}

func (r *PgChatRepository) InsertConversation(ctx context.Context, c chat.Conversation) (chat.Conversation, error) {
	if r == nil || r.pool == nil {
		return chat.Conversation{}, errNilPool
	}
	out, err := scanConversation(r.pool.QueryRow(ctx, `
		INSERT INTO chat.conversation (participant_a, participant_b, created_at, last_activity_at)
		VALUES ($1, $2, $3, $4)
		RETURNING `+conversationColumns,
		c.ParticipantA, c.ParticipantB, c.CreatedAt, c.LastActivityAt))
	return out, classify("insert conversation", err)
}

func (r *PgChatRepository) GetConversation(ctx context.Context, id string) (chat.Conversation, error) {
	if r == nil || r.pool == nil {
		return chat.Conversation{}, errNilPool
	}
	c, err := scanConversation(r.pool.QueryRow(ctx,
		"SELECT "+conversationColumns+" FROM chat.conversation WHERE id = $1::uuid", id))
	return c, classify("get conversation", err)
}

func (r *PgChatRepository) ListConversations(ctx context.Context, userID string) ([]chat.Conversation, error) {
	if r == nil || r.pool == nil {
		return nil, errNilPool
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+conversationColumns+`
		FROM chat.conversation
		WHERE participant_a = $1 OR participant_b = $1
		ORDER BY last_activity_at DESC
	`, userID)
	if err != nil {
		return nil, classify("list conversations", err)
	}
	defer rows.Close()

	var out []chat.Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, classify("list conversations", err)
		}
		out = append(out, c)
	}
	return out, classify("list conversations", rows.Err())
}

const messageColumns = `id::text, conversation_id::text, sender_id, content, created_at, seq, status, attachment, COALESCE(dedupe_key, '')`

func scanMessage(row pgx.Row) (chat.Message, error) {
	var (
		m          chat.Message
		status     string
		attachment []byte
	)
	if err := row.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Content, &m.CreatedAt, &m.Seq, &status, &attachment, &m.DedupeKey); err != nil {
		return chat.Message{}, err
	}
	m.Status = chat.Status(status)
	if len(attachment) > 0 {
		var a chat.Attachment
		if err := json.Unmarshal(attachment, &a); err != nil {
			return chat.Message{}, err
		}
		m.Attachment = &a
	}
	return m, nil
}

func (r *PgChatRepository) InsertMessage(ctx context.Context, m chat.Message) (chat.Message, bool, error) {
	if r == nil || r.pool == nil {
		return chat.Message{}, false, errNilPool
	}
	var attachment []byte
	if m.Attachment != nil {
		b, err := json.Marshal(m.Attachment)
		if err != nil {
			return chat.Message{}, false, err
		}
		attachment = b
	}

	var (
		out     chat.Message
		created bool
	)
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		// Serialise appends per conversation so created_at never goes backwards.
		var last time.Time
		if err := tx.QueryRow(ctx,
			"SELECT last_activity_at FROM chat.conversation WHERE id = $1::uuid FOR UPDATE", m.ConversationID,
		).Scan(&last); err != nil {
			return err
		}

		msg, err := scanMessage(tx.QueryRow(ctx, `
			INSERT INTO chat.message (conversation_id, sender_id, content, created_at, status, attachment, dedupe_key)
			VALUES ($1::uuid, $2, $3, GREATEST(clock_timestamp(), $4), 'sent', $5, NULLIF($6, ''))
			ON CONFLICT (conversation_id, dedupe_key) DO NOTHING
			RETURNING `+messageColumns,
			m.ConversationID, m.SenderID, m.Content, last, attachment, m.DedupeKey))
		switch {
		case err == nil:
			created = true
		case errors.Is(err, pgx.ErrNoRows):
			msg, err = scanMessage(tx.QueryRow(ctx,
				"SELECT "+messageColumns+" FROM chat.message WHERE conversation_id = $1::uuid AND dedupe_key = $2",
				m.ConversationID, m.DedupeKey))
			if err != nil {
				return err
			}
			out = msg
			return nil
		default:
			return err
		}
		out = msg

		_, err = tx.Exec(ctx,
			"UPDATE chat.conversation SET last_activity_at = $2 WHERE id = $1::uuid AND last_activity_at < $2",
			m.ConversationID, msg.CreatedAt)
		return err
	})
	if err != nil {
		return chat.Message{}, false, classify("insert message", err)
	}
	return out, created, nil
}

func (r *PgChatRepository) GetMessage(ctx context.Context, id string) (chat.Message, error) {
	if r == nil || r.pool == nil {
		return chat.Message{}, errNilPool
	}
	m, err := scanMessage(r.pool.QueryRow(ctx, "SELECT "+messageColumns+" FROM chat.message WHERE id = $1::uuid", id))
	return m, classify("get message", err)
}

func (r *PgChatRepository) ListMessages(ctx context.Context, conversationID string, after chat.Cursor, limit int) ([]chat.Message, error) {
	if r == nil || r.pool == nil {
		return nil, errNilPool
	}
	if limit <= 0 {
		limit = 50
	}
	var (
		rows pgx.Rows
		err  error
	)
	if after.IsZero() {
		rows, err = r.pool.Query(ctx, `
			SELECT `+messageColumns+`
			FROM chat.message
			WHERE conversation_id = $1::uuid
			ORDER BY created_at, seq
			LIMIT $2
		`, conversationID, limit)
	} else {
		rows, err = r.pool.Query(ctx, `
			SELECT `+messageColumns+`
			FROM chat.message
			WHERE conversation_id = $1::uuid AND (created_at, seq) > ($2, $3)
			ORDER BY created_at, seq
			LIMIT $4
		`, conversationID, after.CreatedAt, after.Seq, limit)
	}
	if err != nil {
		return nil, classify("list messages", err)
	}
	return collectMessages("list messages", rows)
}

func collectMessages(op string, rows pgx.Rows) ([]chat.Message, error) {
	defer rows.Close()
	var msgs []chat.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, classify(op, err)
		}
		msgs = append(msgs, m)
	}
	if rows.Err() != nil {
		return nil, classify(op, rows.Err())
	}
	return msgs, nil
}

// statusRank mirrors chat.Status.Rank so the compare-and-set happens in one statement.
const statusRank = `CASE status WHEN 'sent' THEN 1 WHEN 'delivered' THEN 2 WHEN 'read' THEN 3 ELSE 0 END`

func (r *PgChatRepository) AdvanceStatus(ctx context.Context, messageID string, target chat.Status) (chat.Message, bool, error) {
	if r == nil || r.pool == nil {
		return chat.Message{}, false, errNilPool
	}
	m, err := scanMessage(r.pool.QueryRow(ctx, `
		UPDATE chat.message SET status = $2
		WHERE id = $1::uuid AND `+statusRank+` < $3
		RETURNING `+messageColumns,
		messageID, string(target), target.Rank()))
	if err == nil {
		return m, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return chat.Message{}, false, classify("advance status", err)
	}
	// Either missing or already at/after target.
	cur, err := r.GetMessage(ctx, messageID)
	if err != nil {
		return chat.Message{}, false, err
	}
	return cur, false, nil
}

func (r *PgChatRepository) AdvanceConversationStatus(ctx context.Context, conversationID, readerID string, uptoSeq int64, target chat.Status) ([]chat.Message, error) {
	if r == nil || r.pool == nil {
		return nil, errNilPool
	}
	rows, err := r.pool.Query(ctx, `
		UPDATE chat.message SET status = $4
		WHERE conversation_id = $1::uuid AND sender_id <> $2 AND seq <= $3 AND `+statusRank+` < $5
		RETURNING `+messageColumns,
		conversationID, readerID, uptoSeq, string(target), target.Rank())
	if err != nil {
		return nil, classify("advance conversation status", err)
	}
	return collectMessages("advance conversation status", rows)
}
