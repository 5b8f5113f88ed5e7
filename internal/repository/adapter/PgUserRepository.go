package adapter

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	chat "chatcore/internal/pkg/chat/application/domain"
	repository "chatcore/internal/repository/port"
)

// PgUserRepository reads profiles from chat.app_user.
type PgUserRepository struct {
	pool *pgxpool.Pool
}

var _ repository.UserRepository = (*PgUserRepository)(nil)

func NewPgUserRepository(pool *pgxpool.Pool) *PgUserRepository {
	return &PgUserRepository{pool: pool}
}

func (r *PgUserRepository) DisplayName(ctx context.Context, userID string) (string, error) {
	if r == nil || r.pool == nil {
		return "", errors.New("PgUserRepository: nil pool")
	}
	var name string
	err := r.pool.QueryRow(ctx, "SELECT display_name FROM chat.app_user WHERE id = $1", userID).Scan(&name)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", chat.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("display name: %w", err)
	}
	return name, nil
}

// MapUserRepository is a fixed directory for local mode and tests.
type MapUserRepository map[string]string

var _ repository.UserRepository = MapUserRepository(nil)

func (m MapUserRepository) DisplayName(_ context.Context, userID string) (string, error) {
	name, ok := m[userID]
	if !ok {
		return "", chat.ErrNotFound
	}
	return name, nil
}
