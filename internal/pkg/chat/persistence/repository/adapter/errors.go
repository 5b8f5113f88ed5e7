package adapter

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	chat "chatcore/internal/pkg/chat/application/domain"
)

var errNilPool = errors.New("pg repository: nil pool")

// classify maps driver errors onto the domain sentinels.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return chat.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "23505":
			return fmt.Errorf("%s: %w: %s", op, chat.ErrConflict, pgErr.ConstraintName)
		case pgErr.Code == "23503":
			return fmt.Errorf("%s: %w", op, chat.ErrNotFound)
		case pgErr.Code == "22P02":
			// malformed uuid: no such row can exist
			return fmt.Errorf("%s: %w", op, chat.ErrNotFound)
		case pgErr.Code == "40001", pgErr.Code == "40P01", len(pgErr.Code) == 5 && pgErr.Code[:2] == "08":
			return chat.Transient(fmt.Errorf("%s: %w", op, err))
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) || pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
		return chat.Transient(fmt.Errorf("%s: %w", op, err))
	}
	return fmt.Errorf("%s: %w", op, err)
}
