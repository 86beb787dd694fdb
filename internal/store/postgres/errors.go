package postgres

import (
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/alanyoungcy/stakingengine/internal/domain"
)

const (
	pgUniqueViolation  = "23505"
	pgLockNotAvailable = "55P03"
	pgStringTooLong    = "22001"
)

// mapError translates driver errors into domain sentinels. Other errors are
// returned unchanged.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return domain.ErrDuplicateKey
		case pgLockNotAvailable:
			return domain.ErrLockUnavailable
		case pgStringTooLong:
			return domain.Validationf("%s", pgErr.Message)
		}
	}
	return err
}
