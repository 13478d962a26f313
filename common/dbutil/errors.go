package dbutil

import (
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"github.com/predixa/mlops/common/errors"
)

// DuplicateKeyErrorCode is the postgres unique-violation SQLSTATE.
const DuplicateKeyErrorCode = "23505"

// WrapError maps a gorm error onto the shared taxonomy. Unique-constraint
// violations become Conflict, missing rows become NotFound, and everything
// else is surfaced as a Storage error with the cause preserved.
func WrapError(err error) error {
	var pgErr *pgconn.PgError

	if err == nil {
		return nil
	} else if _, ok := err.(*errors.Error); ok {
		return err
	} else if errors.Is(err, gorm.ErrRecordNotFound) {
		return errors.NotFound
	} else if errors.Is(err, gorm.ErrDuplicatedKey) {
		return errors.Conflict.Wrap(err)
	} else if errors.As(err, &pgErr) && pgErr.Code == DuplicateKeyErrorCode {
		return errors.Conflict.Wrap(err)
	} else if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		// sqlite reports unique violations through the driver message only.
		return errors.Conflict.Wrap(err)
	}

	return errors.Storage.Wrap(err)
}

// IsDuplicate reports whether err is a unique-constraint violation.
func IsDuplicate(err error) bool {
	return errors.Is(WrapError(err), errors.Conflict)
}
