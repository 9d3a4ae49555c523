package apierr

import (
	"errors"

	"github.com/jackc/pgx/v5"
)

// IsNotFound reports whether err means the row simply does not exist,
// letting handlers turn pgx.ErrNoRows into a 404 instead of a 500.
func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
