package catalog

import (
	"errors"
	"strings"

	sqlite3 "github.com/mattn/go-sqlite3"
)

// isUniqueConstraintErr reports whether err is a sqlite UNIQUE constraint
// violation, so callers can translate it into a domain-specific sentinel.
func isUniqueConstraintErr(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrConstraint
	}
	// Fallback string match for wrapped/driver-proxied errors in tests.
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
