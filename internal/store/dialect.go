package store

import (
	"errors"
	"strconv"
	"strings"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

// Dialect selects the database/sql driver and placeholder style.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite3"
)

// ParseDialect maps a DATABASE_URL scheme to a dialect. Anything that is not a postgres URL is
// treated as a sqlite3 DSN.
func ParseDialect(databaseURL string) Dialect {
	u := strings.ToLower(strings.TrimSpace(databaseURL))
	if strings.HasPrefix(u, "postgres://") || strings.HasPrefix(u, "postgresql://") {
		return DialectPostgres
	}
	return DialectSQLite
}

// sqliteDSN strips an optional sqlite:// or sqlite3:// scheme.
func sqliteDSN(databaseURL string) string {
	s := strings.TrimSpace(databaseURL)
	for _, p := range []string{"sqlite3://", "sqlite://"} {
		if strings.HasPrefix(strings.ToLower(s), p) {
			return s[len(p):]
		}
	}
	return s
}

// rebind rewrites ? placeholders into $n for postgres. Queries never carry a literal '?'.
func (d Dialect) rebind(q string) string {
	if d != DialectPostgres {
		return q
	}
	var b strings.Builder
	b.Grow(len(q) + 8)
	n := 0
	for i := 0; i < len(q); i++ {
		if q[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(q[i])
	}
	return b.String()
}

// lockSuffix is appended to SELECTs that guard a row inside a transaction. sqlite serialises
// writers on the database lock instead.
func (d Dialect) lockSuffix() string {
	if d == DialectPostgres {
		return " FOR UPDATE"
	}
	return ""
}

// money wraps an arithmetic expression on a money column. sqlite keeps NUMERIC(20,2) values as
// REAL, so every sum is snapped back to two decimals before it is stored or compared.
func (d Dialect) money(expr string) string {
	if d == DialectPostgres {
		return expr
	}
	return "ROUND(" + expr + ", 2)"
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique || liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
