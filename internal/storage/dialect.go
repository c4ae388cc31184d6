package storage

import (
	"strconv"
	"strings"
)

// Dialect selects the SQL flavour. Its value doubles as the migrations
// subdirectory name.
type Dialect string

const (
	SQLite   Dialect = "sqlite"
	Postgres Dialect = "postgres"
)

// DriverName returns the database/sql driver registered for d.
// modernc.org/sqlite registers "sqlite" and lib/pq registers "postgres".
func (d Dialect) DriverName() string { return string(d) }

// rebind rewrites ? placeholders to $N for postgres.
func (d Dialect) rebind(query string) string {
	if d != Postgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
