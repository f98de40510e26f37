package sqltool

// Driver registration for both supported engine families.
import (
	_ "github.com/jackc/pgx/v5/stdlib" // postgres via database/sql
	_ "modernc.org/sqlite"             // cgo-free sqlite
)
