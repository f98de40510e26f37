package sqltool

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"
)

// ColumnInfo describes a single table column.
type ColumnInfo struct {
	Name       string  `json:"name"`
	Type       string  `json:"type"`
	Nullable   bool    `json:"nullable"`
	Default    *string `json:"default,omitempty"`
	PrimaryKey bool    `json:"primaryKey,omitempty"`
}

// ForeignKeyInfo describes one outgoing foreign key reference.
type ForeignKeyInfo struct {
	Column           string `json:"column"`
	ReferencedTable  string `json:"referencedTable"`
	ReferencedColumn string `json:"referencedColumn"`
}

// TableInfo is the introspected shape of one table.
type TableInfo struct {
	Name        string           `json:"name"`
	Columns     []ColumnInfo     `json:"columns"`
	ForeignKeys []ForeignKeyInfo `json:"foreignKeys,omitempty"`
}

// ViewInfo names a view visible on the connection.
type ViewInfo struct {
	Name string `json:"name"`
}

// SchemaSnapshot is a point-in-time view of the connected database.
// Tables and views are sorted by name so repeated introspection of an
// unchanged database yields an identical snapshot.
type SchemaSnapshot struct {
	Tables          []TableInfo `json:"tables"`
	Views           []ViewInfo  `json:"views"`
	ConnectionLabel string      `json:"connectionLabel"`
	GeneratedAt     time.Time   `json:"generatedAt"`
}

// catalog reads schema metadata for one engine family.
type catalog interface {
	tableNames(ctx context.Context, db *sql.DB) ([]string, error)
	viewNames(ctx context.Context, db *sql.DB) ([]string, error)
	columns(ctx context.Context, db *sql.DB, table string) ([]ColumnInfo, error)
	foreignKeys(ctx context.Context, db *sql.DB, table string) ([]ForeignKeyInfo, error)
}

func catalogFor(family string) catalog {
	if family == familyPostgres {
		return postgresCatalog{}
	}
	return sqliteCatalog{}
}

// Introspect reads tables, columns, keys and views from the described
// database. It issues only metadata reads and never modifies state.
func Introspect(ctx context.Context, d Descriptor) (*SchemaSnapshot, error) {
	db, family, err := open(d)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSchemaUnavailable, err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSchemaUnavailable, err)
	}

	cat := catalogFor(family)

	names, err := cat.tableNames(ctx, db)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSchemaUnavailable, err)
	}
	sort.Strings(names)

	tables := make([]TableInfo, 0, len(names))
	for _, name := range names {
		cols, err := cat.columns(ctx, db, name)
		if err != nil {
			return nil, fmt.Errorf("%w: reading columns of %s: %v", ErrSchemaUnavailable, name, err)
		}
		fks, err := cat.foreignKeys(ctx, db, name)
		if err != nil {
			return nil, fmt.Errorf("%w: reading foreign keys of %s: %v", ErrSchemaUnavailable, name, err)
		}
		tables = append(tables, TableInfo{Name: name, Columns: cols, ForeignKeys: fks})
	}

	viewNames, err := cat.viewNames(ctx, db)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSchemaUnavailable, err)
	}
	sort.Strings(viewNames)
	views := make([]ViewInfo, 0, len(viewNames))
	for _, name := range viewNames {
		views = append(views, ViewInfo{Name: name})
	}

	return &SchemaSnapshot{
		Tables:          tables,
		Views:           views,
		ConnectionLabel: d.DisplayLabel,
		GeneratedAt:     time.Now().UTC(),
	}, nil
}

type sqliteCatalog struct{}

func (sqliteCatalog) tableNames(ctx context.Context, db *sql.DB) ([]string, error) {
	return scanNames(ctx, db,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%'`)
}

func (sqliteCatalog) viewNames(ctx context.Context, db *sql.DB) ([]string, error) {
	return scanNames(ctx, db, `SELECT name FROM sqlite_master WHERE type = 'view'`)
}

func (sqliteCatalog) columns(ctx context.Context, db *sql.DB, table string) ([]ColumnInfo, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%q)", table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cols []ColumnInfo
	for rows.Next() {
		var (
			cid, notNull, pk int
			name, colType    string
			dflt             sql.NullString
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dflt, &pk); err != nil {
			return nil, err
		}
		col := ColumnInfo{
			Name:       name,
			Type:       colType,
			Nullable:   notNull == 0,
			PrimaryKey: pk > 0,
		}
		if dflt.Valid {
			col.Default = &dflt.String
		}
		cols = append(cols, col)
	}
	return cols, rows.Err()
}

func (sqliteCatalog) foreignKeys(ctx context.Context, db *sql.DB, table string) ([]ForeignKeyInfo, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA foreign_key_list(%q)", table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var fks []ForeignKeyInfo
	for rows.Next() {
		var (
			id, seq                   int
			refTable, from            string
			to                        sql.NullString
			onUpdate, onDelete, match string
		)
		if err := rows.Scan(&id, &seq, &refTable, &from, &to, &onUpdate, &onDelete, &match); err != nil {
			return nil, err
		}
		fk := ForeignKeyInfo{Column: from, ReferencedTable: refTable}
		if to.Valid {
			fk.ReferencedColumn = to.String
		}
		fks = append(fks, fk)
	}
	return fks, rows.Err()
}

type postgresCatalog struct{}

func (postgresCatalog) tableNames(ctx context.Context, db *sql.DB) ([]string, error) {
	return scanNames(ctx, db,
		`SELECT table_name FROM information_schema.tables
		 WHERE table_schema = 'public' AND table_type = 'BASE TABLE'`)
}

func (postgresCatalog) viewNames(ctx context.Context, db *sql.DB) ([]string, error) {
	return scanNames(ctx, db,
		`SELECT table_name FROM information_schema.views WHERE table_schema = 'public'`)
}

func (postgresCatalog) columns(ctx context.Context, db *sql.DB, table string) ([]ColumnInfo, error) {
	pks, err := scanNames(ctx, db,
		`SELECT kcu.column_name
		 FROM information_schema.table_constraints tc
		 JOIN information_schema.key_column_usage kcu
		   ON tc.constraint_name = kcu.constraint_name AND tc.table_schema = kcu.table_schema
		 WHERE tc.table_schema = 'public' AND tc.table_name = $1
		   AND tc.constraint_type = 'PRIMARY KEY'`, table)
	if err != nil {
		return nil, err
	}
	primary := make(map[string]bool, len(pks))
	for _, pk := range pks {
		primary[pk] = true
	}

	rows, err := db.QueryContext(ctx,
		`SELECT column_name, data_type, is_nullable, column_default
		 FROM information_schema.columns
		 WHERE table_schema = 'public' AND table_name = $1
		 ORDER BY ordinal_position`, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cols []ColumnInfo
	for rows.Next() {
		var (
			name, colType, nullable string
			dflt                    sql.NullString
		)
		if err := rows.Scan(&name, &colType, &nullable, &dflt); err != nil {
			return nil, err
		}
		col := ColumnInfo{
			Name:       name,
			Type:       colType,
			Nullable:   nullable == "YES",
			PrimaryKey: primary[name],
		}
		if dflt.Valid {
			col.Default = &dflt.String
		}
		cols = append(cols, col)
	}
	return cols, rows.Err()
}

func (postgresCatalog) foreignKeys(ctx context.Context, db *sql.DB, table string) ([]ForeignKeyInfo, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT kcu.column_name, ccu.table_name, ccu.column_name
		 FROM information_schema.table_constraints tc
		 JOIN information_schema.key_column_usage kcu
		   ON tc.constraint_name = kcu.constraint_name AND tc.table_schema = kcu.table_schema
		 JOIN information_schema.constraint_column_usage ccu
		   ON tc.constraint_name = ccu.constraint_name AND tc.table_schema = ccu.table_schema
		 WHERE tc.table_schema = 'public' AND tc.table_name = $1
		   AND tc.constraint_type = 'FOREIGN KEY'
		 ORDER BY kcu.column_name`, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var fks []ForeignKeyInfo
	for rows.Next() {
		var fk ForeignKeyInfo
		if err := rows.Scan(&fk.Column, &fk.ReferencedTable, &fk.ReferencedColumn); err != nil {
			return nil, err
		}
		fks = append(fks, fk)
	}
	return fks, rows.Err()
}

func scanNames(ctx context.Context, db *sql.DB, query string, args ...any) ([]string, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}
