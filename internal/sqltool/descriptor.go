package sqltool

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// Mode identifies how a database connection is addressed.
type Mode string

const (
	// ModeSQLite connects to a local SQLite database file.
	ModeSQLite Mode = "sqlite"
	// ModeURL connects to an external engine via a connection URL.
	ModeURL Mode = "url"
)

// engine family used to pick a driver and a catalog reader.
const (
	familySQLite   = "sqlite"
	familyPostgres = "postgres"
)

// Descriptor is a fully resolved database connection. All fields are
// normalized: the mode is canonical and sqlite paths are absolute.
type Descriptor struct {
	Mode               Mode   `json:"mode"`
	DisplayLabel       string `json:"displayLabel"`
	SQLitePath         string `json:"sqlitePath,omitempty"`
	ResolvedSQLitePath string `json:"resolvedSqlitePath,omitempty"`
	ConnectionString   string `json:"connectionString,omitempty"`
	IsDefault          bool   `json:"isDefault"`
	Source             string `json:"source"`
}

// DescriptorInput is the raw, user-supplied connection form before
// normalization.
type DescriptorInput struct {
	Mode             string `json:"mode"`
	DisplayName      string `json:"displayName,omitempty"`
	SQLitePath       string `json:"sqlitePath,omitempty"`
	ConnectionString string `json:"connectionString,omitempty"`
}

// TestReport is the outcome of a connection liveness probe. For sqlite
// descriptors it carries the absolute path the probe actually dialed.
type TestReport struct {
	OK                 bool   `json:"ok"`
	Message            string `json:"message,omitempty"`
	ResolvedSQLitePath string `json:"resolvedSqlitePath,omitempty"`
}

// Resolver turns connection input or environment variables into
// normalized Descriptors. Relative sqlite paths resolve against baseDir.
type Resolver struct {
	baseDir string
	env     func(string) string
}

// NewResolver creates a Resolver. A nil env falls back to os.Getenv,
// which tests override with a fake lookup.
func NewResolver(baseDir string, env func(string) string) *Resolver {
	if env == nil {
		env = os.Getenv
	}
	return &Resolver{baseDir: baseDir, env: env}
}

// Resolve normalizes the given input, or falls back to the environment
// when input is nil. With neither it returns ErrNoConnection.
func (r *Resolver) Resolve(input *DescriptorInput) (Descriptor, error) {
	if input != nil {
		return r.fromInput(input, "user", false)
	}
	return r.environmentDefault()
}

func (r *Resolver) fromInput(input *DescriptorInput, source string, isDefault bool) (Descriptor, error) {
	mode, err := normalizeMode(input.Mode)
	if err != nil {
		return Descriptor{}, err
	}

	d := Descriptor{
		Mode:      mode,
		IsDefault: isDefault,
		Source:    source,
	}

	switch mode {
	case ModeSQLite:
		path := strings.TrimSpace(input.SQLitePath)
		if path == "" {
			return Descriptor{}, fmt.Errorf("%w: sqlite mode requires a database path", ErrInvalidDescriptor)
		}
		d.SQLitePath = path
		d.ResolvedSQLitePath = r.absPath(path)
	case ModeURL:
		raw := strings.TrimSpace(input.ConnectionString)
		if raw == "" {
			return Descriptor{}, fmt.Errorf("%w: url mode requires a connection string", ErrInvalidDescriptor)
		}
		if err := validateConnectionURL(raw); err != nil {
			return Descriptor{}, err
		}
		d.ConnectionString = raw
	}

	d.DisplayLabel = strings.TrimSpace(input.DisplayName)
	if d.DisplayLabel == "" {
		d.DisplayLabel = deriveLabel(d)
	}
	return d, nil
}

// environmentDefault builds a Descriptor from DATABASE_URL or
// SQLITE_DB_PATH, in that precedence. DATABASE_LABEL overrides the
// derived display label.
func (r *Resolver) environmentDefault() (Descriptor, error) {
	label := r.env("DATABASE_LABEL")

	if raw := strings.TrimSpace(r.env("DATABASE_URL")); raw != "" {
		return r.fromInput(&DescriptorInput{
			Mode:             string(ModeURL),
			DisplayName:      label,
			ConnectionString: raw,
		}, "environment", true)
	}

	if path := strings.TrimSpace(r.env("SQLITE_DB_PATH")); path != "" {
		return r.fromInput(&DescriptorInput{
			Mode:        string(ModeSQLite),
			DisplayName: label,
			SQLitePath:  path,
		}, "environment", true)
	}

	return Descriptor{}, ErrNoConnection
}

// Test probes the connection by opening it and running SELECT 1.
// Failures are reported with the engine's message, never retried.
func (r *Resolver) Test(ctx context.Context, d Descriptor) TestReport {
	report := TestReport{ResolvedSQLitePath: d.ResolvedSQLitePath}

	db, _, err := open(d)
	if err != nil {
		report.Message = err.Error()
		return report
	}
	defer db.Close()

	var one int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		report.Message = err.Error()
		return report
	}
	report.OK = true
	report.Message = "connection successful"
	return report
}

func (r *Resolver) absPath(path string) string {
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(r.baseDir, path)
}

func normalizeMode(raw string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "sqlite", "local", "file":
		return ModeSQLite, nil
	case "url", "remote", "external":
		return ModeURL, nil
	case "":
		return "", fmt.Errorf("%w: missing connection mode", ErrInvalidDescriptor)
	default:
		return "", fmt.Errorf("%w: unknown connection mode %q", ErrInvalidDescriptor, raw)
	}
}

func validateConnectionURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDescriptor, err)
	}
	switch u.Scheme {
	case "postgres", "postgresql":
		return nil
	default:
		return fmt.Errorf("%w: unsupported connection scheme %q", ErrInvalidDescriptor, u.Scheme)
	}
}

func deriveLabel(d Descriptor) string {
	switch d.Mode {
	case ModeSQLite:
		return filepath.Base(d.SQLitePath)
	case ModeURL:
		u, err := url.Parse(d.ConnectionString)
		if err == nil {
			name := strings.TrimPrefix(u.Path, "/")
			if name != "" {
				return name
			}
			if u.Host != "" {
				return u.Host
			}
		}
	}
	return "database"
}

// open dials the descriptor's engine and returns the handle plus the
// engine family. Each caller owns the handle and must close it.
func open(d Descriptor) (*sql.DB, string, error) {
	switch d.Mode {
	case ModeSQLite:
		path := d.ResolvedSQLitePath
		if path == "" {
			path = d.SQLitePath
		}
		info, err := os.Stat(path)
		if err != nil {
			return nil, "", fmt.Errorf("%w: sqlite database file %s not found", ErrConnection, path)
		}
		if info.IsDir() {
			return nil, "", fmt.Errorf("%w: %s is a directory, not a database file", ErrConnection, path)
		}
		db, err := sql.Open("sqlite", path)
		if err != nil {
			return nil, "", fmt.Errorf("%w: %v", ErrConnection, err)
		}
		return db, familySQLite, nil
	case ModeURL:
		db, err := sql.Open("pgx", d.ConnectionString)
		if err != nil {
			return nil, "", fmt.Errorf("%w: %v", ErrConnection, err)
		}
		return db, familyPostgres, nil
	default:
		return nil, "", fmt.Errorf("%w: unknown connection mode %q", ErrInvalidDescriptor, d.Mode)
	}
}
