package sqltool

import "errors"

var (
	// ErrInvalidDescriptor marks malformed connection input. It is raised
	// before any file or network I/O is attempted.
	ErrInvalidDescriptor = errors.New("invalid connection descriptor")

	// ErrNoConnection is returned when neither a user override nor an
	// environment default connection exists.
	ErrNoConnection = errors.New("no database connection configured")

	// ErrConnection marks a reachability or auth failure. The underlying
	// engine message is preserved verbatim and never retried.
	ErrConnection = errors.New("database connection failed")

	// ErrSchemaUnavailable is returned when the catalog cannot be read.
	ErrSchemaUnavailable = errors.New("schema unavailable")

	// ErrExecution wraps engine errors from statement execution, including
	// syntax errors, with the engine's message unmodified.
	ErrExecution = errors.New("query execution failed")
)
