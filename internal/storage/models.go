package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Document statuses.
const (
	DocStatusPending    = "pending"
	DocStatusProcessing = "processing"
	DocStatusProcessed  = "processed"
	DocStatusFailed     = "failed"
)

// Document is an uploaded file awaiting or holding a vector index.
type Document struct {
	ID         string
	Name       string
	DocType    string // "pdf" or "csv"
	Content    []byte
	Status     string
	Error      string
	ChunkCount int
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type Conversation struct {
	ID        string
	Title     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Message struct {
	ID             string
	ConversationID string
	Role           string // "user" or "assistant"
	Content        string
	Attachments    string // JSON array of document IDs stored as text
	ToolTrace      string // JSON array stored as text
	CreatedAt      time.Time
}

type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}
