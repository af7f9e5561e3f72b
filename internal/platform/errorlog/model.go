// Package errorlog records rejected records and failed files so a daily
// summary can be sent per site and publisher. Entries live in PostgreSQL
// when DATABASE_URL is set and in memory otherwise.
package errorlog

import (
	"context"
	"embed"
	"io/fs"
	"time"

	"github.com/google/uuid"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Migrations returns the ledger schema migrations.
func Migrations() fs.FS {
	sub, err := fs.Sub(migrationFiles, "migrations")
	if err != nil {
		panic(err)
	}
	return sub
}

// Entry is one recorded error.
type Entry struct {
	ID        uuid.UUID `json:"id"`
	Function  string    `json:"function"`
	Bucket    string    `json:"bucket"`
	ObjectKey string    `json:"object_key"`
	Site      string    `json:"site"`
	Publisher string    `json:"publisher"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}

// Store persists entries.
type Store interface {
	Record(ctx context.Context, e *Entry) error
	Since(ctx context.Context, since time.Time) ([]*Entry, error)
}

// prepare fills the generated fields of e.
func prepare(e *Entry, now time.Time) {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now.UTC()
	}
	if e.Site == "" {
		e.Site = "unknown"
	}
	if e.Publisher == "" {
		e.Publisher = "unknown"
	}
}
