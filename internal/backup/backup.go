// Package backup encodes full-state documents and stores them in a local
// directory or an S3 bucket.
package backup

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"

	"materialpos/backend/internal/domain"
	"materialpos/backend/internal/store"
)

// Version is the document format this build writes and accepts.
const Version = 1

type Document struct {
	Version     int             `json:"version"`
	Timestamp   time.Time       `json:"timestamp"`
	Collections domain.Snapshot `json:"collections"`
}

// Sink stores encoded documents by name.
type Sink interface {
	Put(ctx context.Context, name string, payload []byte) error
	Get(ctx context.Context, name string) ([]byte, error)
	List(ctx context.Context) ([]domain.BackupInfo, error)
}

func Encode(snapshot domain.Snapshot, at time.Time) ([]byte, error) {
	return json.MarshalIndent(Document{Version: Version, Timestamp: at.UTC(), Collections: snapshot}, "", "  ")
}

// Decode parses a document and rejects versions this build does not know.
func Decode(payload []byte) (Document, error) {
	var doc Document
	if err := json.Unmarshal(payload, &doc); err != nil {
		return Document{}, fmt.Errorf("%w: backup is not valid json: %v", store.ErrInvalidTransaction, err)
	}
	if doc.Version != Version {
		return Document{}, fmt.Errorf("%w: unsupported backup version %d", store.ErrInvalidTransaction, doc.Version)
	}
	return doc, nil
}

// Name returns the file name a backup taken at the given time is stored
// under. Names sort by time; the random suffix keeps two backups taken in
// the same instant apart.
func Name(at time.Time) string {
	return "materialpos-" + at.UTC().Format("20060102T150405.000000000Z") + "-" + uuid.NewString()[:8] + ".json"
}

var namePattern = regexp.MustCompile(`^[A-Za-z0-9._-]{1,128}\.json$`)

// ValidName reports whether name is safe to use as a sink key. Path
// separators are never allowed.
func ValidName(name string) bool {
	return namePattern.MatchString(name) && name != ".json"
}
