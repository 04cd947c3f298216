package repositories

import (
	"context"
	"time"
)

// DocumentRepository tracks which documents have been indexed per user, keyed
// by content hash so re-uploads of identical content are detected regardless
// of filename.
type DocumentRepository interface {
	CheckDocument(ctx context.Context, token, fileHash string) (*TrackedDocument, error)
	AddDocument(ctx context.Context, doc *TrackedDocument) error
	RemoveDocument(ctx context.Context, token, fileHash string) error
	RemoveByFilename(ctx context.Context, token, filename string) error
	ListDocuments(ctx context.Context, token string) ([]*TrackedDocument, error)
	CountDocuments(ctx context.Context, token string) (int64, error)
	Ping(ctx context.Context) error
}

// TrackedDocument is the registry record for one indexed document.
type TrackedDocument struct {
	Token      string    `json:"token"`
	FileHash   string    `json:"file_hash"`
	Filename   string    `json:"filename"`
	NumChunks  int       `json:"num_chunks"`
	UploadDate time.Time `json:"upload_date"`
}

// DocumentRepositoryError represents errors from the document repository
type DocumentRepositoryError struct {
	Operation string
	Err       error
	Message   string
}

func (e *DocumentRepositoryError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Operation + ": " + e.Err.Error()
	}
	return e.Operation + ": unknown error"
}

func (e *DocumentRepositoryError) Unwrap() error {
	return e.Err
}

// NewDocumentRepositoryError creates a new document repository error
func NewDocumentRepositoryError(operation string, err error, message string) *DocumentRepositoryError {
	return &DocumentRepositoryError{
		Operation: operation,
		Err:       err,
		Message:   message,
	}
}
