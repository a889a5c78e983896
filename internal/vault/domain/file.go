package domain

import "time"

// FileRecord is the non-sensitive metadata of an uploaded file. The encrypted content lives in a
// blob store under BlobKey, a random name that says nothing about the original content.
type FileRecord struct {
	ID           string
	OwnerID      string
	UploadedBy   string
	BlobKey      string
	OriginalName string
	MimeType     string
	Size         int64
	CreatedAt    time.Time
}
