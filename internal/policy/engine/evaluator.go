package engine

import (
	"context"
)

// FileAccessInput describes one attempt to read or delete a stored file.
type FileAccessInput struct {
	SubjectID   string
	SubjectRole string
	// Action is "read" or "delete".
	Action     string
	FileID     string
	OwnerID    string
	UploadedBy string
	// Assigned is true when the subject is a doctor assigned to the file owner.
	Assigned bool
}

// Decision is the outcome of a policy evaluation.
type Decision struct {
	Allowed bool
	Reason  string
}

// Evaluator decides file access.
type Evaluator interface {
	EvaluateFileAccess(ctx context.Context, in FileAccessInput) (Decision, error)
}
