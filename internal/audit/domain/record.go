package domain

import "time"

// Action is the kind of security-relevant event an audit record describes.
type Action string

const (
	ActionDecrypt      Action = "decrypt"
	ActionUpload       Action = "upload"
	ActionDownload     Action = "download"
	ActionAccessDenied Action = "access-denied"
	ActionDelete       Action = "delete"
)

// Outcome is the result of the audited attempt.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeDenied  Outcome = "denied"
	OutcomeFailure Outcome = "failure"
)

// Record is one append-only audit entry.
type Record struct {
	ID           string
	Action       Action
	ActorID      string
	TargetID     string // optional; identity whose data was touched
	ResourceType string
	ResourceID   string
	IP           string
	UserAgent    string
	Outcome      Outcome
	Detail       string
	CreatedAt    time.Time
}

// Filter narrows List results. Zero values mean "any".
type Filter struct {
	ActorID  string
	TargetID string
	Action   Action
	Since    time.Time
	Limit    int32
	Offset   int32
}
