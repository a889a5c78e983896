package domain

import "time"

// Policy is a stored Rego module for the file-access package. When any enabled policy exists, the
// enabled set replaces the built-in default.
type Policy struct {
	ID        string
	Name      string
	Rules     string
	Enabled   bool
	CreatedAt time.Time
}
