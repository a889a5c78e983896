package engine

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"

	"careportal/internal/policy/repository"
)

const allowQuery = "data.careportal.file_access.allow"

// DefaultPolicy is evaluated when no enabled policy is stored. Owners and uploaders read their files,
// admins read everything, doctors read files of assigned patients. Only owners and admins delete.
const DefaultPolicy = `package careportal.file_access

default allow := false

allow if {
	input.action == "read"
	input.subject.id == input.file.owner_id
}

allow if {
	input.action == "read"
	input.subject.id == input.file.uploaded_by
}

allow if {
	input.action == "read"
	input.subject.role == "doctor"
	input.relation.assigned
}

allow if {
	input.action == "delete"
	input.subject.id == input.file.owner_id
}

allow if input.subject.role == "admin"
`

// OPAEvaluator evaluates file-access policies using OPA Rego. Evaluation errors deny access.
type OPAEvaluator struct {
	policyRepo repository.Repository

	mu       sync.Mutex
	source   string
	prepared *rego.PreparedEvalQuery
}

// NewOPAEvaluator returns an OPA-based evaluator. policyRepo may be nil, in which case only the
// built-in policy is used.
func NewOPAEvaluator(policyRepo repository.Repository) *OPAEvaluator {
	return &OPAEvaluator{policyRepo: policyRepo}
}

// HealthCheck verifies that the in-process OPA Rego engine can compile and evaluate the default policy.
// Does not call the policy repo or database. Returns nil on success.
func (e *OPAEvaluator) HealthCheck(ctx context.Context) error {
	q, err := prepare(ctx, []string{DefaultPolicy})
	if err != nil {
		return fmt.Errorf("compile default policy: %w", err)
	}
	if _, err := evalAllow(ctx, q, buildInput(FileAccessInput{Action: "read"})); err != nil {
		return fmt.Errorf("eval default policy: %w", err)
	}
	return nil
}

// EvaluateFileAccess evaluates the enabled policies (or the default) against in.
func (e *OPAEvaluator) EvaluateFileAccess(ctx context.Context, in FileAccessInput) (Decision, error) {
	policies := e.loadPolicies(ctx)
	q, err := e.preparedFor(ctx, policies)
	if err != nil {
		log.Printf("policy: compile failed: %v; denying", err)
		return Decision{Reason: "policy unavailable"}, err
	}
	allowed, err := evalAllow(ctx, q, buildInput(in))
	if err != nil {
		log.Printf("policy: evaluation failed: %v; denying", err)
		return Decision{Reason: "policy unavailable"}, err
	}
	if !allowed {
		return Decision{Reason: denyReason(in)}, nil
	}
	return Decision{Allowed: true}, nil
}

func (e *OPAEvaluator) loadPolicies(ctx context.Context) []string {
	if e.policyRepo == nil {
		return []string{DefaultPolicy}
	}
	enabled, err := e.policyRepo.ListEnabled(ctx)
	if err != nil {
		log.Printf("policy: failed to load policies: %v; using default", err)
		return []string{DefaultPolicy}
	}
	var out []string
	for _, p := range enabled {
		if p.Enabled && p.Rules != "" {
			out = append(out, p.Rules)
		}
	}
	if len(out) == 0 {
		return []string{DefaultPolicy}
	}
	return out
}

// preparedFor returns a prepared query for policies, reusing the last one when the sources match.
func (e *OPAEvaluator) preparedFor(ctx context.Context, policies []string) (*rego.PreparedEvalQuery, error) {
	source := strings.Join(policies, "\n---\n")
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.prepared != nil && e.source == source {
		return e.prepared, nil
	}
	q, err := prepare(ctx, policies)
	if err != nil {
		return nil, err
	}
	e.source, e.prepared = source, q
	return q, nil
}

func prepare(ctx context.Context, policies []string) (*rego.PreparedEvalQuery, error) {
	modules := make(map[string]string, len(policies))
	for i, p := range policies {
		modules[fmt.Sprintf("policy_%d.rego", i)] = p
	}
	compiler, err := ast.CompileModules(modules)
	if err != nil {
		return nil, err
	}
	q, err := rego.New(rego.Query(allowQuery), rego.Compiler(compiler)).PrepareForEval(ctx)
	if err != nil {
		return nil, err
	}
	return &q, nil
}

func evalAllow(ctx context.Context, q *rego.PreparedEvalQuery, input map[string]interface{}) (bool, error) {
	rs, err := q.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return false, err
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return false, fmt.Errorf("policy query returned no result")
	}
	v, ok := rs[0].Expressions[0].Value.(bool)
	if !ok {
		return false, fmt.Errorf("policy query returned %T, want bool", rs[0].Expressions[0].Value)
	}
	return v, nil
}

func buildInput(in FileAccessInput) map[string]interface{} {
	return map[string]interface{}{
		"action": in.Action,
		"subject": map[string]interface{}{
			"id":   in.SubjectID,
			"role": in.SubjectRole,
		},
		"file": map[string]interface{}{
			"id":          in.FileID,
			"owner_id":    in.OwnerID,
			"uploaded_by": in.UploadedBy,
		},
		"relation": map[string]interface{}{
			"assigned": in.Assigned,
		},
	}
}

func denyReason(in FileAccessInput) string {
	if in.Action == "delete" {
		return "only the owner or an admin may delete this file"
	}
	if in.SubjectRole == "doctor" {
		return "doctor is not assigned to the file owner"
	}
	return "requester has no relation to the file owner"
}
