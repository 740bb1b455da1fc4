package notify

import (
	"context"
	"fmt"
	"os"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
	"go.uber.org/zap"
)

const policyQuery = "data.relay.notify.allow"

// DefaultPolicy lets everything through except generic notifications that talk about a
// verification code; those belong to the verification prompt.
const DefaultPolicy = `package relay.notify

default allow = true

allow = false if {
	input.source != "verification"
	contains(input.message, "验证码")
}
`

// PolicyFilter is a Filter that evaluates a Rego policy exposing data.relay.notify.allow.
type PolicyFilter struct {
	query  rego.PreparedEvalQuery
	logger *zap.Logger
}

// NewPolicyFilter compiles source. An empty source uses DefaultPolicy.
func NewPolicyFilter(ctx context.Context, source string, logger *zap.Logger) (*PolicyFilter, error) {
	if source == "" {
		source = DefaultPolicy
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	compiler, err := ast.CompileModules(map[string]string{"notify.rego": source})
	if err != nil {
		return nil, fmt.Errorf("notify: compile policy: %w", err)
	}
	q, err := rego.New(rego.Query(policyQuery), rego.Compiler(compiler)).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("notify: prepare policy: %w", err)
	}
	return &PolicyFilter{query: q, logger: logger}, nil
}

// LoadPolicyFilter reads the policy from path, or uses DefaultPolicy when path is empty.
func LoadPolicyFilter(ctx context.Context, path string, logger *zap.Logger) (*PolicyFilter, error) {
	if path == "" {
		return NewPolicyFilter(ctx, "", logger)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("notify: read policy %s: %w", path, err)
	}
	return NewPolicyFilter(ctx, string(raw), logger)
}

// Allow evaluates the policy for n. Evaluation errors and undefined results allow the notification.
func (p *PolicyFilter) Allow(ctx context.Context, n Notification) bool {
	allowed, err := p.eval(ctx, n)
	if err != nil {
		p.logger.Warn("notify: policy evaluation failed, allowing", zap.Error(err))
		return true
	}
	return allowed
}

// HealthCheck evaluates the compiled policy against a minimal input.
func (p *PolicyFilter) HealthCheck(ctx context.Context) error {
	_, err := p.eval(ctx, Notification{Level: LevelInfo, Source: "health"})
	return err
}

func (p *PolicyFilter) eval(ctx context.Context, n Notification) (bool, error) {
	rs, err := p.query.Eval(ctx, rego.EvalInput(policyInput(n)))
	if err != nil {
		return false, fmt.Errorf("eval policy: %w", err)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return false, fmt.Errorf("policy query returned no result")
	}
	v, ok := rs[0].Expressions[0].Value.(bool)
	if !ok {
		return false, fmt.Errorf("policy result is %T, want bool", rs[0].Expressions[0].Value)
	}
	return v, nil
}

func policyInput(n Notification) map[string]interface{} {
	return map[string]interface{}{
		"level":      string(n.Level),
		"source":     n.Source,
		"title":      n.Title,
		"message":    n.Message,
		"task_id":    n.TaskID,
		"session_id": n.SessionID,
	}
}
