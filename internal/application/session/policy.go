package session

import (
	"fmt"
	"strings"

	"github.com/Knetic/govaluate"

	"github.com/execution-hub/contractsync/internal/domain/contract"
)

// ApprovalPolicy is an optional guard evaluated against every approval.
// Variables: ceiling, estimated_cost, cost, messages, devices, owner.
type ApprovalPolicy struct {
	source string
	expr   *govaluate.EvaluableExpression
}

// NewApprovalPolicy compiles expression. An empty expression yields a nil
// policy, which allows everything.
func NewApprovalPolicy(expression string) (*ApprovalPolicy, error) {
	expression = strings.TrimSpace(expression)
	if expression == "" {
		return nil, nil
	}
	expr, err := govaluate.NewEvaluableExpression(expression)
	if err != nil {
		return nil, fmt.Errorf("compile approval policy: %w", err)
	}
	// a dry run over an empty session catches expressions that yield a number or string
	if result, err := expr.Evaluate(policyParams(contract.Session{})); err == nil {
		if _, ok := result.(bool); !ok {
			return nil, fmt.Errorf("compile approval policy: %q does not evaluate to a boolean", expression)
		}
	}
	return &ApprovalPolicy{source: expression, expr: expr}, nil
}

// String returns the policy source.
func (p *ApprovalPolicy) String() string {
	if p == nil {
		return ""
	}
	return p.source
}

// Check returns ErrPolicyRejected when the approved session fails the policy.
func (p *ApprovalPolicy) Check(s contract.Session) error {
	if p == nil {
		return nil
	}
	result, err := p.expr.Evaluate(policyParams(s))
	if err != nil {
		return fmt.Errorf("%w: %v", contract.ErrPolicyRejected, err)
	}
	allowed, ok := result.(bool)
	if !ok {
		return fmt.Errorf("%w: %s did not evaluate to a boolean", contract.ErrPolicyRejected, p.source)
	}
	if !allowed {
		return fmt.Errorf("%w: %s", contract.ErrPolicyRejected, p.source)
	}
	return nil
}

func policyParams(s contract.Session) map[string]interface{} {
	params := map[string]interface{}{
		"ceiling":        0.0,
		"estimated_cost": 0.0,
		"cost":           0.0,
		"messages":       0.0,
		"devices":        float64(len(s.Devices)),
		"owner":          s.OwnerID,
	}
	if s.ApprovedCeiling != nil {
		params["ceiling"] = *s.ApprovedCeiling
	}
	if s.ApprovedCost != nil {
		params["cost"] = *s.ApprovedCost
	}
	if s.Review != nil {
		params["estimated_cost"] = s.Review.EstimatedCost
		params["messages"] = float64(s.Review.MessageCount)
	}
	return params
}
