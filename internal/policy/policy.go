// Package policy decides how the transaction service reacts to a biller outcome.
// Rules are govaluate expressions evaluated in priority order; the first match
// wins and the built-in default applies when nothing matches.
package policy

import (
	"fmt"
	"sort"

	"github.com/Knetic/govaluate"

	"github.com/yourorg/purchase-gateway/internal/purchase"
)

// Decision tells the transaction service what to do after one attempt.
type Decision struct {
	AdvanceCascade   bool // move to the next biller
	RetryNextRouting bool // retry the same biller with the next bin routing
	BlacklistCard    bool // add the card to the blacklist
}

// PolicyRule maps a boolean expression to a Decision.
// Available parameters: biller, status, errorCode, attempt, hardFailure,
// isCrossSale, remainingBillers, remainingRoutings, amount.
type PolicyRule struct {
	ID         string
	Expression string
	Priority   int // lower value is evaluated first
	Decision   Decision
}

type compiledRule struct {
	rule PolicyRule
	expr *govaluate.EvaluableExpression
}

// Outcome is the attempt a decision is computed for.
type Outcome struct {
	Biller            string
	Transaction       purchase.Transaction
	Attempt           int
	IsCrossSale       bool
	RemainingBillers  int
	RemainingRoutings int
	Amount            int64
}

func (o Outcome) parameters() map[string]interface{} {
	return map[string]interface{}{
		"biller":            o.Biller,
		"status":            string(o.Transaction.State),
		"errorCode":         o.Transaction.ErrorCode,
		"attempt":           float64(o.Attempt),
		"hardFailure":       o.Transaction.IsHardFailure(),
		"isCrossSale":       o.IsCrossSale,
		"remainingBillers":  float64(o.RemainingBillers),
		"remainingRoutings": float64(o.RemainingRoutings),
		"amount":            float64(o.Amount),
	}
}

// FailoverPolicy evaluates failover rules for biller outcomes.
type FailoverPolicy struct {
	rules []compiledRule
}

// NewFailoverPolicy compiles rules up front so bad expressions fail at startup.
func NewFailoverPolicy(rules []PolicyRule) (*FailoverPolicy, error) {
	compiled := make([]compiledRule, 0, len(rules))
	for _, r := range rules {
		if r.Expression == "" {
			return nil, fmt.Errorf("policy: rule ID '%s' has an empty expression", r.ID)
		}
		expr, err := govaluate.NewEvaluableExpression(r.Expression)
		if err != nil {
			return nil, fmt.Errorf("policy: failed to compile rule ID '%s': %w", r.ID, err)
		}
		compiled = append(compiled, compiledRule{rule: r, expr: expr})
	}
	sort.SliceStable(compiled, func(i, j int) bool {
		return compiled[i].rule.Priority < compiled[j].rule.Priority
	})
	return &FailoverPolicy{rules: compiled}, nil
}

// Evaluate returns the decision of the first matching rule, or the default.
func (p *FailoverPolicy) Evaluate(o Outcome) (Decision, error) {
	params := o.parameters()
	for _, cr := range p.rules {
		res, err := cr.expr.Evaluate(params)
		if err != nil {
			return Decision{}, fmt.Errorf("policy: rule ID '%s': %w", cr.rule.ID, err)
		}
		matched, ok := res.(bool)
		if !ok {
			return Decision{}, fmt.Errorf("policy: rule ID '%s' did not evaluate to a boolean", cr.rule.ID)
		}
		if matched {
			return cr.rule.Decision, nil
		}
	}
	return DefaultDecision(o), nil
}

// DefaultDecision advances the cascade on hard failures and walks the bin
// routings on soft declines. Hard-decline codes blacklist the card and stop.
func DefaultDecision(o Outcome) Decision {
	tx := o.Transaction
	switch {
	case tx.IsHardFailure():
		return Decision{AdvanceCascade: true}
	case tx.IsHardDecline():
		return Decision{BlacklistCard: true}
	case tx.IsDeclined():
		return Decision{RetryNextRouting: o.RemainingRoutings > 0}
	default:
		return Decision{}
	}
}
