// Package skuld - Targeting helper for host-side gating.
package skuld

import (
	"github.com/orneryd/skuld/pkg/jexl"
)

// TargetingHelper evaluates targeting expressions against the client's
// context outside the enrollment flow, so hosts can gate messages or UI on
// the same predicates experiments use.
type TargetingHelper struct {
	ctx jexl.Context
}

// CreateTargetingHelper builds a helper over the current client state. The
// extra map is layered over the app context's attributes, shadowing on
// collision.
func (c *Client) CreateTargetingHelper(extra map[string]any) (*TargetingHelper, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.initLocked(); err != nil {
		return nil, err
	}
	ctx := c.targetingContextLocked()
	ctx.Extra = extra
	return &TargetingHelper{ctx: *ctx}, nil
}

// EvalJexl evaluates an expression to a boolean by truthiness. Syntax
// errors wrap jexl.ErrInvalidExpression, runtime failures
// jexl.ErrEvaluation.
func (h *TargetingHelper) EvalJexl(expr string) (bool, error) {
	ctx := h.ctx
	return jexl.Evaluate(expr, &ctx)
}
