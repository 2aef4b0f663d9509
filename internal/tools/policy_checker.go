package tools

import (
	"encoding/json"
	"fmt"

	"github.com/smartassist/smartassist/internal/safety"
)

// PolicyChecker adapts a safety.Policy into the executor's SafetyChecker
// contract. Any Block-action match rejects the call; Review-action
// matches are logged by the caller (via Matches) but never block on
// their own, since no human-review queue is wired in yet. Warn matches
// are informational only.
type PolicyChecker struct {
	policy *safety.Policy
	logger matchLogger
}

// matchLogger is the minimal logging surface PolicyChecker needs; kept
// as an interface so callers can plug in *slog.Logger without this
// package importing log/slog just for one call site.
type matchLogger interface {
	Warn(msg string, args ...any)
}

// NewPolicyChecker wraps policy as a SafetyChecker. logger may be nil,
// in which case non-blocking matches are simply dropped rather than
// logged.
func NewPolicyChecker(policy *safety.Policy, logger matchLogger) *PolicyChecker {
	return &PolicyChecker{policy: policy, logger: logger}
}

func (c *PolicyChecker) CheckInput(name string, args json.RawMessage) error {
	return c.check(name, "input", string(args))
}

func (c *PolicyChecker) CheckOutput(name string, output string) (string, error) {
	if err := c.check(name, "output", output); err != nil {
		return "", err
	}
	return output, nil
}

func (c *PolicyChecker) check(name, direction, text string) error {
	matches := c.policy.Check(text)
	if len(matches) == 0 {
		return nil
	}

	if c.logger != nil {
		for _, m := range matches {
			if m.Action != safety.ActionBlock {
				c.logger.Warn("safety policy match", "tool", name, "direction", direction, "rule", m.Rule, "severity", m.Severity, "action", m.Action)
			}
		}
	}

	if safety.HasAction(matches, safety.ActionBlock) {
		return fmt.Errorf("%s %s violates safety policy", name, direction)
	}
	return nil
}
