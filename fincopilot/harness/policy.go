package harness

import (
	"time"

	ports "github.com/ZanzyTHEbar/fincopilot/fincopilot/harness/ports"
)

// Drop reasons reported by the policy filter.
const (
	DropOverCap        = "over_cap"
	DropForbiddenPair  = "forbidden_pair"
	DropNotAppropriate = "not_appropriate"
)

// Policy controls which requested tool calls may run in one turn.
type Policy struct {
	MaxToolCalls int
	// ForbiddenPairs: when both [0] and [1] survive the cap, every [1] call is dropped.
	ForbiddenPairs [][2]string
	// EnforceAppropriateness drops baseline-dependent tools the user's history cannot support.
	EnforceAppropriateness bool
	ToolTimeout            time.Duration
	TurnTimeout            time.Duration
	ToolConcurrency        int
}

// DefaultPolicy returns the production limits.
func DefaultPolicy() *Policy {
	return &Policy{
		MaxToolCalls:           3,
		ForbiddenPairs:         [][2]string{{"predictMonthlySpending", "getSpendingTrends"}},
		EnforceAppropriateness: true,
		ToolTimeout:            15 * time.Second,
		TurnTimeout:            60 * time.Second,
		ToolConcurrency:        3,
	}
}

// ToolGate reports whether a tool suits the current user; reason explains a refusal.
type ToolGate func(toolName string) (ok bool, reason string)

// DroppedCall is a requested call removed by the filter.
type DroppedCall struct {
	Call   ports.ToolCall
	Reason string
	Detail string
}

// FilterResult splits requested calls into accepted and dropped, both in model order.
type FilterResult struct {
	Accepted []ports.ToolCall
	Dropped  []DroppedCall
}

// Filter applies the call cap, then forbidden pairs, then (optionally) the gate.
// Drops are silent to the user; callers log them.
func (p *Policy) Filter(requested []ports.ToolCall, gate ToolGate) FilterResult {
	var res FilterResult

	capped := requested
	if p.MaxToolCalls > 0 && len(capped) > p.MaxToolCalls {
		for _, c := range capped[p.MaxToolCalls:] {
			res.Dropped = append(res.Dropped, DroppedCall{Call: c, Reason: DropOverCap})
		}
		capped = capped[:p.MaxToolCalls]
	}

	present := make(map[string]bool, len(capped))
	for _, c := range capped {
		present[c.Name] = true
	}
	forbidden := make(map[string]string)
	for _, pair := range p.ForbiddenPairs {
		if present[pair[0]] && present[pair[1]] {
			forbidden[pair[1]] = pair[0]
		}
	}

	for _, c := range capped {
		if winner, ok := forbidden[c.Name]; ok {
			res.Dropped = append(res.Dropped, DroppedCall{Call: c, Reason: DropForbiddenPair, Detail: "conflicts with " + winner})
			continue
		}
		if p.EnforceAppropriateness && gate != nil {
			if ok, reason := gate(c.Name); !ok {
				res.Dropped = append(res.Dropped, DroppedCall{Call: c, Reason: DropNotAppropriate, Detail: reason})
				continue
			}
		}
		res.Accepted = append(res.Accepted, c)
	}
	return res
}
