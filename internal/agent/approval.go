package agent

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// ApprovalDecision is the outcome of checking a tool call against policy.
type ApprovalDecision string

const (
	ApprovalAuto   ApprovalDecision = "auto"
	ApprovalPrompt ApprovalDecision = "prompt"
	ApprovalDeny   ApprovalDecision = "deny"
)

// ApprovalPolicy decides, per tool name, whether a call runs automatically,
// must be referred to a prompter, or is denied outright.
type ApprovalPolicy interface {
	Decide(toolName string) ApprovalDecision
}

type autoApprovePolicy struct{}

func (autoApprovePolicy) Decide(string) ApprovalDecision { return ApprovalAuto }

// AutoApprove lets every tool call run without approval.
var AutoApprove ApprovalPolicy = autoApprovePolicy{}

type allToolsRequireApprovalPolicy struct{}

func (allToolsRequireApprovalPolicy) Decide(string) ApprovalDecision { return ApprovalPrompt }

// AllToolsRequireApproval refers every tool call to the configured prompter.
var AllToolsRequireApproval ApprovalPolicy = allToolsRequireApprovalPolicy{}

type specificToolsPolicy struct {
	names map[string]bool
}

// SpecificTools refers only the named tools to the prompter; every other
// tool auto-approves.
func SpecificTools(names ...string) ApprovalPolicy {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return &specificToolsPolicy{names: set}
}

func (p *specificToolsPolicy) Decide(toolName string) ApprovalDecision {
	if p.names[toolName] {
		return ApprovalPrompt
	}
	return ApprovalAuto
}

// ApprovalRequest is the record created when a policy refers a tool call to
// a prompter.
type ApprovalRequest struct {
	ID          string
	ToolName    string
	Arguments   []byte
	RequestedAt time.Time
}

// Prompter decides a pending ApprovalRequest. Returning false denies it.
// A nil Prompter denies every prompted call, the fail-safe default.
type Prompter func(ctx context.Context, req *ApprovalRequest) (bool, error)

// ApprovalManager evaluates tool calls against a policy, referring
// ApprovalPrompt decisions to a Prompter and recording every request it
// creates.
type ApprovalManager struct {
	Policy   ApprovalPolicy
	Prompter Prompter

	mu       sync.RWMutex
	requests map[string]*ApprovalRequest

	idCounter atomic.Int64
}

func NewApprovalManager(policy ApprovalPolicy, prompter Prompter) *ApprovalManager {
	if policy == nil {
		policy = AutoApprove
	}
	return &ApprovalManager{
		Policy:   policy,
		Prompter: prompter,
		requests: make(map[string]*ApprovalRequest),
	}
}

// Check evaluates whether toolName with the given arguments may run.
func (m *ApprovalManager) Check(ctx context.Context, toolName string, args []byte) (approved bool, err error) {
	switch m.Policy.Decide(toolName) {
	case ApprovalAuto:
		return true, nil
	case ApprovalDeny:
		return false, nil
	case ApprovalPrompt:
		req := &ApprovalRequest{
			ID:          m.generateID(),
			ToolName:    toolName,
			Arguments:   args,
			RequestedAt: time.Now(),
		}
		m.mu.Lock()
		m.requests[req.ID] = req
		m.mu.Unlock()

		if m.Prompter == nil {
			return false, nil
		}
		return m.Prompter(ctx, req)
	default:
		return false, nil
	}
}

// ListRequests returns every approval request recorded so far, in no
// particular order.
func (m *ApprovalManager) ListRequests() []*ApprovalRequest {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*ApprovalRequest, 0, len(m.requests))
	for _, r := range m.requests {
		out = append(out, r)
	}
	return out
}

func (m *ApprovalManager) generateID() string {
	n := m.idCounter.Add(1)
	return fmt.Sprintf("apr_%d_%d", time.Now().UnixNano(), n)
}
