package agent

import (
	"context"
	"testing"
)

func TestApprovalManager_AutoApproveAllowsEveryCall(t *testing.T) {
	m := NewApprovalManager(AutoApprove, nil)
	approved, err := m.Check(context.Background(), "search_web", nil)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !approved {
		t.Fatal("expected auto-approve policy to allow the call")
	}
}

func TestApprovalManager_AllToolsRequireApprovalDeniesWithoutPrompter(t *testing.T) {
	m := NewApprovalManager(AllToolsRequireApproval, nil)
	approved, err := m.Check(context.Background(), "delete_file", nil)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if approved {
		t.Fatal("expected a prompted call with no prompter to be denied")
	}
	if len(m.ListRequests()) != 1 {
		t.Fatalf("expected one recorded request, got %d", len(m.ListRequests()))
	}
}

func TestApprovalManager_AllToolsRequireApprovalDefersToPrompter(t *testing.T) {
	var seen *ApprovalRequest
	m := NewApprovalManager(AllToolsRequireApproval, func(ctx context.Context, req *ApprovalRequest) (bool, error) {
		seen = req
		return true, nil
	})
	approved, err := m.Check(context.Background(), "delete_file", []byte(`{"path":"/tmp/x"}`))
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !approved {
		t.Fatal("expected prompter approval to allow the call")
	}
	if seen == nil || seen.ToolName != "delete_file" {
		t.Fatalf("unexpected request seen by prompter: %+v", seen)
	}
}

func TestApprovalManager_SpecificToolsOnlyPromptsNamedTools(t *testing.T) {
	m := NewApprovalManager(SpecificTools("delete_file"), func(ctx context.Context, req *ApprovalRequest) (bool, error) {
		return false, nil
	})

	approved, err := m.Check(context.Background(), "search_web", nil)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !approved {
		t.Fatal("expected an unlisted tool to auto-approve")
	}

	approved, err = m.Check(context.Background(), "delete_file", nil)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if approved {
		t.Fatal("expected the listed tool to be denied by the prompter")
	}
}
