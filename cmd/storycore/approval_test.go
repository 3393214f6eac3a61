package main

import (
	"context"
	"testing"

	"github.com/veridianlabs/storycore/internal/agent"
)

func TestBuildApprovalManager_AutoModeApprovesWithoutPrompting(t *testing.T) {
	m := buildApprovalManager("auto")
	approved, err := m.Check(context.Background(), "search_web", nil)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !approved {
		t.Fatal("expected auto mode to approve every call")
	}
}

func TestBuildApprovalManager_InteractiveModePromptsEveryTool(t *testing.T) {
	m := buildApprovalManager("interactive")
	if m.Policy != agent.AllToolsRequireApproval {
		t.Fatal("expected interactive mode to refer every tool to the prompter")
	}
}

func TestTerminalPrompter_DeniesWhenStdinIsNotATerminal(t *testing.T) {
	// In a test binary stdin is never a TTY, so the prompter must fail
	// closed rather than block forever trying to read a response.
	approved, err := terminalPrompter(context.Background(), &agent.ApprovalRequest{ToolName: "delete_file"})
	if err == nil {
		t.Fatal("expected an error when stdin is not a terminal")
	}
	if approved {
		t.Fatal("expected denial when stdin is not a terminal")
	}
}
