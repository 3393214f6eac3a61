package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/veridianlabs/storycore/internal/agent"
)

// buildApprovalManager returns the agent loop's approval manager for the
// configured mode. "auto" never prompts; "interactive" refers every tool
// call to a terminal prompter, falling back to denial when stdin isn't a
// TTY (a non-interactive run, e.g. under systemd, should fail closed rather
// than hang waiting for input that will never come).
func buildApprovalManager(mode string) *agent.ApprovalManager {
	if mode != "interactive" {
		return agent.NewApprovalManager(agent.AutoApprove, nil)
	}
	return agent.NewApprovalManager(agent.AllToolsRequireApproval, terminalPrompter)
}

var titleCaser = cases.Title(language.English)

func terminalPrompter(ctx context.Context, req *agent.ApprovalRequest) (bool, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return false, fmt.Errorf("approval_mode is interactive but stdin is not a terminal; denying %s", req.ToolName)
	}

	fmt.Fprintf(os.Stderr, "%s requests tool %q with arguments:\n%s\nAllow? [y/N] ",
		titleCaser.String("agent"), req.ToolName, req.Arguments)

	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return false, fmt.Errorf("read approval response: %w", err)
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes", nil
}
