package narrative

import "testing"

func TestNarrative_Validate_EmptyToc(t *testing.T) {
	n := &Narrative{Acts: map[string]Act{"a": {Prompt: "hi"}}}
	err := n.Validate()
	if err == nil {
		t.Fatal("expected EmptyToc error")
	}
	var ne *Error
	if ne, _ = err.(*Error); ne == nil || ne.Kind != ErrEmptyToc {
		t.Fatalf("got %v, want ErrEmptyToc", err)
	}
}

func TestNarrative_Validate_MissingAct(t *testing.T) {
	n := &Narrative{TOC: []string{"a", "b"}, Acts: map[string]Act{"a": {Prompt: "hi"}}}
	err := n.Validate()
	ne, ok := err.(*Error)
	if !ok || ne.Kind != ErrMissingAct {
		t.Fatalf("got %v, want ErrMissingAct", err)
	}
}

func TestNarrative_Validate_EmptyPrompt(t *testing.T) {
	n := &Narrative{TOC: []string{"a"}, Acts: map[string]Act{"a": {Prompt: "   "}}}
	err := n.Validate()
	ne, ok := err.(*Error)
	if !ok || ne.Kind != ErrEmptyPrompt {
		t.Fatalf("got %v, want ErrEmptyPrompt", err)
	}
}

func TestNarrative_Validate_OK(t *testing.T) {
	n := &Narrative{TOC: []string{"a", "b"}, Acts: map[string]Act{
		"a": {Prompt: "Say ok"},
		"b": {Prompt: "Echo: {{act.a.response}}"},
	}}
	if err := n.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestNarrativeExecution_AppendAssignsSequence(t *testing.T) {
	var exec NarrativeExecution
	exec.Append(ActExecution{ActName: "a", TokenUsageInput: 10, TokenUsageOutput: 5})
	exec.Append(ActExecution{ActName: "b", TokenUsageInput: 3, TokenUsageOutput: 2})

	for i, ae := range exec.ActExecutions {
		if ae.SequenceNumber != i {
			t.Fatalf("act %d has sequence number %d", i, ae.SequenceNumber)
		}
	}
	if got := exec.ActNames(); got[0] != "a" || got[1] != "b" {
		t.Fatalf("ActNames = %v", got)
	}
	if exec.TotalInputTokens != 13 || exec.TotalOutputTokens != 7 {
		t.Fatalf("unexpected totals: %+v", exec)
	}
}
