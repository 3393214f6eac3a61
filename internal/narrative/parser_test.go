package narrative

import "testing"

const twoActDoc = `
[metadata]
name = "greeting"
description = "a two-act greeting narrative"

[toc]
order = ["a", "b"]

[acts.a]
prompt = "Say ok"
model = "stub-model"

[acts.b]
prompt = "Echo: {{act.a.response}}"
`

func TestParseBytes_TwoActNarrative(t *testing.T) {
	all, err := ParseBytes([]byte(twoActDoc))
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	n, err := Select(all, "")
	if err != nil {
		t.Fatalf("select error: %v", err)
	}
	if n.Metadata.Name != "greeting" {
		t.Fatalf("name = %q", n.Metadata.Name)
	}
	if len(n.TOC) != 2 || n.TOC[0] != "a" || n.TOC[1] != "b" {
		t.Fatalf("toc = %v", n.TOC)
	}
	if n.Acts["a"].Prompt != "Say ok" {
		t.Fatalf("act a prompt = %q", n.Acts["a"].Prompt)
	}
	if n.Acts["a"].Model != "stub-model" {
		t.Fatalf("act a model = %q", n.Acts["a"].Model)
	}
}

func TestParseBytes_EmptyToc(t *testing.T) {
	doc := `
[metadata]
name = "broken"

[toc]
order = []
`
	_, err := ParseBytes([]byte(doc))
	ne, ok := err.(*Error)
	if !ok || ne.Kind != ErrEmptyToc {
		t.Fatalf("got %v, want ErrEmptyToc", err)
	}
}

func TestParseBytes_Carousel(t *testing.T) {
	doc := twoActDoc + `
[carousel]
iterations = 3

[carousel.budget]
rpm = 0.5
tpm = 0.5
rpd = 1.0
`
	all, err := ParseBytes([]byte(doc))
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	n, _ := Select(all, "greeting")
	if n.Carousel == nil || n.Carousel.Iterations != 3 {
		t.Fatalf("carousel = %+v", n.Carousel)
	}
	if n.Carousel.Budget == nil || n.Carousel.Budget.RPM != 0.5 {
		t.Fatalf("carousel budget = %+v", n.Carousel.Budget)
	}
}

func TestSelect_AmbiguousWithoutName(t *testing.T) {
	doc := `
[narrative_one.metadata]
name = "one"
[narrative_one.toc]
order = ["a"]
[narrative_one.acts.a]
prompt = "hi"

[narrative_two.metadata]
name = "two"
[narrative_two.toc]
order = ["a"]
[narrative_two.acts.a]
prompt = "hi"
`
	all, err := ParseBytes([]byte(doc))
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 narratives, got %d", len(all))
	}
	if _, err := Select(all, ""); err == nil {
		t.Fatal("expected ambiguity error when selecting without a name")
	}
	n, err := Select(all, "two")
	if err != nil || n.Metadata.Name != "two" {
		t.Fatalf("select by name failed: %v, %+v", err, n)
	}
}
