package actor

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/veridianlabs/storycore/internal/classify"
)

type fakeSkill struct {
	name string
	desc string
	run  func(ctx context.Context, sctx *SkillContext) (SkillOutput, error)
}

func (f *fakeSkill) Name() string        { return f.name }
func (f *fakeSkill) Description() string { return f.desc }
func (f *fakeSkill) Execute(ctx context.Context, sctx *SkillContext) (SkillOutput, error) {
	return f.run(ctx, sctx)
}

func TestRegistry_ExecuteRunsRegisteredSkill(t *testing.T) {
	r := NewRegistry()
	r.Register(&fakeSkill{name: "echo", desc: "echoes config", run: func(ctx context.Context, sctx *SkillContext) (SkillOutput, error) {
		return SkillOutput{SkillName: "echo", Data: json.RawMessage(`{"ok":true}`)}, nil
	}})

	out, err := r.Execute(context.Background(), "echo", &SkillContext{})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if out.SkillName != "echo" {
		t.Fatalf("unexpected output: %+v", out)
	}
}

func TestRegistry_ExecuteUnknownSkillFails(t *testing.T) {
	r := NewRegistry()
	_, err := r.Execute(context.Background(), "missing", &SkillContext{})
	if !classify.Is(err, classify.KindToolNotFound) {
		t.Fatalf("expected KindToolNotFound, got %v", err)
	}
}

func TestRegistry_ListReportsEveryRegisteredSkill(t *testing.T) {
	r := NewRegistry()
	r.Register(&fakeSkill{name: "a", desc: "first"})
	r.Register(&fakeSkill{name: "b", desc: "second"})
	if r.Len() != 2 {
		t.Fatalf("expected 2 registered skills, got %d", r.Len())
	}
	infos := r.List()
	names := map[string]bool{}
	for _, info := range infos {
		names[info.Name] = true
	}
	if !names["a"] || !names["b"] {
		t.Fatalf("expected both skills listed, got %+v", infos)
	}
}
