package narrative

import (
	"os"

	"github.com/pelletier/go-toml"
)

// ParseFile reads and parses a narrative document from disk, returning every
// narrative it declares keyed by name. A document with a top-level
// [metadata] table declares exactly one narrative; a document whose
// top-level keys are themselves tables containing "metadata"/"toc"/"acts"
// declares one narrative per key (a multi-narrative document).
func ParseFile(path string) (map[string]*Narrative, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &Error{Kind: ErrFileRead, Detail: err.Error()}
	}
	return ParseBytes(data)
}

// ParseBytes parses a narrative document already loaded into memory.
func ParseBytes(data []byte) (map[string]*Narrative, error) {
	tree, err := toml.LoadBytes(data)
	if err != nil {
		return nil, &Error{Kind: ErrTomlParse, Detail: err.Error()}
	}

	if tree.Has("metadata") {
		n, err := parseOne(tree)
		if err != nil {
			return nil, err
		}
		return map[string]*Narrative{n.Metadata.Name: n}, nil
	}

	result := make(map[string]*Narrative)
	for _, key := range tree.Keys() {
		sub, ok := tree.Get(key).(*toml.Tree)
		if !ok || !sub.Has("metadata") {
			continue
		}
		n, err := parseOne(sub)
		if err != nil {
			return nil, err
		}
		name := n.Metadata.Name
		if name == "" {
			name = key
		}
		result[name] = n
	}
	if len(result) == 0 {
		return nil, &Error{Kind: ErrTomlParse, Detail: "document declares no narratives"}
	}
	return result, nil
}

// Select returns the narrative named by `name` from a parsed document,
// or the sole entry if name is empty and there is exactly one.
func Select(all map[string]*Narrative, name string) (*Narrative, error) {
	if name != "" {
		n, ok := all[name]
		if !ok {
			return nil, &Error{Kind: ErrNotFound, Detail: name}
		}
		return n, nil
	}
	if len(all) == 1 {
		for _, n := range all {
			return n, nil
		}
	}
	return nil, &Error{Kind: ErrNotFound, Detail: "no name given and document declares more than one narrative"}
}

func parseOne(tree *toml.Tree) (*Narrative, error) {
	n := &Narrative{Acts: make(map[string]Act)}

	meta, _ := tree.Get("metadata").(*toml.Tree)
	if meta == nil {
		return nil, &Error{Kind: ErrTomlParse, Detail: "missing [metadata]"}
	}
	n.Metadata = Metadata{
		Name:                  getString(meta, "name", ""),
		Description:           getString(meta, "description", ""),
		Template:              getString(meta, "template", ""),
		SkipContentGeneration: getBool(meta, "skip_content_generation", false),
	}

	tocTree, _ := tree.Get("toc").(*toml.Tree)
	if tocTree != nil {
		if order, ok := tocTree.Get("order").([]interface{}); ok {
			for _, v := range order {
				if s, ok := v.(string); ok {
					n.TOC = append(n.TOC, s)
				}
			}
		}
	}

	actsTree, _ := tree.Get("acts").(*toml.Tree)
	if actsTree != nil {
		for _, key := range actsTree.Keys() {
			actTree, ok := actsTree.Get(key).(*toml.Tree)
			if !ok {
				continue
			}
			act := Act{
				Prompt:           getString(actTree, "prompt", ""),
				Model:            getString(actTree, "model", ""),
				MaxTokens:        int(getInt(actTree, "max_tokens", 0)),
				ExtractionSchema: getString(actTree, "extraction_schema", ""),
			}
			if temp, ok := actTree.Get("temperature").(float64); ok {
				act.Temperature = &temp
			}
			if hints, ok := actTree.Get("processor_hints").([]interface{}); ok {
				for _, h := range hints {
					if s, ok := h.(string); ok {
						act.ProcessorHints = append(act.ProcessorHints, s)
					}
				}
			}
			n.Acts[key] = act
		}
	}

	if carouselTree, ok := tree.Get("carousel").(*toml.Tree); ok {
		c := &Carousel{Iterations: int(getInt(carouselTree, "iterations", 1))}
		if budgetTree, ok := carouselTree.Get("budget").(*toml.Tree); ok {
			c.Budget = &CarouselBudget{
				RPM: getFloat(budgetTree, "rpm", 1),
				TPM: getFloat(budgetTree, "tpm", 1),
				RPD: getFloat(budgetTree, "rpd", 1),
			}
		}
		n.Carousel = c
	}

	if err := n.Validate(); err != nil {
		return nil, err
	}
	return n, nil
}

func getString(t *toml.Tree, key, def string) string {
	if v, ok := t.Get(key).(string); ok {
		return v
	}
	return def
}

func getBool(t *toml.Tree, key string, def bool) bool {
	if v, ok := t.Get(key).(bool); ok {
		return v
	}
	return def
}

func getInt(t *toml.Tree, key string, def int64) int64 {
	switch v := t.Get(key).(type) {
	case int64:
		return v
	case float64:
		return int64(v)
	}
	return def
}

func getFloat(t *toml.Tree, key string, def float64) float64 {
	switch v := t.Get(key).(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	}
	return def
}
