package processor

import (
	"context"
	"regexp"
	"strings"
)

// FormatterProcessor normalizes whitespace and hashtag casing in an act's
// response text. It never writes to the repository itself; its summary, in
// the pipeline Result, is the normalized text. The Context other processors
// receive is unchanged, so they still see the original response.
type FormatterProcessor struct{}

func NewFormatterProcessor() *FormatterProcessor { return &FormatterProcessor{} }

func (f *FormatterProcessor) Name() string { return "formatter" }

func (f *FormatterProcessor) ShouldProcess(_ context.Context, pctx Context) bool {
	return strings.TrimSpace(pctx.ActExecution.Response) != ""
}

var (
	collapseWhitespace = regexp.MustCompile(`[ \t]{2,}`)
	blankLines         = regexp.MustCompile(`\n{3,}`)
	hashtag            = regexp.MustCompile(`#[A-Za-z][A-Za-z0-9_]*`)
)

func (f *FormatterProcessor) Process(_ context.Context, pctx Context) (any, error) {
	text := pctx.ActExecution.Response
	text = collapseWhitespace.ReplaceAllString(text, " ")
	text = blankLines.ReplaceAllString(text, "\n\n")
	text = hashtag.ReplaceAllStringFunc(text, func(tag string) string {
		return "#" + strings.ToLower(tag[1:])
	})
	return strings.TrimSpace(text), nil
}
