// Package models holds the provider-agnostic message and content types shared
// by the driver, narrative executor, and agent loop.
package models

import "encoding/json"

// Role identifies the speaker of a Message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// SourceKind tags how a MediaSource's bytes are carried.
type SourceKind string

const (
	SourceURL    SourceKind = "url"
	SourceBase64 SourceKind = "base64"
	SourceBytes  SourceKind = "bytes"
)

// MediaSource is a tagged union over the three ways media bytes can travel
// through a request: a remote URL, a base64 string, or a raw buffer.
type MediaSource struct {
	Kind   SourceKind
	URL    string
	Base64 string
	Bytes  []byte
}

func NewURLSource(url string) MediaSource       { return MediaSource{Kind: SourceURL, URL: url} }
func NewBase64Source(b64 string) MediaSource    { return MediaSource{Kind: SourceBase64, Base64: b64} }
func NewBytesSource(data []byte) MediaSource    { return MediaSource{Kind: SourceBytes, Bytes: data} }

// InputKind tags the variant carried by an Input.
type InputKind string

const (
	InputText       InputKind = "text"
	InputImage      InputKind = "image"
	InputAudio      InputKind = "audio"
	InputVideo      InputKind = "video"
	InputDocument   InputKind = "document"
	InputBotCommand InputKind = "bot_command"
	InputTable      InputKind = "table"
	InputNarrative  InputKind = "narrative"
)

// Input is one element of a Message's content list. Exactly the fields
// relevant to Kind are populated; callers should switch on Kind rather than
// probing fields directly.
type Input struct {
	Kind InputKind

	// InputText
	Text string

	// InputImage / InputAudio / InputVideo / InputDocument
	MIME     string
	Source   MediaSource
	Filename string

	// InputBotCommand
	CommandName string
	CommandArgs map[string]any

	// InputTable
	TableName   string
	TableFilter map[string]any
	TableLimit  int

	// InputNarrative
	NarrativePath string
	NarrativeName string
}

func TextInput(text string) Input { return Input{Kind: InputText, Text: text} }

// OutputKind tags the variant carried by an Output.
type OutputKind string

const (
	OutputText      OutputKind = "text"
	OutputImage     OutputKind = "image"
	OutputAudio     OutputKind = "audio"
	OutputVideo     OutputKind = "video"
	OutputEmbedding OutputKind = "embedding"
	OutputJSON      OutputKind = "json"
	OutputToolCalls OutputKind = "tool_calls"
)

// Output is one element of a GenerateResponse.
type Output struct {
	Kind      OutputKind
	Text      string
	MIME      string
	Source    MediaSource
	Embedding []float32
	JSON      json.RawMessage
	ToolCalls []ToolCall
}

// ToolCall is a model-requested invocation of a registered tool.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolResult is the outcome of executing a ToolCall.
type ToolResult struct {
	ID      string          `json:"id"`
	Output  json.RawMessage `json:"output"`
	IsError bool            `json:"is_error"`
}

// Message is one turn of a conversation. ToolCalls is set on an assistant
// message that requested tool invocations; ToolResults is set on the
// follow-up message reporting their outcomes back to the driver.
type Message struct {
	Role        Role
	Content     []Input
	ToolCalls   []ToolCall   `json:"tool_calls,omitempty"`
	ToolResults []ToolResult `json:"tool_results,omitempty"`
}

func NewTextMessage(role Role, text string) Message {
	return Message{Role: role, Content: []Input{TextInput(text)}}
}

// FinishReason describes why a generation stopped.
type FinishReason string

const (
	FinishStop          FinishReason = "stop"
	FinishLength        FinishReason = "length"
	FinishStopSequence  FinishReason = "stop_sequence"
	FinishToolUse       FinishReason = "tool_use"
	FinishContentFilter FinishReason = "content_filter"
	FinishOther         FinishReason = "other"
)

// TokenUsage records input/output token counts for one call.
type TokenUsage struct {
	InputTokens  int
	OutputTokens int
}

func (u TokenUsage) Total() int { return u.InputTokens + u.OutputTokens }

// GenerateRequest is the uniform request shape passed to a Driver.
type GenerateRequest struct {
	Messages    []Message
	Tools       []ToolSchema
	Model       string
	MaxTokens   int
	Temperature *float64
}

// ToolSchema is the tool description surfaced to the model inside a
// GenerateRequest; it mirrors the registry-facing Tool interface in the
// agent package without importing it (models has no upward dependencies).
type ToolSchema struct {
	Name        string
	Description string
	InputSchema json.RawMessage
}

// GenerateResponse is the uniform response shape returned by a Driver.
type GenerateResponse struct {
	Outputs      []Output
	FinishReason FinishReason
	Usage        TokenUsage
}

// StreamChunk is one increment of a streamed generation.
type StreamChunk struct {
	Content      Output
	IsFinal      bool
	FinishReason FinishReason
	Usage        TokenUsage
}

// CollapseStream accumulates a sequence of StreamChunks into the equivalent
// non-streaming GenerateResponse, per the driver contract that a non-final
// chunk sequence must be convertible to an accumulated response.
func CollapseStream(chunks []StreamChunk) GenerateResponse {
	var resp GenerateResponse
	var textBuf string
	flushText := func() {
		if textBuf != "" {
			resp.Outputs = append(resp.Outputs, Output{Kind: OutputText, Text: textBuf})
			textBuf = ""
		}
	}
	for _, c := range chunks {
		if c.Content.Kind == OutputText {
			textBuf += c.Content.Text
		} else {
			flushText()
			resp.Outputs = append(resp.Outputs, c.Content)
		}
		resp.Usage.InputTokens += c.Usage.InputTokens
		resp.Usage.OutputTokens += c.Usage.OutputTokens
		if c.IsFinal && c.FinishReason != "" {
			resp.FinishReason = c.FinishReason
		}
	}
	flushText()
	if resp.FinishReason == "" {
		resp.FinishReason = FinishStop
	}
	return resp
}
