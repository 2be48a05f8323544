package provider

import (
	"encoding/json"
	"strings"
)

// AnthropicAdapter extracts thinking/text/tool_use blocks from the
// Anthropic Messages API wire format.
type AnthropicAdapter struct{}

func NewAnthropicAdapter() *AnthropicAdapter { return &AnthropicAdapter{} }

func (a *AnthropicAdapter) Name() Name { return Anthropic }

type anthropicResponse struct {
	Model   string                   `json:"model"`
	Content []anthropicContentBlock  `json:"content"`
}

type anthropicContentBlock struct {
	Type  string         `json:"type"`
	Text  string         `json:"text,omitempty"`
	Thinking string      `json:"thinking,omitempty"`
	ID    string         `json:"id,omitempty"`
	Name  string         `json:"name,omitempty"`
	Input map[string]any `json:"input,omitempty"`
}

func (a *AnthropicAdapter) ExtractBuffered(body []byte) Extraction {
	var resp anthropicResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return Extraction{Provider: Anthropic}
	}

	var thinkingParts, textParts []string
	var tools []ToolCall

	for _, block := range resp.Content {
		switch block.Type {
		case "thinking":
			thinkingParts = append(thinkingParts, block.Thinking)
		case "text":
			textParts = append(textParts, block.Text)
		case "tool_use":
			tools = append(tools, ToolCall{ID: block.ID, Name: block.Name, Arguments: block.Input})
		}
	}

	ext := Extraction{
		Provider:    Anthropic,
		Model:       resp.Model,
		Text:        strings.Join(textParts, ""),
		ToolCalls:   tools,
		Confidence:  1.0,
	}
	if len(thinkingParts) > 0 {
		ext.Thinking = strings.Join(thinkingParts, "\n\n---\n\n")
		ext.HasThinking = true
	}
	return ext
}

func (a *AnthropicAdapter) NewStreamAccumulator() StreamAccumulator {
	return &anthropicStreamAccumulator{
		blocks: make(map[int]*anthropicStreamBlock),
	}
}

type anthropicStreamBlock struct {
	blockType   string
	toolName    string
	toolID      string
	thinking    strings.Builder
	text        strings.Builder
	partialJSON strings.Builder
}

type anthropicStreamAccumulator struct {
	blocks map[int]*anthropicStreamBlock
	order  []int
	model  string
}

type anthropicSSEEvent struct {
	Type  string `json:"type"`
	Index int    `json:"index"`
	ContentBlock struct {
		Type string `json:"type"`
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"content_block"`
	Delta struct {
		Type        string `json:"type"`
		Thinking    string `json:"thinking"`
		Text        string `json:"text"`
		PartialJSON string `json:"partial_json"`
	} `json:"delta"`
	Message struct {
		Model string `json:"model"`
	} `json:"message"`
}

func (s *anthropicStreamAccumulator) Feed(line []byte) bool {
	data, ok := sseData(line)
	if !ok {
		return false
	}

	var evt anthropicSSEEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		return false
	}

	switch evt.Type {
	case "message_start":
		s.model = evt.Message.Model
	case "content_block_start":
		blk := &anthropicStreamBlock{blockType: evt.ContentBlock.Type, toolName: evt.ContentBlock.Name, toolID: evt.ContentBlock.ID}
		s.blocks[evt.Index] = blk
		s.order = append(s.order, evt.Index)
	case "content_block_delta":
		blk, ok := s.blocks[evt.Index]
		if !ok {
			return false
		}
		switch evt.Delta.Type {
		case "thinking_delta":
			blk.thinking.WriteString(evt.Delta.Thinking)
		case "text_delta":
			blk.text.WriteString(evt.Delta.Text)
		case "input_json_delta":
			blk.partialJSON.WriteString(evt.Delta.PartialJSON)
		}
	case "content_block_stop":
		// tool input JSON is finalized lazily in Result()
	case "message_stop":
		return true
	}
	return false
}

func (s *anthropicStreamAccumulator) Result() Extraction {
	var thinkingParts, textParts []string
	var tools []ToolCall

	for _, idx := range s.order {
		blk := s.blocks[idx]
		switch blk.blockType {
		case "thinking":
			thinkingParts = append(thinkingParts, blk.thinking.String())
		case "text":
			textParts = append(textParts, blk.text.String())
		case "tool_use":
			var args map[string]any
			_ = json.Unmarshal([]byte(blk.partialJSON.String()), &args)
			tools = append(tools, ToolCall{ID: blk.toolID, Name: blk.toolName, Arguments: args})
		}
	}

	ext := Extraction{Provider: Anthropic, Model: s.model, Text: strings.Join(textParts, ""), ToolCalls: tools, Confidence: 1.0}
	if len(thinkingParts) > 0 {
		ext.Thinking = strings.Join(thinkingParts, "\n\n---\n\n")
		ext.HasThinking = true
	}
	return ext
}

// InjectReasoningConfig sets Anthropic's extended-thinking block.
func (a *AnthropicAdapter) InjectReasoningConfig(body map[string]any) {
	body["thinking"] = map[string]any{
		"type":          "enabled",
		"budget_tokens": 10000,
	}
}

// InjectNudges appends the nudge notice to Anthropic's top-level
// "system" string field.
func (a *AnthropicAdapter) InjectNudges(body map[string]any, notices []string) {
	if len(notices) == 0 {
		return
	}
	joined := strings.Join(notices, "\n")
	existing, _ := body["system"].(string)
	if existing == "" {
		body["system"] = joined
		return
	}
	body["system"] = existing + "\n\n" + joined
}

func sseData(line []byte) ([]byte, bool) {
	const prefix = "data:"
	trimmed := strings.TrimSpace(string(line))
	if !strings.HasPrefix(trimmed, prefix) {
		return nil, false
	}
	data := strings.TrimSpace(strings.TrimPrefix(trimmed, prefix))
	if data == "" || data == "[DONE]" {
		return nil, false
	}
	return []byte(data), true
}
