package provider

import (
	"encoding/json"
	"strings"
)

// OpenAIAdapter extracts thinking/text/tool_calls from the
// OpenAI-compatible chat-completions wire format, including the
// reasoning_content extension used by reasoning-capable models.
type OpenAIAdapter struct{}

func NewOpenAIAdapter() *OpenAIAdapter { return &OpenAIAdapter{} }

func (a *OpenAIAdapter) Name() Name { return OpenAI }

type openAIResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content          string               `json:"content"`
			ReasoningContent string               `json:"reasoning_content"`
			ToolCalls        []openAIToolCallWire `json:"tool_calls"`
		} `json:"message"`
	} `json:"choices"`
}

type openAIToolCallWire struct {
	ID       string `json:"id"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

func (a *OpenAIAdapter) ExtractBuffered(body []byte) Extraction {
	var resp openAIResponse
	if err := json.Unmarshal(body, &resp); err != nil || len(resp.Choices) == 0 {
		return Extraction{Provider: OpenAI}
	}

	msg := resp.Choices[0].Message
	ext := Extraction{
		Provider:   OpenAI,
		Model:      resp.Model,
		Text:       msg.Content,
		Confidence: 1.0,
	}
	if msg.ReasoningContent != "" {
		ext.Thinking = msg.ReasoningContent
		ext.HasThinking = true
	}
	for _, tc := range msg.ToolCalls {
		var args map[string]any
		_ = json.Unmarshal([]byte(tc.Function.Arguments), &args)
		ext.ToolCalls = append(ext.ToolCalls, ToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: args})
	}
	return ext
}

func (a *OpenAIAdapter) NewStreamAccumulator() StreamAccumulator {
	return &openAIStreamAccumulator{toolCalls: make(map[int]*openAIStreamToolCall)}
}

type openAIStreamToolCall struct {
	id   string
	name strings.Builder
	args strings.Builder
}

type openAIStreamAccumulator struct {
	model     string
	text      strings.Builder
	thinking  strings.Builder
	toolOrder []int
	toolCalls map[int]*openAIStreamToolCall
}

type openAISSEChunk struct {
	Model   string `json:"model"`
	Choices []struct {
		Delta struct {
			Content          string `json:"content"`
			ReasoningContent string `json:"reasoning_content"`
			ToolCalls        []struct {
				Index    int    `json:"index"`
				ID       string `json:"id"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"delta"`
	} `json:"choices"`
}

func (s *openAIStreamAccumulator) Feed(line []byte) bool {
	data, ok := sseData(line)
	if !ok {
		return isDoneSentinel(line)
	}

	var chunk openAISSEChunk
	if err := json.Unmarshal(data, &chunk); err != nil {
		return false
	}
	if chunk.Model != "" {
		s.model = chunk.Model
	}
	if len(chunk.Choices) == 0 {
		return false
	}

	delta := chunk.Choices[0].Delta
	s.text.WriteString(delta.Content)
	s.thinking.WriteString(delta.ReasoningContent)

	for _, tc := range delta.ToolCalls {
		call, ok := s.toolCalls[tc.Index]
		if !ok {
			call = &openAIStreamToolCall{id: tc.ID}
			s.toolCalls[tc.Index] = call
			s.toolOrder = append(s.toolOrder, tc.Index)
		}
		call.name.WriteString(tc.Function.Name)
		call.args.WriteString(tc.Function.Arguments)
	}
	return false
}

func (s *openAIStreamAccumulator) Result() Extraction {
	ext := Extraction{Provider: OpenAI, Model: s.model, Text: s.text.String(), Confidence: 1.0}
	if s.thinking.Len() > 0 {
		ext.Thinking = s.thinking.String()
		ext.HasThinking = true
	}
	for _, idx := range s.toolOrder {
		call := s.toolCalls[idx]
		var args map[string]any
		_ = json.Unmarshal([]byte(call.args.String()), &args)
		ext.ToolCalls = append(ext.ToolCalls, ToolCall{ID: call.id, Name: call.name.String(), Arguments: args})
	}
	return ext
}

// InjectReasoningConfig sets the GPT-5-family reasoning_effort field.
func (a *OpenAIAdapter) InjectReasoningConfig(body map[string]any) {
	body["reasoning_effort"] = "medium"
}

// InjectNudges prepends a role:"system" message to the messages array.
func (a *OpenAIAdapter) InjectNudges(body map[string]any, notices []string) {
	if len(notices) == 0 {
		return
	}
	messages, _ := body["messages"].([]any)
	nudgeMsg := map[string]any{"role": "system", "content": strings.Join(notices, "\n")}
	body["messages"] = append([]any{nudgeMsg}, messages...)
}

func isDoneSentinel(line []byte) bool {
	trimmed := strings.TrimSpace(string(line))
	return strings.TrimSpace(strings.TrimPrefix(trimmed, "data:")) == "[DONE]"
}
