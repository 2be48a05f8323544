package provider

import (
	"encoding/json"
	"strings"
)

// GeminiAdapter extracts thinking/text/functionCall parts from the
// Gemini generateContent wire format.
type GeminiAdapter struct{}

func NewGeminiAdapter() *GeminiAdapter { return &GeminiAdapter{} }

func (a *GeminiAdapter) Name() Name { return Gemini }

type geminiResponse struct {
	ModelVersion string `json:"modelVersion"`
	Candidates   []struct {
		Content struct {
			Parts []geminiPart `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

type geminiPart struct {
	Thought      bool           `json:"thought"`
	Text         string         `json:"text"`
	FunctionCall *geminiFuncCall `json:"functionCall,omitempty"`
}

type geminiFuncCall struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

func (a *GeminiAdapter) ExtractBuffered(body []byte) Extraction {
	var resp geminiResponse
	if err := json.Unmarshal(body, &resp); err != nil || len(resp.Candidates) == 0 {
		return Extraction{Provider: Gemini}
	}

	var thinkingParts, textParts []string
	var tools []ToolCall

	for _, part := range resp.Candidates[0].Content.Parts {
		switch {
		case part.Thought && part.Text != "":
			thinkingParts = append(thinkingParts, part.Text)
		case part.FunctionCall != nil:
			tools = append(tools, ToolCall{Name: part.FunctionCall.Name, Arguments: part.FunctionCall.Args})
		case part.Text != "":
			textParts = append(textParts, part.Text)
		}
	}

	ext := Extraction{Provider: Gemini, Model: resp.ModelVersion, Text: strings.Join(textParts, ""), ToolCalls: tools, Confidence: 1.0}
	if len(thinkingParts) > 0 {
		ext.Thinking = strings.Join(thinkingParts, "")
		ext.HasThinking = true
	}
	return ext
}

func (a *GeminiAdapter) NewStreamAccumulator() StreamAccumulator {
	return &geminiStreamAccumulator{}
}

type geminiStreamAccumulator struct {
	model    string
	thinking strings.Builder
	text     strings.Builder
	tools    []ToolCall
}

func (s *geminiStreamAccumulator) Feed(line []byte) bool {
	data, ok := sseData(line)
	if !ok {
		return isDoneSentinel(line)
	}

	var resp geminiResponse
	if err := json.Unmarshal(data, &resp); err != nil || len(resp.Candidates) == 0 {
		return false
	}
	if resp.ModelVersion != "" {
		s.model = resp.ModelVersion
	}
	for _, part := range resp.Candidates[0].Content.Parts {
		switch {
		case part.Thought && part.Text != "":
			s.thinking.WriteString(part.Text)
		case part.FunctionCall != nil:
			s.tools = append(s.tools, ToolCall{Name: part.FunctionCall.Name, Arguments: part.FunctionCall.Args})
		case part.Text != "":
			s.text.WriteString(part.Text)
		}
	}
	return false
}

func (s *geminiStreamAccumulator) Result() Extraction {
	ext := Extraction{Provider: Gemini, Model: s.model, Text: s.text.String(), ToolCalls: s.tools, Confidence: 1.0}
	if s.thinking.Len() > 0 {
		ext.Thinking = s.thinking.String()
		ext.HasThinking = true
	}
	return ext
}

// InjectReasoningConfig sets Gemini's thinkingConfig. Gemini 3 uses
// thinkingLevel; Gemini 2.5 uses thinkingBudget/includeThoughts. Both
// are set; the upstream ignores fields it doesn't recognise.
func (a *GeminiAdapter) InjectReasoningConfig(body map[string]any) {
	genConfig, _ := body["generationConfig"].(map[string]any)
	if genConfig == nil {
		genConfig = map[string]any{}
	}
	genConfig["thinkingConfig"] = map[string]any{
		"thinkingBudget":  16384,
		"includeThoughts": true,
		"thinkingLevel":   "HIGH",
	}
	body["generationConfig"] = genConfig
}

// InjectNudges is a documented no-op for Gemini: nudge injection
// assumes a chat-style system/role message, which Gemini's content
// format does not cleanly support. Preserved rather than fixed.
func (a *GeminiAdapter) InjectNudges(body map[string]any, notices []string) {}
