// Package analysismodel wraps the second-model call the integrity
// engine makes to judge a captured thinking block. It is kept separate
// from pkg/integrity so that package has no dependency on a concrete
// model SDK — it only needs the AnalysisClient interface.
package analysismodel

import (
	"context"
	"fmt"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// CallTimeout bounds a single analysis call. The engine must fail open
// quickly if the analysis model is slow or unavailable, so this is
// deliberately short relative to a typical chat completion.
const CallTimeout = 8000 * time.Millisecond

// Client calls a fixed Anthropic model as the analysis model, with a
// hard timeout and no retries — retrying would only delay the fail
// open the integrity engine depends on.
type Client struct {
	api       anthropic.Client
	model     anthropic.Model
	maxTokens int64
}

// New constructs a Client from an API key and model name. An empty
// apiKey is valid and yields a client whose calls always fail,
// relying on the engine's fail-open path — this lets the gateway run
// with integrity analysis unconfigured rather than refusing to start.
func New(apiKey, model string) *Client {
	opts := []option.RequestOption{option.WithMaxRetries(0)}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	return &Client{
		api:       anthropic.NewClient(opts...),
		model:     anthropic.Model(model),
		maxTokens: 1024,
	}
}

// Complete sends the system/user prompt pair to the analysis model and
// returns the raw text of its reply. Callers are expected to parse the
// reply themselves (see pkg/integrity.ParseVerdict) since the analysis
// model is asked for JSON in prose, not tool-call structured output.
func (c *Client) Complete(ctx context.Context, systemPrompt, userPrompt string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, CallTimeout)
	defer cancel()

	msg, err := c.api.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("analysismodel: call failed: %w", err)
	}

	for _, block := range msg.Content {
		if text := block.AsAny(); text != nil {
			if tb, ok := text.(anthropic.TextBlock); ok && tb.Text != "" {
				return []byte(tb.Text), nil
			}
		}
	}
	return nil, fmt.Errorf("analysismodel: reply had no text content")
}
