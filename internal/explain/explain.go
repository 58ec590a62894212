// Package explain optionally rewrites the template signal explanation with an LLM.
package explain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"benji/internal/signal"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/rs/zerolog/log"
)

const (
	maxExplanationLen = 160
	systemPrompt      = "You write one-line trading alert blurbs. Keep the facts you are given, " +
		"never add price targets, stay under 20 words."
)

type LLMClient interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
}

type openAIClient struct {
	client openai.Client
	model  string
}

// NewOpenAIClient returns nil when apiKey is empty.
func NewOpenAIClient(apiKey, model string, opts ...option.RequestOption) LLMClient {
	if strings.TrimSpace(apiKey) == "" {
		return nil
	}
	if model == "" {
		model = string(openai.ChatModelGPT4oMini)
	}
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &openAIClient{client: openai.NewClient(opts...), model: model}
}

func (c *openAIClient) Complete(ctx context.Context, system, prompt string) (string, error) {
	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(prompt),
		},
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("chat completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// Explainer rewrites explanations through an LLMClient and falls back to the template text on
// any failure.
type Explainer struct {
	client  LLMClient
	timeout time.Duration
}

func NewExplainer(client LLMClient, timeout time.Duration) *Explainer {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Explainer{client: client, timeout: timeout}
}

func (e *Explainer) Explain(ctx context.Context, ticker string, s signal.Score, fallback string) string {
	if e == nil || e.client == nil {
		return fallback
	}
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	prompt := fmt.Sprintf("Ticker %s, direction %s, probability of profit %.1f%%, crowd sentiment %+.0f%%, "+
		"10-session momentum %+.1f%%. Draft: %q",
		ticker, s.Direction, s.PoP, s.Sentiment*100, s.Momentum*100, fallback)
	reply, err := e.client.Complete(ctx, systemPrompt, prompt)
	if err != nil {
		log.Debug().Err(err).Str("ticker", ticker).Msg("llm explanation failed, using template")
		return fallback
	}
	reply = strings.Join(strings.Fields(reply), " ")
	reply = strings.Trim(reply, `"`)
	if reply == "" {
		return fallback
	}
	if r := []rune(reply); len(r) > maxExplanationLen {
		reply = string(r[:maxExplanationLen])
	}
	return reply
}
