// Package llmclient wraps eino ChatModel adapters behind the two call
// shapes the rest of the engine needs: a native chat turn for persona
// responses, and a JSON-structured call for extraction/classification
// prompts. Retry, response cleaning, and JSON repair live here so the
// queue processor only ever sees a parsed result or ok=false.
package llmclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"

	"github.com/eicompanion/ei/internal/apperrors"
)

// Retry constants for callWithRetry: jittered exponential backoff from 1s,
// doubling up to a 32s cap, with at most RetryMaxAttempts calls in total
// (the first call plus RetryMaxAttempts-1 retries).
const (
	RetryInitialInterval = time.Second
	RetryMaxInterval     = 32 * time.Second
	RetryMaxElapsedTime  = 2 * time.Minute
	RetryMaxAttempts     = 5
	RandomizationFactor  = 0.5
)

// ChatMsg mirrors types.ChatMsg as a parallel shape, so the Client
// contract's request types do not refer to pkg/types.
type ChatMsg struct {
	Role    string
	Content string
}

// ChatRequest is a native chat-format call for persona responses.
type ChatRequest struct {
	System      string
	Messages    []ChatMsg
	Model       string
	Temperature float64
	MaxTokens   int
}

// JSONRequest is a text-blob call for extraction/classification prompts
// that must return a single JSON value.
type JSONRequest struct {
	System      string
	User        string
	Model       string
	Temperature float64
	MaxTokens   int
}

// Client is the contract the queue processor and handlers depend on.
type Client interface {
	CallJSON(ctx context.Context, req JSONRequest) (json.RawMessage, error)
	CallChat(ctx context.Context, req ChatRequest) (string, error)
}

// ModelResolver returns the eino ChatModel backing a "provider:model"
// reference, so one Client can route calls across multiple configured
// providers.
type ModelResolver interface {
	Resolve(modelRef string) (model.ToolCallingChatModel, error)
}

// EinoClient is the Client implementation wrapping eino ChatModel adapters.
type EinoClient struct {
	resolver ModelResolver
}

// New constructs an EinoClient over the given resolver.
func New(resolver ModelResolver) *EinoClient {
	return &EinoClient{resolver: resolver}
}

func newRetryBackoff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = RetryInitialInterval
	b.MaxInterval = RetryMaxInterval
	b.MaxElapsedTime = RetryMaxElapsedTime
	b.RandomizationFactor = RandomizationFactor
	b.Multiplier = 2.0
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, RetryMaxAttempts-1), ctx)
}

// CallChat issues a native chat-format completion and returns the fully
// drained assistant text.
func (c *EinoClient) CallChat(ctx context.Context, req ChatRequest) (string, error) {
	cm, err := c.resolver.Resolve(req.Model)
	if err != nil {
		return "", &apperrors.LLMAuth{Cause: err}
	}

	messages := toEinoMessages(req.System, req.Messages)

	raw, err := c.callWithRetry(ctx, cm, messages, req.Temperature, req.MaxTokens)
	if err != nil {
		return "", err
	}
	return cleanResponse(raw), nil
}

// CallJSON issues a text-blob completion expected to return exactly one
// JSON value, attempting one repair retry on a parse failure.
func (c *EinoClient) CallJSON(ctx context.Context, req JSONRequest) (json.RawMessage, error) {
	cm, err := c.resolver.Resolve(req.Model)
	if err != nil {
		return nil, &apperrors.LLMAuth{Cause: err}
	}

	messages := toEinoMessages(req.System, []ChatMsg{{Role: "user", Content: req.User}})
	raw, err := c.callWithRetry(ctx, cm, messages, req.Temperature, req.MaxTokens)
	if err != nil {
		return nil, err
	}

	cleaned := cleanResponse(raw)
	if gjson.Valid(cleaned) {
		return json.RawMessage(cleaned), nil
	}

	log.Warn().Str("raw", truncate(cleaned, 200)).Msg("llmclient: response is not valid json, issuing repair retry")

	repairMessages := toEinoMessages(
		req.System,
		[]ChatMsg{
			{Role: "user", Content: req.User},
			{Role: "assistant", Content: cleaned},
			{Role: "user", Content: "That response was not valid JSON. Reply again with only a single valid JSON value for the same task, no surrounding text."},
		},
	)
	repaired, err := c.callWithRetry(ctx, cm, repairMessages, req.Temperature, req.MaxTokens)
	if err != nil {
		return nil, err
	}
	repairedCleaned := cleanResponse(repaired)
	if gjson.Valid(repairedCleaned) {
		return json.RawMessage(repairedCleaned), nil
	}

	return nil, &apperrors.LLMBadJSON{Raw: repairedCleaned, Cause: fmt.Errorf("response is not valid json after one repair attempt")}
}

// callWithRetry drains a stream, retrying transient failures with
// exponential backoff. Permanent failures (auth) are returned immediately
// without retry.
func (c *EinoClient) callWithRetry(ctx context.Context, cm model.ToolCallingChatModel, messages []*schema.Message, temperature float64, maxTokens int) (string, error) {
	rb := newRetryBackoff(ctx)
	var attempts int

	for {
		attempts++
		stream, err := cm.Stream(ctx, messages,
			model.WithTemperature(float32(temperature)),
			model.WithMaxTokens(maxTokens),
		)
		if err == nil {
			text, drainErr := drainStream(stream)
			stream.Close()
			if drainErr == nil {
				return text, nil
			}
			err = drainErr
		}

		if !isRetryableTransportError(err) {
			return "", classifyError(err)
		}

		next := rb.NextBackOff()
		if next == backoff.Stop {
			return "", &apperrors.LLMGiveUp{Attempts: attempts, Cause: err}
		}
		select {
		case <-ctx.Done():
			return "", &apperrors.LLMAborted{Cause: ctx.Err()}
		case <-time.After(next):
		}
	}
}

func drainStream(stream *schema.StreamReader[*schema.Message]) (string, error) {
	var sb strings.Builder
	for {
		chunk, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return "", err
		}
		sb.WriteString(chunk.Content)
	}
	return sb.String(), nil
}

func toEinoMessages(system string, turns []ChatMsg) []*schema.Message {
	messages := make([]*schema.Message, 0, len(turns)+1)
	if system != "" {
		messages = append(messages, &schema.Message{Role: schema.System, Content: system})
	}
	for _, t := range turns {
		role := schema.User
		if t.Role == "assistant" {
			role = schema.Assistant
		} else if t.Role == "system" {
			role = schema.System
		}
		messages = append(messages, &schema.Message{Role: role, Content: t.Content})
	}
	return messages
}

// thinkingWrapperRE strips reasoning/thinking wrappers some models emit
// before the actual answer, e.g. "<thinking>...</thinking><RESPONSE>...".
var thinkingWrapperRE = regexp.MustCompile(`(?is)^.*?</thinking>\s*(?:<RESPONSE>(.*?)</RESPONSE>|(.*))$`)

// cleanResponse strips known reasoning wrappers before the raw text is
// handed to a JSON parser or returned as chat content.
func cleanResponse(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if m := thinkingWrapperRE.FindStringSubmatch(trimmed); m != nil {
		if m[1] != "" {
			return strings.TrimSpace(m[1])
		}
		if m[2] != "" {
			return strings.TrimSpace(m[2])
		}
	}
	return trimmed
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}

func isRetryableTransportError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "401") || strings.Contains(msg, "unauthorized") || strings.Contains(msg, "invalid api key") {
		return false
	}
	return true
}

func classifyError(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "401") || strings.Contains(msg, "unauthorized") || strings.Contains(msg, "invalid api key") {
		return &apperrors.LLMAuth{Cause: err}
	}
	if strings.Contains(msg, "429") || strings.Contains(msg, "rate limit") {
		return &apperrors.LLMRateLimit{Cause: err}
	}
	return &apperrors.LLMNetwork{Cause: err}
}
