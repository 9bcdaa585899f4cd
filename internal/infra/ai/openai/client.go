package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	domain "github.com/sitejournal/compliance/internal/domain/analysis"
	"github.com/sitejournal/compliance/internal/infra/ai/prompt"
)

const maxTokens = 2048

// Client adapts the OpenAI chat API to the analysis Provider port. One
// Analyze call is one attempt: the per-attempt timeout lives here, the retry
// loop lives in the worker.
type Client struct {
	api            *openai.Client
	Model          string
	AttemptTimeout time.Duration
}

func NewClient(apiKey, model string, attemptTimeout time.Duration) *Client {
	if attemptTimeout <= 0 {
		attemptTimeout = 60 * time.Second
	}
	return &Client{api: openai.NewClient(apiKey), Model: model, AttemptTimeout: attemptTimeout}
}

func (c *Client) Analyze(ctx context.Context, doc domain.Document) (string, *domain.Verdict, []domain.NonCompliance, error) {
	model := c.Model
	if model == "" {
		model = "o3-2025-04-16"
	}
	req := openai.ChatCompletionRequest{
		Model: model,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: prompt.GetSystemPrompt()},
			{Role: openai.ChatMessageRoleUser, Content: prompt.GetUserPrompt(doc.URL)},
		},
	}
	// For reasoning models (o1/o3/o4/gpt-5*) use MaxCompletionTokens instead of MaxTokens
	if strings.HasPrefix(model, "o1") || strings.HasPrefix(model, "o3") || strings.HasPrefix(model, "o4") || strings.HasPrefix(model, "gpt-5") {
		req.MaxCompletionTokens = maxTokens
	} else {
		req.MaxTokens = maxTokens
	}

	ctx, cancel := context.WithTimeout(ctx, c.AttemptTimeout)
	defer cancel()

	resp, err := c.api.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", nil, nil, Classify(err)
	}
	if len(resp.Choices) == 0 {
		return "", nil, nil, &domain.ProviderError{
			Kind: domain.FailureTransient,
			Err:  errors.New("empty completion response"),
		}
	}

	raw := resp.Choices[0].Message.Content
	v, nc, err := parseVerdict(raw)
	if err != nil {
		// The provider was reached; retrying replays the same malformed
		// answer at full cost. Raw output still goes back for audit.
		return raw, nil, nil, &domain.ProviderError{Kind: domain.FailurePermanent, Err: err}
	}
	return raw, v, nc, nil
}

func parseVerdict(raw string) (*domain.Verdict, []domain.NonCompliance, error) {
	var rep prompt.Report
	if err := json.Unmarshal([]byte(raw), &rep); err != nil {
		return nil, nil, errors.New("unparseable provider response: " + err.Error())
	}
	v := &domain.Verdict{Compliant: rep.Compliant, Summary: rep.Summary}
	nc := make([]domain.NonCompliance, 0, len(rep.NonCompliances))
	for _, f := range rep.NonCompliances {
		nc = append(nc, domain.NonCompliance{
			Issue:          f.Issue,
			Severity:       f.Severity,
			Requirement:    f.Requirement,
			Recommendation: f.Recommendation,
		})
	}
	return v, nc, nil
}

// Classify maps transport/API errors onto the retry taxonomy: timeouts,
// rate limits and 5xx are transient; other API rejections are permanent.
func Classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &domain.ProviderError{Kind: domain.FailureTransient, Err: err}
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		kind := domain.FailurePermanent
		if apiErr.HTTPStatusCode == 429 || apiErr.HTTPStatusCode >= 500 {
			kind = domain.FailureTransient
		}
		return &domain.ProviderError{Kind: kind, StatusCode: apiErr.HTTPStatusCode, Err: err}
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		kind := domain.FailurePermanent
		if reqErr.HTTPStatusCode == 429 || reqErr.HTTPStatusCode >= 500 || reqErr.HTTPStatusCode == 0 {
			kind = domain.FailureTransient
		}
		return &domain.ProviderError{Kind: kind, StatusCode: reqErr.HTTPStatusCode, Err: err}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return &domain.ProviderError{Kind: domain.FailureTransient, Err: err}
	}

	return &domain.ProviderError{Kind: domain.FailureTransient, Err: err}
}
