package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/cuemby/engram/pkg/errs"
	"github.com/cuemby/engram/pkg/types"
)

// ExtractionRequest is the Extractor's call into the external LLM: a
// rolling summary, the new messages since the last extraction, the
// owning project (empty for global sessions), and whether this is the
// session's first extraction.
type ExtractionRequest struct {
	PreviousSummary string
	Messages []types.Message
	Project string
	IsRoot bool
}

// RawCandidate is the LLM's unvalidated proposal for one memory —
// validated and clamped by pkg/extractor before it becomes a
// types.CandidateMemory.
type RawCandidate struct {
	Summary string `json:"summary"`
	FullContent string `json:"full_content"`
	Entities []string `json:"entities"`
	Importance string `json:"importance"`
	Scope string `json:"scope"`
}

// RawExtraction is the LLM's unvalidated full response.
type RawExtraction struct {
	Memories []RawCandidate `json:"memories"`
	UpdatedSummary string `json:"updated_summary"`
}

// Client is the seam to the external LLM.
type Client interface {
	Extract(ctx context.Context, req ExtractionRequest) (*RawExtraction, error)
}

const defaultCallTimeout = 45 * time.Second

// HTTPClient calls a chat-completions-shaped REST endpoint with a fixed
// JSON-schema prompt and parses the assistant's reply as RawExtraction.
type HTTPClient struct {
	baseURL string
	apiKey string
	model string
	httpClient *http.Client
	limiter *rate.Limiter
}

func NewHTTPClient(baseURL, apiKey, model string) *HTTPClient {
	return &HTTPClient{baseURL: baseURL, apiKey: apiKey, model: model, httpClient: &http.Client{Timeout: defaultCallTimeout}}
}

// WithRateLimit caps calls to rps requests per second with a burst of up
// to burst requests admitted without waiting, so a pile of tailers
// flushing at once doesn't trip the provider's own rate limiting.
func (c *HTTPClient) WithRateLimit(rps float64, burst int) *HTTPClient {
	c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	return c
}

const systemPrompt = `You extract durable memories from a conversation excerpt. Respond with a
single JSON object: {"memories": [{"summary": string, "full_content": string,
"entities": [string], "importance": "normal"|"high", "scope": "global"|"project"}],
"updated_summary": string}. summary <= 500 chars, full_content <= 4000 chars,
entities <= 20 items. Emit no memories if nothing durable happened.`

type chatMessage struct {
	Role string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model string `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func (c *HTTPClient) Extract(ctx context.Context, req ExtractionRequest) (*RawExtraction, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, errs.New(errs.Transient, "llm.HTTPClient.Extract", err)
		}
	}

	userContent := buildUserPrompt(req)
	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userContent},
		},
	})
	if err != nil {
		return nil, errs.New(errs.Invariant, "llm.HTTPClient.Extract", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, errs.New(errs.Configuration, "llm.HTTPClient.Extract", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, errs.New(errs.Downstream, "llm.HTTPClient.Extract", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, errs.New(errs.Downstream, "llm.HTTPClient.Extract", fmt.Errorf("llm returned status %d", resp.StatusCode))
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, errs.New(errs.Downstream, "llm.HTTPClient.Extract", err)
	}
	if len(parsed.Choices) == 0 {
		return nil, errs.New(errs.Downstream, "llm.HTTPClient.Extract", fmt.Errorf("no choices in llm response"))
	}

	var raw RawExtraction
	if err := json.Unmarshal([]byte(parsed.Choices[0].Message.Content), &raw); err != nil {
		return nil, errs.New(errs.Validation, "llm.HTTPClient.Extract", err)
	}
	return &raw, nil
}

func buildUserPrompt(req ExtractionRequest) string {
	var b bytes.Buffer
	fmt.Fprintf(&b, "project: %s\nis_root: %v\nprevious_summary: %s\n\nmessages:\n", req.Project, req.IsRoot, req.PreviousSummary)
	for _, m := range req.Messages {
		fmt.Fprintf(&b, "[%s] %s\n", m.Role, m.Content)
	}
	return b.String()
}
