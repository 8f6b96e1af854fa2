package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/cuemby/engram/pkg/errs"
)

const defaultCallTimeout = 20 * time.Second

// HTTPClient is a ModelClient backed by a single HTTP embeddings
// endpoint. It fits both deployment shapes named documented here — a
// local GGUF server and a remote API — since both speak a
// request-texts/response-vectors JSON contract; only baseURL, apiKey,
// and model differ between them.
type HTTPClient struct {
	name string
	baseURL string
	apiKey string
	model string
	httpClient *http.Client
	limiter *rate.Limiter
}

// NewHTTPClient builds an HTTPClient. apiKey may be empty for a local
// server that doesn't require auth.
func NewHTTPClient(name, baseURL, apiKey, model string) *HTTPClient {
	return &HTTPClient{
		name: name,
		baseURL: baseURL,
		apiKey: apiKey,
		model: model,
		httpClient: &http.Client{Timeout: defaultCallTimeout},
	}
}

// WithRateLimit caps this client to rps requests per second, with a
// burst of up to burst calls admitted without waiting. Remote providers
// meter by requests/minute; this keeps a bursty batch of tailers from
// tripping that limit in one go.
func (c *HTTPClient) WithRateLimit(rps float64, burst int) *HTTPClient {
	c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	return c
}

func (c *HTTPClient) Name() string { return c.name }

type embeddingRequest struct {
	Model string `json:"model"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Index int `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// EmbedBatch calls the endpoint once for the whole batch. Ordering of
// outputs matches input order; a non-2xx response or a transport error
// fails the whole batch for this client, leaving those
// texts for the next client in the chain (or null, if this was the last).
func (c *HTTPClient) EmbedBatch(ctx context.Context, texts []string) (map[int][]float32, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, errs.New(errs.Transient, "embedding.HTTPClient.EmbedBatch", err)
		}
	}

	body, err := json.Marshal(embeddingRequest{Model: c.model, Input: texts})
	if err != nil {
		return nil, errs.New(errs.Invariant, "embedding.HTTPClient.EmbedBatch", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, errs.New(errs.Configuration, "embedding.HTTPClient.EmbedBatch", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errs.New(errs.Downstream, "embedding.HTTPClient.EmbedBatch", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, errs.New(errs.Downstream, "embedding.HTTPClient.EmbedBatch",
			fmt.Errorf("%s returned status %d", c.name, resp.StatusCode))
	}

	var parsed embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, errs.New(errs.Downstream, "embedding.HTTPClient.EmbedBatch", err)
	}

	out := make(map[int][]float32, len(parsed.Data))
	for _, d := range parsed.Data {
		out[d.Index] = d.Embedding
	}
	return out, nil
}
