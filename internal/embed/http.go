package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPConfig configures an HTTPProvider.
type HTTPConfig struct {
	BaseURL    string
	APIKey     string
	Model      string
	Timeout    time.Duration
	MaxRetries int
	PoolSize   int
}

const (
	defaultHTTPTimeout  = 60 * time.Second
	defaultHTTPPoolSize = 8
)

func (c HTTPConfig) withDefaults() HTTPConfig {
	if c.Timeout <= 0 {
		c.Timeout = defaultHTTPTimeout
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.PoolSize <= 0 {
		c.PoolSize = defaultHTTPPoolSize
	}
	return c
}

// HTTPProvider embeds text through an OpenAI-compatible /embeddings
// endpoint: request {input, model} -> response {data:[{embedding}], model}.
type HTTPProvider struct {
	client    *http.Client
	transport *http.Transport
	cfg       HTTPConfig
}

// NewHTTPProvider creates an HTTP embedding provider against cfg.BaseURL.
func NewHTTPProvider(cfg HTTPConfig) *HTTPProvider {
	cfg = cfg.withDefaults()

	transport := &http.Transport{
		MaxIdleConns:        cfg.PoolSize,
		MaxIdleConnsPerHost: cfg.PoolSize,
		MaxConnsPerHost:     cfg.PoolSize * 2,
		IdleConnTimeout:     10 * time.Second,
	}

	return &HTTPProvider{
		client:    &http.Client{Transport: transport},
		transport: transport,
		cfg:       cfg,
	}
}

type openAIEmbedRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

type openAIEmbedDatum struct {
	Embedding []float32 `json:"embedding"`
}

type openAIEmbedResponse struct {
	Data  []openAIEmbedDatum `json:"data"`
	Model string             `json:"model"`
}

// Embed posts req.Inputs to the configured endpoint, retrying
// transient failures with exponential backoff.
func (p *HTTPProvider) Embed(ctx context.Context, req EmbedRequest) (EmbedResponse, error) {
	model := req.Model
	if model == "" {
		model = p.cfg.Model
	}

	var resp EmbedResponse
	retryCfg := RetryConfig{
		MaxRetries:   p.cfg.MaxRetries,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
	}

	err := WithRetry(ctx, retryCfg, func() error {
		r, err := p.doEmbed(ctx, req.Inputs, model)
		if err != nil {
			return err
		}
		resp = r
		return nil
	})
	if err != nil {
		return EmbedResponse{}, fmt.Errorf("embed: http provider: %w", err)
	}

	if req.Dimensions > 0 {
		for _, v := range resp.Vectors {
			if len(v) != req.Dimensions {
				return EmbedResponse{}, fmt.Errorf("embed: http provider returned dims=%d, requested %d", len(v), req.Dimensions)
			}
		}
	}

	return resp, nil
}

func (p *HTTPProvider) doEmbed(ctx context.Context, inputs []string, model string) (EmbedResponse, error) {
	body, err := json.Marshal(openAIEmbedRequest{Input: inputs, Model: model})
	if err != nil {
		return EmbedResponse{}, fmt.Errorf("marshal request: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, p.cfg.BaseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return EmbedResponse{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	}

	httpResp, err := p.client.Do(httpReq)
	if err != nil {
		return EmbedResponse{}, fmt.Errorf("request embeddings: %w", err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	if httpResp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(httpResp.Body)
		return EmbedResponse{}, fmt.Errorf("embeddings endpoint returned %d: %s", httpResp.StatusCode, string(respBody))
	}

	var apiResp openAIEmbedResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&apiResp); err != nil {
		return EmbedResponse{}, fmt.Errorf("decode response: %w", err)
	}
	if len(apiResp.Data) != len(inputs) {
		return EmbedResponse{}, fmt.Errorf("embeddings endpoint returned %d vectors for %d inputs", len(apiResp.Data), len(inputs))
	}

	dims := 0
	vectors := make([][]float32, len(apiResp.Data))
	for i, d := range apiResp.Data {
		if i == 0 {
			dims = len(d.Embedding)
		} else if len(d.Embedding) != dims {
			return EmbedResponse{}, fmt.Errorf("embeddings endpoint returned non-uniform dims")
		}
		vectors[i] = normalizeVector(d.Embedding)
	}

	respModel := apiResp.Model
	if respModel == "" {
		respModel = model
	}
	return EmbedResponse{Model: respModel, Vectors: vectors, Dims: dims}, nil
}

// ModelName returns the configured default model.
func (p *HTTPProvider) ModelName() string {
	return p.cfg.Model
}

// Available probes the endpoint with a minimal embedding request.
func (p *HTTPProvider) Available(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := p.doEmbed(probeCtx, []string{"ping"}, p.cfg.Model)
	return err == nil
}

// Close releases pooled connections.
func (p *HTTPProvider) Close() error {
	p.transport.CloseIdleConnections()
	return nil
}
