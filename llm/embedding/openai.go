package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/BaSui01/graphflow/llm"
	"github.com/BaSui01/graphflow/types"
)

// Config 持有 OpenAI 兼容 embeddings 端点的配置.
type Config struct {
	BaseURL    string        `yaml:"base_url" json:"base_url"`
	APIKey     string        `yaml:"api_key" json:"api_key"`
	Model      string        `yaml:"model" json:"model"`
	Dimensions int           `yaml:"dimensions" json:"dimensions"`
	MaxBatch   int           `yaml:"max_batch" json:"max_batch"`
	Timeout    time.Duration `yaml:"timeout" json:"timeout"`

	// RPS > 0 时启用客户端限流
	RPS   float64 `yaml:"rps" json:"rps"`
	Burst int     `yaml:"burst" json:"burst"`
}

// OpenAIProvider 是 OpenAI 兼容 /embeddings API 的客户端.
type OpenAIProvider struct {
	client     *http.Client
	baseURL    string
	apiKey     string
	model      string
	dimensions int
	maxBatch   int
}

// NewOpenAIProvider 创建一个新的向量化客户端.
func NewOpenAIProvider(cfg Config) *OpenAIProvider {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	maxBatch := cfg.MaxBatch
	if maxBatch == 0 {
		maxBatch = 100
	}
	return &OpenAIProvider{
		client:     &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		maxBatch:   maxBatch,
	}
}

func (p *OpenAIProvider) Dimensions() int { return p.dimensions }

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

// EmbedQuery 向量化单个查询文本.
func (p *OpenAIProvider) EmbedQuery(ctx context.Context, text string) (types.Vector, error) {
	vecs, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch 批量向量化, 超过 maxBatch 时分批请求.
func (p *OpenAIProvider) EmbedBatch(ctx context.Context, texts []string) ([]types.Vector, error) {
	out := make([]types.Vector, 0, len(texts))
	for start := 0; start < len(texts); start += p.maxBatch {
		end := start + p.maxBatch
		if end > len(texts) {
			end = len(texts)
		}
		vecs, err := p.embed(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func (p *OpenAIProvider) embed(ctx context.Context, texts []string) ([]types.Vector, error) {
	body, err := json.Marshal(embedRequest{Model: p.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("marshal embedding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create embedding request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, types.NewError(types.ErrTimeout, "embedding call cancelled").WithCause(ctx.Err())
		}
		return nil, types.NewError(types.ErrUpstream, err.Error()).WithRetryable(true)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read embedding response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, llm.MapHTTPError(resp.StatusCode, string(respBody))
	}

	var parsed embedResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, types.NewError(types.ErrUpstream, "malformed embedding response").WithCause(err)
	}
	if len(parsed.Data) != len(texts) {
		return nil, types.NewErrorf(types.ErrUpstream,
			"embedding count mismatch: sent %d, got %d", len(texts), len(parsed.Data))
	}

	vecs := make([]types.Vector, len(texts))
	for _, item := range parsed.Data {
		if item.Index < 0 || item.Index >= len(texts) {
			return nil, types.NewErrorf(types.ErrUpstream, "embedding index %d out of range", item.Index)
		}
		if p.dimensions > 0 && len(item.Embedding) != p.dimensions {
			return nil, types.NewErrorf(types.ErrValidation,
				"embedding dimension %d does not match configured %d", len(item.Embedding), p.dimensions)
		}
		vecs[item.Index] = item.Embedding
	}
	return vecs, nil
}
