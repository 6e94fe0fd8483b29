// Package testutil 提供检索测试共享的桩实现:
// 确定性的向量化器与可编程的 LLM 桩.
package testutil

import (
	"context"
	"hash/fnv"
	"math"
	"sync"

	"github.com/BaSui01/graphflow/types"
)

// StubEmbedder 是确定性的向量化桩. 未显式注册的文本会得到一个
// 由文本哈希派生的伪随机单位向量, 同一文本永远得到同一向量.
type StubEmbedder struct {
	Dim int

	mu      sync.Mutex
	vectors map[string]types.Vector
	calls   []string
}

// NewStubEmbedder 创建指定维度的向量化桩.
func NewStubEmbedder(dim int) *StubEmbedder {
	return &StubEmbedder{Dim: dim, vectors: make(map[string]types.Vector)}
}

// Set 给一段文本注册固定向量, 用于构造受控的相似度关系.
func (s *StubEmbedder) Set(text string, vec types.Vector) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vectors[text] = vec
}

// Calls 返回按顺序记录的全部向量化文本.
func (s *StubEmbedder) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.calls))
	copy(out, s.calls)
	return out
}

func (s *StubEmbedder) Dimensions() int { return s.Dim }

// EmbedQuery 返回注册向量或哈希派生向量.
func (s *StubEmbedder) EmbedQuery(ctx context.Context, text string) (types.Vector, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, text)
	if vec, ok := s.vectors[text]; ok {
		return vec, nil
	}
	return deriveVector(text, s.Dim), nil
}

// EmbedBatch 逐条向量化.
func (s *StubEmbedder) EmbedBatch(ctx context.Context, texts []string) ([]types.Vector, error) {
	out := make([]types.Vector, len(texts))
	for i, t := range texts {
		vec, err := s.EmbedQuery(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

// deriveVector 从文本哈希生成稳定的单位向量.
func deriveVector(text string, dim int) types.Vector {
	h := fnv.New64a()
	h.Write([]byte(text))
	seed := h.Sum64()

	vec := make(types.Vector, dim)
	var norm float64
	for i := range vec {
		seed = seed*6364136223846793005 + 1442695040888963407
		v := float64(int64(seed>>11)) / float64(1<<52)
		vec[i] = float32(v)
		norm += v * v
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		vec[0] = 1
		return vec
	}
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec
}

// UnitVector 构造一个只在 axis 位上为 1 的 dim 维向量.
func UnitVector(dim, axis int) types.Vector {
	vec := make(types.Vector, dim)
	vec[axis] = 1
	return vec
}

// BlendVectors 返回 a 与 b 的归一化线性插值, t=0 得到 a, t=1 得到 b.
// 用于构造相似度介于两个锚点之间的向量.
func BlendVectors(a, b types.Vector, t float64) types.Vector {
	out := make(types.Vector, len(a))
	var norm float64
	for i := range a {
		v := (1-t)*float64(a[i]) + t*float64(b[i])
		out[i] = float32(v)
		norm += v * v
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		return out
	}
	for i := range out {
		out[i] = float32(float64(out[i]) / norm)
	}
	return out
}

// StubLLM 是可编程的补全桩.
type StubLLM struct {
	Response string
	Err      error

	mu      sync.Mutex
	prompts []string
}

// Complete 记录提示词并返回预设响应.
func (s *StubLLM) Complete(ctx context.Context, prompt string) (string, error) {
	s.mu.Lock()
	s.prompts = append(s.prompts, prompt)
	s.mu.Unlock()
	if s.Err != nil {
		return "", s.Err
	}
	return s.Response, nil
}

// Prompts 返回按顺序记录的全部提示词.
func (s *StubLLM) Prompts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.prompts))
	copy(out, s.prompts)
	return out
}
