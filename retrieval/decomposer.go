package retrieval

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/graphflow/llm"
)

// MaxSubQuestions 是一次分解允许的子问题上限.
const MaxSubQuestions = 5

// SubQuestion 是从用户查询拆出的一个步骤性子问题.
type SubQuestion struct {
	Question  string `json:"question"`
	Reasoning string `json:"reasoning,omitempty"`
}

const decomposePrompt = `你是知识图谱检索专家. 把用户的查询拆解为一组循序渐进的子问题.

要求:
1. 分析查询中各部分之间的依赖关系, 按依赖顺序拆分.
2. 每个子问题附带简短的拆分理由.
3. 最多输出 %d 个子问题, 忠实于用户的原始意图.

只输出 JSON, 格式为:
{"questions": [{"question": "...", "reasoning": "..."}]}

用户查询: %s`

// QueryDecomposer 调用 LLM 把复杂查询拆成子问题.
// 分解失败时退回原始查询, 永远不会因为分解而让检索失败.
type QueryDecomposer struct {
	provider llm.Provider
	logger   *zap.Logger
}

// NewQueryDecomposer 创建分解器. provider 为 nil 时 Decompose 直接退回原查询.
func NewQueryDecomposer(provider llm.Provider, logger *zap.Logger) *QueryDecomposer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QueryDecomposer{
		provider: provider,
		logger:   logger.With(zap.String("component", "query_decomposer")),
	}
}

type subQuestionList struct {
	Questions []SubQuestion `json:"questions"`
}

// Decompose 拆解查询. 任何失败(调用出错, 输出不可解析, 空结果)都
// 软降级为单元素列表 [原始查询].
func (d *QueryDecomposer) Decompose(ctx context.Context, query string) []SubQuestion {
	fallback := []SubQuestion{{Question: query}}
	if d.provider == nil {
		return fallback
	}

	raw, err := d.provider.Complete(ctx, fmt.Sprintf(decomposePrompt, MaxSubQuestions, query))
	if err != nil {
		d.logger.Warn("query decomposition failed, falling back to original query", zap.Error(err))
		return fallback
	}

	parsed, err := parseSubQuestions(raw)
	if err != nil || len(parsed) == 0 {
		d.logger.Warn("query decomposition output unparseable, falling back to original query",
			zap.Error(err), zap.String("raw", truncateForLog(raw)))
		return fallback
	}
	if len(parsed) > MaxSubQuestions {
		parsed = parsed[:MaxSubQuestions]
	}
	d.logger.Debug("query decomposed", zap.Int("sub_questions", len(parsed)))
	return parsed
}

// parseSubQuestions 容忍围栏代码块与两种顶层形态(对象或数组).
func parseSubQuestions(raw string) ([]SubQuestion, error) {
	cleaned := stripCodeFence(raw)

	var wrapped subQuestionList
	if err := json.Unmarshal([]byte(cleaned), &wrapped); err == nil && len(wrapped.Questions) > 0 {
		return nonEmptyQuestions(wrapped.Questions), nil
	}

	var list []SubQuestion
	if err := json.Unmarshal([]byte(cleaned), &list); err != nil {
		return nil, err
	}
	return nonEmptyQuestions(list), nil
}

func nonEmptyQuestions(in []SubQuestion) []SubQuestion {
	out := make([]SubQuestion, 0, len(in))
	for _, q := range in {
		if strings.TrimSpace(q.Question) != "" {
			out = append(out, q)
		}
	}
	return out
}

func stripCodeFence(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if idx := strings.Index(s, "\n"); idx >= 0 {
		s = s[idx+1:]
	}
	if idx := strings.LastIndex(s, "```"); idx >= 0 {
		s = s[:idx]
	}
	return strings.TrimSpace(s)
}

func truncateForLog(s string) string {
	const max = 200
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
