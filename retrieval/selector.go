package retrieval

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/graphflow/kb"
	"github.com/BaSui01/graphflow/llm"
	"github.com/BaSui01/graphflow/types"
)

// SelectMode 决定一次检索要命中哪些知识库.
type SelectMode string

const (
	// SelectAll 跳过 LLM, 命中全部知识库
	SelectAll SelectMode = "ALL"
	// SelectSingle 由 LLM 选出一个最相关的知识库
	SelectSingle SelectMode = "SINGLE"
	// SelectMultiple 由 LLM 选出一个或多个相关知识库
	SelectMultiple SelectMode = "MULTIPLE"
)

const selectPrompt = `根据用户查询, 从下列知识库中选出%s用于回答.

知识库列表:
%s

只输出 JSON, 格式为: {"selections": [知识库序号]}
序号从 0 开始. %s

用户查询: %s`

// Selector 决定查询路由到哪些知识库.
// 选不出任何知识库是硬错误: 融合检索没有目标就没有意义.
type Selector struct {
	provider llm.Provider
	mode     SelectMode
	logger   *zap.Logger
}

// NewSelector 创建选择器. SelectAll 模式下 provider 可为 nil.
func NewSelector(provider llm.Provider, mode SelectMode, logger *zap.Logger) *Selector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if mode == "" {
		mode = SelectAll
	}
	return &Selector{
		provider: provider,
		mode:     mode,
		logger:   logger.With(zap.String("component", "kb_selector")),
	}
}

type selectionList struct {
	Selections []int `json:"selections"`
}

// Select 返回选中的知识库下标列表.
// 空候选列表或零选择都返回错误; 单候选直接命中, 不调用 LLM.
func (s *Selector) Select(ctx context.Context, query string, choices []kb.Descriptor) ([]int, error) {
	if len(choices) == 0 {
		return nil, types.NewError(types.ErrValidation, "no knowledge base to select from")
	}
	if len(choices) == 1 {
		return []int{0}, nil
	}
	if s.mode == SelectAll {
		all := make([]int, len(choices))
		for i := range choices {
			all[i] = i
		}
		return all, nil
	}
	if s.provider == nil {
		return nil, types.NewError(types.ErrConfiguration, "selector requires an llm provider in non-ALL mode")
	}

	raw, err := s.provider.Complete(ctx, s.buildPrompt(query, choices))
	if err != nil {
		return nil, types.NewError(types.ErrUpstream, "knowledge base selection failed").WithCause(err)
	}

	var parsed selectionList
	if uerr := json.Unmarshal([]byte(stripCodeFence(raw)), &parsed); uerr != nil {
		return nil, types.NewError(types.ErrUpstream, "selection output unparseable").WithCause(uerr)
	}

	selected := make([]int, 0, len(parsed.Selections))
	seen := make(map[int]struct{})
	for _, idx := range parsed.Selections {
		if idx < 0 || idx >= len(choices) {
			continue
		}
		if _, dup := seen[idx]; dup {
			continue
		}
		seen[idx] = struct{}{}
		selected = append(selected, idx)
	}
	if len(selected) == 0 {
		return nil, types.NewError(types.ErrValidation, "selector returned no usable selection")
	}
	if s.mode == SelectSingle && len(selected) > 1 {
		selected = selected[:1]
	}

	s.logger.Debug("knowledge bases selected",
		zap.String("mode", string(s.mode)),
		zap.Ints("selections", selected))
	return selected, nil
}

func (s *Selector) buildPrompt(query string, choices []kb.Descriptor) string {
	var list strings.Builder
	for i, c := range choices {
		fmt.Fprintf(&list, "%d. %s: %s\n", i, c.Name, c.Description)
	}
	countHint := "一个或多个最相关的"
	limitHint := ""
	if s.mode == SelectSingle {
		countHint = "唯一一个最相关的"
		limitHint = "只允许一个序号."
	}
	return fmt.Sprintf(selectPrompt, countHint, list.String(), limitHint, query)
}
