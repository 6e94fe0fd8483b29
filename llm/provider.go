// Package llm 提供检索核心使用的大语言模型接口.
// 检索层只需要同步的 prompt -> completion 调用, 流式输出属于上层对话层的职责.
package llm

import "context"

// Provider 为基于 LLM 的检索步骤(查询分解/知识库选择)提供补全能力.
type Provider interface {
	// Complete 生成给定 prompt 的补全
	Complete(ctx context.Context, prompt string) (string, error)
}

// ProviderFunc 将函数适配为 Provider, 便于测试注入.
type ProviderFunc func(ctx context.Context, prompt string) (string, error)

func (f ProviderFunc) Complete(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}
