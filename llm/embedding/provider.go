// Package embedding 提供文本向量化接口与 OpenAI 兼容实现.
// 同一知识库内的所有写入与查询共用一个 Provider, 维度由知识库配置固定.
package embedding

import (
	"context"

	"github.com/BaSui01/graphflow/types"
)

// Provider 将文本转为向量.
// 对相同文本, 实现必须返回足够稳定的结果, 否则实体去重的逐字节比较会失效.
type Provider interface {
	// EmbedQuery 向量化单个查询文本
	EmbedQuery(ctx context.Context, text string) (types.Vector, error)

	// EmbedBatch 批量向量化文档文本
	EmbedBatch(ctx context.Context, texts []string) ([]types.Vector, error)

	// Dimensions 返回向量维度
	Dimensions() int
}
