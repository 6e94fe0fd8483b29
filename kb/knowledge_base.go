// Package kb 定义知识库描述符与表绑定注册表.
// 每个知识库拥有独立的实体/关系/分块表, 表名由 (namespace, 向量维度) 决定;
// 注册表保证同一组合只构建一次绑定.
package kb

import (
	"fmt"
	"strings"

	"github.com/BaSui01/graphflow/types"
)

// KnowledgeBase 描述一个隔离的知识库.
type KnowledgeBase struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Description     string `json:"description"`
	Namespace       string `json:"namespace"`
	VectorDimension int    `json:"vector_dimension"`
}

// Validate 检查描述符是否可用于构建表绑定.
func (k KnowledgeBase) Validate() error {
	if k.ID == "" {
		return types.NewError(types.ErrValidation, "knowledge base id is empty")
	}
	if k.VectorDimension <= 0 {
		return types.NewErrorf(types.ErrValidation,
			"knowledge base %s has invalid vector dimension %d", k.ID, k.VectorDimension)
	}
	return nil
}

// EffectiveNamespace 返回用于表名的命名空间, 未设置时退回知识库 ID.
func (k KnowledgeBase) EffectiveNamespace() string {
	if k.Namespace != "" {
		return k.Namespace
	}
	return k.ID
}

// Descriptor 是回传给调用方的知识库摘要.
type Descriptor struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// ToDescriptor 生成检索结果中携带的摘要.
func (k KnowledgeBase) ToDescriptor() Descriptor {
	return Descriptor{ID: k.ID, Name: k.Name, Description: k.Description}
}

// FormatNamespace 将命名空间规范化为合法的表名片段.
func FormatNamespace(namespace string) string {
	return strings.ReplaceAll(namespace, "-", "_")
}

// TableBinding 是一个知识库的表绑定, 同一 (namespace, dimension) 全局唯一.
type TableBinding struct {
	Namespace          string
	Dimension          int
	EntitiesTable      string
	RelationshipsTable string
	ChunksTable        string
}

func newTableBinding(namespace string, dimension int) *TableBinding {
	ns := FormatNamespace(namespace)
	return &TableBinding{
		Namespace:          ns,
		Dimension:          dimension,
		EntitiesTable:      fmt.Sprintf("entities_%s", ns),
		RelationshipsTable: fmt.Sprintf("relationships_%s", ns),
		ChunksTable:        fmt.Sprintf("chunks_%s", ns),
	}
}
