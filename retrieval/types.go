// Package retrieval 在多个知识库上做查询分解, 并发扇出与确定性融合.
package retrieval

import (
	"fmt"
	"strings"

	"github.com/BaSui01/graphflow/chunkstore"
	"github.com/BaSui01/graphflow/graphstore"
	"github.com/BaSui01/graphflow/kb"
)

// GlobalEntityID 把知识库内的局部实体 ID 提升为跨库唯一 ID.
func GlobalEntityID(kbID string, localID int64) string {
	return fmt.Sprintf("%s-%d", kbID, localID)
}

// GlobalRelationshipID 把知识库内的局部关系 ID 提升为跨库唯一 ID.
func GlobalRelationshipID(kbID string, localID int64) string {
	return fmt.Sprintf("%s-%d", kbID, localID)
}

// RetrievedEntity 是融合结果中的实体, 带跨库全局 ID 与来源知识库.
type RetrievedEntity struct {
	graphstore.Entity
	GlobalID      string        `json:"global_id"`
	KnowledgeBase kb.Descriptor `json:"knowledge_base"`
}

// RetrievedRelationship 是融合结果中的关系. 端点以全局 ID 引用,
// Weight 在融合时按合并分组累加.
type RetrievedRelationship struct {
	graphstore.Relationship
	GlobalID       string        `json:"global_id"`
	SourceGlobalID string        `json:"source_global_id"`
	TargetGlobalID string        `json:"target_global_id"`
	KnowledgeBase  kb.Descriptor `json:"knowledge_base"`
	Score          float64       `json:"score"`
}

// RetrievedChunk 是融合结果中的分块.
type RetrievedChunk struct {
	chunkstore.Chunk
	KnowledgeBase kb.Descriptor `json:"knowledge_base"`
	Score         float64       `json:"score"`
}

// PairError 记录一个 (子查询, 知识库) 对的失败, 不中断其余结果.
type PairError struct {
	Query           string `json:"query"`
	KnowledgeBaseID string `json:"knowledge_base_id"`
	Message         string `json:"message"`
}

// SubGraphResult 是单个 (子查询, 知识库) 对的未融合子图.
type SubGraphResult struct {
	Query         string                  `json:"query"`
	KnowledgeBase kb.Descriptor           `json:"knowledge_base"`
	Entities      []RetrievedEntity       `json:"entities"`
	Relationships []RetrievedRelationship `json:"relationships"`
}

// KnowledgeGraphResult 是多库图谱检索的融合产出. KnowledgeBases 回显
// 本次命中的知识库, 按首次选中的顺序去重.
type KnowledgeGraphResult struct {
	Query          string                  `json:"query"`
	KnowledgeBases []kb.Descriptor         `json:"knowledge_bases"`
	Entities       []RetrievedEntity       `json:"entities"`
	Relationships  []RetrievedRelationship `json:"relationships"`
	SubGraphs      []SubGraphResult        `json:"sub_graphs,omitempty"`
	Errors         []PairError             `json:"errors,omitempty"`
}

// ChunksResult 是多库分块检索的融合产出.
type ChunksResult struct {
	Query          string           `json:"query"`
	KnowledgeBases []kb.Descriptor  `json:"knowledge_bases"`
	Chunks         []RetrievedChunk `json:"chunks"`
	Errors         []PairError      `json:"errors,omitempty"`
}

// RAGDescription 把融合子图渲染为可直接注入提示词的文本.
func (r *KnowledgeGraphResult) RAGDescription() string {
	names := make(map[string]string, len(r.Entities))
	for _, e := range r.Entities {
		names[e.GlobalID] = e.Name
	}
	name := func(globalID string) string {
		if n, ok := names[globalID]; ok {
			return n
		}
		return globalID
	}

	var b strings.Builder
	b.WriteString("Entities:\n")
	for _, e := range r.Entities {
		fmt.Fprintf(&b, "  - %s: %s\n", e.Name, e.Description)
	}
	b.WriteString("Relationships:\n")
	for _, rel := range r.Relationships {
		fmt.Fprintf(&b, "  - %s -> %s -> %s\n", name(rel.SourceGlobalID), rel.Description, name(rel.TargetGlobalID))
	}
	return b.String()
}
