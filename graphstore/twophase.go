package graphstore

import (
	"fmt"
	"math"
	"sort"
	"strconv"

	"github.com/BaSui01/graphflow/types"
)

// Candidate 是阶段一产出的一个候选: 原始切片下标加向量距离.
type Candidate struct {
	Index    int
	Distance float64
}

// selectCandidates 实现阶段一: 按距离升序排序并截断到 numCandidates.
// 内存实现用它模拟 ANN 索引的 ORDER BY distance LIMIT n.
func selectCandidates(cands []Candidate, numCandidates int) []Candidate {
	sort.SliceStable(cands, func(i, j int) bool {
		return cands[i].Distance < cands[j].Distance
	})
	if numCandidates > 0 && len(cands) > numCandidates {
		cands = cands[:numCandidates]
	}
	return cands
}

// Ranked 是阶段二产出的一条结果.
type Ranked struct {
	Index      int
	Similarity float64
}

// rankCandidates 实现阶段二: 相似度 = 1 - 距离, 应用距离区间与
// 相似度阈值, 按相似度降序截断到 topK. keep 为 nil 时不做标量过滤.
func rankCandidates(cands []Candidate, topK int, threshold float64, distRange *DistanceRange, keep func(index int) bool) []Ranked {
	ranked := make([]Ranked, 0, len(cands))
	for _, c := range cands {
		if distRange != nil && (c.Distance < distRange.Min || c.Distance > distRange.Max) {
			continue
		}
		sim := 1 - c.Distance
		if threshold > 0 && sim < threshold {
			continue
		}
		if keep != nil && !keep(c.Index) {
			continue
		}
		ranked = append(ranked, Ranked{Index: c.Index, Similarity: sim})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Similarity > ranked[j].Similarity
	})
	if topK > 0 && len(ranked) > topK {
		ranked = ranked[:topK]
	}
	return ranked
}

// RankTwoPhase 串联两个阶段: 先按距离截断候选, 再按相似度阈值过滤
// 并降序截断. 线性扫描型实现共用这一个入口.
func RankTwoPhase(cands []Candidate, numCandidates, topK int, threshold float64) []Ranked {
	return rankCandidates(selectCandidates(cands, numCandidates), topK, threshold, nil, nil)
}

// CosineDistance 返回两个向量的余弦距离 1 - cos(a, b).
// 任一向量为零向量时返回最大距离 1.
func CosineDistance(a, b types.Vector) float64 {
	return 1 - CosineSimilarity(a, b)
}

// CosineSimilarity 返回两个向量的余弦相似度, 维度不匹配时为 0.
func CosineSimilarity(a, b types.Vector) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// matchMeta 按键做等值匹配; 过滤值为切片时, 元数据值命中任一元素即匹配.
func matchMeta(meta map[string]any, filters map[string]any) bool {
	if len(filters) == 0 {
		return true
	}
	for key, want := range filters {
		got, ok := meta[key]
		if !ok {
			return false
		}
		switch w := want.(type) {
		case []any:
			hit := false
			for _, item := range w {
				if equalMetaValue(got, item) {
					hit = true
					break
				}
			}
			if !hit {
				return false
			}
		case []string:
			hit := false
			for _, item := range w {
				if equalMetaValue(got, item) {
					hit = true
					break
				}
			}
			if !hit {
				return false
			}
		default:
			if !equalMetaValue(got, want) {
				return false
			}
		}
	}
	return true
}

func equalMetaValue(a, b any) bool {
	// JSON 往返后数字统一成 float64, 这里按规范化字符串比较
	return stringifyMetaValue(a) == stringifyMetaValue(b)
}

func stringifyMetaValue(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case bool:
		return strconv.FormatBool(x)
	default:
		return fmt.Sprintf("%v", v)
	}
}
