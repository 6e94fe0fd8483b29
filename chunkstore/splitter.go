package chunkstore

import (
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
)

// 分隔符优先级: 段落 > 行 > 句子 > 单词
var defaultSeparators = []string{"\n\n", "\n", "。", ". ", "！", "! ", "？", "? ", " "}

// SplitterConfig 配置文本切分, 长度均按 rune 计.
type SplitterConfig struct {
	ChunkSize    int `yaml:"chunk_size" json:"chunk_size"`
	ChunkOverlap int `yaml:"chunk_overlap" json:"chunk_overlap"`
	MinChunkSize int `yaml:"min_chunk_size" json:"min_chunk_size"`
}

// DefaultSplitterConfig 返回默认切分配置.
func DefaultSplitterConfig() SplitterConfig {
	return SplitterConfig{
		ChunkSize:    2048,
		ChunkOverlap: 200,
		MinChunkSize: 64,
	}
}

// Splitter 把文档文本切成可摄入的分块. 优先在段落与句子边界
// 分割, 超长片段逐级降到更细的分隔符, 相邻分块之间带重叠.
type Splitter struct {
	cfg    SplitterConfig
	logger *zap.Logger
}

// NewSplitter 创建切分器.
func NewSplitter(cfg SplitterConfig, logger *zap.Logger) *Splitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultSplitterConfig().ChunkSize
	}
	if cfg.ChunkOverlap < 0 || cfg.ChunkOverlap >= cfg.ChunkSize {
		cfg.ChunkOverlap = 0
	}
	return &Splitter{cfg: cfg, logger: logger.With(zap.String("component", "splitter"))}
}

// Split 切分文档文本并生成待摄入的分块. meta 原样带到每个分块上.
func (s *Splitter) Split(documentID int64, text string, meta map[string]any) []ChunkCreate {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	pieces := s.merge(s.fragments(text, defaultSeparators))
	out := make([]ChunkCreate, 0, len(pieces))
	prev := ""
	for _, piece := range pieces {
		content := piece
		if s.cfg.ChunkOverlap > 0 && prev != "" {
			content = tailRunes(prev, s.cfg.ChunkOverlap) + content
		}
		prev = piece

		trimmed := strings.TrimSpace(content)
		if trimmed == "" {
			continue
		}
		out = append(out, ChunkCreate{
			DocumentID: documentID,
			Content:    trimmed,
			Meta:       meta,
		})
	}

	s.logger.Debug("document split",
		zap.Int64("document_id", documentID),
		zap.Int("chunks", len(out)))
	return out
}

// fragments 递归切出不超过 ChunkSize 的片段, 保留分隔符.
func (s *Splitter) fragments(text string, separators []string) []string {
	if utf8.RuneCountInString(text) <= s.cfg.ChunkSize {
		return []string{text}
	}
	if len(separators) == 0 {
		return splitRunes(text, s.cfg.ChunkSize)
	}

	parts := strings.SplitAfter(text, separators[0])
	if len(parts) == 1 {
		return s.fragments(text, separators[1:])
	}
	var out []string
	for _, part := range parts {
		if part == "" {
			continue
		}
		out = append(out, s.fragments(part, separators[1:])...)
	}
	return out
}

// merge 把片段贪心合并成尽量接近 ChunkSize 的分块,
// 末尾过短的分块并入前一个.
func (s *Splitter) merge(frags []string) []string {
	var chunks []string
	var cur strings.Builder
	curLen := 0

	for _, frag := range frags {
		fragLen := utf8.RuneCountInString(frag)
		if curLen > 0 && curLen+fragLen > s.cfg.ChunkSize {
			chunks = append(chunks, cur.String())
			cur.Reset()
			curLen = 0
		}
		cur.WriteString(frag)
		curLen += fragLen
	}
	if curLen > 0 {
		if curLen < s.cfg.MinChunkSize && len(chunks) > 0 {
			chunks[len(chunks)-1] += cur.String()
		} else {
			chunks = append(chunks, cur.String())
		}
	}
	return chunks
}

func splitRunes(text string, size int) []string {
	runes := []rune(text)
	var out []string
	for start := 0; start < len(runes); start += size {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, string(runes[start:end]))
	}
	return out
}

func tailRunes(text string, n int) string {
	runes := []rune(text)
	if len(runes) <= n {
		return text
	}
	return string(runes[len(runes)-n:])
}
