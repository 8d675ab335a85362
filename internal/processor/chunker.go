package processor

import (
	"fmt"
	"strings"
)

// TextChunker 按固定字符窗口切分文本，相邻窗口重叠 overlap 个字符
type TextChunker struct {
	size    int
	overlap int
}

func NewTextChunker(size, overlap int) (*TextChunker, error) {
	if size <= 0 {
		return nil, fmt.Errorf("chunk_size 必须大于0, 当前: %d", size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("chunk_overlap 必须在 [0, %d) 之间, 当前: %d", size, overlap)
	}
	return &TextChunker{size: size, overlap: overlap}, nil
}

// Split 按 rune 计数切分，最后一个窗口可能不足 size，到达文本末尾即停止
func (c *TextChunker) Split(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	runes := []rune(text)
	step := c.size - c.overlap

	var chunks []string
	for start := 0; start < len(runes); start += step {
		end := start + c.size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
		if end == len(runes) {
			break
		}
	}
	return chunks
}

// Overlap 相邻窗口的重叠字符数
func (c *TextChunker) Overlap() int {
	return c.overlap
}
