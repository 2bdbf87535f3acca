// Package chunker 把抽取出的文本切分为有序、有 token 上限的分块。
//
// 切分是纯函数：相同的文本、结构提示和参数总是得到相同的结果。
// 结构提示是结构单元（段落、表格行、页）起始位置的字节偏移。
// 分块尽量在结构单元的边界结束；单个结构单元超过上限时在上限处强制切开，
// 并把包含该单元内容的分块标记为 OversizedSplit。
package chunker

import (
	"errors"
	"sort"
)

// Options 控制分块大小。
type Options struct {
	MaxTokens     int
	OverlapTokens int
}

// Chunk 是一次切分的输出。
type Chunk struct {
	Index          int
	Text           string
	TokenCount     int
	StartToken     int
	EndToken       int
	OversizedSplit bool
}

// Chunker 按固定参数切分文本。
type Chunker struct {
	opts Options
}

// New 校验参数并返回 Chunker。
func New(opts Options) (*Chunker, error) {
	if opts.MaxTokens <= 0 {
		return nil, errors.New("chunker: max tokens must be positive")
	}
	if opts.OverlapTokens < 0 || opts.OverlapTokens >= opts.MaxTokens {
		return nil, errors.New("chunker: overlap must be in [0, max tokens)")
	}
	return &Chunker{opts: opts}, nil
}

// Split 切分 text。hints 为结构单元起始的字节偏移，可以为空。
func (c *Chunker) Split(text string, hints []int) []Chunk {
	spans := tokenize(text)
	n := len(spans)
	if n == 0 {
		return nil
	}

	maxTok := c.opts.MaxTokens
	overlap := c.opts.OverlapTokens
	structured := len(hints) > 0
	bounds := boundaries(spans, hints)
	oversized := oversizedUnits(bounds, maxTok, structured)

	var chunks []Chunk
	prevEnd := 0
	for prevEnd < n {
		start := prevEnd - overlap
		if start < 0 {
			start = 0
		}
		limit := start + maxTok

		var end int
		switch {
		case limit >= n:
			end = n
		case !structured:
			end = limit
		default:
			// 优先在 (prevEnd, limit] 内最靠后的边界结束
			i := sort.SearchInts(bounds, limit+1) - 1
			if i >= 0 && bounds[i] > prevEnd {
				end = bounds[i]
				break
			}
			// 下一个单元能整体放下时，缩小重叠让分块结束在它的边界上
			next := bounds[sort.SearchInts(bounds, prevEnd+1)]
			if next-prevEnd <= maxTok {
				end = next
				start = next - maxTok
				break
			}
			end = limit
		}

		chunks = append(chunks, Chunk{
			Index:          len(chunks),
			Text:           text[spans[start].start:spans[end-1].end],
			TokenCount:     end - start,
			StartToken:     start,
			EndToken:       end,
			OversizedSplit: touches(oversized, prevEnd, end),
		})
		prevEnd = end
	}
	return chunks
}

// boundaries 把字节偏移转换为 token 下标，返回 (0, n] 内升序去重的边界，末尾总是 n。
func boundaries(spans []span, hints []int) []int {
	n := len(spans)
	seen := make(map[int]struct{}, len(hints)+1)
	out := make([]int, 0, len(hints)+1)
	for _, off := range hints {
		idx := sort.Search(n, func(i int) bool { return spans[i].start >= off })
		if idx <= 0 || idx >= n {
			continue
		}
		if _, ok := seen[idx]; ok {
			continue
		}
		seen[idx] = struct{}{}
		out = append(out, idx)
	}
	out = append(out, n)
	sort.Ints(out)
	return out
}

type unit struct{ start, end int }

func oversizedUnits(bounds []int, maxTok int, structured bool) []unit {
	if !structured {
		return nil
	}
	var out []unit
	prev := 0
	for _, b := range bounds {
		if b-prev > maxTok {
			out = append(out, unit{prev, b})
		}
		prev = b
	}
	return out
}

// touches 报告分块新增的内容 [from, to) 是否落在某个超大单元里。
func touches(units []unit, from, to int) bool {
	for _, u := range units {
		if from < u.end && to > u.start {
			return true
		}
	}
	return false
}
