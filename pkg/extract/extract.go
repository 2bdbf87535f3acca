// Package extract 按内容类型把文档转换成纯文本和结构单元边界。
// 纯文本类格式在本地解析，其余交给 Tika。
package extract

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"aec-rag-go/internal/apperr"
	"aec-rag-go/internal/provider"
	"aec-rag-go/pkg/log"
)

const providerName = "extractor"

const (
	TypeText     = "text/plain"
	TypeMarkdown = "text/markdown"
	TypeCSV      = "text/csv"
	TypeJSON     = "application/json"
	TypePDF      = "application/pdf"
	TypeDOCX     = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	TypeDOC      = "application/msword"
	TypeXLSX     = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	TypeXLS      = "application/vnd.ms-excel"
	TypePPTX     = "application/vnd.openxmlformats-officedocument.presentationml.presentation"
	TypeRTF      = "application/rtf"
	TypeHTML     = "text/html"
)

var extTypes = map[string]string{
	".txt":      TypeText,
	".text":     TypeText,
	".log":      TypeText,
	".md":       TypeMarkdown,
	".markdown": TypeMarkdown,
	".csv":      TypeCSV,
	".json":     TypeJSON,
	".pdf":      TypePDF,
	".docx":     TypeDOCX,
	".doc":      TypeDOC,
	".xlsx":     TypeXLSX,
	".xls":      TypeXLS,
	".pptx":     TypePPTX,
	".rtf":      TypeRTF,
	".html":     TypeHTML,
	".htm":      TypeHTML,
}

// ContentTypeFor 根据文件扩展名返回内容类型；未知扩展名返回空串。
func ContentTypeFor(name string) string {
	return extTypes[strings.ToLower(path.Ext(name))]
}

// TextExtractor 是 Tika 这类远程抽取服务的最小接口。
type TextExtractor interface {
	ExtractText(ctx context.Context, r io.Reader, contentType string) (string, error)
}

// Router 实现 provider.Extractor。
type Router struct {
	remote TextExtractor
}

var _ provider.Extractor = (*Router)(nil)

// NewRouter 创建 Router；remote 为 nil 时只支持本地格式。
func NewRouter(remote TextExtractor) *Router {
	return &Router{remote: remote}
}

func normalize(contentType string) string {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	return ct
}

// Extract 按内容类型选择抽取方式。
func (r *Router) Extract(ctx context.Context, data []byte, contentType string) (provider.Extraction, error) {
	ct := normalize(contentType)
	var (
		text  string
		hints []int
		err   error
	)
	switch ct {
	case TypeText, TypeMarkdown:
		text, hints, err = plainText(data, contentType)
	case TypeCSV:
		text, hints, err = csvText(data, contentType)
	case TypeJSON:
		text, hints, err = jsonText(data)
	case TypePDF, TypeDOCX, TypeDOC, TypeXLSX, TypeXLS, TypePPTX, TypeRTF, TypeHTML:
		if r.remote == nil {
			return provider.Extraction{}, apperr.NewProviderError(providerName, apperr.KindUnsupportedFormat, fmt.Errorf("%s 需要 Tika", ct))
		}
		text, err = r.remote.ExtractText(ctx, bytes.NewReader(data), ct)
		if err == nil {
			text = strings.TrimSpace(normalizeNewlines(text))
			hints = paragraphHints(text)
		}
	default:
		return provider.Extraction{}, apperr.NewProviderError(providerName, apperr.KindUnsupportedFormat, fmt.Errorf("不支持的内容类型 %q", contentType))
	}
	if err != nil {
		return provider.Extraction{}, err
	}
	if strings.TrimSpace(text) == "" {
		return provider.Extraction{}, apperr.NewProviderError(providerName, apperr.KindMalformedInput, fmt.Errorf("抽取结果为空"))
	}
	log.Debugf("[Extract] content-type=%s 抽取完成, 字节数=%d, 单元数=%d", ct, len(text), len(hints))
	return provider.Extraction{Text: text, Hints: hints, ContentType: ct}, nil
}

// normalizeNewlines 统一换行符，分页符视为段落边界。
func normalizeNewlines(s string) string {
	return newlineReplacer.Replace(s)
}

var newlineReplacer = strings.NewReplacer("\r\n", "\n", "\r", "\n", "\f", "\n\n")

// paragraphHints 返回每个段落起始的字节偏移。空行结束一个段落，Markdown 标题总是开始新段落。
func paragraphHints(text string) []int {
	var hints []int
	inPara := false
	off := 0
	for _, line := range strings.SplitAfter(text, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case trimmed == "":
			inPara = false
		case !inPara || strings.HasPrefix(trimmed, "#"):
			hints = append(hints, off+len(line)-len(strings.TrimLeft(line, " \t")))
			inPara = true
		}
		off += len(line)
	}
	return hints
}
