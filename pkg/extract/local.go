package extract

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"aec-rag-go/internal/apperr"

	"golang.org/x/net/html/charset"
	"golang.org/x/text/unicode/norm"
)

// decode 按 BOM、contentType 的 charset 参数或内容探测字符集并转换为 UTF-8，
// 结果统一为 NFC 形式。
func decode(data []byte, contentType string) (string, error) {
	enc, name, _ := charset.DetermineEncoding(data, contentType)
	out, err := enc.NewDecoder().Bytes(data)
	if err != nil {
		return "", apperr.NewProviderError(providerName, apperr.KindMalformedInput, fmt.Errorf("按 %s 解码失败: %w", name, err))
	}
	return norm.NFC.String(strings.TrimPrefix(string(out), "\ufeff")), nil
}

func plainText(data []byte, contentType string) (string, []int, error) {
	text, err := decode(data, contentType)
	if err != nil {
		return "", nil, err
	}
	text = strings.TrimSpace(normalizeNewlines(text))
	return text, paragraphHints(text), nil
}

// csvText 把每一行渲染为 "列名: 值" 的块，每行是一个结构单元。
func csvText(data []byte, contentType string) (string, []int, error) {
	text, err := decode(data, contentType)
	if err != nil {
		return "", nil, err
	}
	r := csv.NewReader(strings.NewReader(text))
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if err != nil {
		return "", nil, apperr.NewProviderError(providerName, apperr.KindMalformedInput, fmt.Errorf("读取 CSV 表头失败: %w", err))
	}

	var (
		b     strings.Builder
		hints []int
	)
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", nil, apperr.NewProviderError(providerName, apperr.KindMalformedInput, fmt.Errorf("解析 CSV 失败: %w", err))
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		hints = append(hints, b.Len())
		for i, v := range row {
			col := fmt.Sprintf("column_%d", i+1)
			if i < len(header) && strings.TrimSpace(header[i]) != "" {
				col = strings.TrimSpace(header[i])
			}
			if i > 0 {
				b.WriteByte('\n')
			}
			b.WriteString(col)
			b.WriteString(": ")
			b.WriteString(strings.TrimSpace(v))
		}
	}
	return b.String(), hints, nil
}

// jsonText 把数组的每个元素（或对象的每个顶层键）渲染为一个结构单元。
func jsonText(data []byte) (string, []int, error) {
	var v interface{}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return "", nil, apperr.NewProviderError(providerName, apperr.KindMalformedInput, fmt.Errorf("解析 JSON 失败: %w", err))
	}

	var units []string
	switch t := v.(type) {
	case []interface{}:
		for _, el := range t {
			units = append(units, render(el))
		}
	case map[string]interface{}:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			units = append(units, k+": "+render(t[k]))
		}
	default:
		units = append(units, render(t))
	}

	var (
		b     strings.Builder
		hints []int
	)
	for _, u := range units {
		if strings.TrimSpace(u) == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		hints = append(hints, b.Len())
		b.WriteString(u)
	}
	return b.String(), hints, nil
}

func render(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	}
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(out)
}
