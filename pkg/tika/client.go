// Package tika 提供了一个与 Apache Tika 服务器交互的客户端。
package tika

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"aec-rag-go/internal/apperr"
	"aec-rag-go/internal/config"
	"aec-rag-go/pkg/log"
)

const providerName = "tika"

// Client 是 Tika 服务器的客户端。
type Client struct {
	serverURL string
	http      *http.Client
}

// NewClient 创建一个新的 Tika 客户端实例。
func NewClient(cfg config.TikaConfig) *Client {
	return &Client{serverURL: strings.TrimRight(cfg.ServerURL, "/"), http: &http.Client{}}
}

// ExtractText 调用 Tika 提取纯文本。失败按 apperr.Kind 分类：
// 415/422 视为不支持的格式，5xx 与网络错误视为暂时不可用。
func (c *Client) ExtractText(ctx context.Context, r io.Reader, contentType string) (string, error) {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.serverURL+"/tika", r)
	if err != nil {
		return "", fmt.Errorf("创建请求失败: %w", err)
	}
	req.Header.Set("Accept", "text/plain")
	req.Header.Set("Content-Type", contentType)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", apperr.FromTransport(providerName, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		log.Warnf("[Tika] 返回错误 [%d], content-type: %s", resp.StatusCode, contentType)
		return "", apperr.FromHTTPStatus(providerName, resp.StatusCode, string(body))
	}

	buf := new(bytes.Buffer)
	if _, err := io.Copy(buf, resp.Body); err != nil {
		return "", apperr.FromTransport(providerName, fmt.Errorf("读取 Tika 响应失败: %w", err))
	}
	return buf.String(), nil
}

// Ping 检查 Tika 服务是否可用。
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.serverURL+"/version", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("连接 Tika 失败: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("Tika 返回状态码 %d", resp.StatusCode)
	}
	return nil
}
