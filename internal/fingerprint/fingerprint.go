// Package fingerprint 计算内容指纹，用于变更检测、分块去重和幂等键。
//
// 指纹直接基于原始字节计算，不做任何空白或编码归一化。
package fingerprint

import (
	"encoding/hex"
	"fmt"
	"io"
	"strconv"

	"golang.org/x/crypto/blake2b"
)

// Sum 返回 data 的 BLAKE2b-256 十六进制摘要。
func Sum(data []byte) string {
	h := blake2b.Sum256(data)
	return hex.EncodeToString(h[:])
}

// SumString 等价于 Sum([]byte(s))。
func SumString(s string) string {
	return Sum([]byte(s))
}

// SumReader 流式计算 r 的摘要，适用于大文件。
func SumReader(r io.Reader) (string, error) {
	h, err := blake2b.New256(nil)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("hash content: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// DocumentID 由来源 URI 派生出稳定的文档标识。
func DocumentID(sourceURI string) string {
	return SumString("doc\x00" + sourceURI)[:40]
}

// ChunkID = hash(document_id, chunk_index, content_hash)。
// 文本未变化时重复处理得到相同的 ChunkID。
func ChunkID(documentID string, index int, contentHash string) string {
	h, _ := blake2b.New256(nil)
	h.Write([]byte(documentID))
	h.Write([]byte{0})
	h.Write([]byte(strconv.Itoa(index)))
	h.Write([]byte{0})
	h.Write([]byte(contentHash))
	return hex.EncodeToString(h.Sum(nil))
}
