// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"errors"
	"net/http"

	"aec-rag-go/internal/apperr"
	"aec-rag-go/internal/repository"

	"github.com/gin-gonic/gin"
)

func respond(c *gin.Context, status int, message string, data interface{}) {
	c.JSON(status, gin.H{"code": status, "message": message, "data": data})
}

// errorStatus 把错误分类映射为 HTTP 状态码和对外的失败原因。
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, apperr.ErrAnswerGenerationFailed):
		return http.StatusServiceUnavailable, "answer_generation_failed"
	case errors.Is(err, apperr.ErrRetrievalFailed):
		return http.StatusServiceUnavailable, "retrieval_failed"
	case errors.Is(err, apperr.ErrTerminalInput):
		return http.StatusBadRequest, "invalid_input"
	case errors.Is(err, apperr.ErrConsistency):
		return http.StatusConflict, "conflict"
	case errors.Is(err, apperr.ErrTransientProvider):
		return http.StatusServiceUnavailable, "unavailable"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func respondError(c *gin.Context, err error) {
	status, reason := errorStatus(err)
	c.JSON(status, gin.H{"code": status, "message": apperr.Public(err), "data": gin.H{"reason": reason}})
}
