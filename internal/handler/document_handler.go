package handler

import (
	"net/http"

	"aec-rag-go/internal/service"
	"aec-rag-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// maxUploadSize 是单个上传文件的大小上限。
const maxUploadSize = 200 << 20

// DocumentHandler 负责处理文档状态、重新提交、墓碑化、上传和重新扫描的请求。
type DocumentHandler struct {
	docService service.DocumentService
}

// NewDocumentHandler 创建一个新的 DocumentHandler 实例。
func NewDocumentHandler(docService service.DocumentService) *DocumentHandler {
	return &DocumentHandler{docService: docService}
}

// Status 返回文档的处理状态、最近的错误和已提交的分块。
func (h *DocumentHandler) Status(c *gin.Context) {
	status, err := h.docService.Status(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, "获取文档状态成功", status)
}

// Resubmit 强制重新处理文档。
func (h *DocumentHandler) Resubmit(c *gin.Context) {
	rec, err := h.docService.Resubmit(c.Request.Context(), c.Param("id"))
	if err != nil {
		log.Errorf("Resubmit: 文档 %s 重新提交失败: %v", c.Param("id"), err)
		respondError(c, err)
		return
	}
	respond(c, http.StatusAccepted, "文档已重新提交", rec)
}

// Delete 把文档转为墓碑并从索引中删除。
func (h *DocumentHandler) Delete(c *gin.Context) {
	rec, err := h.docService.Tombstone(c.Request.Context(), c.Param("id"))
	if err != nil {
		log.Errorf("Delete: 文档 %s 墓碑化失败: %v", c.Param("id"), err)
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, "文档已删除", rec)
}

// Upload 接收 multipart 表单中的 file 字段，可选 category。
func (h *DocumentHandler) Upload(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadSize)
	fileHeader, err := c.FormFile("file")
	if err != nil {
		respond(c, http.StatusBadRequest, "缺少上传文件", nil)
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		respond(c, http.StatusBadRequest, "无法读取上传文件", nil)
		return
	}
	defer file.Close()

	result, err := h.docService.Upload(c.Request.Context(), fileHeader.Filename, c.PostForm("category"), file, fileHeader.Size)
	if err != nil {
		log.Errorf("Upload: 上传 %s 失败: %v", fileHeader.Filename, err)
		respondError(c, err)
		return
	}
	respond(c, http.StatusAccepted, "上传成功，文档已进入处理队列", result)
}

// Rescan 立即执行一次全量扫描并返回扫描报告。
func (h *DocumentHandler) Rescan(c *gin.Context) {
	report, err := h.docService.Rescan(c.Request.Context())
	if err != nil {
		log.Errorf("Rescan: 全量扫描失败: %v", err)
		respondError(c, err)
		return
	}
	respond(c, http.StatusAccepted, "全量扫描完成", report)
}
