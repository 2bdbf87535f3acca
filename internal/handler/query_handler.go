package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"aec-rag-go/internal/apperr"
	"aec-rag-go/internal/query"
	"aec-rag-go/internal/service"
	"aec-rag-go/pkg/log"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // 允许所有来源
	},
}

// QueryRequest 是问答请求体。
type QueryRequest struct {
	Question string `json:"question" binding:"required"`
	Category string `json:"category"`
}

// QueryHandler 负责处理检索问答请求，包括 WebSocket 流式问答。
type QueryHandler struct {
	queryService service.QueryService
}

// NewQueryHandler 创建一个新的 QueryHandler。
func NewQueryHandler(queryService service.QueryService) *QueryHandler {
	return &QueryHandler{queryService: queryService}
}

// Ask 同步返回答案和引用。
func (h *QueryHandler) Ask(c *gin.Context) {
	var req QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond(c, http.StatusBadRequest, "无效的请求参数", nil)
		return
	}
	answer, err := h.queryService.Ask(c.Request.Context(), query.Request{Question: req.Question, Category: req.Category})
	if err != nil {
		log.Errorf("Ask: 问答失败: %v", err)
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, "success", answer)
}

// Stream 处理一个 WebSocket 连接。每条客户端消息是一个 QueryRequest，
// 服务端依次发送 delta、citations 和 completion 帧；失败时发送 error 帧。
func (h *QueryHandler) Stream(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("WebSocket 升级失败", err)
		return
	}
	defer conn.Close()
	log.Infof("[QueryHandler] WebSocket 连接已建立, remote: %s", c.ClientIP())

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warnf("从 WebSocket 读取消息失败: %v", err)
			}
			return
		}

		var req QueryRequest
		if err := json.Unmarshal(message, &req); err != nil {
			writeFrame(conn, gin.H{"type": "error", "reason": "invalid_input", "message": "消息必须是 JSON 对象"})
			continue
		}

		answer, err := h.queryService.AskStream(c.Request.Context(), query.Request{Question: req.Question, Category: req.Category}, func(delta string) error {
			return conn.WriteJSON(gin.H{"type": "delta", "content": delta})
		})
		if err != nil {
			log.Errorf("[QueryHandler] 流式问答失败: %v", err)
			_, reason := errorStatus(err)
			writeFrame(conn, gin.H{"type": "error", "reason": reason, "message": apperr.Public(err)})
		} else {
			if !answer.Sufficient {
				writeFrame(conn, gin.H{"type": "delta", "content": answer.Text})
			}
			writeFrame(conn, gin.H{"type": "citations", "data": answer.Citations, "sufficient": answer.Sufficient, "reason": answer.Reason})
		}
		writeFrame(conn, gin.H{
			"type":      "completion",
			"status":    "finished",
			"timestamp": time.Now().UnixMilli(),
		})
	}
}

func writeFrame(conn *websocket.Conn, frame gin.H) {
	if err := conn.WriteJSON(frame); err != nil {
		log.Warnf("[QueryHandler] 写入 WebSocket 帧失败: %v", err)
	}
}
