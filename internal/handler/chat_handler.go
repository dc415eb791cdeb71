package handler

import (
	"net/http"
	"time"

	"docqa-go/internal/errno"
	"docqa-go/internal/middleware"
	"docqa-go/internal/service"
	"docqa-go/pkg/log"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var (
	upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return true // 允许所有来源
		},
	}
)

// ChatHandler 处理提问请求，HTTP 与 WebSocket 共用同一条管道。
type ChatHandler struct {
	chatService service.ChatService
}

// NewChatHandler 创建一个新的 ChatHandler。
func NewChatHandler(chatService service.ChatService) *ChatHandler {
	return &ChatHandler{chatService: chatService}
}

type chatRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id"`
	SearchApproach string `json:"search_approach"`
}

func (r chatRequest) toService() service.ChatRequest {
	return service.ChatRequest{
		Message:        r.Message,
		ConversationID: r.ConversationID,
		SearchApproach: r.SearchApproach,
	}
}

func chatResponse(res *service.ChatResult) gin.H {
	return gin.H{
		"conversation_id": res.ConversationID,
		"message":         toMessageDTO(res.Message),
	}
}

// Chat 处理 POST /chat
func (h *ChatHandler) Chat(c *gin.Context) {
	identity, ok := middleware.CurrentIdentity(c)
	if !ok {
		respondError(c, errno.ErrUnauthenticated)
		return
	}
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, errno.ErrInvalidRequest)
		return
	}

	res, err := h.chatService.Chat(c.Request.Context(), identity, req.toService())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, chatResponse(res))
}

// Handle 处理 GET /chat/ws 的 WebSocket 连接。每条 JSON 文本帧是一次提问，
// 依次回复 answer 或 error 帧，然后是 completion 帧。
func (h *ChatHandler) Handle(c *gin.Context) {
	identity, ok := middleware.CurrentIdentity(c)
	if !ok {
		respondError(c, errno.ErrUnauthenticated)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("WebSocket 升级失败", err)
		return
	}
	defer conn.Close()
	log.Infof("WebSocket 连接已建立，用户: %s", identity.Subject)

	for {
		var req chatRequest
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warnf("从 WebSocket 读取消息失败: %v", err)
			}
			return
		}

		// 长连接期间凭证可能过期
		if exp := identity.ExpiresAt(); !exp.IsZero() && time.Now().After(exp) {
			_ = writeError(conn, errno.ErrExpired)
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "credential expired"))
			return
		}

		res, err := h.chatService.Chat(c.Request.Context(), identity, req.toService())
		if err != nil {
			err = writeError(conn, err)
		} else {
			frame := chatResponse(res)
			frame["type"] = "answer"
			err = conn.WriteJSON(frame)
		}
		if err == nil {
			err = sendCompletion(conn)
		}
		if err != nil {
			log.Warnf("向 WebSocket 写入消息失败: %v", err)
			return
		}
	}
}

func writeError(conn *websocket.Conn, err error) error {
	_, body := errorBody(err)
	body["type"] = "error"
	return conn.WriteJSON(body)
}

// sendCompletion 每轮结束都发送完成通知，出错时也一样
func sendCompletion(conn *websocket.Conn) error {
	return conn.WriteJSON(gin.H{
		"type":      "completion",
		"status":    "finished",
		"timestamp": time.Now().UnixMilli(),
	})
}
