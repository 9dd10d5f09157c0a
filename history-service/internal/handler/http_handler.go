package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/weiawesome/wes-edu-relay/history-service/internal/domain"
	"github.com/weiawesome/wes-edu-relay/history-service/internal/service"
	"github.com/weiawesome/wes-edu-relay/pkg/log"
	"github.com/weiawesome/wes-edu-relay/pkg/protocol"
	"github.com/weiawesome/wes-edu-relay/pkg/response"
)

type HTTPHandler struct {
	historyService service.HistoryService
}

func NewHTTPHandler(historyService service.HistoryService) *HTTPHandler {
	return &HTTPHandler{historyService: historyService}
}

func (h *HTTPHandler) RegisterRoutes(r *gin.Engine) {
	api := r.Group("/api/v1")
	{
		api.POST("/messages", h.AppendMessage)
		api.GET("/conversations/:owner_id/:partner_id/messages", h.GetMessages)
		api.POST("/conversations/:owner_id/:partner_id/read", h.MarkRead)
	}

	r.GET("/health", h.HealthCheck)
}

// AppendMessage handles POST /api/v1/messages
func (h *HTTPHandler) AppendMessage(c *gin.Context) {
	var req domain.AppendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request body")
		return
	}
	c.Set(log.FieldUserID, senderOf(req))

	msg, created, err := h.historyService.Append(c.Request.Context(), req)
	if err != nil {
		var verr *service.ValidationError
		if errors.As(err, &verr) {
			response.BadRequest(c, verr.Error())
			return
		}
		c.Error(err)
		response.InternalError(c, "failed to store message")
		return
	}

	if created {
		response.Created(c, msg)
		return
	}
	response.Success(c, msg)
}

// GetMessages handles GET /api/v1/conversations/:owner_id/:partner_id/messages
func (h *HTTPHandler) GetMessages(c *gin.Context) {
	ownerID := c.Param("owner_id")
	partnerID := c.Param("partner_id")
	c.Set(log.FieldUserID, ownerID)

	msgs, err := h.historyService.History(c.Request.Context(), ownerID, partnerID)
	if err != nil {
		c.Error(err)
		response.InternalError(c, "failed to get chat history")
		return
	}

	response.Success(c, domain.HistoryResponse{Messages: msgs})
}

// MarkRead handles POST /api/v1/conversations/:owner_id/:partner_id/read
func (h *HTTPHandler) MarkRead(c *gin.Context) {
	ownerID := c.Param("owner_id")
	partnerID := c.Param("partner_id")
	c.Set(log.FieldUserID, ownerID)

	updated, err := h.historyService.MarkRead(c.Request.Context(), ownerID, partnerID)
	if err != nil {
		c.Error(err)
		response.InternalError(c, "failed to mark messages read")
		return
	}

	response.Success(c, domain.MarkReadResponse{Updated: updated})
}

func (h *HTTPHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func senderOf(req domain.AppendRequest) string {
	if req.Sender == protocol.RoleParent {
		return req.ParentID
	}
	return req.TeacherID
}
