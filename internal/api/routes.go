package api

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/kestrelworks/parley/internal/models"
	"github.com/kestrelworks/parley/internal/session"
)

// registerRoutes sets up all session routes on the Gin router.
func registerRoutes(router *gin.Engine, svc *session.Service, sched *session.Scheduler) {
	router.POST("/session", handleCreateSession(svc))
	router.GET("/session/:id", handleGetSession(svc))
	router.PUT("/session/:id", handleUpdateSession(svc))
	router.DELETE("/session/:id", handleDeleteSession(svc))
	router.POST("/sessions", handleQuerySessions(svc))
	router.POST("/channels/response", handleChannelResponse(svc))
	router.POST("/webhook/validate_response", handleValidateResponse(svc))
	router.POST("/sessions/:id/send_message", handleSendMessage(svc))
	router.POST("/sessions/expire", handleExpireSessions(sched))
}

// createSessionRequest mirrors the session document shape callers post.
type createSessionRequest struct {
	SessionID           string                 `json:"session_id"`
	SubjectID           string                 `json:"subject_id"`
	MessageData         map[string]interface{} `json:"message_data"`
	MessageDataTemplate map[string]interface{} `json:"message_data_template"`
	ReceptionChannelID  string                 `json:"reception_channel_id"`
	ExpiryDate          int64                  `json:"expiry_date"`
	Status              string                 `json:"status"`
	DSLExecutionID      string                 `json:"dsl_execution_id"`
}

func handleCreateSession(svc *session.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createSessionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
			return
		}

		if req.SessionID == "" {
			req.SessionID = uuid.NewString()
		}
		status := req.Status
		if status == "" {
			status = models.StatusPending
		}
		if !models.ValidStatus(status) {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid status"})
			return
		}

		sess := &models.Session{
			SessionID:          req.SessionID,
			SubjectID:          req.SubjectID,
			ReceptionChannelID: req.ReceptionChannelID,
			ExpiryDate:         req.ExpiryDate,
			Status:             status,
			DSLExecutionID:     req.DSLExecutionID,
		}
		if req.MessageData == nil {
			req.MessageData = map[string]interface{}{}
		}
		if req.MessageDataTemplate == nil {
			req.MessageDataTemplate = map[string]interface{}{}
		}
		if err := sess.SetData(req.MessageData); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
			return
		}
		if err := sess.SetTemplate(req.MessageDataTemplate); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
			return
		}

		if err := svc.Store().Insert(sess); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, gin.H{
			"success": true,
			"data":    gin.H{"message": "Session message created", "id": sess.SessionID},
		})
	}
}

func handleGetSession(svc *session.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, err := svc.Store().Get(c.Param("id"))
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, session.ErrNotFound) {
				status = http.StatusNotFound
			}
			c.JSON(status, gin.H{"success": false, "error": err.Error()})
			return
		}
		doc, err := sessionDoc(sess)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "data": doc})
	}
}

// updatable maps JSON field names callers may update to their columns.
var updatable = map[string]string{
	"subject_id":            "subject_id",
	"reception_channel_id":  "reception_channel_id",
	"expiry_date":           "expiry_date",
	"status":                "status",
	"dsl_execution_id":      "dsl_execution_id",
	"message_data":          "message_data",
	"message_data_template": "message_data_template",
}

func handleUpdateSession(svc *session.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body map[string]interface{}
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
			return
		}

		fields := make(map[string]interface{}, len(body))
		for key, value := range body {
			column, ok := updatable[key]
			if !ok {
				c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "unknown field: " + key})
				return
			}
			if key == "message_data" || key == "message_data_template" {
				encoded, err := encodeDoc(value)
				if err != nil {
					c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
					return
				}
				fields[column] = encoded
				continue
			}
			if key == "status" {
				s, _ := value.(string)
				if !models.ValidStatus(s) {
					c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid status"})
					return
				}
			}
			fields[column] = value
		}
		if len(fields) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "no fields to update"})
			return
		}

		if err := svc.Store().Update(c.Param("id"), fields); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "data": gin.H{"message": "Session message updated"}})
	}
}

func handleDeleteSession(svc *session.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := svc.Store().Delete(c.Param("id")); err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, session.ErrNotFound) {
				status = http.StatusNotFound
			}
			c.JSON(status, gin.H{"success": false, "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "data": gin.H{"message": "Session message deleted"}})
	}
}

func handleQuerySessions(svc *session.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var filter session.Filter
		if err := c.ShouldBindJSON(&filter); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
			return
		}
		sessions, err := svc.Store().Query(filter)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
			return
		}
		docs := make([]gin.H, 0, len(sessions))
		for i := range sessions {
			doc, err := sessionDoc(&sessions[i])
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
				return
			}
			docs = append(docs, doc)
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "data": docs})
	}
}

// channelResponseRequest is the body for response processing and dry-run
// validation.
type channelResponseRequest struct {
	SessionID    string                 `json:"session_id"`
	ResponseData map[string]interface{} `json:"response_data"`
}

func handleChannelResponse(svc *session.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req channelResponseRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON payload"})
			return
		}
		if req.SessionID == "" || req.ResponseData == nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Missing 'session_id' or 'response_data'"})
			return
		}

		outcome, err := svc.ProcessChannelResponse(req.SessionID, req.ResponseData)
		if err != nil {
			log.Printf("api: process response for session %s: %v", req.SessionID, err)
			switch {
			case errors.Is(err, session.ErrNotFound):
				c.JSON(http.StatusNotFound, gin.H{"status": "error", "message": err.Error()})
			case errors.Is(err, session.ErrConflict):
				c.JSON(http.StatusConflict, gin.H{"status": "error", "message": err.Error()})
			default:
				c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": err.Error()})
			}
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "success", "data": outcome})
	}
}

func handleValidateResponse(svc *session.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req channelResponseRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON payload"})
			return
		}
		if req.SessionID == "" || req.ResponseData == nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Missing 'session_id' or 'response_data'"})
			return
		}

		sess, err := svc.Store().Get(req.SessionID)
		if err != nil {
			if errors.Is(err, session.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		// Merge ephemerally: the session record is never written here.
		data, err := sess.Data()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		for k, v := range req.ResponseData {
			data[k] = v
		}
		if err := sess.SetData(data); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		result, err := svc.ValidateMessage(sess)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if result.IsValid {
			c.JSON(http.StatusOK, gin.H{"status": "valid", "errors": gin.H{}})
			return
		}
		c.JSON(http.StatusUnprocessableEntity, gin.H{"status": "invalid", "errors": result.Errors})
	}
}

// sendMessageRequest is the body for outbound channel delivery.
type sendMessageRequest struct {
	ChannelID string `json:"channel_id"`
	Message   string `json:"message"`
}

func handleSendMessage(svc *session.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req sendMessageRequest
		if err := c.ShouldBindJSON(&req); err != nil || req.ChannelID == "" || req.Message == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Missing 'channel_id' or 'message'"})
			return
		}
		result, err := svc.SendMessageToChannel(c.Request.Context(), c.Param("id"), req.ChannelID, req.Message)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "message_sent", "details": result})
	}
}

func handleExpireSessions(sched *session.Scheduler) gin.HandlerFunc {
	return func(c *gin.Context) {
		n, err := sched.Sweep()
		if err != nil {
			log.Printf("api: manual expiry sweep: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "expiry_triggered", "expired": n})
	}
}

// sessionDoc renders a session with its JSON document columns decoded.
func sessionDoc(sess *models.Session) (gin.H, error) {
	data, err := sess.Data()
	if err != nil {
		return nil, err
	}
	tpl, err := sess.Template()
	if err != nil {
		return nil, err
	}
	return gin.H{
		"session_id":            sess.SessionID,
		"subject_id":            sess.SubjectID,
		"message_data":          data,
		"message_data_template": tpl,
		"reception_channel_id":  sess.ReceptionChannelID,
		"expiry_date":           sess.ExpiryDate,
		"status":                sess.Status,
		"dsl_execution_id":      sess.DSLExecutionID,
		"last_validated_at":     sess.LastValidatedAt,
	}, nil
}

// encodeDoc marshals an object field from an update body to its JSON
// column representation.
func encodeDoc(value interface{}) (string, error) {
	m, ok := value.(map[string]interface{})
	if !ok {
		return "", errors.New("api: document fields must be JSON objects")
	}
	sess := models.Session{}
	if err := sess.SetData(m); err != nil {
		return "", err
	}
	return sess.MessageData, nil
}
