package handlers

import (
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	gorilla "github.com/gorilla/websocket"

	"civicwatch/changefeed"
	"civicwatch/database"
	"civicwatch/models"
	"civicwatch/pipeline"
	ws "civicwatch/websocket"
)

// maxMediaBytes caps the accepted evidence upload size.
const maxMediaBytes = 32 << 20

var errMediaTooLarge = errors.New("media upload exceeds size limit")

// Handlers contains all HTTP handlers
type Handlers struct {
	pipe     *pipeline.Pipeline
	db       *database.Database
	hub      *ws.Hub
	notifier changefeed.Notifier
}

// NewHandlers creates a new handlers instance
func NewHandlers(pipe *pipeline.Pipeline, db *database.Database, hub *ws.Hub, notifier changefeed.Notifier) *Handlers {
	return &Handlers{
		pipe:     pipe,
		db:       db,
		hub:      hub,
		notifier: notifier,
	}
}

// SubmitReport handles POST /api/v1/reports. The body is a multipart form
// with the report fields and an optional media file.
func (h *Handlers) SubmitReport(c *gin.Context) {
	sub, err := h.parseSubmission(c)
	if err != nil {
		if errors.Is(err, errMediaTooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Evidence file exceeds the 32MB limit."})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	outcome, err := h.pipe.Run(c.Request.Context(), sub)
	if err != nil {
		var verr *pipeline.ValidationError
		switch {
		case errors.As(err, &verr):
			c.JSON(http.StatusBadRequest, gin.H{
				"error":  "Please fill in all required fields and select a location on the map.",
				"fields": verr.Fields,
			})
		case errors.Is(err, pipeline.ErrMediaPersist):
			// Partial success: the report row exists.
			c.JSON(http.StatusAccepted, gin.H{
				"message":   "Report submitted, evidence not attached.",
				"report_id": outcome.ReportID,
			})
		case errors.Is(err, pipeline.ErrModerationUnavailable),
			errors.Is(err, pipeline.ErrStorageUnavailable):
			c.JSON(http.StatusBadGateway, gin.H{"error": "Report not submitted."})
		default:
			log.Printf("Submission failed at stage %s: %v", outcome.FailedStage, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Report not submitted."})
		}
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message":            "Report submitted successfully.",
		"report_id":          outcome.ReportID,
		"media_id":           outcome.MediaID,
		"file_url":           outcome.FileURL,
		"is_detected":        outcome.Detected,
		"flagged_categories": outcome.FlaggedCategories,
		"is_blurred":         outcome.Blurred,
	})
}

func (h *Handlers) parseSubmission(c *gin.Context) (*pipeline.Submission, error) {
	sub := &pipeline.Submission{
		CrimeType:   c.PostForm("crime_type"),
		Severity:    c.PostForm("severity"),
		Title:       c.PostForm("title"),
		Address:     c.PostForm("address"),
		Description: c.PostForm("description"),
	}

	if userID := c.PostForm("user_id"); userID != "" {
		sub.UserID = &userID
	}
	if anon, err := strconv.ParseBool(c.DefaultPostForm("is_anonymous", "false")); err == nil {
		sub.IsAnonymous = anon
	}
	if reportedAt := c.PostForm("reported_at"); reportedAt != "" {
		if ts, err := time.Parse(time.RFC3339, reportedAt); err == nil {
			sub.ReportedAt = ts
		}
	}
	if lat := c.PostForm("latitude"); lat != "" {
		if v, err := strconv.ParseFloat(lat, 64); err == nil {
			sub.Latitude = &v
		}
	}
	if lng := c.PostForm("longitude"); lng != "" {
		if v, err := strconv.ParseFloat(lng, 64); err == nil {
			sub.Longitude = &v
		}
	}

	file, header, err := c.Request.FormFile("media")
	if err == nil {
		defer file.Close()
		// Read one byte past the cap so an over-limit upload is rejected
		// rather than truncated and stored corrupt.
		data, err := io.ReadAll(io.LimitReader(file, maxMediaBytes+1))
		if err != nil {
			return nil, errors.New("could not read media upload")
		}
		if len(data) > maxMediaBytes {
			return nil, errMediaTooLarge
		}
		sub.Media = &pipeline.MediaUpload{
			Bytes:    data,
			Filename: header.Filename,
			MimeType: header.Header.Get("Content-Type"),
		}
	}

	return sub, nil
}

// ListReports handles GET /api/v1/reports?page=N
func (h *Handlers) ListReports(c *gin.Context) {
	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil || page < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid 'page' parameter. Must be a positive integer."})
		return
	}

	result, err := h.db.ListPage(c.Request.Context(), page)
	if err != nil {
		log.Printf("Failed to list reports: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve reports"})
		return
	}
	c.JSON(http.StatusOK, result)
}

// GetReport handles GET /api/v1/reports/:id
func (h *Handlers) GetReport(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid report id"})
		return
	}

	report, err := h.db.GetReport(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Report not found"})
		return
	}
	media, err := h.db.GetMediaForReport(c.Request.Context(), id)
	if err != nil {
		log.Printf("Failed to get media for report %d: %v", id, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve report media"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"report": report, "media": media})
}

// UpdateStatusRequest is the payload for status mutations performed by role
// services outside the submission core.
type UpdateStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

// UpdateReportStatus handles PATCH /api/v1/reports/:id/status
func (h *Handlers) UpdateReportStatus(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid report id"})
		return
	}

	var req UpdateStatusRequest
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	switch req.Status {
	case models.StatusPending, models.StatusUnderInvestigation, models.StatusResolved:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown status"})
		return
	}

	if err := h.db.UpdateStatus(c.Request.Context(), id, req.Status); err != nil {
		log.Printf("Failed to update status of report %d: %v", id, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update status"})
		return
	}
	h.notifier.NotifyChange(changefeed.TopicReports, changefeed.KindUpdate, id)
	c.JSON(http.StatusOK, gin.H{"message": "Status updated"})
}

// DeleteReport handles DELETE /api/v1/reports/:id
func (h *Handlers) DeleteReport(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid report id"})
		return
	}

	if err := h.db.DeleteReport(c.Request.Context(), id); err != nil {
		log.Printf("Failed to delete report %d: %v", id, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete report"})
		return
	}
	h.notifier.NotifyChange(changefeed.TopicReports, changefeed.KindDelete, id)
	c.JSON(http.StatusOK, gin.H{"message": "Report deleted"})
}

// WebSocket upgrader
var upgrader = gorilla.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Allow all origins for now
		return true
	},
}

// ListenReports handles WebSocket connections for the live report feed
func (h *Handlers) ListenReports(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("Failed to upgrade connection to WebSocket: %v", err)
		return
	}

	client := ws.NewClient(h.hub, conn)
	h.hub.Register <- client

	go client.WritePump()
	go client.ReadPump()

	log.Printf("WebSocket connection established")
}

// HealthCheck returns the service health status
func (h *Handlers) HealthCheck(c *gin.Context) {
	connectedClients, lastBroadcastPage := h.hub.GetStats()
	c.JSON(http.StatusOK, gin.H{
		"status":              "healthy",
		"service":             "civicwatch",
		"timestamp":           time.Now().UTC().Format(time.RFC3339),
		"connected_clients":   connectedClients,
		"last_broadcast_page": lastBroadcastPage,
	})
}
