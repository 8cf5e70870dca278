package handlers

import (
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/example/face-attend/internal/logging"
	"github.com/example/face-attend/internal/repository"
	"github.com/example/face-attend/internal/usecase"
)

// MaxUploadSize bounds a single request body, matching the per-image limit.
const MaxUploadSize = 10 << 20

// MinEnrollmentImages is the smallest image set accepted for registration.
const MinEnrollmentImages = 5

var allowedImageTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
}

// Handlers bundles the use cases behind the HTTP surface.
type Handlers struct {
	Enrollment     *usecase.EnrollmentUseCase
	Authentication *usecase.AuthenticationUseCase
	Attendance     *usecase.AttendanceUseCase
	Crowd          *usecase.CrowdUseCase
	Metrics        *usecase.MetricsUseCase
	Retention      *usecase.RetentionUseCase
	Logger         *zap.Logger
}

// RegisterRoutes wires the HTTP handlers to the Gin router. Everything under
// /api requires a valid bearer token; /health does not.
func RegisterRoutes(router *gin.Engine, h *Handlers, authMiddleware gin.HandlerFunc) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api", authMiddleware)
	api.POST("/register", h.register)
	api.POST("/authenticate", h.authenticate)
	api.GET("/profile/:identityId", h.getProfile)
	api.DELETE("/profile/:identityId", h.deleteProfile)
	api.POST("/group/authenticate", h.authenticateGroup)
	api.GET("/group/history", h.attendanceHistory)
	api.POST("/crowd/count", h.countCrowd)
	api.GET("/crowd/history", h.crowdHistory)
	api.GET("/metrics", h.metrics)
}

func (h *Handlers) register(c *gin.Context) {
	identityID := c.PostForm("identity_id")
	if identityID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "identity_id is required"})
		return
	}

	form, err := c.MultipartForm()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "multipart form required"})
		return
	}
	files := form.File["images"]
	if len(files) < MinEnrollmentImages {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "at least " + strconv.Itoa(MinEnrollmentImages) + " images are required",
		})
		return
	}

	images := make([]usecase.EnrollmentImage, 0, len(files))
	for _, file := range files {
		data, ok := readImagePart(c, file)
		if !ok {
			return
		}
		images = append(images, usecase.EnrollmentImage{Filename: file.Filename, Data: data})
	}

	attributes := map[string]string{}
	for key, values := range form.Value {
		if key == "identity_id" || key == "display_name" || len(values) == 0 {
			continue
		}
		attributes[key] = values[0]
	}

	result, err := h.Enrollment.Enroll(c.Request.Context(), identityID, c.PostForm("display_name"), images, attributes)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

func (h *Handlers) authenticate(c *gin.Context) {
	data, ok := h.singleImage(c)
	if !ok {
		return
	}

	result, err := h.Authentication.Authenticate(c.Request.Context(), data)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handlers) getProfile(c *gin.Context) {
	profile, err := h.Enrollment.GetProfile(c.Request.Context(), c.Param("identityId"))
	if err != nil {
		h.respondError(c, err)
		return
	}

	// Ciphertext embeddings never leave the service.
	c.JSON(http.StatusOK, gin.H{
		"identity_id":           profile.IdentityID,
		"display_name":          profile.DisplayName,
		"attributes":            profile.Attributes,
		"image_count":           len(profile.Images),
		"registered_at":         profile.RegisteredAt,
		"last_authenticated_at": profile.LastAuthenticatedAt,
		"active":                profile.Active,
	})
}

func (h *Handlers) deleteProfile(c *gin.Context) {
	identityID := c.Param("identityId")
	if err := h.Enrollment.DeleteProfile(c.Request.Context(), identityID); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"identity_id": identityID, "deleted": true})
}

func (h *Handlers) authenticateGroup(c *gin.Context) {
	data, ok := h.singleImage(c)
	if !ok {
		return
	}

	eventID := c.PostForm("event_id")
	if eventID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "event_id is required"})
		return
	}

	result, err := h.Attendance.AuthenticateGroup(c.Request.Context(), data, eventID,
		c.PostForm("event_name"), c.PostForm("location"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handlers) attendanceHistory(c *gin.Context) {
	filter := repository.AttendanceFilter{
		EventID:    c.Query("event_id"),
		IdentityID: c.Query("identity_id"),
	}
	if !h.parseTimeRange(c, &filter.From, &filter.To) {
		return
	}
	filter.Limit = parseLimit(c)

	records, err := h.Attendance.History(c.Request.Context(), filter)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(records), "records": records})
}

func (h *Handlers) countCrowd(c *gin.Context) {
	data, ok := h.singleImage(c)
	if !ok {
		return
	}

	result, err := h.Crowd.CountCrowd(c.Request.Context(), data,
		c.PostForm("location"), c.PostForm("event_name"),
		usecase.CrowdRequestContext{
			ImageResolution:   c.PostForm("image_resolution"),
			WeatherConditions: c.PostForm("weather_conditions"),
		})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handlers) crowdHistory(c *gin.Context) {
	filter := repository.CrowdFilter{
		Location:  c.Query("location"),
		EventName: c.Query("event_name"),
	}
	if !h.parseTimeRange(c, &filter.From, &filter.To) {
		return
	}
	filter.Limit = parseLimit(c)

	records, err := h.Crowd.History(c.Request.Context(), filter)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(records), "records": records})
}

func (h *Handlers) metrics(c *gin.Context) {
	summary, err := h.Metrics.Summary(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	stats, err := h.Retention.Stats(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"summary": summary, "retention": stats})
}

// singleImage reads the "image" form file, enforcing size and content type.
// The upload limit applies per file, never to the whole request body, so an
// enrollment batch of several near-limit images stays valid.
func (h *Handlers) singleImage(c *gin.Context) ([]byte, bool) {
	file, err := c.FormFile("image")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "image file is required"})
		return nil, false
	}
	return readImagePart(c, file)
}

func readImagePart(c *gin.Context, file *multipart.FileHeader) ([]byte, bool) {
	if !allowedImageTypes[file.Header.Get("Content-Type")] {
		c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": "only JPEG and PNG images are supported"})
		return nil, false
	}
	if file.Size > MaxUploadSize {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image exceeds the upload limit"})
		return nil, false
	}

	src, err := file.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unable to open image"})
		return nil, false
	}
	defer src.Close()

	data, err := io.ReadAll(src)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read image"})
		return nil, false
	}
	return data, true
}

func (h *Handlers) parseTimeRange(c *gin.Context, from, to *time.Time) bool {
	var err error
	if raw := c.Query("from"); raw != "" {
		if *from, err = time.Parse(time.RFC3339, raw); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "from must be RFC 3339"})
			return false
		}
	}
	if raw := c.Query("to"); raw != "" {
		if *to, err = time.Parse(time.RFC3339, raw); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "to must be RFC 3339"})
			return false
		}
	}
	return true
}

func parseLimit(c *gin.Context) int {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "0"))
	if err != nil || limit < 0 {
		return 0
	}
	return limit
}

// respondError maps the error kind onto an HTTP status.
func (h *Handlers) respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch logging.KindOf(err) {
	case logging.KindInvalidInput:
		status = http.StatusBadRequest
	case logging.KindNotFound:
		status = http.StatusNotFound
	case logging.KindUnavailable:
		status = http.StatusServiceUnavailable
	}

	if status == http.StatusInternalServerError {
		h.Logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
