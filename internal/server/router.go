package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/convoy/backend/internal/convoys"
	"github.com/MarcoPoloResearchLab/convoy/backend/internal/reports"
	"github.com/MarcoPoloResearchLab/convoy/backend/internal/routemap"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	operatorContextKey  = "convoy_operator"
	requestIDContextKey = "convoy_request_id"
	requestIDHeader     = "X-Request-ID"
	exportFileName      = "convoys.xlsx"
)

const (
	codeInvalidRequest  = "server.invalid_request"
	codeInvalidConvoyID = "server.invalid_convoy_id"
	codeInvalidOverlay  = "routemap.build.invalid_input"
	codeExportFailed    = "reports.export.write_failed"
	codeMissingToken    = "auth.missing_token"
	codeExpiredToken    = "auth.token_expired"
	codeInvalidToken    = "auth.invalid_token"
	codeInternal        = "server.internal"
)

var (
	errMissingTokenValidator = errors.New("token validator dependency required")
	errMissingConvoyService  = errors.New("convoy service dependency required")
	errInvalidAuthorization  = errors.New("authorization header missing or invalid")
)

// TokenValidator checks bearer tokens and returns the operator subject.
type TokenValidator interface {
	ValidateToken(token string) (string, error)
}

// ConvoyService is the domain surface the HTTP layer drives.
type ConvoyService interface {
	CreateOrMergeConvoy(ctx context.Context, input convoys.ConvoyInput) (convoys.CreateResult, error)
	AddVehicle(ctx context.Context, convoyID uint, input convoys.VehicleInput) (convoys.Vehicle, error)
	ListConvoys(ctx context.Context) ([]convoys.ConvoySummary, error)
	GetConvoy(ctx context.Context, convoyID uint) (convoys.ConvoyDetail, error)
	DeleteConvoy(ctx context.Context, convoyID uint) error
	ListVehicles(ctx context.Context) ([]convoys.Vehicle, error)
}

type Dependencies struct {
	TokenValidator TokenValidator
	ConvoyService  ConvoyService
	Logger         *zap.Logger
	AllowedOrigins []string
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.TokenValidator == nil {
		return nil, errMissingTokenValidator
	}
	if deps.ConvoyService == nil {
		return nil, errMissingConvoyService
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogMiddleware(logger))
	router.Use(corsMiddleware(deps.AllowedOrigins))

	handler := &httpHandler{
		tokens:  deps.TokenValidator,
		convoys: deps.ConvoyService,
		logger:  logger,
	}

	router.GET("/healthz", handler.handleHealth)

	api := router.Group("/api")
	api.Use(handler.authorizeRequest)

	convoyRoutes := api.Group("/convoys")
	convoyRoutes.POST("/create", handler.handleCreateConvoy)
	convoyRoutes.POST("/add-vehicle/:convoyId", handler.handleAddVehicle)
	convoyRoutes.GET("/list", handler.handleListConvoys)
	convoyRoutes.GET("/export", handler.handleExportConvoys)
	convoyRoutes.GET("/:id", handler.handleGetConvoy)
	convoyRoutes.GET("/:id/overlay", handler.handleConvoyOverlay)
	convoyRoutes.DELETE("/:id", handler.handleDeleteConvoy)

	api.POST("/map/overlay", handler.handleMapOverlay)

	return router, nil
}

func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	config := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders:  []string{"Authorization", "Content-Type", requestIDHeader},
		ExposeHeaders: []string{requestIDHeader, "Content-Disposition"},
		MaxAge:        12 * time.Hour,
	}
	if len(allowedOrigins) == 0 || slices.Contains(allowedOrigins, "*") {
		config.AllowAllOrigins = true
	} else {
		config.AllowOrigins = allowedOrigins
	}
	return cors.New(config)
}

// requestLogMiddleware tags every request with an X-Request-ID and writes one access log entry.
func requestLogMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := strings.TrimSpace(c.GetHeader(requestIDHeader))
		if requestID == "" {
			requestID = newRequestID()
		}
		c.Set(requestIDContextKey, requestID)
		c.Header(requestIDHeader, requestID)

		started := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		fields := []zap.Field{
			zap.String("request_id", requestID),
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(started)),
		}
		if operator := c.GetString(operatorContextKey); operator != "" {
			fields = append(fields, zap.String("operator", operator))
		}
		logger.Info("http request", fields...)
	}
}

func newRequestID() string {
	if generated, err := uuid.NewV7(); err == nil {
		return generated.String()
	}
	return uuid.NewString()
}

type httpHandler struct {
	tokens  TokenValidator
	convoys ConvoyService
	logger  *zap.Logger
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) handleCreateConvoy(c *gin.Context) {
	var request createConvoyRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		h.writeError(c, newPayloadError("malformed request body"))
		return
	}
	input, err := request.toInput()
	if err != nil {
		h.writeError(c, err)
		return
	}

	result, err := h.convoys.CreateOrMergeConvoy(c.Request.Context(), input)
	if err != nil {
		h.writeError(c, err)
		return
	}

	status := http.StatusOK
	if result.Status == convoys.CreateStatusCreated {
		status = http.StatusCreated
	}
	c.JSON(status, createConvoyResponsePayload{
		Message:       createMessage(result),
		Status:        string(result.Status),
		ConvoyID:      result.Convoy.ID,
		VehiclesAdded: result.VehiclesAdded,
		Convoy:        newConvoyResponse(result.Convoy),
	})
}

func (h *httpHandler) handleAddVehicle(c *gin.Context) {
	convoyID, ok := h.convoyIDParam(c, "convoyId")
	if !ok {
		return
	}
	var request vehicleRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		h.writeError(c, newPayloadError("malformed request body"))
		return
	}
	input, err := request.toInput("")
	if err != nil {
		h.writeError(c, err)
		return
	}

	vehicle, err := h.convoys.AddVehicle(c.Request.Context(), convoyID, input)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"vehicle": newVehicleResponse(vehicle)})
}

func (h *httpHandler) handleListConvoys(c *gin.Context) {
	summaries, err := h.convoys.ListConvoys(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	response := make([]convoyResponsePayload, 0, len(summaries))
	for _, summary := range summaries {
		response = append(response, newConvoyResponse(summary))
	}
	c.JSON(http.StatusOK, gin.H{"convoys": response})
}

func (h *httpHandler) handleGetConvoy(c *gin.Context) {
	convoyID, ok := h.convoyIDParam(c, "id")
	if !ok {
		return
	}
	detail, err := h.convoys.GetConvoy(c.Request.Context(), convoyID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"convoy": newConvoyDetailResponse(detail)})
}

func (h *httpHandler) handleDeleteConvoy(c *gin.Context) {
	convoyID, ok := h.convoyIDParam(c, "id")
	if !ok {
		return
	}
	if err := h.convoys.DeleteConvoy(c.Request.Context(), convoyID); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":   fmt.Sprintf("Convoy %d deleted", convoyID),
		"convoy_id": convoyID,
	})
}

func (h *httpHandler) handleExportConvoys(c *gin.Context) {
	summaries, err := h.convoys.ListConvoys(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	vehicles, err := h.convoys.ListVehicles(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}

	var buffer bytes.Buffer
	if err := reports.WriteConvoyWorkbook(&buffer, summaries, vehicles); err != nil {
		h.logger.Error("failed to render convoy workbook", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "failed to render export", "code": codeExportFailed})
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", exportFileName))
	c.Data(http.StatusOK, reports.ContentType, buffer.Bytes())
}

func (h *httpHandler) handleConvoyOverlay(c *gin.Context) {
	convoyID, ok := h.convoyIDParam(c, "id")
	if !ok {
		return
	}
	detail, err := h.convoys.GetConvoy(c.Request.Context(), convoyID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	overlay, err := routemap.Build(convoyOverlayInput(detail.Convoy))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newOverlayResponse(overlay))
}

func (h *httpHandler) handleMapOverlay(c *gin.Context) {
	var request overlayRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		h.writeError(c, newPayloadError("malformed request body"))
		return
	}
	overlay, err := routemap.Build(request.toInput())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newOverlayResponse(overlay))
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": errInvalidAuthorization.Error(), "code": codeMissingToken})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": errInvalidAuthorization.Error(), "code": codeMissingToken})
		return
	}
	subject, err := h.tokens.ValidateToken(token)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			h.logger.Info("token validation failed", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "token expired", "code": codeExpiredToken})
			return
		}
		h.logger.Warn("token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "unauthorized", "code": codeInvalidToken})
		return
	}
	c.Set(operatorContextKey, subject)
	c.Next()
}

func (h *httpHandler) convoyIDParam(c *gin.Context, name string) (uint, bool) {
	raw := strings.TrimSpace(c.Param(name))
	value, err := strconv.ParseUint(raw, 10, 0)
	if err != nil || value == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "convoy id must be a positive integer", "code": codeInvalidConvoyID})
		return 0, false
	}
	return uint(value), true
}

// requestError is a malformed request rejected before it reaches the service.
type requestError struct {
	detail string
}

func (e *requestError) Error() string {
	return e.detail
}

func newPayloadError(detail string) error {
	return &requestError{detail: detail}
}

// writeError maps domain and request errors onto a status code and a {"detail","code"} body.
func (h *httpHandler) writeError(c *gin.Context, err error) {
	var payloadErr *requestError
	if errors.As(err, &payloadErr) {
		c.JSON(http.StatusBadRequest, gin.H{"detail": payloadErr.detail, "code": codeInvalidRequest})
		return
	}
	if errors.Is(err, routemap.ErrInvalidOverlay) {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error(), "code": codeInvalidOverlay})
		return
	}

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, convoys.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, convoys.ErrDuplicateRegistration), errors.Is(err, convoys.ErrMetadataConflict):
		status = http.StatusConflict
	case errors.Is(err, convoys.ErrNotFound):
		status = http.StatusNotFound
	}

	body := gin.H{"detail": "internal server error", "code": codeInternal}
	var serviceErr *convoys.ServiceError
	if errors.As(err, &serviceErr) {
		body["detail"] = serviceErr.Detail()
		body["code"] = serviceErr.Code()
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("request_id", c.GetString(requestIDContextKey)),
			zap.String("code", fmt.Sprint(body["code"])),
			zap.Error(err))
	}
	c.JSON(status, body)
}
