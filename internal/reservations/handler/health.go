package handler

import (
	"context"
	"net/http"
	"time"

	httputil "medslots/pkg/http"
	"medslots/pkg/logger"

	"github.com/julienschmidt/httprouter"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
)

type HealthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database,omitempty"`
	Cache    string `json:"cache,omitempty"`
}

// HealthHandler checks only the backends that are configured; a memory
// deployment is ready as soon as it serves.
type HealthHandler struct {
	mongoClient *mongo.Client
	redisClient *redis.Client
	log         *logger.Logger
}

func NewHealthHandler(mongoClient *mongo.Client, redisClient *redis.Client, log *logger.Logger) *HealthHandler {
	return &HealthHandler{
		mongoClient: mongoClient,
		redisClient: redisClient,
		log:         log,
	}
}

func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if err := httputil.WriteSuccess(w, "ok", HealthResponse{Status: "ok"}); err != nil {
		h.log.Error("failed to write success response", "handler", "Health", "operation", "WriteSuccess", "error", err)
	}
}

func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := HealthResponse{Status: "ready"}
	healthy := true

	if h.mongoClient != nil {
		resp.Database = "ok"
		if err := h.mongoClient.Ping(ctx, nil); err != nil {
			h.log.Error("Database health check failed", "error", err, "path", r.URL.Path)
			resp.Database = "error"
			healthy = false
		}
	}
	if h.redisClient != nil {
		resp.Cache = "ok"
		if err := h.redisClient.Ping(ctx).Err(); err != nil {
			h.log.Error("Cache health check failed", "error", err, "path", r.URL.Path)
			resp.Cache = "error"
			healthy = false
		}
	}

	if !healthy {
		resp.Status = "unavailable"
		if err := httputil.WriteJSON(w, http.StatusServiceUnavailable, httputil.Envelope{
			IsSuccess: false,
			Code:      http.StatusServiceUnavailable,
			Message:   "Dependencies are not ready",
			Data:      resp,
		}); err != nil {
			h.log.Error("failed to write JSON response", "handler", "Ready", "operation", "WriteJSON", "error", err)
		}
		return
	}

	if err := httputil.WriteSuccess(w, "ready", resp); err != nil {
		h.log.Error("failed to write success response", "handler", "Ready", "operation", "WriteSuccess", "error", err)
	}
}

func (h *HealthHandler) RegisterRoutes(router *httprouter.Router) {
	router.GET("/health", h.Health)
	router.GET("/ready", h.Ready)
}
