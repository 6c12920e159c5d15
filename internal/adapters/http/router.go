package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/atvirokodosprendimai/pcbuilder/internal/application"
	"github.com/atvirokodosprendimai/pcbuilder/internal/domain"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type Handler struct {
	service *application.BuilderService
	logger  *zap.Logger
}

func NewRouter(service *application.BuilderService, logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Handler{service: service, logger: logger}
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "sessions": len(service.OpenSessionIDs())})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(api chi.Router) {
		api.Use(h.logRequests)

		api.Post("/sessions", h.handleCreateSession)
		api.Get("/sessions", h.handleListSessions)
		api.Route("/sessions/{sessionID}", func(s chi.Router) {
			s.Get("/", h.handleShowSession)
			s.Delete("/", h.handleCloseSession)
			s.Post("/brand", h.handleSelectBrand)
			s.Post("/select", h.handleSelectPart)
			s.Post("/fans", h.handleAddFan)
			s.Delete("/fans/{productID}", h.handleRemoveFan)
			s.Post("/refresh", h.handleRefresh)
			s.Get("/candidates/{category}", h.handleCandidates)
			s.Post("/draft", h.handleSaveDraft)
			s.Post("/submit", h.handleSubmit)
			s.Get("/history", h.handleHistory)
		})
		api.Get("/builds/{buildID}", h.handleGetBuild)
	})

	return r
}

func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		h.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	view, err := h.service.CreateSession(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

func (h *Handler) handleListSessions(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	items, err := h.service.ListSessions(r.Context(), limit)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *Handler) handleShowSession(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := h.pathParam(w, r, "sessionID")
	if !ok {
		return
	}
	view, err := h.service.Show(r.Context(), sessionID, queryBool(r, "wait"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := h.pathParam(w, r, "sessionID")
	if !ok {
		return
	}
	if err := h.service.CloseSession(r.Context(), sessionID); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type apiBrandRequest struct {
	Brand string `json:"brand"`
}

func (h *Handler) handleSelectBrand(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := h.pathParam(w, r, "sessionID")
	if !ok {
		return
	}
	var req apiBrandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid payload"})
		return
	}
	view, err := h.service.SelectBrand(r.Context(), sessionID, req.Brand)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

type apiSelectRequest struct {
	Category  string `json:"category"`
	ProductID string `json:"productId"`
}

func (h *Handler) handleSelectPart(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := h.pathParam(w, r, "sessionID")
	if !ok {
		return
	}
	var req apiSelectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid payload"})
		return
	}
	category, err := domain.ParseCategory(req.Category)
	if err != nil {
		h.writeError(w, err)
		return
	}
	view, err := h.service.SelectPart(r.Context(), sessionID, category, req.ProductID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

type apiFanRequest struct {
	ProductID string `json:"productId"`
}

func (h *Handler) handleAddFan(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := h.pathParam(w, r, "sessionID")
	if !ok {
		return
	}
	var req apiFanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid payload"})
		return
	}
	view, err := h.service.AddFan(r.Context(), sessionID, req.ProductID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) handleRemoveFan(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := h.pathParam(w, r, "sessionID")
	if !ok {
		return
	}
	productID, ok := h.pathParam(w, r, "productID")
	if !ok {
		return
	}
	view, err := h.service.RemoveFan(r.Context(), sessionID, productID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

type apiRefreshRequest struct {
	Categories []string `json:"categories"`
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := h.pathParam(w, r, "sessionID")
	if !ok {
		return
	}
	var req apiRefreshRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid payload"})
			return
		}
	}
	categories := make([]domain.Category, 0, len(req.Categories))
	for _, raw := range req.Categories {
		c, err := domain.ParseCategory(raw)
		if err != nil {
			h.writeError(w, err)
			return
		}
		categories = append(categories, c)
	}
	view, err := h.service.Refresh(r.Context(), sessionID, categories...)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) handleCandidates(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := h.pathParam(w, r, "sessionID")
	if !ok {
		return
	}
	rawCategory, ok := h.pathParam(w, r, "category")
	if !ok {
		return
	}
	category, err := domain.ParseCategory(rawCategory)
	if err != nil {
		h.writeError(w, err)
		return
	}
	list, err := h.service.Candidates(r.Context(), sessionID, category, r.URL.Query().Get("q"), queryBool(r, "wait"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handler) handleSaveDraft(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := h.pathParam(w, r, "sessionID")
	if !ok {
		return
	}
	draft, err := h.service.SaveDraft(r.Context(), sessionID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, draft)
}

type apiSubmitRequest struct {
	BuildID string `json:"buildId"`
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := h.pathParam(w, r, "sessionID")
	if !ok {
		return
	}
	var req apiSubmitRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid payload"})
			return
		}
	}
	message, err := h.service.Submit(r.Context(), sessionID, req.BuildID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": message})
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := h.pathParam(w, r, "sessionID")
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	history, err := h.service.History(r.Context(), sessionID, limit)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

func (h *Handler) handleGetBuild(w http.ResponseWriter, r *http.Request) {
	buildID, ok := h.pathParam(w, r, "buildID")
	if !ok {
		return
	}
	build, err := h.service.FetchBuild(r.Context(), buildID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, build)
}

// StatusFor maps service errors to HTTP status codes.
func StatusFor(err error) int {
	var upstream *domain.UpstreamError
	switch {
	case errors.Is(err, domain.ErrSessionNotFound), errors.Is(err, domain.ErrBuildNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrUnknownCategory), errors.Is(err, domain.ErrInvalidSelection):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotVerified), errors.Is(err, domain.ErrNoDraft):
		return http.StatusConflict
	case errors.As(err, &upstream), errors.Is(err, domain.ErrCatalogFetchFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	payload := map[string]any{"error": err.Error()}
	var upstream *domain.UpstreamError
	if errors.As(err, &upstream) {
		if msgs := upstream.Messages(); len(msgs) > 0 {
			payload["errors"] = msgs
		}
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", zap.Int("status", status), zap.Error(err))
	}
	writeJSON(w, status, payload)
}

// pathParam returns a route parameter decoded. chi matches on RawPath when
// the request path carries escapes, so ids containing "/" arrive encoded.
func (h *Handler) pathParam(w http.ResponseWriter, r *http.Request, key string) (string, bool) {
	raw := chi.URLParam(r, key)
	value, err := url.PathUnescape(raw)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": fmt.Sprintf("malformed %s %q", key, raw)})
		return "", false
	}
	return value, true
}

func queryBool(r *http.Request, key string) bool {
	switch strings.ToLower(strings.TrimSpace(r.URL.Query().Get(key))) {
	case "1", "true", "yes":
		return true
	default:
		return false
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
