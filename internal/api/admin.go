package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bakirov/instashop/internal/storage"
)

const maxAdminBodySize = 1 << 20 // 1MB

// HealthReporter exposes the AI health monitor to the operator surface.
type HealthReporter interface {
	Snapshot() (lastSuccess time.Time, consecutiveFailures int)
	ProbeNow(ctx context.Context) error
}

// AdminDeps holds dependencies for the operator API.
type AdminDeps struct {
	Store  *storage.Store
	Health HealthReporter
	Token  string
}

// NewAdminHandler builds the authenticated operator router.
func NewAdminHandler(deps AdminDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(BearerAuth(deps.Token))

	r.Get("/products", handleListProducts(deps))
	r.Post("/products", handleCreateProduct(deps))
	r.Patch("/products/{id}/availability", handleSetAvailability(deps))
	r.Get("/purchases", handleListPurchases(deps))
	r.Get("/stats", handleStats(deps))
	r.Delete("/sessions/{senderID}", handleResetSession(deps))
	r.Get("/ai-health", handleAIHealth(deps))
	r.Post("/ai-health/probe", handleAIProbe(deps))

	return r
}

type productResponse struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Category    string `json:"category,omitempty"`
	Price       int64  `json:"price"`
	Available   bool   `json:"available"`
	CreatedAt   string `json:"created_at"`
}

func toProductResponse(p storage.Product) productResponse {
	return productResponse{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		Category:    p.Category,
		Price:       p.Price,
		Available:   p.Available,
		CreatedAt:   p.CreatedAt.Format(time.RFC3339),
	}
}

func handleListProducts(deps AdminDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var (
			products []storage.Product
			err      error
		)
		if r.URL.Query().Get("all") == "true" {
			products, err = deps.Store.ListProducts()
		} else {
			products, err = deps.Store.ListAvailableProducts()
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "listing products: %v", err)
			return
		}

		out := make([]productResponse, len(products))
		for i, p := range products {
			out[i] = toProductResponse(p)
		}
		writeJSON(w, http.StatusOK, map[string]any{"products": out})
	}
}

type createProductRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
	Price       int64  `json:"price"`
}

func handleCreateProduct(deps AdminDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxAdminBodySize)
		defer r.Body.Close()

		var req createProductRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Name == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "name is required")
			return
		}
		if req.Price < 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "price must not be negative")
			return
		}

		id, err := deps.Store.CreateProduct(storage.Product{
			Name:        req.Name,
			Description: req.Description,
			Category:    req.Category,
			Price:       req.Price,
			Available:   true,
		})
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "creating product: %v", err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"id": id})
	}
}

type availabilityRequest struct {
	Available bool `json:"available"`
}

func handleSetAvailability(deps AdminDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid product id")
			return
		}

		var req availabilityRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		if err := deps.Store.SetProductAvailability(id, req.Available); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				httpError(w, http.StatusNotFound, "not_found_error", "product %d not found", id)
				return
			}
			httpError(w, http.StatusInternalServerError, "api_error", "updating product: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"id": id, "available": req.Available})
	}
}

func handleListPurchases(deps AdminDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 20
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 || n > 200 {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "limit must be between 1 and 200")
				return
			}
			limit = n
		}

		purchases, err := deps.Store.RecentPurchases(limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "listing purchases: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"purchases": purchases})
	}
}

func handleStats(deps AdminDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := deps.Store.GatherStats()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "gathering stats: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, stats)
	}
}

func handleResetSession(deps AdminDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		senderID := chi.URLParam(r, "senderID")
		if err := deps.Store.ResetSession(senderID); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				httpError(w, http.StatusNotFound, "not_found_error", "session %s not found", senderID)
				return
			}
			httpError(w, http.StatusInternalServerError, "api_error", "resetting session: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"sender_id": senderID, "reset": true})
	}
}

func handleAIHealth(deps AdminDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		lastSuccess, failures := deps.Health.Snapshot()
		resp := map[string]any{"consecutive_failures": failures}
		if !lastSuccess.IsZero() {
			resp["last_success_at"] = lastSuccess.Format(time.RFC3339)
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func handleAIProbe(deps AdminDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Health.ProbeNow(r.Context()); err != nil {
			writeJSON(w, http.StatusOK, map[string]any{"healthy": false, "error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"healthy": true})
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
