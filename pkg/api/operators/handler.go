// Package operators serves the persisted operators and expenses over HTTP.
package operators

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"ans_transparency/pkg/core/config"
	"ans_transparency/pkg/core/logging"
	"ans_transparency/pkg/core/store"
)

// Repository is the read side of the store used by the handlers.
type Repository interface {
	ListOperators(ctx context.Context, page, limit int, search string) ([]store.Operator, int, error)
	GetOperator(ctx context.Context, cnpj string) (*store.Operator, error)
	ListExpenses(ctx context.Context, cnpj string) ([]store.ExpenseEntry, error)
	Statistics(ctx context.Context) (*store.Statistics, error)
}

// ListResponse is the body of the paginated operator listing.
type ListResponse struct {
	Data  []store.Operator `json:"data"`
	Total int              `json:"total"`
	Page  int              `json:"page"`
	Limit int              `json:"limit"`
}

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error string `json:"erro"`
}

// Liveness is the body of GET /.
const Liveness = "O Servidor está ONLINE!"

// Handler holds dependencies for the operator endpoints
type Handler struct {
	repo   Repository
	cfg    config.API
	logger *zap.Logger
}

// NewHandler creates a new operators handler
func NewHandler(repo Repository, cfg config.API, logger *zap.Logger) *Handler {
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = 10
	}
	if cfg.MaxLimit <= 0 {
		cfg.MaxLimit = 100
	}
	return &Handler{
		repo:   repo,
		cfg:    cfg,
		logger: logging.OrNop(logger).With(zap.String("component", "api")),
	}
}

// Register mounts the routes on r.
func (h *Handler) Register(r chi.Router) {
	r.Get("/", h.HandleHome)
	r.Get("/api/operadoras", h.HandleList)
	r.Get("/api/operadoras/{cnpj}", h.HandleDetail)
	r.Get("/api/operadoras/{cnpj}/despesas", h.HandleExpenses)
	r.Get("/api/estatisticas", h.HandleStatistics)
}

func (h *Handler) HandleHome(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(Liveness))
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page := positiveInt(q.Get("page"), 1)
	limit := positiveInt(q.Get("limit"), h.cfg.DefaultLimit)
	if limit > h.cfg.MaxLimit {
		limit = h.cfg.MaxLimit
	}
	search := strings.TrimSpace(q.Get("search"))

	ops, total, err := h.repo.ListOperators(r.Context(), page, limit, search)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if ops == nil {
		ops = []store.Operator{}
	}
	writeJSON(w, http.StatusOK, ListResponse{Data: ops, Total: total, Page: page, Limit: limit})
}

func (h *Handler) HandleDetail(w http.ResponseWriter, r *http.Request) {
	op, err := h.repo.GetOperator(r.Context(), chi.URLParam(r, "cnpj"))
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "Operadora não encontrada"})
		return
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, op)
}

func (h *Handler) HandleExpenses(w http.ResponseWriter, r *http.Request) {
	history, err := h.repo.ListExpenses(r.Context(), chi.URLParam(r, "cnpj"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if history == nil {
		history = []store.ExpenseEntry{}
	}
	writeJSON(w, http.StatusOK, history)
}

func (h *Handler) HandleStatistics(w http.ResponseWriter, r *http.Request) {
	stats, err := h.repo.Statistics(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	h.logger.Error("query failed", zap.String("path", r.URL.Path), zap.Error(err))
	writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "erro interno"})
}

// positiveInt parses s, falling back to def for missing, malformed or non-positive values.
func positiveInt(s string, def int) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
