// Package httphandler serves the JSON API over the application services.
package httphandler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ericfisherdev/productcache/internal/application"
	"github.com/ericfisherdev/productcache/internal/domain/model"
	"github.com/ericfisherdev/productcache/internal/domain/port/driven"
	"github.com/ericfisherdev/productcache/internal/metrics"
)

const (
	defaultStaleLimit = 50
	maxStaleLimit     = 500

	// maxBodyBytes caps request bodies.
	maxBodyBytes = 1 << 20
)

// Handler is the HTTP driving adapter that serves the REST API.
type Handler struct {
	products    *application.ProductService
	cache       *application.CacheService
	provider    *application.ClientProvider
	credentials *application.CredentialService
	clicks      *application.ClickService
	scheduler   *application.Scheduler
	logger      *slog.Logger
}

// NewHandler creates a Handler with all required dependencies.
func NewHandler(
	products *application.ProductService,
	cache *application.CacheService,
	provider *application.ClientProvider,
	credentials *application.CredentialService,
	clicks *application.ClickService,
	scheduler *application.Scheduler,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		products:    products,
		cache:       cache,
		provider:    provider,
		credentials: credentials,
		clicks:      clicks,
		scheduler:   scheduler,
		logger:      logger,
	}
}

// NewServeMux creates an http.Handler with all routes registered and wrapped
// with request ID, logging, metrics and recovery middleware.
func NewServeMux(h *Handler, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/search", h.Search)
	mux.HandleFunc("GET /api/v1/items/{marketplace}/{identifier}", h.GetItem)
	mux.HandleFunc("POST /api/v1/items", h.GetItems)
	mux.HandleFunc("POST /api/v1/resolve", h.Resolve)
	mux.HandleFunc("GET /api/v1/cache/stale", h.ListStale)
	mux.HandleFunc("GET /api/v1/cache/{marketplace}/{identifier}", h.GetCached)
	mux.HandleFunc("DELETE /api/v1/cache/{marketplace}/{identifier}", h.DeleteCached)
	mux.HandleFunc("DELETE /api/v1/cache", h.ClearCache)
	mux.HandleFunc("GET /api/v1/manual-products", h.SearchManual)
	mux.HandleFunc("POST /api/v1/manual-products", h.CreateManual)
	mux.HandleFunc("PUT /api/v1/credentials", h.UpdateCredentials)
	mux.HandleFunc("POST /api/v1/clicks", h.RecordClick)
	mux.HandleFunc("POST /api/v1/refresh", h.TriggerRefresh)
	mux.HandleFunc("GET /api/v1/health", h.Health)
	mux.Handle("GET /metrics", metrics.Handler())

	// Recovery innermost so panics are caught before logging.
	wrapped := recoveryMiddleware(logger, mux)
	wrapped = loggingMiddleware(logger, wrapped)
	wrapped = requestIDMiddleware(wrapped)

	return wrapped
}

// Search runs a keyword search.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	page := 1
	if v := q.Get("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid page")
			return
		}
		page = n
	}

	result, err := h.products.Search(r.Context(), driven.SearchRequest{
		Keywords:    q.Get("keywords"),
		Marketplace: q.Get("marketplace"),
		Page:        page,
		Category:    q.Get("category"),
		Sort:        q.Get("sort"),
	})
	if err != nil {
		h.writeServiceError(w, r, "search failed", err)
		return
	}

	writeJSON(w, http.StatusOK, ProductListResponse{
		Products: toProductResponses(result.Products),
		Total:    result.Total,
		Pages:    result.Pages,
	})
}

// GetItem returns one product, from cache when fresh.
func (h *Handler) GetItem(w http.ResponseWriter, r *http.Request) {
	fresh, ok := parseFresh(w, r)
	if !ok {
		return
	}

	p, err := h.products.GetItem(r.Context(), r.PathValue("identifier"), r.PathValue("marketplace"), fresh)
	if err != nil {
		h.writeServiceError(w, r, "get item failed", err)
		return
	}

	writeJSON(w, http.StatusOK, toProductResponse(*p))
}

// GetItems resolves a list of identifiers.
func (h *Handler) GetItems(w http.ResponseWriter, r *http.Request) {
	var req ItemsRequest
	if !decodeBody(w, r, &req) {
		return
	}

	products, err := h.products.GetItems(r.Context(), req.Identifiers, req.Marketplace, req.ForceFresh)
	if err != nil {
		h.writeServiceError(w, r, "get items failed", err)
		return
	}

	writeJSON(w, http.StatusOK, ProductListResponse{
		Products: toProductResponses(products),
		Total:    len(products),
		Pages:    1,
	})
}

// Resolve parses an attribute map into a query and executes it.
func (h *Handler) Resolve(w http.ResponseWriter, r *http.Request) {
	var req ResolveRequest
	if !decodeBody(w, r, &req) {
		return
	}

	attrs, err := flattenAttributes(req.Attributes)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	query, err := application.ParseQuery(attrs)
	if err != nil {
		h.writeServiceError(w, r, "resolve failed", err)
		return
	}

	res, err := h.products.Resolve(r.Context(), query)
	if err != nil {
		h.writeServiceError(w, r, "resolve failed", err)
		return
	}

	writeJSON(w, http.StatusOK, ProductListResponse{
		Products: toProductResponses(res.Products),
		Total:    res.Total,
		Pages:    res.Pages,
	})
}

// GetCached returns the cached entry for a key without contacting upstream.
func (h *Handler) GetCached(w http.ResponseWriter, r *http.Request) {
	key, ok := cacheKey(w, r)
	if !ok {
		return
	}

	p, err := h.cache.Get(r.Context(), key)
	if err != nil {
		h.writeServiceError(w, r, "cache lookup failed", err)
		return
	}
	if p == nil {
		writeError(w, http.StatusNotFound, "product not cached")
		return
	}

	writeJSON(w, http.StatusOK, CacheEntryResponse{
		Product: toProductResponse(*p),
		Stale:   !p.IsManual && h.cache.IsStale(*p),
	})
}

// DeleteCached removes one cached product.
func (h *Handler) DeleteCached(w http.ResponseWriter, r *http.Request) {
	key, ok := cacheKey(w, r)
	if !ok {
		return
	}

	if err := h.cache.Delete(r.Context(), key); err != nil {
		h.writeServiceError(w, r, "cache delete failed", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ClearCache wipes every cached product.
func (h *Handler) ClearCache(w http.ResponseWriter, r *http.Request) {
	removed, err := h.cache.ClearAll(r.Context())
	if err != nil {
		h.writeServiceError(w, r, "cache clear failed", err)
		return
	}

	h.logger.Info("cache cleared", "removed", removed)
	writeJSON(w, http.StatusOK, ClearCacheResponse{Removed: removed})
}

// ListStale returns the keys the next refresh run would pick up.
func (h *Handler) ListStale(w http.ResponseWriter, r *http.Request) {
	limit := defaultStaleLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxStaleLimit {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		limit = n
	}

	keys, err := h.cache.ListStale(r.Context(), limit)
	if err != nil {
		h.writeServiceError(w, r, "list stale failed", err)
		return
	}

	resp := make([]ProductKeyResponse, 0, len(keys))
	for _, k := range keys {
		resp = append(resp, ProductKeyResponse{Identifier: k.Identifier, Marketplace: k.Marketplace})
	}

	writeJSON(w, http.StatusOK, resp)
}

// SearchManual lists manually-created products matching q.
func (h *Handler) SearchManual(w http.ResponseWriter, r *http.Request) {
	products, err := h.cache.SearchManual(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		h.writeServiceError(w, r, "manual search failed", err)
		return
	}

	writeJSON(w, http.StatusOK, toProductResponses(products))
}

// CreateManual stores a manually-created product.
func (h *Handler) CreateManual(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	if !decodeBody(w, r, &body) {
		return
	}

	attrs, err := flattenAttributes(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	p, err := h.products.SaveManual(r.Context(), attrs)
	if err != nil {
		h.writeServiceError(w, r, "create manual product failed", err)
		return
	}

	writeJSON(w, http.StatusCreated, toProductResponse(*p))
}

// UpdateCredentials stores new API credentials and swaps the active client.
func (h *Handler) UpdateCredentials(w http.ResponseWriter, r *http.Request) {
	var req CredentialsRequest
	if !decodeBody(w, r, &req) {
		return
	}

	active, err := h.credentials.Update(r.Context(), application.Credentials{
		AccessKey:  req.AccessKey,
		SecretKey:  req.SecretKey,
		PartnerTag: req.PartnerTag,
	})
	if err != nil {
		h.writeServiceError(w, r, "credential update failed", err)
		return
	}

	writeJSON(w, http.StatusOK, CredentialsResponse{Active: active})
}

// RecordClick stores an outbound click. The Referer header is used when the
// body carries no referrer.
func (h *Handler) RecordClick(w http.ResponseWriter, r *http.Request) {
	var req ClickRequest
	if !decodeBody(w, r, &req) {
		return
	}

	referrer := req.Referrer
	if referrer == "" {
		referrer = r.Referer()
	}

	if err := h.clicks.Record(r.Context(), req.Identifier, req.Marketplace, referrer); err != nil {
		h.writeServiceError(w, r, "record click failed", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// TriggerRefresh runs a scheduled job now. The job query parameter selects
// it and defaults to "refresh".
func (h *Handler) TriggerRefresh(w http.ResponseWriter, r *http.Request) {
	job := r.URL.Query().Get("job")
	if job == "" {
		job = "refresh"
	}

	if err := h.scheduler.Trigger(r.Context(), job); err != nil {
		h.writeServiceError(w, r, "job trigger failed", err)
		return
	}

	writeJSON(w, http.StatusOK, RefreshResponse{Job: job, Status: "ok"})
}

// Health returns a simple health check response.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:       "ok",
		Time:         time.Now().UTC().Format(time.RFC3339),
		Credentials:  h.provider.HasClient(),
		Marketplaces: model.MarketplaceCodes(),
	})
}

// writeServiceError maps err onto a status code. Internal failures are
// logged and reported without detail.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	kind := driven.Classify(err)
	status := statusForKind(kind)

	switch kind {
	case driven.KindValidation:
		writeError(w, status, err.Error())
	case driven.KindNotFound:
		writeError(w, status, "product not found")
	case driven.KindCredentials:
		writeError(w, status, "product API credentials not configured")
	case driven.KindUpstream:
		h.logger.Warn(msg, "path", r.URL.Path, "error", err)
		writeError(w, status, upstreamMessage(err))
	case driven.KindTransport:
		h.logger.Warn(msg, "path", r.URL.Path, "error", err)
		writeError(w, status, "product API unreachable")
	default:
		h.logger.Error(msg, "path", r.URL.Path, "error", err)
		writeError(w, status, "internal server error")
	}
}

func upstreamMessage(err error) string {
	var upstream *driven.UpstreamError
	if errors.As(err, &upstream) && upstream.Code != "" {
		return "product API error: " + upstream.Code
	}
	return "product API error"
}

// decodeBody decodes the JSON request body into v and writes a 400 on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func parseFresh(w http.ResponseWriter, r *http.Request) (bool, bool) {
	v := r.URL.Query().Get("fresh")
	if v == "" {
		return false, true
	}
	fresh, err := strconv.ParseBool(v)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid fresh flag")
		return false, false
	}
	return fresh, true
}

// cacheKey builds a normalized key from the path or writes a 400.
func cacheKey(w http.ResponseWriter, r *http.Request) (model.ProductKey, bool) {
	mp := r.PathValue("marketplace")
	if !model.IsValidMarketplace(mp) {
		writeError(w, http.StatusBadRequest, "unknown marketplace")
		return model.ProductKey{}, false
	}

	id, ok := application.NormalizeIdentifier(r.PathValue("identifier"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid identifier")
		return model.ProductKey{}, false
	}

	return model.ProductKey{
		Identifier:  id,
		Marketplace: model.LookupMarketplace(strings.TrimSpace(mp)).Code,
	}, true
}
