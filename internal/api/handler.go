package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/open-mediary/mediary/internal/domain"
	"github.com/open-mediary/mediary/internal/mediator"
	"github.com/open-mediary/mediary/internal/rules"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	repo     *mediator.Repository
	entities *domain.EntityRegistry
	cache    domain.Cache
	bus      domain.EventBus
	engine   *rules.Engine
	version  string
}

// NewHandler creates a new API handler.
func NewHandler(repo *mediator.Repository, entities *domain.EntityRegistry, cache domain.Cache, bus domain.EventBus, engine *rules.Engine, version string) *Handler {
	return &Handler{
		repo:     repo,
		entities: entities,
		cache:    cache,
		bus:      bus,
		engine:   engine,
		version:  version,
	}
}

// newContext builds an operation context from the route and request headers.
func (h *Handler) newContext(r *http.Request, op domain.OperationKind) (*domain.RepositoryContext, error) {
	entityType := chi.URLParam(r, "type")
	rctx, err := h.repo.NewContext(entityType, op)
	if err != nil {
		return nil, err
	}
	rctx.UserID = GetUserID(r.Context())
	rctx.BusinessEntityID = GetBusinessEntityID(r.Context())
	return rctx, nil
}

// writeError maps domain errors onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrRequiredValueMissing),
		errors.Is(err, domain.ErrValueInvalid),
		errors.Is(err, domain.ErrInformationInvalid):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrDuplicateKey):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrDataSourceInvalid):
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.bus != nil {
		if err := h.bus.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// ListEntities returns the registered entity type names.
func (h *Handler) ListEntities(w http.ResponseWriter, r *http.Request) {
	types := h.entities.Types()
	writeJSON(w, http.StatusOK, map[string]any{
		"entities": types,
		"count":    len(types),
	})
}

// CreateEntity handles POST /entities/{type}.
func (h *Handler) CreateEntity(w http.ResponseWriter, r *http.Request) {
	rctx, err := h.newContext(r, domain.OpCreate)
	if err != nil {
		writeError(w, err)
		return
	}

	var rec domain.Record
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON request body"})
		return
	}

	created, err := h.repo.Create(r.Context(), rctx, rec)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// GetEntity handles GET /entities/{type}/{id}.
func (h *Handler) GetEntity(w http.ResponseWriter, r *http.Request) {
	rctx, err := h.newContext(r, domain.OpGet)
	if err != nil {
		writeError(w, err)
		return
	}

	rec, err := h.repo.Get(r.Context(), rctx, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// ReplaceEntity handles PUT /entities/{type}/{id}.
func (h *Handler) ReplaceEntity(w http.ResponseWriter, r *http.Request) {
	rctx, err := h.newContext(r, domain.OpReplace)
	if err != nil {
		writeError(w, err)
		return
	}

	var rec domain.Record
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON request body"})
		return
	}

	replaced, err := h.repo.Replace(r.Context(), rctx, chi.URLParam(r, "id"), rec)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, replaced)
}

// UpdateEntity handles PATCH /entities/{type}/{id} with a partial value set.
func (h *Handler) UpdateEntity(w http.ResponseWriter, r *http.Request) {
	rctx, err := h.newContext(r, domain.OpUpdate)
	if err != nil {
		writeError(w, err)
		return
	}

	var values domain.Record
	if err := json.NewDecoder(r.Body).Decode(&values); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON request body"})
		return
	}

	updated, err := h.repo.Update(r.Context(), rctx, chi.URLParam(r, "id"), values)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// DeleteEntity handles DELETE /entities/{type}/{id}.
func (h *Handler) DeleteEntity(w http.ResponseWriter, r *http.Request) {
	rctx, err := h.newContext(r, domain.OpDelete)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := h.repo.Delete(r.Context(), rctx, chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"deleted": chi.URLParam(r, "id")})
}

// DeleteMany handles POST /entities/{type}/deleteMany with a filter body.
func (h *Handler) DeleteMany(w http.ResponseWriter, r *http.Request) {
	rctx, err := h.newContext(r, domain.OpDeleteMany)
	if err != nil {
		writeError(w, err)
		return
	}

	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON request body"})
		return
	}
	filter, err := decodeFilter(req.Filter)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	n, err := h.repo.DeleteMany(r.Context(), rctx, filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": n})
}

// FindEntities handles POST /entities/{type}/query.
func (h *Handler) FindEntities(w http.ResponseWriter, r *http.Request) {
	rctx, err := h.newContext(r, domain.OpFind)
	if err != nil {
		writeError(w, err)
		return
	}

	q, err := h.decodeQuery(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	recs, err := h.repo.Find(r.Context(), rctx, q)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"records": recs,
		"count":   len(recs),
	})
}

// SearchEntities handles POST /entities/{type}/search.
func (h *Handler) SearchEntities(w http.ResponseWriter, r *http.Request) {
	rctx, err := h.newContext(r, domain.OpSearch)
	if err != nil {
		writeError(w, err)
		return
	}

	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON request body"})
		return
	}
	if req.Text == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "text is required"})
		return
	}
	q, err := req.toQuery()
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	recs, err := h.repo.Search(r.Context(), rctx, req.Text, q)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"records": recs,
		"count":   len(recs),
	})
}

// CountEntities handles POST /entities/{type}/count.
func (h *Handler) CountEntities(w http.ResponseWriter, r *http.Request) {
	rctx, err := h.newContext(r, domain.OpCount)
	if err != nil {
		writeError(w, err)
		return
	}

	q, err := h.decodeQuery(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	n, err := h.repo.Count(r.Context(), rctx, q)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"count": n})
}

func (h *Handler) decodeQuery(r *http.Request) (*mediator.Query, error) {
	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, errors.New("invalid JSON request body")
	}
	return req.toQuery()
}

// ListVersions handles GET /entities/{type}/{id}/versions.
func (h *Handler) ListVersions(w http.ResponseWriter, r *http.Request) {
	rctx, err := h.newContext(r, domain.OpFind)
	if err != nil {
		writeError(w, err)
		return
	}

	versions, err := h.repo.Versions(r.Context(), rctx, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"versions": versions,
		"count":    len(versions),
	})
}

// Rollback handles POST /entities/{type}/versions/{versionId}/rollback.
func (h *Handler) Rollback(w http.ResponseWriter, r *http.Request) {
	rctx, err := h.newContext(r, domain.OpRollback)
	if err != nil {
		writeError(w, err)
		return
	}

	rec, err := h.repo.Rollback(r.Context(), rctx, chi.URLParam(r, "versionId"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// ListTrash handles GET /entities/{type}/trash.
func (h *Handler) ListTrash(w http.ResponseWriter, r *http.Request) {
	rctx, err := h.newContext(r, domain.OpFind)
	if err != nil {
		writeError(w, err)
		return
	}

	trash, err := h.repo.Trash(r.Context(), rctx)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"trash": trash,
		"count": len(trash),
	})
}

// Restore handles POST /entities/{type}/trash/{trashId}/restore.
func (h *Handler) Restore(w http.ResponseWriter, r *http.Request) {
	rctx, err := h.newContext(r, domain.OpRestore)
	if err != nil {
		writeError(w, err)
		return
	}

	rec, err := h.repo.Restore(r.Context(), rctx, chi.URLParam(r, "trashId"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// ListRules returns all loaded validation rules from the engine.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	loaded := h.engine.GetLoadedRules()
	writeJSON(w, http.StatusOK, map[string]any{
		"rules": loaded,
		"count": len(loaded),
	})
}

// GetRule retrieves a validation rule by ID.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "id")

	for _, rule := range h.engine.GetLoadedRules() {
		if rule.ID == ruleID {
			writeJSON(w, http.StatusOK, rule)
			return
		}
	}
	writeJSON(w, http.StatusNotFound, map[string]string{"error": "rule not found"})
}

// CreateRule compiles and loads a validation rule into the engine.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	var rule domain.ValidationRule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON request body"})
		return
	}

	if rule.ID == "" || rule.Name == "" || rule.Expression == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "id, name, and expression are required",
		})
		return
	}

	if err := h.engine.LoadRule(&rule); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid rule expression: " + err.Error(),
		})
		return
	}

	slog.Info("validation rule loaded", "id", rule.ID, "name", rule.Name, "entity_type", rule.EntityType)
	writeJSON(w, http.StatusCreated, &rule)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
