package api

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/samijaber1/aegis-relay/internal/breach"
	"github.com/samijaber1/aegis-relay/internal/sla"
	"github.com/samijaber1/aegis-relay/internal/storage"
	"github.com/samijaber1/aegis-relay/internal/webhook"
)

// --- Definitions ---

func (s *Server) handleDefinitionList(w http.ResponseWriter, r *http.Request) {
	onlyEnabled := r.URL.Query().Get("enabled") == "true"
	defs, err := s.store.ListDefinitions(r.Context(), onlyEnabled)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, DefinitionListResponse{Definitions: defs, Total: len(defs)})
}

func (s *Server) handleDefinitionGet(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	def, err := s.store.GetDefinition(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		def, err = s.store.GetDefinitionBySlug(r.Context(), id)
	}
	if errors.Is(err, storage.ErrNotFound) {
		respondError(w, http.StatusNotFound, fmt.Sprintf("definition not found: %s", id))
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, def)
}

func (req *DefinitionRequest) toDefinition() (*sla.SLADefinition, error) {
	if req.Slug == "" || req.Name == "" {
		return nil, fmt.Errorf("slug and name are required")
	}
	objective := sla.ObjectiveType(req.ObjectiveType)
	if !objective.Valid() {
		return nil, fmt.Errorf("invalid objective_type %q", req.ObjectiveType)
	}
	operator := sla.ThresholdOperator(req.Operator)
	if !operator.Valid() {
		return nil, fmt.Errorf("invalid threshold_operator %q", req.Operator)
	}
	if req.TargetNumeric <= 0 {
		return nil, fmt.Errorf("target_numeric must be positive")
	}
	if objective == sla.ObjectiveSuccessRate && req.TargetNumeric > 100 {
		return nil, fmt.Errorf("success_rate target must be a percentage between 0 and 100")
	}
	if req.WindowMinutes <= 0 {
		return nil, fmt.Errorf("window_minutes must be positive")
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	return &sla.SLADefinition{
		Slug:          req.Slug,
		Name:          req.Name,
		Description:   req.Description,
		ObjectiveType: objective,
		TargetNumeric: req.TargetNumeric,
		Operator:      operator,
		WindowMinutes: req.WindowMinutes,
		Enabled:       enabled,
		Query:         req.Query,
	}, nil
}

func (s *Server) handleDefinitionCreate(w http.ResponseWriter, r *http.Request) {
	var req DefinitionRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid request: %v", err))
		return
	}

	def, err := req.toDefinition()
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	def.ID = uuid.New().String()
	now := time.Now().UTC()
	def.CreatedAt = now
	def.UpdatedAt = now

	if err := s.store.CreateDefinition(r.Context(), def); err != nil {
		respondError(w, http.StatusConflict, err.Error())
		return
	}

	s.logger.Infow("Definition created", "slug", def.Slug, "id", def.ID)
	respondJSON(w, http.StatusCreated, def)
}

func (s *Server) handleDefinitionUpdate(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	existing, err := s.store.GetDefinition(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		respondError(w, http.StatusNotFound, fmt.Sprintf("definition not found: %s", id))
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	var req DefinitionRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid request: %v", err))
		return
	}

	def, err := req.toDefinition()
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	def.ID = existing.ID
	def.CreatedAt = existing.CreatedAt
	def.UpdatedAt = time.Now().UTC()

	if err := s.store.UpdateDefinition(r.Context(), def); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, def)
}

func (s *Server) handleDefinitionDelete(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	err := s.store.DeleteDefinition(r.Context(), id)
	switch {
	case err == nil:
		s.engine.Cache().DeleteDefinition(id)
		respondJSON(w, http.StatusOK, DefinitionDeleteResponse{Deleted: true})
	case errors.Is(err, storage.ErrNotFound):
		respondError(w, http.StatusNotFound, fmt.Sprintf("definition not found: %s", id))
	case errors.Is(err, storage.ErrDefinitionInUse):
		// Referenced definitions keep their history; disable instead.
		def, gerr := s.store.GetDefinition(r.Context(), id)
		if gerr != nil {
			respondError(w, http.StatusInternalServerError, gerr.Error())
			return
		}
		def.Enabled = false
		def.UpdatedAt = time.Now().UTC()
		if uerr := s.store.UpdateDefinition(r.Context(), def); uerr != nil {
			respondError(w, http.StatusInternalServerError, uerr.Error())
			return
		}
		s.engine.Cache().DeleteDefinition(id)
		s.logger.Infow("Definition disabled instead of deleted", "id", id)
		respondJSON(w, http.StatusOK, DefinitionDeleteResponse{Disabled: true})
	default:
		respondError(w, http.StatusInternalServerError, err.Error())
	}
}

// --- Instances ---

func (s *Server) handleInstanceList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := storage.InstanceFilter{
		DefinitionID: q.Get("definition_id"),
		Status:       sla.InstanceStatus(q.Get("status")),
	}
	filter.Limit, filter.Offset = pagination(q)

	instances, err := s.store.ListInstances(r.Context(), filter)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, InstanceListResponse{Instances: instances, Total: len(instances)})
}

// --- Breaches ---

func (s *Server) handleBreachList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := storage.BreachFilter{
		SLAInstanceID: q.Get("instance_id"),
		Status:        sla.BreachStatus(q.Get("status")),
		Severity:      sla.Severity(q.Get("severity")),
	}
	filter.Limit, filter.Offset = pagination(q)

	breaches, err := s.store.ListBreaches(r.Context(), filter)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, BreachListResponse{Breaches: breaches, Total: len(breaches)})
}

func (s *Server) handleBreachGet(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	b, err := s.store.GetBreach(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		respondError(w, http.StatusNotFound, fmt.Sprintf("breach not found: %s", id))
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, b)
}

func (s *Server) handleBreachAcknowledge(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req AcknowledgeRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid request: %v", err))
		return
	}
	if req.Actor == "" {
		respondError(w, http.StatusBadRequest, "actor is required")
		return
	}

	b, err := s.breaches.Acknowledge(r.Context(), id, req.Actor)
	switch {
	case err == nil:
		respondJSON(w, http.StatusOK, b)
	case errors.Is(err, storage.ErrNotFound):
		respondError(w, http.StatusNotFound, fmt.Sprintf("breach not found: %s", id))
	case errors.Is(err, breach.ErrInvalidTransition):
		respondError(w, http.StatusConflict, err.Error())
	default:
		respondError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) handleBreachResolve(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req ResolveRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid request: %v", err))
		return
	}

	notes := req.Notes
	if notes == "" {
		notes = "resolved by operator"
	}

	b, err := s.breaches.Resolve(r.Context(), id, notes)
	switch {
	case err == nil:
		respondJSON(w, http.StatusOK, b)
	case errors.Is(err, storage.ErrNotFound):
		respondError(w, http.StatusNotFound, fmt.Sprintf("breach not found: %s", id))
	case errors.Is(err, breach.ErrInvalidTransition):
		respondError(w, http.StatusConflict, err.Error())
	default:
		respondError(w, http.StatusInternalServerError, err.Error())
	}
}

// --- Endpoints ---

func (s *Server) handleEndpointList(w http.ResponseWriter, r *http.Request) {
	onlyActive := r.URL.Query().Get("active") == "true"
	endpoints, err := s.store.ListEndpoints(r.Context(), onlyActive)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, endpoints)
}

func (s *Server) handleEndpointGet(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	ep, err := s.store.GetEndpoint(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		respondError(w, http.StatusNotFound, fmt.Sprintf("endpoint not found: %s", id))
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, ep)
}

func (s *Server) handleEndpointCreate(w http.ResponseWriter, r *http.Request) {
	var req EndpointRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid request: %v", err))
		return
	}
	if err := validateEndpointURL(req.URL); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	secret, err := webhook.GenerateSecret()
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	now := time.Now().UTC()
	ep := &webhook.Endpoint{
		ID:         uuid.New().String(),
		TenantID:   req.TenantID,
		URL:        req.URL,
		Secret:     secret,
		SecretHash: webhook.SecretFingerprint(secret),
		Active:     true,
		Events:     req.Events,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if req.Active != nil {
		ep.Active = *req.Active
	}

	if err := s.store.CreateEndpoint(r.Context(), ep); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.logger.Infow("Endpoint created", "id", ep.ID, "url", ep.URL)
	respondJSON(w, http.StatusCreated, EndpointCreatedResponse{
		ID:         ep.ID,
		URL:        ep.URL,
		Secret:     secret,
		SecretHash: ep.SecretHash,
		Events:     ep.Events,
		Active:     ep.Active,
		CreatedAt:  ep.CreatedAt,
	})
}

func (s *Server) handleEndpointUpdate(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	ep, err := s.store.GetEndpoint(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		respondError(w, http.StatusNotFound, fmt.Sprintf("endpoint not found: %s", id))
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	var req EndpointRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid request: %v", err))
		return
	}

	if req.URL != "" {
		if err := validateEndpointURL(req.URL); err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		ep.URL = req.URL
	}
	if req.Events != nil {
		ep.Events = req.Events
	}
	if req.Active != nil {
		ep.Active = *req.Active
		// Manual reactivation forgives past failures.
		if ep.Active {
			ep.FailureCount = 0
		}
	}
	ep.UpdatedAt = time.Now().UTC()

	if err := s.store.UpdateEndpoint(r.Context(), ep); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, ep)
}

func (s *Server) handleEndpointDelete(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	err := s.store.DeleteEndpoint(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		respondError(w, http.StatusNotFound, fmt.Sprintf("endpoint not found: %s", id))
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func validateEndpointURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("url is required")
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("url must be a valid http(s) URL")
	}
	return nil
}

// --- Events ---

func (s *Server) handleEventList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := storage.EventFilter{Type: q.Get("type")}
	filter.Limit, filter.Offset = pagination(q)

	if since := q.Get("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			respondError(w, http.StatusBadRequest, "since must be RFC3339")
			return
		}
		filter.Since = &t
	}

	events, err := s.store.ListEvents(r.Context(), filter)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, events)
}

func (s *Server) handleEventGet(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	ev, err := s.store.GetEvent(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		respondError(w, http.StatusNotFound, fmt.Sprintf("event not found: %s", id))
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, ev)
}

func (s *Server) handleEventAttempts(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	attempts, err := s.store.ListAttempts(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, attempts)
}

// --- Compliance / evaluation ---

func (s *Server) handleCompliance(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, ComplianceResponse{
		States:      s.engine.Cache().GetAll(),
		GeneratedAt: time.Now().UTC(),
	})
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	if err := s.sched.EvaluateNow(r.Context()); err != nil {
		respondError(w, http.StatusInternalServerError, fmt.Sprintf("evaluation failed: %v", err))
		return
	}
	respondJSON(w, http.StatusOK, EvaluateResponse{Status: "evaluated"})
}

func pagination(q url.Values) (limit, offset int) {
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			offset = n
		}
	}
	return limit, offset
}
