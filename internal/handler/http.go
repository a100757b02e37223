package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"touristguard/internal/domain"
	"touristguard/internal/engine"
	"touristguard/internal/store"
)

// HTTPHandler serves the tourist, location and alert endpoints.
type HTTPHandler struct {
	engine *engine.Engine
	alerts *store.Store
	zones  engine.Zones
	logger *slog.Logger
}

func NewHTTPHandler(e *engine.Engine, alerts *store.Store, zones engine.Zones, logger *slog.Logger) *HTTPHandler {
	return &HTTPHandler{
		engine: e,
		alerts: alerts,
		zones:  zones,
		logger: logger.With("handler", "http"),
	}
}

type LocationRequest struct {
	TouristID      string    `json:"touristId"`
	Lat            *float64  `json:"lat"`
	Lng            *float64  `json:"lng"`
	Timestamp      time.Time `json:"timestamp"`
	AccuracyMeters *float64  `json:"accuracyMeters,omitempty"`
}

func (req LocationRequest) sample() (domain.Sample, error) {
	if req.Lat == nil || req.Lng == nil {
		return domain.Sample{}, fmt.Errorf("%w: lat and lng are required", domain.ErrInvalidSample)
	}
	return domain.Sample{
		TouristID:      req.TouristID,
		Coordinate:     domain.Coordinate{Lat: *req.Lat, Lng: *req.Lng},
		Timestamp:      req.Timestamp,
		AccuracyMeters: req.AccuracyMeters,
	}, nil
}

func (h *HTTPHandler) PostLocation(w http.ResponseWriter, r *http.Request) {
	var req LocationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	s, err := req.sample()
	if err != nil {
		respondDomainError(w, err)
		return
	}

	res, err := h.engine.Ingest(s)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

type BatchResult struct {
	Index  int            `json:"index"`
	Result *engine.Result `json:"result,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// PostLocations ingests samples in request order and reports each outcome.
func (h *HTTPHandler) PostLocations(w http.ResponseWriter, r *http.Request) {
	var reqs []LocationRequest
	if err := decodeJSON(w, r, &reqs); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	results := make([]BatchResult, len(reqs))
	for i, req := range reqs {
		results[i].Index = i
		s, err := req.sample()
		if err == nil {
			var res engine.Result
			res, err = h.engine.Ingest(s)
			if err == nil {
				results[i].Result = &res
				continue
			}
		}
		results[i].Error = err.Error()
	}
	respondJSON(w, http.StatusOK, results)
}

type TouristView struct {
	engine.Snapshot
	Status     domain.TouristStatus `json:"status"`
	OpenAlerts int                  `json:"openAlerts"`
}

func (h *HTTPHandler) view(snap engine.Snapshot) TouristView {
	open := h.alerts.Unresolved(snap.TouristID)
	return TouristView{
		Snapshot:   snap,
		Status:     engine.Status(snap, open, h.zones),
		OpenAlerts: len(open),
	}
}

type TouristsResponse struct {
	Data       []TouristView `json:"data"`
	Total      int           `json:"total"`
	Page       int           `json:"page"`
	TotalPages int           `json:"totalPages"`
}

func (h *HTTPHandler) ListTourists(w http.ResponseWriter, r *http.Request) {
	page, err := queryInt(r, "page", 1)
	if err != nil || page < 1 {
		respondError(w, http.StatusBadRequest, "invalid page parameter")
		return
	}
	limit, err := queryInt(r, "limit", 50)
	if err != nil || limit < 1 || limit > 500 {
		respondError(w, http.StatusBadRequest, "invalid limit parameter: must be within [1,500]")
		return
	}
	status := domain.TouristStatus(r.URL.Query().Get("status"))

	var views []TouristView
	for _, snap := range h.engine.Tourists() {
		v := h.view(snap)
		if status != "" && v.Status != status {
			continue
		}
		views = append(views, v)
	}

	total := len(views)
	start := min((page-1)*limit, total)
	end := min(start+limit, total)

	respondJSON(w, http.StatusOK, TouristsResponse{
		Data:       append([]TouristView{}, views[start:end]...),
		Total:      total,
		Page:       page,
		TotalPages: int(math.Ceil(float64(total) / float64(limit))),
	})
}

func (h *HTTPHandler) GetTourist(w http.ResponseWriter, r *http.Request) {
	snap, err := h.engine.Tourist(chi.URLParam(r, "id"))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, h.view(snap))
}

func (h *HTTPHandler) DeleteTourist(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.RemoveTourist(chi.URLParam(r, "id")); err != nil {
		respondDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type PanicRequest struct {
	Lat *float64 `json:"lat"`
	Lng *float64 `json:"lng"`
}

type PanicResponse struct {
	AlertID string `json:"alertId"`
}

// TriggerPanic raises a panic alert. The body location is optional when the
// tourist has reported a position before.
func (h *HTTPHandler) TriggerPanic(w http.ResponseWriter, r *http.Request) {
	touristID := chi.URLParam(r, "id")

	var req PanicRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	if (req.Lat == nil) != (req.Lng == nil) {
		respondError(w, http.StatusBadRequest, "lat and lng must be given together")
		return
	}

	var c domain.Coordinate
	if req.Lat != nil {
		c = domain.Coordinate{Lat: *req.Lat, Lng: *req.Lng}
	} else {
		snap, err := h.engine.Tourist(touristID)
		if err != nil || snap.Last == nil {
			respondError(w, http.StatusBadRequest, "location required: no known position for tourist")
			return
		}
		c = snap.Last.Coordinate
	}

	id, err := h.engine.TriggerPanic(touristID, c)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, PanicResponse{AlertID: id})
}

type RouteRequest struct {
	Points []domain.Coordinate `json:"points"`
}

func (h *HTTPHandler) SetRoute(w http.ResponseWriter, r *http.Request) {
	var req RouteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.engine.SetRoute(chi.URLParam(r, "id"), req.Points); err != nil {
		respondDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *HTTPHandler) ClearRoute(w http.ResponseWriter, r *http.Request) {
	h.engine.ClearRoute(chi.URLParam(r, "id"))
	w.WriteHeader(http.StatusNoContent)
}

type AlertsResponse struct {
	Alerts      []domain.Alert `json:"alerts"`
	Count       int            `json:"count"`
	UnreadCount int            `json:"unreadCount"`
	ServerTime  time.Time      `json:"serverTime"`
}

func (h *HTTPHandler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := store.ListOptions{TouristID: q.Get("touristId")}

	if v := q.Get("type"); v != "" {
		t := domain.AlertType(v)
		if !t.Valid() {
			respondError(w, http.StatusBadRequest, "invalid type parameter")
			return
		}
		opts.Type = &t
	}
	if v := q.Get("severity"); v != "" {
		s := domain.Severity(v)
		if !s.Valid() {
			respondError(w, http.StatusBadRequest, "invalid severity parameter: must be low, medium, high or critical")
			return
		}
		opts.Severity = &s
	}
	if v := q.Get("resolved"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid resolved parameter")
			return
		}
		opts.Resolved = &b
	}
	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid since parameter: expected RFC3339")
			return
		}
		opts.Since = t
	}
	limit, err := queryInt(r, "limit", 100)
	if err != nil || limit < 0 {
		respondError(w, http.StatusBadRequest, "invalid limit parameter")
		return
	}
	opts.Limit = limit

	alerts := h.alerts.List(opts)
	respondJSON(w, http.StatusOK, AlertsResponse{
		Alerts:      alerts,
		Count:       len(alerts),
		UnreadCount: h.alerts.UnreadCount(),
		ServerTime:  time.Now(),
	})
}

func (h *HTTPHandler) GetAlert(w http.ResponseWriter, r *http.Request) {
	a, err := h.alerts.Get(chi.URLParam(r, "id"))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, a)
}

func (h *HTTPHandler) ResolveAlert(w http.ResponseWriter, r *http.Request) {
	a, err := h.alerts.Resolve(chi.URLParam(r, "id"))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	h.logger.Info("alert resolved", "alert_id", a.ID, "tourist_id", a.TouristID)
	respondJSON(w, http.StatusOK, a)
}

type UnreadResponse struct {
	UnreadCount int `json:"unreadCount"`
}

func (h *HTTPHandler) UnreadCount(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, UnreadResponse{UnreadCount: h.alerts.UnreadCount()})
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}

const maxBodyBytes = 1 << 20

func decodeJSON(w http.ResponseWriter, r *http.Request, dest any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dest); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

type errorResponse struct {
	Error string `json:"error"`
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, errorResponse{Error: message})
}

// respondDomainError maps engine and store errors to HTTP status codes.
func respondDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrOutOfOrderSample):
		respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrInvalidSample),
		errors.Is(err, domain.ErrInvalidCoordinate),
		errors.Is(err, domain.ErrInvalidRoute):
		respondError(w, http.StatusBadRequest, err.Error())
	default:
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}
