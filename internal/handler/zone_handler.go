package handler

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/go-chi/chi/v5"

	"touristguard/internal/cache"
	"touristguard/internal/domain"
	"touristguard/internal/geo"
	"touristguard/internal/zone"
)

type ZoneHandler struct {
	zones  *zone.Registry
	cache  *cache.RedisCache
	logger *slog.Logger

	etagOnce sync.Once
	etag     string
}

func NewZoneHandler(zones *zone.Registry, redisCache *cache.RedisCache, logger *slog.Logger) *ZoneHandler {
	return &ZoneHandler{
		zones:  zones,
		cache:  redisCache,
		logger: logger.With("handler", "zones"),
	}
}

type ZoneView struct {
	domain.Zone
	Centroid domain.Coordinate  `json:"centroid"`
	Bounds   domain.BoundingBox `json:"bounds"`
}

func newZoneView(z domain.Zone) ZoneView {
	return ZoneView{
		Zone:     z,
		Centroid: geo.Centroid(z.Boundary),
		Bounds:   geo.Bounds(z.Boundary),
	}
}

type ZonesResponse struct {
	Zones      []ZoneView `json:"zones"`
	Count      int        `json:"count"`
	ServerTime time.Time  `json:"serverTime"`
}

// currentETag hashes the zone set. The registry does not change after
// startup, so it is computed once.
func (h *ZoneHandler) currentETag() string {
	h.etagOnce.Do(func() {
		data, _ := json.Marshal(h.zones.All())
		h.etag = fmt.Sprintf(`"%x"`, xxhash.Sum64(data))
	})
	return h.etag
}

func (h *ZoneHandler) ListZones(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	etag := h.currentETag()

	if r.Header.Get("If-None-Match") == etag {
		h.logger.Debug("ListZones not modified (ETag match)")
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", "public, max-age=300")

	kind := domain.ZoneKind(r.URL.Query().Get("type"))
	if kind != "" && !kind.Valid() {
		respondError(w, http.StatusBadRequest, "invalid type parameter: must be safe, warning or danger")
		return
	}

	var views []ZoneView
	for _, z := range h.zones.All() {
		if kind != "" && z.Kind != kind {
			continue
		}
		views = append(views, newZoneView(z))
	}
	if views == nil {
		views = []ZoneView{}
	}

	h.logger.Debug("ListZones response",
		"count", len(views),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	respondJSON(w, http.StatusOK, ZonesResponse{
		Zones:      views,
		Count:      len(views),
		ServerTime: time.Now(),
	})
}

func (h *ZoneHandler) GetZone(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if h.cache != nil {
		var cached domain.Zone
		found, err := h.cache.GetJSON(r.Context(), cache.KeyZone(id), &cached)
		if err == nil && found {
			ServerStats.IncCacheHits()
			respondJSON(w, http.StatusOK, newZoneView(cached))
			return
		}
		ServerStats.IncCacheMisses()
	}

	z, err := h.zones.Find(id)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, newZoneView(z))
}

type LocateResponse struct {
	Coordinate domain.Coordinate `json:"coordinate"`
	Zones      []domain.Zone     `json:"zones"`
}

// Locate lists the zones containing ?lat=&lng=.
func (h *ZoneHandler) Locate(w http.ResponseWriter, r *http.Request) {
	lat, errLat := strconv.ParseFloat(r.URL.Query().Get("lat"), 64)
	lng, errLng := strconv.ParseFloat(r.URL.Query().Get("lng"), 64)
	if errLat != nil || errLng != nil {
		respondError(w, http.StatusBadRequest, "lat and lng query parameters are required")
		return
	}
	c := domain.Coordinate{Lat: lat, Lng: lng}
	if err := c.Validate(); err != nil {
		respondDomainError(w, err)
		return
	}

	resp := LocateResponse{Coordinate: c, Zones: []domain.Zone{}}
	for _, id := range h.zones.Locate(c) {
		if z, err := h.zones.Find(id); err == nil {
			resp.Zones = append(resp.Zones, z)
		}
	}
	respondJSON(w, http.StatusOK, resp)
}
