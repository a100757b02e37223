package handler

import (
	"net/http"
	"runtime"
	"sort"
	"strconv"
	"sync/atomic"
	"time"

	"touristguard/internal/domain"
	"touristguard/internal/engine"
	"touristguard/internal/geo"
	"touristguard/internal/hub"
	"touristguard/internal/store"
	"touristguard/internal/zone"
)

// Stats tracks server-wide counters
type Stats struct {
	startTime     time.Time
	wsConnections atomic.Int64
	wsMessagesIn  atomic.Int64
	cacheHits     atomic.Int64
	cacheMisses   atomic.Int64
}

var ServerStats = &Stats{
	startTime: time.Now(),
}

func (s *Stats) IncWSConnections() { s.wsConnections.Add(1) }
func (s *Stats) DecWSConnections() { s.wsConnections.Add(-1) }
func (s *Stats) IncWSMessagesIn()  { s.wsMessagesIn.Add(1) }
func (s *Stats) IncCacheHits()     { s.cacheHits.Add(1) }
func (s *Stats) IncCacheMisses()   { s.cacheMisses.Add(1) }

type StatsHandler struct {
	engine   *engine.Engine
	alerts   *store.Store
	zones    *zone.Registry
	hub      *hub.Hub
	tileZoom int
}

func NewStatsHandler(e *engine.Engine, alerts *store.Store, zones *zone.Registry, h *hub.Hub, tileZoom int) *StatsHandler {
	return &StatsHandler{
		engine:   e,
		alerts:   alerts,
		zones:    zones,
		hub:      h,
		tileZoom: tileZoom,
	}
}

type DashboardResponse struct {
	ActiveTourists  int                          `json:"activeTourists"`
	ActiveIncidents int                          `json:"activeIncidents"`
	HighRiskAreas   int                          `json:"highRiskAreas"`
	StatusCounts    map[domain.TouristStatus]int `json:"statusCounts"`
	OpenBySeverity  map[domain.Severity]int      `json:"openBySeverity"`
	RecentActivity  []domain.Alert               `json:"recentActivity"`
	ServerTime      time.Time                    `json:"serverTime"`
}

// Dashboard summarises tourists, open incidents and high-risk zones.
func (h *StatsHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	snaps := h.engine.Tourists()

	statusCounts := map[domain.TouristStatus]int{
		domain.StatusSafe:      0,
		domain.StatusAtRisk:    0,
		domain.StatusEmergency: 0,
	}
	active := 0
	for _, snap := range snaps {
		statusCounts[engine.Status(snap, h.alerts.Unresolved(snap.TouristID), h.zones)]++
		if !snap.Inactive {
			active++
		}
	}

	respondJSON(w, http.StatusOK, DashboardResponse{
		ActiveTourists:  active,
		ActiveIncidents: h.alerts.UnreadCount(),
		HighRiskAreas:   h.zones.CountByKind(domain.ZoneDanger),
		StatusCounts:    statusCounts,
		OpenBySeverity:  h.alerts.CountBySeverity(),
		RecentActivity:  h.alerts.List(store.ListOptions{Limit: 5}),
		ServerTime:      time.Now(),
	})
}

type HeatmapCell struct {
	Tile      string  `json:"tile"`
	Lat       float64 `json:"lat"`
	Lng       float64 `json:"lng"`
	Count     int     `json:"count"`
	Intensity float64 `json:"intensity"`
}

// Heatmap aggregates last known tourist positions per tile. Intensity is the
// cell count relative to the busiest cell.
func (h *StatsHandler) Heatmap(w http.ResponseWriter, r *http.Request) {
	zoom := h.tileZoom
	if v := r.URL.Query().Get("zoom"); v != "" {
		z, err := strconv.Atoi(v)
		if err != nil || z < 0 || z > 22 {
			respondError(w, http.StatusBadRequest, "invalid zoom parameter: must be within [0,22]")
			return
		}
		zoom = z
	}

	counts := make(map[geo.Tile]int)
	for _, snap := range h.engine.Tourists() {
		if snap.Last == nil {
			continue
		}
		counts[geo.TileAt(snap.Last.Coordinate, zoom)]++
	}

	maxCount := 0
	for _, n := range counts {
		maxCount = max(maxCount, n)
	}

	cells := make([]HeatmapCell, 0, len(counts))
	for t, n := range counts {
		bb := t.Bounds()
		cells = append(cells, HeatmapCell{
			Tile:      t.String(),
			Lat:       (bb.MinLat + bb.MaxLat) / 2,
			Lng:       (bb.MinLng + bb.MaxLng) / 2,
			Count:     n,
			Intensity: float64(n) / float64(maxCount),
		})
	}
	sort.Slice(cells, func(i, j int) bool {
		if cells[i].Count != cells[j].Count {
			return cells[i].Count > cells[j].Count
		}
		return cells[i].Tile < cells[j].Tile
	})

	respondJSON(w, http.StatusOK, cells)
}

type StatsResponse struct {
	Server    ServerStatsResponse    `json:"server"`
	Engine    EngineStatsResponse    `json:"engine"`
	WebSocket WebSocketStatsResponse `json:"websocket"`
	Cache     CacheStatsResponse     `json:"cache"`
	Go        GoStatsResponse        `json:"go"`
}

type ServerStatsResponse struct {
	Uptime        string    `json:"uptime"`
	UptimeSeconds float64   `json:"uptime_seconds"`
	StartTime     time.Time `json:"start_time"`
}

type EngineStatsResponse struct {
	Tourists     int                     `json:"tourists"`
	Zones        map[domain.ZoneKind]int `json:"zones"`
	Alerts       int                     `json:"alerts"`
	UnreadAlerts int                     `json:"unread_alerts"`
}

type WebSocketStatsResponse struct {
	Connections int64 `json:"connections"`
	Clients     int   `json:"clients"`
	MessagesIn  int64 `json:"messages_in"`
}

type CacheStatsResponse struct {
	Hits   int64   `json:"hits"`
	Misses int64   `json:"misses"`
	Ratio  float64 `json:"hit_ratio"`
}

type GoStatsResponse struct {
	Goroutines  int     `json:"goroutines"`
	HeapAlloc   uint64  `json:"heap_alloc_bytes"`
	HeapAllocMB float64 `json:"heap_alloc_mb"`
	NumGC       uint32  `json:"num_gc"`
	GoVersion   string  `json:"go_version"`
}

func (h *StatsHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	uptime := time.Since(ServerStats.startTime)

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	hits := ServerStats.cacheHits.Load()
	misses := ServerStats.cacheMisses.Load()
	var ratio float64
	if total := hits + misses; total > 0 {
		ratio = float64(hits) / float64(total)
	}

	clients := 0
	if h.hub != nil {
		clients = h.hub.ClientCount()
	}

	response := StatsResponse{
		Server: ServerStatsResponse{
			Uptime:        uptime.Round(time.Second).String(),
			UptimeSeconds: uptime.Seconds(),
			StartTime:     ServerStats.startTime,
		},
		Engine: EngineStatsResponse{
			Tourists: h.engine.TouristCount(),
			Zones: map[domain.ZoneKind]int{
				domain.ZoneSafe:    h.zones.CountByKind(domain.ZoneSafe),
				domain.ZoneWarning: h.zones.CountByKind(domain.ZoneWarning),
				domain.ZoneDanger:  h.zones.CountByKind(domain.ZoneDanger),
			},
			Alerts:       h.alerts.Count(),
			UnreadAlerts: h.alerts.UnreadCount(),
		},
		WebSocket: WebSocketStatsResponse{
			Connections: ServerStats.wsConnections.Load(),
			Clients:     clients,
			MessagesIn:  ServerStats.wsMessagesIn.Load(),
		},
		Cache: CacheStatsResponse{
			Hits:   hits,
			Misses: misses,
			Ratio:  ratio,
		},
		Go: GoStatsResponse{
			Goroutines:  runtime.NumGoroutine(),
			HeapAlloc:   mem.HeapAlloc,
			HeapAllocMB: float64(mem.HeapAlloc) / 1024 / 1024,
			NumGC:       mem.NumGC,
			GoVersion:   runtime.Version(),
		},
	}

	w.Header().Set("Cache-Control", "no-cache")
	respondJSON(w, http.StatusOK, response)
}
