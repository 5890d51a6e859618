// Package readside serves the polling clients: a summarized view of recently
// seen devices plus gateway status. Plain request/response plumbing; the
// reliability pipeline lives elsewhere.
package readside

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"beaconrelay/gateway/internal/model"
	"beaconrelay/gateway/internal/remotestore"
	"beaconrelay/gateway/internal/sink"
)

// Server exposes the HTTP query API and the static front end.
type Server struct {
	store  remotestore.Client
	sink   *sink.Sink
	status *Status
	origin model.Origin
	window time.Duration
	webDir string
	logger *slog.Logger
}

// New constructs the read-side server. window is the default lookback for the
// device summary.
func New(store remotestore.Client, snk *sink.Sink, status *Status, origin model.Origin, window time.Duration, webDir string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if window <= 0 {
		window = 5 * time.Minute
	}
	return &Server{
		store:  store,
		sink:   snk,
		status: status,
		origin: origin,
		window: window,
		webDir: webDir,
		logger: logger,
	}
}

// Routes wires the handlers onto a mux.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/readyz", s.handleReadyz)
	mux.HandleFunc("/api/devices", s.handleDevices)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/static/", func(w http.ResponseWriter, r *http.Request) {
		http.StripPrefix("/static/", http.FileServer(http.Dir(s.webDir))).ServeHTTP(w, r)
	})
	mux.HandleFunc("/", s.handleIndex)

	return s.counted(mux)
}

func (s *Server) counted(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.status.CountRequest()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if s.store == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"status":"starting"}`))
		return
	}
	_, _ = w.Write([]byte(`{"status":"ready"}`))
}

// DeviceSummary is one recently seen device, grouped by source key.
type DeviceSummary struct {
	SourceKey         string   `json:"source_key"`
	Count             int      `json:"count"`
	LastSeenMillis    int64    `json:"last_seen_millis"`
	LastSeenISO       string   `json:"last_seen_iso"`
	SignalStrength    int      `json:"signal_strength"`
	EstimatedDistance *float64 `json:"estimated_distance,omitempty"`
	ProximityCategory string   `json:"proximity_category"`
	SourceAddress     string   `json:"source_address,omitempty"`
}

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	window := s.window
	if v := r.URL.Query().Get("window"); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil && parsed > 0 && parsed <= 24*time.Hour {
			window = parsed
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	since := time.Now().Add(-window)
	records, err := s.store.QueryRecent(ctx, s.origin.ID, since)
	if err != nil {
		s.logger.Error("failed to query recent records", "error", err)
		http.Error(w, "failed to load devices", http.StatusInternalServerError)
		return
	}

	response := struct {
		Devices []DeviceSummary `json:"devices"`
		WindowS int64           `json:"window_seconds"`
	}{
		Devices: Summarize(records),
		WindowS: int64(window.Seconds()),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		s.logger.Error("failed to encode devices response", "error", err)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := struct {
		Status         string `json:"status"`
		OriginID       string `json:"origin_id"`
		OriginName     string `json:"origin_name,omitempty"`
		UptimeSeconds  int64  `json:"uptime_seconds"`
		Requests       uint64 `json:"requests"`
		BufferSize     int    `json:"buffer_size"`
		DroppedRecords uint64 `json:"dropped_records"`
	}{
		Status:        "ok",
		OriginID:      s.origin.ID,
		OriginName:    s.origin.Name,
		UptimeSeconds: int64(s.status.Uptime(time.Now()).Seconds()),
		Requests:      s.status.Requests(),
	}
	if s.sink != nil {
		response.BufferSize = s.sink.BufferLen()
		response.DroppedRecords = s.sink.Dropped()
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		s.logger.Error("failed to encode status response", "error", err)
	}
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	fileServer := http.FileServer(http.Dir(s.webDir))
	fileServer.ServeHTTP(w, r)
}

// Summarize groups records by source key, keeping the latest observation and
// a count per device, most recently seen first.
func Summarize(records []model.BeaconRecord) []DeviceSummary {
	byKey := make(map[string]*DeviceSummary)

	for _, rec := range records {
		summary, ok := byKey[rec.SourceKey]
		if !ok {
			summary = &DeviceSummary{SourceKey: rec.SourceKey}
			byKey[rec.SourceKey] = summary
		}
		summary.Count++
		if rec.CapturedAtMillis >= summary.LastSeenMillis {
			summary.LastSeenMillis = rec.CapturedAtMillis
			summary.LastSeenISO = rec.CapturedAtISO
			summary.SignalStrength = rec.SignalStrength
			summary.EstimatedDistance = rec.EstimatedDistance
			summary.ProximityCategory = rec.ProximityCategory
			summary.SourceAddress = rec.SourceAddress
		}
	}

	out := make([]DeviceSummary, 0, len(byKey))
	for _, summary := range byKey {
		out = append(out, *summary)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LastSeenMillis != out[j].LastSeenMillis {
			return out[i].LastSeenMillis > out[j].LastSeenMillis
		}
		return out[i].SourceKey < out[j].SourceKey
	})
	return out
}
