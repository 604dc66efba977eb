package collector

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ConnState reports the transport link, e.g. *mqttclient.Session.
type ConnState interface {
	IsConnected() bool
}

// minOkErrorAge is how long after a failed flush the collector reports ready again.
const minOkErrorAge = 30 * time.Second

// NewHTTPMux serves the read-only endpoints. gatherer may be nil to omit /metrics.
func NewHTTPMux(svc *Service, conn ConnState, gatherer prometheus.Gatherer) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/healthz", &healthHandler{svc: svc, conn: conn})
	mux.Handle("/readyz", &readyHandler{svc: svc, conn: conn})

	// GET /readings/latest?limit=N, most recent last
	mux.HandleFunc("/readings/latest", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		entries := svc.Store().Snapshot()
		limit := len(entries)
		if v := strings.TrimSpace(r.URL.Query().Get("limit")); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 {
				http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
				return
			}
			if n < limit {
				limit = n
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(entries[len(entries)-limit:])
	})

	if gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}

type healthHandler struct {
	svc  *Service
	conn ConnState
}

func (h *healthHandler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	type status struct {
		Status          string  `json:"status"`
		MQTTConnected   bool    `json:"mqtt_connected"`
		LogEntries      int     `json:"log_entries"`
		LastWriteErrorS float64 `json:"last_write_error_age_sec"`
		Mirror          string  `json:"mirror,omitempty"`
	}
	age := h.svc.Writer().LastErrorAge()
	st := status{
		MQTTConnected:   h.conn != nil && h.conn.IsConnected(),
		LogEntries:      h.svc.Store().Len(),
		LastWriteErrorS: age.Seconds(),
	}
	if m, ok := h.svc.mirror.(*InfluxMirror); ok {
		st.Mirror = m.State()
	}

	switch {
	case st.MQTTConnected && age > minOkErrorAge:
		st.Status = "ok"
	case st.MQTTConnected || age > minOkErrorAge:
		st.Status = "degraded"
	default:
		st.Status = "down"
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(st)
}

// readyHandler answers 200 only when the link is up and the file is writable.
type readyHandler struct {
	svc  *Service
	conn ConnState
}

func (h *readyHandler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	ready := h.conn != nil && h.conn.IsConnected() && h.svc.Writer().LastErrorAge() > minOkErrorAge
	w.Header().Set("Content-Type", "application/json")
	if !ready {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	type resp struct {
		Ready bool `json:"ready"`
	}
	_ = json.NewEncoder(w).Encode(resp{Ready: ready})
}
