package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// Pinger checks reachability of one storage backend.
type Pinger interface {
	Ping(ctx context.Context) error
}

// SystemHandlers handles system-wide monitoring endpoints.
type SystemHandlers struct {
	log         zerolog.Logger
	startupTime time.Time
	backends    map[string]Pinger
}

// NewSystemHandlers creates the system handlers. The backends map names each
// dependency (cache, durable, prices) to its health check.
func NewSystemHandlers(backends map[string]Pinger, log zerolog.Logger) *SystemHandlers {
	return &SystemHandlers{
		log:         log.With().Str("component", "system_handlers").Logger(),
		startupTime: time.Now(),
		backends:    backends,
	}
}

// HandleHealth handles GET /health - liveness only, no dependency checks.
func (h *SystemHandlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"uptime": time.Since(h.startupTime).String(),
	})
}

// HandleStatus handles GET /api/system/status - dependency reachability plus
// host resource usage.
func (h *SystemHandlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	backends := make(map[string]string, len(h.backends))
	healthy := true
	for name, pinger := range h.backends {
		if err := pinger.Ping(ctx); err != nil {
			h.log.Warn().Err(err).Str("backend", name).Msg("Backend ping failed")
			backends[name] = "unreachable: " + err.Error()
			healthy = false
		} else {
			backends[name] = "ok"
		}
	}

	cpuAvg, ramPercent := h.resourceUsage()

	status := http.StatusOK
	state := "ok"
	if !healthy {
		status = http.StatusServiceUnavailable
		state = "degraded"
	}

	h.writeJSON(w, status, map[string]interface{}{
		"status":      state,
		"uptime":      time.Since(h.startupTime).String(),
		"backends":    backends,
		"cpu_percent": cpuAvg,
		"ram_percent": ramPercent,
	})
}

// resourceUsage samples host CPU and memory. A short sampling interval keeps
// the status endpoint responsive.
func (h *SystemHandlers) resourceUsage() (float64, float64) {
	cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get CPU percentage")
		cpuPercent = []float64{0}
	}

	memStat, err := mem.VirtualMemory()
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get memory statistics")
		return 0, 0
	}

	cpuAvg := 0.0
	if len(cpuPercent) > 0 {
		cpuAvg = cpuPercent[0]
	}
	return cpuAvg, memStat.UsedPercent
}

func (h *SystemHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
