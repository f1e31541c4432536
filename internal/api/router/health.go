package router

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/wolfman30/adrd-care-assistant/pkg/logging"
)

const (
	defaultVersion     = "1.0.1"
	healthCheckTimeout = 2 * time.Second
)

// Component names with a known meaning for agent status.
const (
	ComponentSessionStore = "session_store"
	ComponentLLM          = "llm"
	ComponentBooking      = "booking"
)

// agentComponents lists what each agent needs. Components without a
// registered check count as up.
var agentComponents = map[string][]string{
	"orchestrator": {ComponentSessionStore, ComponentLLM},
	"appointment":  {ComponentSessionStore, ComponentLLM, ComponentBooking},
	"medical":      {ComponentLLM},
}

// HealthCheck probes one dependency; nil means healthy.
type HealthCheck func(ctx context.Context) error

type healthResponse struct {
	Status     string            `json:"status"`
	Timestamp  string            `json:"timestamp"`
	Version    string            `json:"version"`
	APIStatus  string            `json:"api_status"`
	Agents     map[string]bool   `json:"agents"`
	Components map[string]string `json:"components,omitempty"`
}

// HealthHandler serves GET /health. Any failing component reports 503 with
// status "degraded".
type HealthHandler struct {
	version string
	checks  map[string]HealthCheck
	logger  *logging.Logger
	now     func() time.Time
}

func NewHealthHandler(version string, checks map[string]HealthCheck, logger *logging.Logger) *HealthHandler {
	if version == "" {
		version = defaultVersion
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &HealthHandler{version: version, checks: checks, logger: logger, now: time.Now}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	results := make([]error, len(names))
	var wg sync.WaitGroup
	for i, name := range names {
		wg.Add(1)
		go func(i int, check HealthCheck) {
			defer wg.Done()
			results[i] = check(ctx)
		}(i, h.checks[name])
	}
	wg.Wait()

	resp := healthResponse{
		Status:    "healthy",
		Timestamp: h.now().UTC().Format(time.RFC3339),
		Version:   h.version,
		APIStatus: "online",
	}
	status := http.StatusOK
	if len(names) > 0 {
		resp.Components = make(map[string]string, len(names))
	}
	for i, name := range names {
		if err := results[i]; err != nil {
			h.logger.Warn("health check failed", "component", name, "error", err)
			resp.Components[name] = "unavailable"
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Components[name] = "ok"
	}
	resp.Agents = make(map[string]bool, len(agentComponents))
	for agent, deps := range agentComponents {
		up := true
		for _, dep := range deps {
			if state, ok := resp.Components[dep]; ok && state != "ok" {
				up = false
			}
		}
		resp.Agents[agent] = up
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Error("failed to write health response", "error", err)
	}
}
