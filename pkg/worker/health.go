package worker

import (
	"encoding/json"
	"net/http"

	"github.com/codeready-toolchain/excproc/pkg/metrics"
)

// HealthServer exposes /healthz (process alive) and /readyz (can make
// progress) for every Runtime registered with it — tarsy exposes one
// combined /health; spec.md's worker runtime calls for the two-endpoint
// convention Kubernetes readiness/liveness probes expect.
type HealthServer struct {
	runtimes []*Runtime
}

// NewHealthServer builds a server reporting on runtimes.
func NewHealthServer(runtimes ...*Runtime) *HealthServer {
	return &HealthServer{runtimes: runtimes}
}

// Handler returns the mux HealthServer serves /healthz and /readyz from.
func (h *HealthServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.serveHealthz)
	mux.HandleFunc("/readyz", h.serveReadyz)
	mux.Handle("/metrics", metrics.Handler())
	return mux
}

type statusReport struct {
	Role      string `json:"role"`
	Lifecycle string `json:"lifecycle"`
	Ready     bool   `json:"ready"`
}

func (h *HealthServer) serveHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *HealthServer) serveReadyz(w http.ResponseWriter, _ *http.Request) {
	reports := make([]statusReport, 0, len(h.runtimes))
	allReady := true
	for _, rt := range h.runtimes {
		ready := rt.Ready()
		allReady = allReady && ready
		reports = append(reports, statusReport{
			Role:      rt.Role.Role(),
			Lifecycle: rt.Lifecycle().String(),
			Ready:     ready,
		})
	}

	status := http.StatusOK
	if !allReady {
		status = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(reports)
}
