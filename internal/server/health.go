package server

import (
	"net/http"
	"runtime"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthService is the name reported by the gRPC health service.
const HealthService = "parley.Session"

type CheckStatus struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type VersionInfo struct {
	Version   string `json:"version"`
	GoVersion string `json:"go_version"`
	Uptime    string `json:"uptime"`
}

var startTime = time.Now()

func newGRPCServer() (*grpc.Server, *health.Server) {
	gs := grpc.NewServer()
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(HealthService, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(gs, hs)
	return gs, hs
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK\n"))
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	checks := map[string]CheckStatus{
		"memory":     checkMemory(),
		"goroutines": checkGoroutines(),
		"engine":     s.checkEngine(),
	}
	for _, check := range checks {
		if check.Status != "healthy" {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{
				"status": "not ready",
				"checks": checks,
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ready",
		"sessions": s.registry.Len(),
	})
}

func (s *Server) version(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, VersionInfo{
		Version:   Version,
		GoVersion: runtime.Version(),
		Uptime:    time.Since(startTime).Truncate(time.Second).String(),
	})
}

func checkMemory() CheckStatus {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	if m.Alloc > 1024*1024*1024 {
		return CheckStatus{Status: "warning", Message: "High memory usage"}
	}
	return CheckStatus{Status: "healthy"}
}

func checkGoroutines() CheckStatus {
	if runtime.NumGoroutine() > 10000 {
		return CheckStatus{Status: "warning", Message: "High number of goroutines"}
	}
	return CheckStatus{Status: "healthy"}
}

func (s *Server) checkEngine() CheckStatus {
	if st := s.monitor.Status(); st.Status == "critical" {
		return CheckStatus{Status: st.Status, Message: "Critical engine alert"}
	}
	return CheckStatus{Status: "healthy"}
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"monitor":  s.monitor.Status(),
		"sessions": s.registry.Len(),
		"version":  Version,
	})
}

func (s *Server) alerts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.monitor.Alerts())
}

func (s *Server) clearAlerts(w http.ResponseWriter, r *http.Request) {
	s.monitor.ClearAlerts()
	writeSuccess(w)
}
