// Package monitoring keeps a rolling view of turn performance and raises
// alerts when throughput or latency degrade.
package monitoring

import (
	"fmt"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/23skdu/longbow-parley/internal/logger"
)

const (
	maxAlerts  = 100
	maxHistory = 256

	lowThroughput = 1.0 // tokens/sec
	highLatency   = 30 * time.Second

	// CriticalStreak consecutive failed turns raise a critical engine alert.
	CriticalStreak = 3
)

type Status struct {
	Status      string          `json:"status"`
	Timestamp   time.Time       `json:"timestamp"`
	Uptime      string          `json:"uptime"`
	System      SystemInfo      `json:"system"`
	Performance PerformanceInfo `json:"performance"`
	Alerts      []Alert         `json:"alerts"`
}

type SystemInfo struct {
	GoVersion    string `json:"go_version"`
	OS           string `json:"os"`
	Arch         string `json:"arch"`
	NumCPU       int    `json:"num_cpu"`
	Goroutines   int    `json:"goroutines"`
	MemoryMB     int    `json:"memory_mb"`
	MemoryUsedMB int    `json:"memory_used_mb"`
}

type PerformanceInfo struct {
	Turns           int       `json:"turns"`
	TokensPerSecond float64   `json:"tokens_per_second"`
	AvgLatencyMs    float64   `json:"avg_latency_ms"`
	P95LatencyMs    float64   `json:"p95_latency_ms"`
	ErrorRate       float64   `json:"error_rate"`
	LastTurn        time.Time `json:"last_turn"`
}

type Alert struct {
	Level      string     `json:"level"` // warning, error, critical
	Component  string     `json:"component"`
	Message    string     `json:"message"`
	Timestamp  time.Time  `json:"timestamp"`
	Resolved   bool       `json:"resolved"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

type point struct {
	tokens   int
	duration time.Duration
	failed   bool
}

// Monitor is safe for concurrent use.
type Monitor struct {
	start time.Time
	log   *logger.Logger

	mu         sync.RWMutex
	alerts     []Alert
	history    []point
	lastTurn   time.Time
	failStreak int
}

func New() *Monitor {
	return &Monitor{
		start: time.Now(),
		log:   logger.Log.With("monitor"),
	}
}

// RecordTurn adds one finished turn to the rolling window.
func (m *Monitor) RecordTurn(tokens int, d time.Duration, failed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p := point{tokens: tokens, duration: d, failed: failed}
	m.history = append(m.history, p)
	if len(m.history) > maxHistory {
		m.history = m.history[1:]
	}
	m.lastTurn = time.Now()
	m.checkTurn(p)
}

// AddAlert records an alert and logs it.
func (m *Monitor) AddAlert(level, component, message string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.addAlert(level, component, message)
}

func (m *Monitor) addAlert(level, component, message string) {
	m.alerts = append(m.alerts, Alert{
		Level:     level,
		Component: component,
		Message:   message,
		Timestamp: time.Now(),
	})
	if len(m.alerts) > maxAlerts {
		m.alerts = m.alerts[1:]
	}
	m.log.Warn("alert", "level", level, "component", component, "message", message)
}

func (m *Monitor) Alerts() []Alert {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Alert, len(m.alerts))
	copy(out, m.alerts)
	return out
}

func (m *Monitor) ClearAlerts() {
	m.mu.Lock()
	m.alerts = m.alerts[:0]
	m.mu.Unlock()
}

// Status reports "healthy", or "degraded" / "critical" while unresolved
// error or critical alerts are present.
func (m *Monitor) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status := "healthy"
	for _, a := range m.alerts {
		if a.Resolved {
			continue
		}
		if a.Level == "critical" {
			status = "critical"
			break
		}
		if a.Level == "error" {
			status = "degraded"
		}
	}

	alerts := make([]Alert, len(m.alerts))
	copy(alerts, m.alerts)
	return Status{
		Status:      status,
		Timestamp:   time.Now(),
		Uptime:      time.Since(m.start).Truncate(time.Second).String(),
		System:      systemInfo(),
		Performance: m.performance(),
		Alerts:      alerts,
	}
}

func systemInfo() SystemInfo {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return SystemInfo{
		GoVersion:    runtime.Version(),
		OS:           runtime.GOOS,
		Arch:         runtime.GOARCH,
		NumCPU:       runtime.NumCPU(),
		Goroutines:   runtime.NumGoroutine(),
		MemoryMB:     int(ms.Sys / 1024 / 1024),
		MemoryUsedMB: int(ms.Alloc / 1024 / 1024),
	}
}

// performance must be called with mu held.
func (m *Monitor) performance() PerformanceInfo {
	info := PerformanceInfo{Turns: len(m.history), LastTurn: m.lastTurn}
	if len(m.history) == 0 {
		return info
	}

	var tokens, failed int
	var total time.Duration
	latencies := make([]float64, 0, len(m.history))
	for _, p := range m.history {
		tokens += p.tokens
		total += p.duration
		if p.failed {
			failed++
		}
		latencies = append(latencies, float64(p.duration.Microseconds())/1000)
	}
	sort.Float64s(latencies)

	p95 := int(float64(len(latencies)) * 0.95)
	if p95 >= len(latencies) {
		p95 = len(latencies) - 1
	}

	info.AvgLatencyMs = float64(total.Microseconds()) / 1000 / float64(len(m.history))
	info.P95LatencyMs = latencies[p95]
	info.ErrorRate = float64(failed) / float64(len(m.history))
	if total > 0 {
		info.TokensPerSecond = float64(tokens) / total.Seconds()
	}
	return info
}

// checkTurn must be called with mu held.
func (m *Monitor) checkTurn(p point) {
	if p.failed {
		m.failStreak++
		if m.failStreak == CriticalStreak {
			m.addAlert("critical", "engine", fmt.Sprintf("%d consecutive failed turns", m.failStreak))
		} else {
			m.addAlert("error", "engine", "turn failed")
		}
		return
	}
	m.failStreak = 0
	m.resolve("engine")
	if p.duration >= highLatency {
		m.addAlert("warning", "performance",
			fmt.Sprintf("High latency: %.2f ms", float64(p.duration.Microseconds())/1000))
	}
	if p.tokens > 0 && p.duration > 0 {
		if tps := float64(p.tokens) / p.duration.Seconds(); tps < lowThroughput {
			m.addAlert("warning", "performance", fmt.Sprintf("Low throughput: %.2f tokens/sec", tps))
		}
	}
}

// resolve marks the open alerts of component resolved. mu must be held.
func (m *Monitor) resolve(component string) {
	now := time.Now()
	for i := range m.alerts {
		a := &m.alerts[i]
		if a.Component == component && !a.Resolved {
			a.Resolved = true
			a.ResolvedAt = &now
		}
	}
}
