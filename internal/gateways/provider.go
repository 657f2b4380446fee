package gateway

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/valyala/fasthttp"
)

type ProviderMetrics struct {
	TotalRequests    atomic.Int64
	SuccessfulReqs   atomic.Int64
	FailedReqs       atomic.Int64
	TotalLatencyMs   atomic.Int64
	ConsecutiveFails atomic.Int32
	LastErrorTime    atomic.Int64

	mu      sync.Mutex
	window  []int64
	maxSize int
}

func NewProviderMetrics() *ProviderMetrics {
	return &ProviderMetrics{
		window:  make([]int64, 0, 100),
		maxSize: 100,
	}
}

func (m *ProviderMetrics) RecordSuccess(latencyMs int64) {
	m.TotalRequests.Add(1)
	m.SuccessfulReqs.Add(1)
	m.TotalLatencyMs.Add(latencyMs)
	m.ConsecutiveFails.Store(0)

	m.mu.Lock()
	if len(m.window) == m.maxSize {
		m.window = append(m.window[:0], m.window[1:]...)
	}
	m.window = append(m.window, latencyMs)
	m.mu.Unlock()
}

func (m *ProviderMetrics) RecordFailure() {
	m.TotalRequests.Add(1)
	m.FailedReqs.Add(1)
	m.ConsecutiveFails.Add(1)
	m.LastErrorTime.Store(time.Now().Unix())
}

func (m *ProviderMetrics) AvgLatencyMs() int64 {
	n := m.SuccessfulReqs.Load()
	if n == 0 {
		return 0
	}
	return m.TotalLatencyMs.Load() / n
}

// SuccessRate is 1 until the first request.
func (m *ProviderMetrics) SuccessRate() float64 {
	total := m.TotalRequests.Load()
	if total == 0 {
		return 1.0
	}
	return float64(m.SuccessfulReqs.Load()) / float64(total)
}

func (m *ProviderMetrics) P95LatencyMs() int64 {
	m.mu.Lock()
	sorted := append([]int64(nil), m.window...)
	m.mu.Unlock()

	if len(sorted) == 0 {
		return 0
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := min(int(float64(len(sorted))*0.95), len(sorted)-1)
	return sorted[idx]
}

type ProviderState int32

const (
	StateHealthy ProviderState = iota
	StateDegraded
	StateUnhealthy
	StateCircuitOpen
)

func (s ProviderState) String() string {
	switch s {
	case StateHealthy:
		return "HEALTHY"
	case StateDegraded:
		return "DEGRADED"
	case StateUnhealthy:
		return "UNHEALTHY"
	case StateCircuitOpen:
		return "CIRCUIT_OPEN"
	}
	return "UNKNOWN"
}

// Provider is one upstream SMS operator endpoint.
type Provider struct {
	name             string
	url              string
	client           *fasthttp.Client
	metrics          *ProviderMetrics
	state            atomic.Int32
	weight           int
	circuitOpenUntil atomic.Int64
}

func NewProvider(name, url string, weight int, client *fasthttp.Client) *Provider {
	p := &Provider{
		name:    name,
		url:     url,
		client:  client,
		weight:  weight,
		metrics: NewProviderMetrics(),
	}
	p.SetState(StateHealthy)
	return p
}

func (p *Provider) Name() string { return p.name }

func (p *Provider) GetState() ProviderState {
	return ProviderState(p.state.Load())
}

func (p *Provider) SetState(state ProviderState) {
	p.state.Store(int32(state))
}

// IsAvailable half-opens an expired circuit as degraded.
func (p *Provider) IsAvailable() bool {
	switch p.GetState() {
	case StateUnhealthy:
		return false
	case StateCircuitOpen:
		if time.Now().Unix() <= p.circuitOpenUntil.Load() {
			return false
		}
		p.SetState(StateDegraded)
	}
	return true
}

func (p *Provider) openCircuit(d time.Duration) {
	p.circuitOpenUntil.Store(time.Now().Add(d).Unix())
	p.SetState(StateCircuitOpen)
}

// Score ranks available providers; higher is better, 0 means unusable.
// Success rate and latency weigh 40% each, the configured weight 20%.
func (p *Provider) Score() float64 {
	if !p.IsAvailable() {
		return 0
	}

	success := p.metrics.SuccessRate() * 100
	latency := 100.0
	if avg := p.metrics.AvgLatencyMs(); avg > 0 {
		latency = max(100.0*(1.0-float64(avg)/5000.0), 0)
	}
	penalty := max(1.0-float64(p.metrics.ConsecutiveFails.Load())*0.1, 0.1)
	if p.GetState() == StateDegraded {
		penalty *= 0.5
	}
	return (success*0.4 + latency*0.4 + float64(p.weight)*0.2) * penalty
}

type ProviderStats struct {
	Name             string  `json:"name"`
	State            string  `json:"state"`
	Score            float64 `json:"score"`
	TotalRequests    int64   `json:"total_requests"`
	FailedReqs       int64   `json:"failed_requests"`
	SuccessRate      float64 `json:"success_rate"`
	AvgLatencyMs     int64   `json:"avg_latency_ms"`
	P95LatencyMs     int64   `json:"p95_latency_ms"`
	ConsecutiveFails int32   `json:"consecutive_fails"`
}

func (p *Provider) Stats() ProviderStats {
	return ProviderStats{
		Name:             p.name,
		State:            p.GetState().String(),
		Score:            p.Score(),
		TotalRequests:    p.metrics.TotalRequests.Load(),
		FailedReqs:       p.metrics.FailedReqs.Load(),
		SuccessRate:      p.metrics.SuccessRate(),
		AvgLatencyMs:     p.metrics.AvgLatencyMs(),
		P95LatencyMs:     p.metrics.P95LatencyMs(),
		ConsecutiveFails: p.metrics.ConsecutiveFails.Load(),
	}
}
