package scheduler

import (
	"time"

	"github.com/nimasrn/outreach-engine/internal/model"
	"github.com/nimasrn/outreach-engine/internal/processor"
	"github.com/nimasrn/outreach-engine/internal/ratelimit"
)

type Status struct {
	Instance       string                     `json:"instance,omitempty"`
	StartedAt      *time.Time                 `json:"started_at,omitempty"`
	Tasks          []TaskStatus               `json:"tasks"`
	RateLimit      ratelimit.Snapshot         `json:"rate_limit"`
	LastDispatch   *model.DispatchReport      `json:"last_dispatch,omitempty"`
	LastGeneration []model.GenerationReport   `json:"last_generation,omitempty"`
	LastHealth     *model.HealthReport        `json:"last_health,omitempty"`
	Delivery       *processor.MetricsSnapshot `json:"delivery,omitempty"`
}

type metricsSource interface {
	Metrics() *processor.ServiceMetrics
}

func (s *Scheduler) Status() Status {
	st := Status{
		Tasks:     make([]TaskStatus, 0, len(s.order)),
		RateLimit: s.counter.Snapshot(),
	}
	if s.lock != nil {
		st.Instance = s.lock.Owner()
	}
	for _, name := range s.order {
		st.Tasks = append(st.Tasks, s.tasks[name].status())
	}
	if m, ok := s.dispatcher.(metricsSource); ok {
		snap := m.Metrics().Snapshot()
		st.Delivery = &snap
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.startedAt.IsZero() {
		at := s.startedAt
		st.StartedAt = &at
	}
	st.LastDispatch = s.lastDispatch
	st.LastHealth = s.lastHealth
	st.LastGeneration = append([]model.GenerationReport(nil), s.lastGeneration...)
	return st
}
