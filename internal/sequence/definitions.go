package sequence

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/nimasrn/outreach-engine/internal/model"
)

var ErrUnknownSequence = errors.New("unknown sequence")

// Registry holds the compiled sequence definitions by name.
type Registry struct {
	mu   sync.RWMutex
	defs map[string]model.SequenceDefinition
}

func NewRegistry(defs ...model.SequenceDefinition) *Registry {
	r := &Registry{defs: make(map[string]model.SequenceDefinition, len(defs))}
	for _, d := range defs {
		r.Register(d)
	}
	return r
}

// Register stores def with its steps sorted by offset.
func (r *Registry) Register(def model.SequenceDefinition) {
	steps := make([]model.SequenceStep, len(def.Steps))
	copy(steps, def.Steps)
	sort.SliceStable(steps, func(i, j int) bool {
		return steps[i].OffsetDays < steps[j].OffsetDays
	})
	def.Steps = steps

	r.mu.Lock()
	r.defs[def.Name] = def
	r.mu.Unlock()
}

func (r *Registry) Get(name string) (model.SequenceDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[name]
	if !ok {
		return model.SequenceDefinition{}, fmt.Errorf("%w: %s", ErrUnknownSequence, name)
	}
	return def, nil
}

// Default is the new business onboarding drip.
func Default() *Registry {
	return NewRegistry(model.SequenceDefinition{
		Name: model.DefaultSequence,
		Steps: []model.SequenceStep{
			{OffsetDays: 0, Name: "welcome", Templates: map[model.Channel]string{
				model.ChannelSMS:   "welcome_sms",
				model.ChannelEmail: "welcome_email",
			}},
			{OffsetDays: 1, Name: "first_week_checklist", Templates: map[model.Channel]string{
				model.ChannelSMS:   "day1_sms",
				model.ChannelEmail: "day1_email",
			}},
			{OffsetDays: 3, Name: "setup_help", Templates: map[model.Channel]string{
				model.ChannelSMS:   "day3_sms",
				model.ChannelEmail: "day3_email",
			}},
			{OffsetDays: 7, Name: "one_week", Templates: map[model.Channel]string{
				model.ChannelEmail: "day7_email",
			}},
		},
	})
}
