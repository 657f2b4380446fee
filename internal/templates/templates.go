package templates

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/nimasrn/outreach-engine/internal/model"
)

var (
	ErrUnknownTemplate = errors.New("unknown template")
	ErrMissingField    = errors.New("template field has no value")
)

var placeholder = regexp.MustCompile(`\{([a-z_]+)\}`)

// Template is message copy with {field} placeholders. Subject is only used
// on email.
type Template struct {
	ID      string
	Channel model.Channel
	Subject string
	Body    string
	// Optional fields render as empty instead of failing.
	Optional []string
}

type Rendered struct {
	Subject string
	Body    string
}

type Registry struct {
	mu        sync.RWMutex
	templates map[string]Template
}

func NewRegistry(templates ...Template) *Registry {
	r := &Registry{templates: make(map[string]Template, len(templates))}
	for _, t := range templates {
		r.templates[t.ID] = t
	}
	return r
}

func (r *Registry) Register(t Template) {
	r.mu.Lock()
	r.templates[t.ID] = t
	r.mu.Unlock()
}

func (r *Registry) Get(id string) (Template, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.templates[id]
	if !ok {
		return Template{}, fmt.Errorf("%w: %s", ErrUnknownTemplate, id)
	}
	return t, nil
}

// Render fills template id with the recipient's fields.
func (r *Registry) Render(id string, rec *model.Recipient) (Rendered, error) {
	t, err := r.Get(id)
	if err != nil {
		return Rendered{}, err
	}
	fields := rec.Fields()

	subject, err := fill(t.Subject, fields, t.Optional)
	if err != nil {
		return Rendered{}, fmt.Errorf("template %s subject: %w", id, err)
	}
	body, err := fill(t.Body, fields, t.Optional)
	if err != nil {
		return Rendered{}, fmt.Errorf("template %s: %w", id, err)
	}
	return Rendered{Subject: subject, Body: body}, nil
}

func fill(text string, fields map[string]string, optional []string) (string, error) {
	var missing []string
	out := placeholder.ReplaceAllStringFunc(text, func(m string) string {
		key := m[1 : len(m)-1]
		v := fields[key]
		if v == "" && !contains(optional, key) {
			missing = append(missing, key)
		}
		return v
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("%w: %s", ErrMissingField, strings.Join(missing, ", "))
	}
	return out, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
