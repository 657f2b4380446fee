package gateway

import (
	"context"
	"fmt"

	"github.com/nimasrn/outreach-engine/internal/model"
)

// Router sends each message through the sender registered for its channel.
type Router struct {
	senders map[model.Channel]Sender
}

func NewRouter() *Router {
	return &Router{senders: make(map[model.Channel]Sender, 2)}
}

// Handle registers s for ch; a nil sender leaves the channel unsupported.
func (r *Router) Handle(ch model.Channel, s Sender) *Router {
	if s != nil {
		r.senders[ch] = s
	}
	return r
}

func (r *Router) Supports(ch model.Channel) bool {
	_, ok := r.senders[ch]
	return ok
}

func (r *Router) Send(ctx context.Context, msg *model.Message) (*Receipt, error) {
	s, ok := r.senders[msg.Channel]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedChannel, msg.Channel)
	}
	if msg.Address == "" {
		return nil, ErrMissingAddress
	}
	return s.Send(ctx, msg)
}
