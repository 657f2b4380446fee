package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nimasrn/outreach-engine/internal/model"
)

var (
	ErrNoAvailableProviders = errors.New("no available providers")
	ErrUnsupportedChannel   = errors.New("unsupported channel")
	ErrMissingAddress       = errors.New("message has no address")
)

// Error codes after which the address must not be contacted again.
const (
	CodeInvalidNumber = "INVALID_NUMBER"
	CodeBlocked       = "BLOCKED"
	CodeHardBounce    = "HARD_BOUNCE"
	CodeUnsubscribed  = "UNSUBSCRIBED"
)

var hardCodes = map[string]bool{
	CodeInvalidNumber: true,
	CodeBlocked:       true,
	CodeHardBounce:    true,
	CodeUnsubscribed:  true,
}

// Receipt is a provider's acceptance of a message.
type Receipt struct {
	ProviderMessageID string
	Provider          string
	// Delivered is set when the provider confirmed delivery synchronously.
	Delivered bool
	At        time.Time
}

// Sender is the provider capability. Send is called at most once per
// message; implementations must not retry on their own unless configured to.
type Sender interface {
	Send(ctx context.Context, msg *model.Message) (*Receipt, error)
}

// ProviderError is a provider answering with a rejection rather than a
// transport failure.
type ProviderError struct {
	Provider string
	Code     string
	Message  string
}

func (e *ProviderError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s rejected message: %s", e.Provider, e.Code)
	}
	return fmt.Sprintf("%s rejected message: %s: %s", e.Provider, e.Code, e.Message)
}

// Hard reports whether the rejection means the address is unusable.
func (e *ProviderError) Hard() bool {
	return hardCodes[e.Code]
}

// HardFailure returns the provider code when err is a hard rejection.
func HardFailure(err error) (string, bool) {
	var pe *ProviderError
	if errors.As(err, &pe) && pe.Hard() {
		return pe.Code, true
	}
	return "", false
}
