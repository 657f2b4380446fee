package helpers

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/nimasrn/outreach-engine/internal/repository"
	"github.com/nimasrn/outreach-engine/pkg/pg"
	"github.com/nimasrn/outreach-engine/pkg/redis"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
)

func SetupTestDB(t *testing.T) *pg.DB {
	t.Helper()
	return repository.OpenTestDB(t)
}

// SetupTestRedis starts a miniredis and an adapter registered under a name
// unique to the test, since adapters are cached per connection name.
func SetupTestRedis(t *testing.T) (*miniredis.Miniredis, redis.RedisAdapter) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	adapter, err := redis.NewRedisAdapter(fmt.Sprintf("test-%s-%s", t.Name(), uuid.NewString()), "outreach:", &goredis.UniversalOptions{
		Addrs: []string{mr.Addr()},
	})
	require.NoError(t, err)

	return mr, adapter
}

// FakeProvider serves the SMS operator and email API endpoints the gateways
// talk to. Every address delivers unless told otherwise.
type FakeProvider struct {
	URL string

	mu       sync.Mutex
	hits     map[string]int
	smsFail  map[string]string
	bounces  map[string]string
	down     bool
	received []string
}

func StartFakeProvider(t *testing.T) *FakeProvider {
	t.Helper()
	p := &FakeProvider{
		hits:    make(map[string]int),
		smsFail: make(map[string]string),
		bounces: make(map[string]string),
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv := &fasthttp.Server{Handler: p.handle}
	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(func() { _ = srv.Shutdown() })

	p.URL = "http://" + ln.Addr().String()
	return p
}

// FailSMS makes every SMS to phone come back FAILED with code.
func (p *FakeProvider) FailSMS(phone, code string) {
	p.mu.Lock()
	p.smsFail[phone] = code
	p.mu.Unlock()
}

// Bounce makes every email to address come back rejected with code.
func (p *FakeProvider) Bounce(address, code string) {
	p.mu.Lock()
	p.bounces[address] = code
	p.mu.Unlock()
}

// SetDown makes every send answer 503.
func (p *FakeProvider) SetDown(down bool) {
	p.mu.Lock()
	p.down = down
	p.mu.Unlock()
}

// Hits is how many times the message id reached the provider on channel.
func (p *FakeProvider) Hits(channel string, messageID int64) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hits[fmt.Sprintf("%s:%d", channel, messageID)]
}

// Received lists every address a send request was made for, in order.
func (p *FakeProvider) Received() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.received...)
}

// Duplicates lists message ids that were sent more than once.
func (p *FakeProvider) Duplicates() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for id, n := range p.hits {
		if n > 1 {
			out = append(out, id)
		}
	}
	return out
}

func (p *FakeProvider) handle(ctx *fasthttp.RequestCtx) {
	switch string(ctx.Path()) {
	case "/health":
		writeJSON(ctx, fasthttp.StatusOK, map[string]string{"status": "healthy"})
	case "/api/v1/sms/send":
		p.handleSMS(ctx)
	case "/api/v1/email/send":
		p.handleEmail(ctx)
	default:
		ctx.SetStatusCode(fasthttp.StatusNotFound)
	}
}

func (p *FakeProvider) handleSMS(ctx *fasthttp.RequestCtx) {
	var req struct {
		MessageID   string `json:"message_id"`
		PhoneNumber string `json:"phone_number"`
	}
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		ctx.SetStatusCode(fasthttp.StatusBadRequest)
		return
	}

	p.mu.Lock()
	down := p.down
	if !down {
		p.hits["sms:"+req.MessageID]++
		p.received = append(p.received, req.PhoneNumber)
	}
	code := p.smsFail[req.PhoneNumber]
	p.mu.Unlock()

	if down {
		ctx.SetStatusCode(fasthttp.StatusServiceUnavailable)
		return
	}
	now := time.Now().UTC()
	if code != "" {
		writeJSON(ctx, fasthttp.StatusAccepted, map[string]any{
			"message_id": req.MessageID, "status": "FAILED", "error_code": code, "processed_at": now,
		})
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, map[string]any{
		"message_id": req.MessageID, "status": "DELIVERED", "delivered_at": now, "processed_at": now,
	})
}

func (p *FakeProvider) handleEmail(ctx *fasthttp.RequestCtx) {
	var req struct {
		MessageID string `json:"message_id"`
		To        string `json:"to"`
	}
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		ctx.SetStatusCode(fasthttp.StatusBadRequest)
		return
	}

	p.mu.Lock()
	down := p.down
	if !down {
		p.hits["email:"+req.MessageID]++
		p.received = append(p.received, req.To)
	}
	code := p.bounces[req.To]
	p.mu.Unlock()

	switch {
	case down:
		ctx.SetStatusCode(fasthttp.StatusServiceUnavailable)
	case code != "":
		writeJSON(ctx, fasthttp.StatusUnprocessableEntity, map[string]string{"status": "rejected", "error_code": code})
	default:
		writeJSON(ctx, fasthttp.StatusAccepted, map[string]string{"id": uuid.NewString(), "status": "queued"})
	}
}

func writeJSON(ctx *fasthttp.RequestCtx, status int, v any) {
	b, _ := json.Marshal(v)
	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json")
	ctx.SetBody(b)
}

func WaitForCondition(t *testing.T, timeout time.Duration, condition func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}

func AssertEventually(t *testing.T, timeout time.Duration, condition func() bool, msg string) {
	if !WaitForCondition(t, timeout, condition) {
		t.Fatal(msg)
	}
}

func ContextWithTimeout(timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), timeout)
}

func Ptr[T any](v T) *T {
	return &v
}
