package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/nimasrn/outreach-engine/internal/model"
	"github.com/nimasrn/outreach-engine/pkg/logger"
	"github.com/valyala/fasthttp"
)

type DeliveryStatus string

const (
	StatusDelivered DeliveryStatus = "DELIVERED"
	StatusFailed    DeliveryStatus = "FAILED"
	StatusPending   DeliveryStatus = "PENDING"
)

type SendRequest struct {
	MessageID   string `json:"message_id"`
	PhoneNumber string `json:"phone_number"`
	Content     string `json:"content"`
}

type SendResponse struct {
	MessageID   string         `json:"message_id"`
	Status      DeliveryStatus `json:"status"`
	DeliveredAt *time.Time     `json:"delivered_at,omitempty"`
	ErrorCode   string         `json:"error_code,omitempty"`
	ErrorMsg    string         `json:"error_message,omitempty"`
	OperatorID  string         `json:"operator_id"`
	ProcessedAt time.Time      `json:"processed_at"`
}

type SMSConfig struct {
	Providers []ProviderConfig
	Timeout   time.Duration
	// MaxRetries is 0 for outreach: a resend after an ambiguous failure
	// may bill and deliver twice.
	MaxRetries              int
	RetryDelay              time.Duration
	MaxConns                int
	HealthCheckInterval     time.Duration
	CircuitBreakerThreshold int
	CircuitBreakerTimeout   time.Duration
}

type ProviderConfig struct {
	Name   string
	URL    string
	Weight int // 1-100
}

func DefaultSMSConfig(providers ...ProviderConfig) *SMSConfig {
	return &SMSConfig{
		Providers:               providers,
		Timeout:                 5 * time.Second,
		MaxConns:                64,
		HealthCheckInterval:     30 * time.Second,
		CircuitBreakerThreshold: 5,
		CircuitBreakerTimeout:   30 * time.Second,
	}
}

// SMSClient spreads SMS across operator endpoints, preferring the one with
// the best recent success rate and latency.
type SMSClient struct {
	config    *SMSConfig
	providers []*Provider
	mu        sync.RWMutex
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

func NewSMSClient(config *SMSConfig) (*SMSClient, error) {
	if config == nil {
		return nil, errors.New("config is required")
	}
	var providers []*Provider
	for _, pc := range config.Providers {
		if pc.URL == "" {
			continue
		}
		httpClient := &fasthttp.Client{
			MaxConnsPerHost:     config.MaxConns,
			ReadTimeout:         config.Timeout,
			WriteTimeout:        config.Timeout,
			MaxIdleConnDuration: time.Minute,
		}
		providers = append(providers, NewProvider(pc.Name, pc.URL, pc.Weight, httpClient))
		logger.Info("sms provider initialized", "name", pc.Name, "url", pc.URL, "weight", pc.Weight)
	}
	if len(providers) == 0 {
		return nil, errors.New("at least one provider is required")
	}

	c := &SMSClient{
		config:    config,
		providers: providers,
		stopCh:    make(chan struct{}),
	}
	if config.HealthCheckInterval > 0 {
		c.wg.Add(1)
		go c.healthChecker()
	}
	return c, nil
}

func (c *SMSClient) SelectBestProvider() (*Provider, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var best *Provider
	var bestScore float64
	for _, p := range c.providers {
		if score := p.Score(); score > bestScore {
			best, bestScore = p, score
		}
	}
	if best == nil {
		return nil, ErrNoAvailableProviders
	}
	return best, nil
}

// Send implements Sender for the sms channel.
func (c *SMSClient) Send(ctx context.Context, msg *model.Message) (*Receipt, error) {
	if msg.Address == "" {
		return nil, ErrMissingAddress
	}
	resp, provider, err := c.SendSMS(ctx, &SendRequest{
		MessageID:   strconv.FormatInt(msg.ID, 10),
		PhoneNumber: msg.Address,
		Content:     msg.Content,
	})
	if err != nil {
		return nil, err
	}

	switch resp.Status {
	case StatusFailed:
		return nil, &ProviderError{Provider: provider, Code: resp.ErrorCode, Message: resp.ErrorMsg}
	case StatusDelivered, StatusPending:
		at := resp.ProcessedAt
		if resp.DeliveredAt != nil {
			at = *resp.DeliveredAt
		}
		return &Receipt{
			ProviderMessageID: resp.MessageID,
			Provider:          provider,
			Delivered:         resp.Status == StatusDelivered,
			At:                at,
		}, nil
	}
	return nil, fmt.Errorf("%s returned unknown status %q", provider, resp.Status)
}

// SendSMS posts one request, retrying on transport errors only when
// MaxRetries is set.
func (c *SMSClient) SendSMS(ctx context.Context, req *SendRequest) (*SendResponse, string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, "", fmt.Errorf("failed to marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, "", ctx.Err()
			case <-time.After(c.config.RetryDelay):
			}
		}

		provider, err := c.SelectBestProvider()
		if err != nil {
			lastErr = err
			continue
		}

		started := time.Now()
		raw, err := c.doRequest(ctx, provider, fasthttp.MethodPost, "/api/v1/sms/send", body)
		if err != nil {
			provider.metrics.RecordFailure()
			c.checkCircuitBreaker(provider)
			logger.Warn("sms provider request failed", "provider", provider.name, "message_id", req.MessageID, "attempt", attempt+1, "error", err)
			lastErr = err
			continue
		}
		provider.metrics.RecordSuccess(time.Since(started).Milliseconds())

		var resp SendResponse
		if err := json.Unmarshal(raw, &resp); err != nil {
			return nil, provider.name, fmt.Errorf("failed to unmarshal response: %w", err)
		}
		if resp.MessageID == "" {
			resp.MessageID = req.MessageID
		}
		return &resp, provider.name, nil
	}

	return nil, "", fmt.Errorf("sms send failed after %d attempt(s): %w", c.config.MaxRetries+1, lastErr)
}

func (c *SMSClient) doRequest(ctx context.Context, provider *Provider, method, path string, body []byte) ([]byte, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(provider.url + path)
	req.Header.SetMethod(method)
	req.Header.SetContentType("application/json")
	if body != nil {
		req.SetBody(body)
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(c.config.Timeout)
	}
	if err := provider.client.DoDeadline(req, resp, deadline); err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	if code := resp.StatusCode(); code != fasthttp.StatusOK && code != fasthttp.StatusAccepted {
		return nil, fmt.Errorf("unexpected status code: %d, body: %s", code, resp.Body())
	}
	return append([]byte(nil), resp.Body()...), nil
}

func (c *SMSClient) checkCircuitBreaker(p *Provider) {
	fails := p.metrics.ConsecutiveFails.Load()
	if c.config.CircuitBreakerThreshold > 0 && fails >= int32(c.config.CircuitBreakerThreshold) {
		p.openCircuit(c.config.CircuitBreakerTimeout)
		logger.Warn("circuit breaker opened", "provider", p.name, "consecutive_fails", fails, "timeout", c.config.CircuitBreakerTimeout)
	}
}

func (c *SMSClient) healthChecker() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.CheckHealth(context.Background())
		case <-c.stopCh:
			return
		}
	}
}

// CheckHealth calls /health on every provider. Circuit state is left to
// the breaker.
func (c *SMSClient) CheckHealth(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	c.mu.RLock()
	providers := append([]*Provider(nil), c.providers...)
	c.mu.RUnlock()

	for _, p := range providers {
		old := p.GetState()
		if old == StateCircuitOpen {
			continue
		}
		next := StateUnhealthy
		if c.checkProvider(ctx, p) {
			next = StateHealthy
		}
		if next != old {
			p.SetState(next)
			logger.Info("sms provider state changed", "provider", p.name, "old_state", old.String(), "new_state", next.String())
		}
	}
}

func (c *SMSClient) checkProvider(ctx context.Context, p *Provider) bool {
	raw, err := c.doRequest(ctx, p, fasthttp.MethodGet, "/health", nil)
	if err != nil {
		return false
	}
	var health struct {
		Status string `json:"status"`
	}
	return json.Unmarshal(raw, &health) == nil && health.Status == "healthy"
}

func (c *SMSClient) Stats() []ProviderStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := make([]ProviderStats, 0, len(c.providers))
	for _, p := range c.providers {
		stats = append(stats, p.Stats())
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Score > stats[j].Score })
	return stats
}

func (c *SMSClient) Close() error {
	close(c.stopCh)
	c.wg.Wait()
	logger.Info("sms client closed")
	return nil
}
