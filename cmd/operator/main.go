package main

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DeliveryStatus is the SMS operator's verdict for one message.
type DeliveryStatus string

const (
	StatusDelivered DeliveryStatus = "DELIVERED"
	StatusFailed    DeliveryStatus = "FAILED"
	StatusPending   DeliveryStatus = "PENDING"
)

type SendSMSRequest struct {
	MessageID   string `json:"message_id" binding:"required"`
	PhoneNumber string `json:"phone_number" binding:"required"`
	Content     string `json:"content" binding:"required"`
}

type SendSMSResponse struct {
	MessageID   string         `json:"message_id"`
	Status      DeliveryStatus `json:"status"`
	DeliveredAt *time.Time     `json:"delivered_at,omitempty"`
	ErrorCode   string         `json:"error_code,omitempty"`
	ErrorMsg    string         `json:"error_message,omitempty"`
	OperatorID  string         `json:"operator_id"`
	ProcessedAt time.Time      `json:"processed_at"`
}

type SendEmailRequest struct {
	MessageID string `json:"message_id" binding:"required"`
	From      string `json:"from"`
	To        string `json:"to" binding:"required"`
	Subject   string `json:"subject"`
	Text      string `json:"text" binding:"required"`
}

type SendEmailResponse struct {
	ID           string `json:"id,omitempty"`
	Status       string `json:"status"`
	ErrorCode    string `json:"error_code,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

type HealthResponse struct {
	Status       string    `json:"status"`
	OperatorID   string    `json:"operator_id"`
	Timestamp    time.Time `json:"timestamp"`
	DeliveryRate float64   `json:"delivery_rate"`
}

// SentResponse lets tests check that no message reached the provider twice.
type SentResponse struct {
	SMS        int      `json:"sms"`
	Email      int      `json:"email"`
	Duplicates []string `json:"duplicates"`
}

// MockOperator simulates an SMS operator and a transactional email API.
// Failures split into hard ones (bad address) and soft ones (transient).
type MockOperator struct {
	mu           sync.Mutex
	deliveryRate float64
	hardRate     float64
	downtimeRate float64
	minDelay     time.Duration
	maxDelay     time.Duration
	apiKey       string
	operatorID   string
	rng          *rand.Rand
	seen         map[string]int
	smsCount     int
	emailCount   int
}

func NewMockOperator(deliveryRate, hardRate, downtimeRate float64, minDelay, maxDelay time.Duration, apiKey string) *MockOperator {
	return &MockOperator{
		deliveryRate: deliveryRate,
		hardRate:     hardRate,
		downtimeRate: downtimeRate,
		minDelay:     minDelay,
		maxDelay:     maxDelay,
		apiKey:       apiKey,
		operatorID:   "MOCK_OPERATOR_" + uuid.New().String()[:8],
		rng:          rand.New(rand.NewSource(time.Now().UnixNano())),
		seen:         make(map[string]int),
	}
}

type outcome int

const (
	outcomeDelivered outcome = iota
	outcomeSoftFailure
	outcomeHardFailure
)

func (m *MockOperator) roll(channel, messageID string) (outcome, time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.seen[channel+":"+messageID]++
	if channel == "sms" {
		m.smsCount++
	} else {
		m.emailCount++
	}

	delay := m.minDelay
	if delta := m.maxDelay - m.minDelay; delta > 0 {
		delay += time.Duration(m.rng.Int63n(int64(delta)))
	}

	if m.rng.Float64() < m.deliveryRate {
		return outcomeDelivered, delay
	}
	if m.rng.Float64() < m.hardRate {
		return outcomeHardFailure, delay
	}
	return outcomeSoftFailure, delay
}

func (m *MockOperator) pick(codes []string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return codes[m.rng.Intn(len(codes))]
}

func (m *MockOperator) down() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.downtimeRate > 0 && m.rng.Float64() < m.downtimeRate
}

func (m *MockOperator) sent() SentResponse {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := SentResponse{SMS: m.smsCount, Email: m.emailCount, Duplicates: []string{}}
	for id, n := range m.seen {
		if n > 1 {
			out.Duplicates = append(out.Duplicates, id)
		}
	}
	return out
}

var (
	smsHardCodes   = []string{"INVALID_NUMBER", "BLOCKED"}
	smsSoftCodes   = []string{"NETWORK_ERROR", "TIMEOUT", "OPERATOR_REJECTED"}
	emailHardCodes = []string{"HARD_BOUNCE", "UNSUBSCRIBED"}
)

var errorMessages = map[string]string{
	"INVALID_NUMBER":    "The phone number is invalid or not in service",
	"BLOCKED":           "The recipient has blocked messages",
	"NETWORK_ERROR":     "Network connectivity issue with operator",
	"TIMEOUT":           "Delivery timed out",
	"OPERATOR_REJECTED": "Operator rejected the message",
	"HARD_BOUNCE":       "Mailbox does not exist",
	"UNSUBSCRIBED":      "Recipient unsubscribed from this sender",
}

type Handler struct {
	operator *MockOperator
}

func NewHandler(operator *MockOperator) *Handler {
	return &Handler{operator: operator}
}

func (h *Handler) SendSMS(c *gin.Context) {
	var req SendSMSRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": err.Error()})
		return
	}

	result, delay := h.operator.roll("sms", req.MessageID)
	time.Sleep(delay)

	resp := SendSMSResponse{
		MessageID:   req.MessageID,
		OperatorID:  h.operator.operatorID,
		ProcessedAt: time.Now().UTC(),
	}
	switch result {
	case outcomeDelivered:
		now := time.Now().UTC()
		resp.Status = StatusDelivered
		resp.DeliveredAt = &now
	case outcomeHardFailure:
		resp.Status = StatusFailed
		resp.ErrorCode = h.operator.pick(smsHardCodes)
	default:
		resp.Status = StatusFailed
		resp.ErrorCode = h.operator.pick(smsSoftCodes)
	}
	resp.ErrorMsg = errorMessages[resp.ErrorCode]

	log.Info().
		Str("message_id", req.MessageID).
		Str("phone", req.PhoneNumber).
		Str("status", string(resp.Status)).
		Str("error_code", resp.ErrorCode).
		Dur("delay", delay).
		Msg("SMS processed")

	status := http.StatusOK
	if resp.Status == StatusFailed {
		status = http.StatusAccepted
	}
	c.JSON(status, resp)
}

func (h *Handler) SendEmail(c *gin.Context) {
	if key := h.operator.apiKey; key != "" && c.GetHeader("Authorization") != "Bearer "+key {
		c.JSON(http.StatusUnauthorized, SendEmailResponse{Status: "rejected", ErrorCode: "UNAUTHORIZED"})
		return
	}

	var req SendEmailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": err.Error()})
		return
	}

	result, delay := h.operator.roll("email", req.MessageID)
	time.Sleep(delay)

	logEvent := log.Info().
		Str("message_id", req.MessageID).
		Str("to", req.To).
		Dur("delay", delay)

	switch result {
	case outcomeDelivered:
		logEvent.Msg("Email accepted")
		c.JSON(http.StatusAccepted, SendEmailResponse{ID: uuid.NewString(), Status: "queued"})
	case outcomeHardFailure:
		code := h.operator.pick(emailHardCodes)
		logEvent.Str("error_code", code).Msg("Email bounced")
		c.JSON(http.StatusUnprocessableEntity, SendEmailResponse{Status: "rejected", ErrorCode: code, ErrorMessage: errorMessages[code]})
	default:
		logEvent.Msg("Email temporarily failed")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "mail relay unavailable"})
	}
}

func (h *Handler) HealthCheck(c *gin.Context) {
	if h.operator.down() {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unavailable",
			"error":  "Operator temporarily unavailable",
		})
		return
	}

	h.operator.mu.Lock()
	rate := h.operator.deliveryRate
	h.operator.mu.Unlock()
	c.JSON(http.StatusOK, HealthResponse{
		Status:       "healthy",
		OperatorID:   h.operator.operatorID,
		Timestamp:    time.Now().UTC(),
		DeliveryRate: rate,
	})
}

func (h *Handler) Sent(c *gin.Context) {
	c.JSON(http.StatusOK, h.operator.sent())
}

// UpdateConfig changes failure rates at runtime.
func (h *Handler) UpdateConfig(c *gin.Context) {
	var config struct {
		DeliveryRate *float64 `json:"delivery_rate"`
		HardRate     *float64 `json:"hard_rate"`
		DowntimeRate *float64 `json:"downtime_rate"`
	}
	if err := c.ShouldBindJSON(&config); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": err.Error()})
		return
	}

	h.operator.mu.Lock()
	set := func(dst *float64, v *float64, name string) {
		if v != nil && *v >= 0 && *v <= 1.0 {
			*dst = *v
			log.Info().Float64(name, *v).Msg("Updated operator config")
		}
	}
	set(&h.operator.deliveryRate, config.DeliveryRate, "delivery_rate")
	set(&h.operator.hardRate, config.HardRate, "hard_rate")
	set(&h.operator.downtimeRate, config.DowntimeRate, "downtime_rate")
	resp := gin.H{
		"delivery_rate": h.operator.deliveryRate,
		"hard_rate":     h.operator.hardRate,
		"downtime_rate": h.operator.downtimeRate,
	}
	h.operator.mu.Unlock()

	c.JSON(http.StatusOK, resp)
}

func SetupRouter(handler *Handler) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Msg("Request processed")
	})

	v1 := router.Group("/api/v1")
	{
		v1.POST("/sms/send", handler.SendSMS)
		v1.POST("/email/send", handler.SendEmail)
		v1.GET("/sent", handler.Sent)
		v1.PUT("/config", handler.UpdateConfig)
	}
	router.GET("/health", handler.HealthCheck)

	return router
}

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	if strings.EqualFold(getEnv("LOG_LEVEL", "info"), "debug") {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
	gin.SetMode(gin.ReleaseMode)

	port := getEnv("PORT", "8081")
	operator := NewMockOperator(
		getEnvFloat("DELIVERY_RATE", 1),
		getEnvFloat("HARD_FAILURE_RATE", 0.3),
		getEnvFloat("DOWNTIME_RATE", 0),
		getEnvDuration("MIN_DELAY", 50*time.Millisecond),
		getEnvDuration("MAX_DELAY", 500*time.Millisecond),
		getEnv("API_KEY", ""),
	)

	log.Info().
		Str("port", port).
		Float64("delivery_rate", operator.deliveryRate).
		Float64("hard_rate", operator.hardRate).
		Dur("min_delay", operator.minDelay).
		Dur("max_delay", operator.maxDelay).
		Msg("Starting mock delivery provider")

	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      SetupRouter(NewHandler(operator)),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("Server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		var f float64
		if _, err := fmt.Sscanf(value, "%f", &f); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
