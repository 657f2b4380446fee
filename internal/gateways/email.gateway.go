package gateway

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/nimasrn/outreach-engine/internal/model"
	"github.com/nimasrn/outreach-engine/pkg/logger"
)

type EmailConfig struct {
	URL     string
	APIKey  string
	Sender  string
	Timeout time.Duration
}

type emailRequest struct {
	MessageID string `json:"message_id"`
	From      string `json:"from"`
	To        string `json:"to"`
	Subject   string `json:"subject"`
	Text      string `json:"text"`
}

type emailResponse struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	ErrorCode    string `json:"error_code,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// EmailClient posts messages to a transactional email HTTP API. Retries are
// disabled; a failed call leaves the message failed.
type EmailClient struct {
	http   *resty.Client
	sender string
}

func NewEmailClient(cfg EmailConfig) *EmailClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client := resty.New().
		SetBaseURL(cfg.URL).
		SetTimeout(timeout).
		SetRetryCount(0).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetAuthToken(cfg.APIKey)

	return &EmailClient{
		http:   client,
		sender: cfg.Sender,
	}
}

func (c *EmailClient) Send(ctx context.Context, msg *model.Message) (*Receipt, error) {
	if msg.Address == "" {
		return nil, ErrMissingAddress
	}

	var out emailResponse
	started := time.Now()
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(emailRequest{
			MessageID: strconv.FormatInt(msg.ID, 10),
			From:      c.sender,
			To:        msg.Address,
			Subject:   msg.Subject,
			Text:      msg.Content,
		}).
		SetResult(&out).
		SetError(&out).
		Post("/api/v1/email/send")
	if err != nil {
		return nil, fmt.Errorf("email request failed: %w", err)
	}

	logger.Debug("email api request completed", "message_id", msg.ID, "status", resp.StatusCode(), "duration", time.Since(started))

	switch {
	case resp.StatusCode() == http.StatusOK || resp.StatusCode() == http.StatusAccepted:
		if out.Status == "rejected" {
			return nil, &ProviderError{Provider: "email", Code: out.ErrorCode, Message: out.ErrorMessage}
		}
		return &Receipt{
			ProviderMessageID: out.ID,
			Provider:          "email",
			At:                time.Now().UTC(),
		}, nil
	case resp.StatusCode() >= 400 && resp.StatusCode() < 500 && out.ErrorCode != "":
		return nil, &ProviderError{Provider: "email", Code: out.ErrorCode, Message: out.ErrorMessage}
	}
	return nil, fmt.Errorf("unexpected status code: %d, body: %s", resp.StatusCode(), resp.String())
}
