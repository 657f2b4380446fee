package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(deliveryRate, hardRate float64, apiKey string) (*gin.Engine, *MockOperator) {
	gin.SetMode(gin.TestMode)
	op := NewMockOperator(deliveryRate, hardRate, 0, 0, 0, apiKey)
	return SetupRouter(NewHandler(op)), op
}

func post(t *testing.T, r *gin.Engine, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestSendSMS(t *testing.T) {
	t.Run("delivered", func(t *testing.T) {
		r, _ := newTestRouter(1, 0, "")
		w := post(t, r, "/api/v1/sms/send", SendSMSRequest{MessageID: "1", PhoneNumber: "+15550001", Content: "hi"}, nil)

		assert.Equal(t, http.StatusOK, w.Code)
		var resp SendSMSResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, StatusDelivered, resp.Status)
		assert.NotNil(t, resp.DeliveredAt)
	})

	t.Run("hard failure", func(t *testing.T) {
		r, _ := newTestRouter(0, 1, "")
		w := post(t, r, "/api/v1/sms/send", SendSMSRequest{MessageID: "2", PhoneNumber: "+15550002", Content: "hi"}, nil)

		assert.Equal(t, http.StatusAccepted, w.Code)
		var resp SendSMSResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, StatusFailed, resp.Status)
		assert.Contains(t, smsHardCodes, resp.ErrorCode)
	})

	t.Run("missing fields", func(t *testing.T) {
		r, _ := newTestRouter(1, 0, "")
		w := post(t, r, "/api/v1/sms/send", map[string]string{"message_id": "3"}, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestSendEmail(t *testing.T) {
	t.Run("requires api key", func(t *testing.T) {
		r, _ := newTestRouter(1, 0, "secret")
		w := post(t, r, "/api/v1/email/send", SendEmailRequest{MessageID: "1", To: "a@b.test", Text: "hi"}, nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("accepted", func(t *testing.T) {
		r, _ := newTestRouter(1, 0, "secret")
		w := post(t, r, "/api/v1/email/send", SendEmailRequest{MessageID: "1", To: "a@b.test", Text: "hi"},
			map[string]string{"Authorization": "Bearer secret"})

		assert.Equal(t, http.StatusAccepted, w.Code)
		var resp SendEmailResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "queued", resp.Status)
		assert.NotEmpty(t, resp.ID)
	})

	t.Run("bounced", func(t *testing.T) {
		r, _ := newTestRouter(0, 1, "")
		w := post(t, r, "/api/v1/email/send", SendEmailRequest{MessageID: "1", To: "a@b.test", Text: "hi"}, nil)

		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
		var resp SendEmailResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Contains(t, emailHardCodes, resp.ErrorCode)
	})

	t.Run("soft failure", func(t *testing.T) {
		r, _ := newTestRouter(0, 0, "")
		w := post(t, r, "/api/v1/email/send", SendEmailRequest{MessageID: "1", To: "a@b.test", Text: "hi"}, nil)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})
}

func TestSentTracksDuplicates(t *testing.T) {
	r, _ := newTestRouter(1, 0, "")
	post(t, r, "/api/v1/sms/send", SendSMSRequest{MessageID: "7", PhoneNumber: "+15550007", Content: "hi"}, nil)
	post(t, r, "/api/v1/sms/send", SendSMSRequest{MessageID: "7", PhoneNumber: "+15550007", Content: "hi"}, nil)
	post(t, r, "/api/v1/email/send", SendEmailRequest{MessageID: "8", To: "a@b.test", Text: "hi"}, nil)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/sent", nil))

	var resp SentResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.SMS)
	assert.Equal(t, 1, resp.Email)
	assert.Equal(t, []string{"sms:7"}, resp.Duplicates)
}

func TestHealthCheck(t *testing.T) {
	r, _ := newTestRouter(1, 0, "")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	var resp HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
}
