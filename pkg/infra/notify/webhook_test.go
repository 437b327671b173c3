package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jpayne/fleetwatch/pkg/alerting"
)

func sampleNotification() alerting.Notification {
	return alerting.Notification{
		RuleKey:   "cpu_usage|85",
		Metric:    "cpu_usage",
		Operator:  alerting.OperatorGreaterThan,
		Threshold: 85,
		Value:     92.5,
		Severity:  alerting.SeverityHigh,
		FiredAt:   time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
}

func TestWebhookNotifier_Send(t *testing.T) {
	var received webhookPayload
	var contentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		contentType = r.Header.Get("Content-Type")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(5 * time.Second)
	require.NoError(t, n.Send(context.Background(), srv.URL, sampleNotification()))

	assert.Equal(t, "application/json", contentType)
	assert.Equal(t, "cpu_usage|85", received.RuleKey)
	assert.Equal(t, 92.5, received.Value)
	assert.Contains(t, received.Message, "ALERT")
}

func TestWebhookNotifier_Non2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(5 * time.Second)
	err := n.Send(context.Background(), srv.URL, sampleNotification())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestWebhookNotifier_UnreachableEndpoint(t *testing.T) {
	n := NewWebhookNotifier(100 * time.Millisecond)
	err := n.Send(context.Background(), "http://127.0.0.1:1/hook", sampleNotification())
	assert.Error(t, err)
}

func TestWebhookNotifier_ContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(time.Second)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	n := NewWebhookNotifier(5 * time.Second)
	assert.Error(t, n.Send(ctx, srv.URL, sampleNotification()))
}

func TestLogNotifier_Send(t *testing.T) {
	n := NewLogNotifier()
	assert.NoError(t, n.Send(context.Background(), "ops@example.com", sampleNotification()))
}
