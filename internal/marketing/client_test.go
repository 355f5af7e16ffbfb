package marketing_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/payrelay/internal/marketing"
	"github.com/noah-isme/payrelay/internal/resilience"
)

func TestTrackEvent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/lists/clientes%20mx/subscribers", r.URL.EscapedPath())
		require.Equal(t, "k-1", r.Header.Get("X-API-Key"))
		var sub marketing.Subscriber
		require.NoError(t, json.NewDecoder(r.Body).Decode(&sub))
		require.Equal(t, "ana@example.com", sub.Email)
		require.Equal(t, "payment.succeeded", sub.Event)
		require.ElementsMatch(t, []string{"payment-succeeded", "plan-basico"}, sub.Tags)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c := &marketing.Client{
		BaseURL: srv.URL,
		APIKey:  "k-1",
		ListID:  "clientes mx",
		HTTP:    resilience.HTTPClient{Client: srv.Client(), Target: "marketing", MaxAttempts: 1},
	}
	err := c.TrackEvent(context.Background(), marketing.Subscriber{
		Email: "ANA@example.com",
		Event: "payment.succeeded",
		Tags:  []string{"payment-succeeded", "plan-basico"},
	})
	require.NoError(t, err)
}

func TestTrackEventRetriesThenFails(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := &marketing.Client{
		BaseURL: srv.URL,
		ListID:  "l1",
		HTTP:    resilience.HTTPClient{Client: srv.Client(), Target: "marketing", MaxAttempts: 2, BaseBackoff: time.Millisecond},
	}
	err := c.TrackEvent(context.Background(), marketing.Subscriber{Email: "a@b.co", Event: "payment.failed"})
	var statusErr *resilience.StatusError
	require.True(t, errors.As(err, &statusErr))
	require.Equal(t, http.StatusBadGateway, statusErr.StatusCode)
	require.Equal(t, 2, calls)
}

func TestTrackEventValidates(t *testing.T) {
	c := &marketing.Client{BaseURL: "http://127.0.0.1:0", ListID: "l1"}
	require.Error(t, c.TrackEvent(context.Background(), marketing.Subscriber{}))
	c.ListID = ""
	require.Error(t, c.TrackEvent(context.Background(), marketing.Subscriber{Email: "a@b.co"}))
}
