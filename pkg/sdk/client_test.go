package sdk

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmitPaymentDecodesOutcome(t *testing.T) {
	var gotAuth, gotPath string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path

		var req PaymentRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "RTP", req.PaymentType)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(Outcome{
			CorrelationID: "corr-1",
			State:         StateEmitted,
			Status:        "ACSC",
			ClientAck:     Message{"ackKind": "pacs.002"},
		})
	}))
	defer ts.Close()

	client := NewClient(Config{BaseURL: ts.URL, APIKey: "pe_tenant-1.secret"})
	outcome, err := client.SubmitPayment(context.Background(), PaymentRequest{
		PaymentType:  "RTP",
		ResponseMode: ModeSync,
		Message:      Message{"grpHdr": Message{"msgId": "M1"}},
	})
	require.NoError(t, err)

	assert.Equal(t, "Bearer pe_tenant-1.secret", gotAuth)
	assert.Equal(t, "/api/v1/payments", gotPath)
	assert.Equal(t, StateEmitted, outcome.State)
	assert.True(t, outcome.State.Terminal())
	assert.Equal(t, "corr-1", outcome.CorrelationID)
}

func TestSubmitPaymentRejectionFiresCallback(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(w).Encode(Outcome{
			CorrelationID: "corr-2",
			State:         StateFlowRejected,
			Status:        "RJCT",
			Reason:        "FRAD",
		})
	}))
	defer ts.Close()

	var rejected *Outcome
	client := NewClient(Config{
		BaseURL:    ts.URL,
		APIKey:     "pe_tenant-1.secret",
		OnRejected: func(o *Outcome) { rejected = o },
	})
	outcome, err := client.SubmitPayment(context.Background(), PaymentRequest{Message: Message{}})
	require.NoError(t, err)

	assert.Equal(t, StateFlowRejected, outcome.State)
	require.NotNil(t, rejected)
	assert.Equal(t, "corr-2", rejected.CorrelationID)
}

func TestSubmitPaymentSurfacesAPIError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]string{"error": "invalid API key"})
	}))
	defer ts.Close()

	client := NewClient(Config{BaseURL: ts.URL, APIKey: "pe_bogus.nope"})
	_, err := client.SubmitPayment(context.Background(), PaymentRequest{Message: Message{}})
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Contains(t, apiErr.Message, "invalid API key")
}

func TestFlowNotFound(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"error": "unknown correlation id"})
	}))
	defer ts.Close()

	client := NewClient(Config{BaseURL: ts.URL, APIKey: "pe_tenant-1.secret"})
	_, err := client.Flow(context.Background(), "corr-missing")
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.True(t, apiErr.NotFound())
}

func TestWaitForFlowPollsUntilTerminal(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch calls.Add(1) {
		case 1:
			// The flow has not recorded its first transition yet.
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(map[string]string{"error": "unknown correlation id"})
		case 2:
			json.NewEncoder(w).Encode(FlowStatus{CorrelationID: "corr-3", State: StateDispatched})
		default:
			json.NewEncoder(w).Encode(FlowStatus{
				CorrelationID: "corr-3",
				State:         StateEmitted,
				Status:        "ACSC",
				Terminal:      true,
			})
		}
	}))
	defer ts.Close()

	client := NewClient(Config{BaseURL: ts.URL, APIKey: "pe_tenant-1.secret"})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	status, err := client.WaitForFlow(ctx, "corr-3", 5*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, StateEmitted, status.State)
	assert.GreaterOrEqual(t, calls.Load(), int32(3))
}

func TestWaitForFlowHonorsContext(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(FlowStatus{CorrelationID: "corr-4", State: StateMapped})
	}))
	defer ts.Close()

	client := NewClient(Config{BaseURL: ts.URL, APIKey: "pe_tenant-1.secret"})
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := client.WaitForFlow(ctx, "corr-4", 5*time.Millisecond)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDeliveryHistoryBuildsQuery(t *testing.T) {
	var gotQuery string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		json.NewEncoder(w).Encode([]Delivery{{DeliveryID: "d-1", State: DeliveryDelivered}})
	}))
	defer ts.Close()

	client := NewClient(Config{BaseURL: ts.URL, APIKey: "pe_tenant-1.secret"})
	deliveries, err := client.DeliveryHistory(context.Background(), "pacs.002", 10)
	require.NoError(t, err)

	assert.Contains(t, gotQuery, "messageType=pacs.002")
	assert.Contains(t, gotQuery, "limit=10")
	require.Len(t, deliveries, 1)
	assert.Equal(t, DeliveryDelivered, deliveries[0].State)
}

func TestTransitionsUnwrapsEnvelope(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/flows/corr-5/transitions", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"correlationId": "corr-5",
			"entries": []TrailEntry{
				{EntryID: "e-1", Kind: "TRANSITION", Stage: "INGRESS"},
				{EntryID: "e-2", Kind: "TRANSITION", Stage: "EMITTED"},
			},
		})
	}))
	defer ts.Close()

	client := NewClient(Config{BaseURL: ts.URL, APIKey: "pe_tenant-1.secret"})
	entries, err := client.Transitions(context.Background(), "corr-5")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "INGRESS", entries[0].Stage)
}

func TestInvalidateCacheSendsTenantScope(t *testing.T) {
	var gotBody map[string]string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		json.NewEncoder(w).Encode(map[string]string{"invalidated": "tenant"})
	}))
	defer ts.Close()

	client := NewClient(Config{BaseURL: ts.URL, APIKey: "pe_tenant-1.secret"})
	require.NoError(t, client.InvalidateCache(context.Background()))
	assert.Equal(t, "tenant", gotBody["scope"])
}
