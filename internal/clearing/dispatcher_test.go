package clearing

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kranthikarthan/PE-sub004/internal/auth"
	"github.com/kranthikarthan/PE-sub004/internal/core"
	"github.com/kranthikarthan/PE-sub004/internal/iso20022"
	"github.com/kranthikarthan/PE-sub004/internal/policy"
	"github.com/kranthikarthan/PE-sub004/internal/resilience"
)

func clearingPolicy(service string) resilience.Policy {
	return resilience.Policy{
		Service: service,
		CircuitBreaker: resilience.CircuitBreakerSettings{
			WindowSize: 10, MinimumCalls: 8,
			FailureRateThreshold: 0.5, SlowRateThreshold: 1.0,
			SlowCallDuration: 5 * time.Second, WaitDuration: time.Second, PermittedProbes: 2,
		},
		Retry:       resilience.RetrySettings{MaxAttempts: 2, Wait: time.Millisecond, MaxWait: 5 * time.Millisecond, Multiplier: 2},
		Bulkhead:    resilience.BulkheadSettings{MaxConcurrent: 4, MaxWait: 100 * time.Millisecond},
		TimeLimiter: resilience.TimeLimiterSettings{Timeout: 2 * time.Second},
		RateLimiter: resilience.RateLimiterSettings{RPS: 1000, Burst: 1000},
	}
}

func newTestDispatcher(t *testing.T, schemes ...Scheme) *Dispatcher {
	t.Helper()
	registry := resilience.NewRegistry(func(service, tenantID string) resilience.Policy {
		return clearingPolicy(service)
	})
	return NewDispatcher(NewDirectory(schemes...), registry, auth.NewBuilder())
}

func mappedPacs008() core.Message {
	m := core.Message{
		"GrpHdr": map[string]interface{}{"MsgId": "REQ-1", "NbOfTxs": "1"},
		"CdtTrfTxInf": map[string]interface{}{
			"IntrBkSttlmAmt": map[string]interface{}{"Ccy": "EUR", "value": 10.0},
		},
	}
	m.Metadata()["sourceKind"] = "pain.001"
	return m
}

func dispatchRequest() Request {
	return Request{
		Coordinate: core.PolicyCoordinate{
			TenantID:       "T1",
			PaymentType:    "SEPA_CT",
			ClearingSystem: "TARGET2",
			Direction:      core.DirectionRequest,
		},
		Kind:          iso20022.PACS008,
		Message:       mappedPacs008(),
		Auth:          &policy.AuthConfig{Method: policy.AuthAPIKey, Key: "ck-1", HeaderName: "X-Scheme-Key"},
		CorrelationID: "corr-1",
	}
}

func TestDispatchJSONRoundTrip(t *testing.T) {
	var gotCT, gotCorr, gotKey, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotCT = r.Header.Get("Content-Type")
		gotCorr = r.Header.Get("X-Correlation-ID")
		gotKey = r.Header.Get("X-Scheme-Key")
		raw, _ := io.ReadAll(r.Body)
		gotBody = string(raw)
		fmt.Fprint(w, `{"status":"ACCEPTED","responseCode":"ACSP","responseMessage":"settled","payload":{"GrpHdr":{"MsgId":"ACK-1"}},"processingTimeMs":12,"timestamp":"2026-01-15T10:00:01Z"}`)
	}))
	defer srv.Close()

	d := newTestDispatcher(t, Scheme{Name: "TARGET2", Endpoint: srv.URL, Format: FormatJSON})

	ack, err := d.Dispatch(context.Background(), dispatchRequest())
	require.NoError(t, err)

	assert.True(t, ack.Accepted())
	assert.False(t, ack.Synthetic)
	assert.Equal(t, "ACSP", ack.ResponseCode)
	assert.Equal(t, "settled", ack.ResponseMessage)
	assert.Equal(t, "ACK-1", ack.Payload.GetString("GrpHdr.MsgId"))
	assert.Equal(t, int64(12), ack.ProcessingTimeMs)

	assert.Equal(t, "application/json", gotCT)
	assert.Equal(t, "corr-1", gotCorr)
	assert.Equal(t, "ck-1", gotKey)
	assert.Contains(t, gotBody, `"REQ-1"`)
	assert.NotContains(t, gotBody, core.MetadataKey, "wire body carries no pipeline metadata")
}

func TestDispatchXMLBody(t *testing.T) {
	var gotCT, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotCT = r.Header.Get("Content-Type")
		raw, _ := io.ReadAll(r.Body)
		gotBody = string(raw)
		fmt.Fprint(w, `{"status":"ACCEPTED"}`)
	}))
	defer srv.Close()

	d := newTestDispatcher(t, Scheme{Name: "TARGET2", Endpoint: srv.URL, Format: FormatXML})

	ack, err := d.Dispatch(context.Background(), dispatchRequest())
	require.NoError(t, err)
	assert.True(t, ack.Accepted())

	assert.Equal(t, "application/xml", gotCT)
	assert.Contains(t, gotBody, iso20022.PACS008.Namespace())
	assert.Contains(t, gotBody, `<MsgId>REQ-1</MsgId>`)
	assert.Contains(t, gotBody, `Ccy="EUR"`)
	assert.NotContains(t, gotBody, core.MetadataKey)
}

func TestDispatchRetriesTransient(t *testing.T) {
	var hits int32
	var attempts []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts = append(attempts, r.Header.Get("X-Attempt"))
		if atomic.AddInt32(&hits, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, `{"status":"ACCEPTED"}`)
	}))
	defer srv.Close()

	d := newTestDispatcher(t, Scheme{Name: "TARGET2", Endpoint: srv.URL})

	ack, err := d.Dispatch(context.Background(), dispatchRequest())
	require.NoError(t, err)
	assert.True(t, ack.Accepted())
	assert.False(t, ack.Synthetic)
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
	assert.Equal(t, []string{"1", "2"}, attempts, "each wire call carries its attempt number")
}

func TestDispatchFallsBackAfterGivingUp(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	d := newTestDispatcher(t, Scheme{Name: "TARGET2", Endpoint: srv.URL})

	ack, err := d.Dispatch(context.Background(), dispatchRequest())
	require.NoError(t, err, "exhausted retries degrade to a synthetic rejection")

	assert.True(t, ack.Synthetic)
	assert.Equal(t, "ERROR", ack.Status)
	assert.False(t, ack.Accepted())
	assert.Equal(t, string(core.KindDispatchTransient), ack.ResponseCode)
	assert.NotEmpty(t, ack.ResponseMessage)
	assert.False(t, ack.Timestamp.IsZero())
}

func TestDispatchPermanentFailureSkipsRetry(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	d := newTestDispatcher(t, Scheme{Name: "TARGET2", Endpoint: srv.URL})

	ack, err := d.Dispatch(context.Background(), dispatchRequest())
	require.NoError(t, err)
	assert.True(t, ack.Synthetic)
	assert.Equal(t, string(core.KindDispatchPermanent), ack.ResponseCode)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits), "4xx is not retried")
}

func TestDispatchUnknownScheme(t *testing.T) {
	d := newTestDispatcher(t)

	req := dispatchRequest()
	req.Coordinate.ClearingSystem = "NOWHERE"
	ack, err := d.Dispatch(context.Background(), req)
	require.Error(t, err)
	assert.Nil(t, ack)
	assert.Equal(t, core.KindConfigurationMissing, core.KindOf(err))
}

func TestDispatchRejectsEnvelopeWithoutStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"foo":1}`)
	}))
	defer srv.Close()

	d := newTestDispatcher(t, Scheme{Name: "TARGET2", Endpoint: srv.URL})

	ack, err := d.Dispatch(context.Background(), dispatchRequest())
	require.NoError(t, err)
	assert.True(t, ack.Synthetic)
	assert.Equal(t, string(core.KindDispatchPermanent), ack.ResponseCode)
}

func TestDispatchCancelledSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"ACCEPTED"}`)
	}))
	defer srv.Close()

	d := newTestDispatcher(t, Scheme{Name: "TARGET2", Endpoint: srv.URL})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ack, err := d.Dispatch(ctx, dispatchRequest())
	require.Error(t, err)
	assert.Nil(t, ack)
	assert.Equal(t, core.KindCancelled, core.KindOf(err))
}

func TestDispatchFillsTimingWhenOmitted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"ACCEPTED"}`)
	}))
	defer srv.Close()

	d := newTestDispatcher(t, Scheme{Name: "TARGET2", Endpoint: srv.URL})

	ack, err := d.Dispatch(context.Background(), dispatchRequest())
	require.NoError(t, err)
	assert.False(t, ack.Timestamp.IsZero())
	assert.GreaterOrEqual(t, ack.ProcessingTimeMs, int64(0))
}

func TestAckAccepted(t *testing.T) {
	for _, status := range []string{"SUCCESS", "ACCEPTED", "ACSP", "ACCC", "ACTC", "PENDING"} {
		assert.True(t, Ack{Status: status}.Accepted(), status)
	}
	for _, status := range []string{"REJECTED", "RJCT", "ERROR", ""} {
		assert.False(t, Ack{Status: status}.Accepted(), status)
	}
}

func TestDirectoryLookup(t *testing.T) {
	d := NewDirectory(Scheme{Name: "Target2", Endpoint: "https://t2.example.com"})

	s, ok := d.Scheme("TARGET2")
	require.True(t, ok, "lookup is case-insensitive")
	assert.Equal(t, FormatJSON, s.Format, "format defaults to JSON")

	_, ok = d.Scheme("SEPA-INST")
	assert.False(t, ok)

	d.Register(Scheme{Name: "SEPA-INST", Endpoint: "https://inst.example.com", Format: FormatXML})
	s, ok = d.Scheme("sepa-inst")
	require.True(t, ok)
	assert.Equal(t, FormatXML, s.Format)
	assert.Len(t, d.Names(), 2)
}

func TestHealthProbe(t *testing.T) {
	var status int32 = http.StatusOK
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(int(atomic.LoadInt32(&status)))
	}))
	defer srv.Close()

	d := newTestDispatcher(t, Scheme{Name: "TARGET2", Endpoint: srv.URL})

	probe := d.HealthProbe("TARGET2")
	assert.NoError(t, probe(context.Background()))

	atomic.StoreInt32(&status, http.StatusServiceUnavailable)
	assert.Error(t, probe(context.Background()))

	assert.Error(t, d.HealthProbe("NOWHERE")(context.Background()))
}

func TestEncodeBodyFormats(t *testing.T) {
	msg := mappedPacs008()

	raw, ct, err := encodeBody(FormatJSON, iso20022.PACS008, msg)
	require.NoError(t, err)
	assert.Equal(t, "application/json", ct)
	var tree map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &tree))
	_, hasMeta := tree[core.MetadataKey]
	assert.False(t, hasMeta)

	raw, ct, err = encodeBody(FormatXML, iso20022.PACS008, msg)
	require.NoError(t, err)
	assert.Equal(t, "application/xml", ct)
	assert.True(t, strings.HasPrefix(string(raw), "<?xml"))
}
