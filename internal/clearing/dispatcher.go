package clearing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/kranthikarthan/PE-sub004/internal/auth"
	"github.com/kranthikarthan/PE-sub004/internal/core"
	"github.com/kranthikarthan/PE-sub004/internal/iso20022"
	"github.com/kranthikarthan/PE-sub004/internal/policy"
	"github.com/kranthikarthan/PE-sub004/internal/resilience"
)

// ServiceName keys the resilience executors for clearing-system calls.
const ServiceName = "clearing-system"

// maxAckBytes caps the acknowledgement body; acks carry a full pacs.002
// tree in Payload so the limit is generous.
const maxAckBytes = 4 << 20

// Ack is the clearing-system acknowledgement envelope.
type Ack struct {
	Status           string       `json:"status"`
	ResponseCode     string       `json:"responseCode,omitempty"`
	ResponseMessage  string       `json:"responseMessage,omitempty"`
	Payload          core.Message `json:"payload,omitempty"`
	ProcessingTimeMs int64        `json:"processingTimeMs,omitempty"`
	Timestamp        time.Time    `json:"timestamp,omitempty"`

	// Synthetic marks an ack minted by the fallback instead of the wire.
	Synthetic bool `json:"-"`
}

// Accepted reports whether the clearing system took the message.
func (a Ack) Accepted() bool {
	switch a.Status {
	case "SUCCESS", "ACCEPTED", "ACSP", "ACCC", "ACTC", "PENDING":
		return true
	}
	return false
}

// Schemes is the directory surface the dispatcher reads.
type Schemes interface {
	Scheme(name string) (Scheme, bool)
}

// Request is one outbound clearing call: the mapped message, its wire kind,
// and the auth resolved for the coordinate.
type Request struct {
	Coordinate    core.PolicyCoordinate
	Kind          iso20022.Kind
	Message       core.Message
	Auth          *policy.AuthConfig
	CorrelationID string
}

// Dispatcher owns the HTTP integration with every registered scheme.
type Dispatcher struct {
	schemes  Schemes
	registry *resilience.Registry
	headers  *auth.Builder
	client   *http.Client
	now      func() time.Time
}

func NewDispatcher(schemes Schemes, registry *resilience.Registry, headers *auth.Builder) *Dispatcher {
	d := &Dispatcher{
		schemes:  schemes,
		registry: registry,
		headers:  headers,
		client:   &http.Client{},
		now:      time.Now,
	}
	registry.SetFallback(ServiceName, d.rejectAck)
	return d
}

// WithHTTPClient swaps the transport, chiefly for tests.
func (d *Dispatcher) WithHTTPClient(client *http.Client) *Dispatcher {
	d.client = client
	return d
}

// Dispatch posts the request to the scheme named by the coordinate. The
// resilience chain absorbs transient failure; when it gives up the returned
// Ack is Synthetic with the error kind in ResponseCode. Only cancellation
// of ctx surfaces as an error.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (*Ack, error) {
	scheme, ok := d.schemes.Scheme(req.Coordinate.ClearingSystem)
	if !ok {
		return nil, core.Errorf(core.KindConfigurationMissing, "clearing.dispatch",
			"no scheme registered for clearing system %q", req.Coordinate.ClearingSystem)
	}

	body, contentType, err := encodeBody(scheme.Format, req.Kind, req.Message)
	if err != nil {
		return nil, core.E(core.KindInternal, "clearing.encode", err)
	}

	result, err := d.registry.Execute(ctx, ServiceName, req.Coordinate.TenantID,
		func(ctx context.Context) (interface{}, error) {
			return d.post(ctx, scheme, req, body, contentType)
		})
	if err != nil {
		return nil, err
	}
	return result.(*Ack), nil
}

// rejectAck is the registered fallback: a canonical negative envelope.
func (d *Dispatcher) rejectAck(ctx context.Context, err error) (interface{}, error) {
	return &Ack{
		Status:          "ERROR",
		ResponseCode:    string(core.KindOf(err)),
		ResponseMessage: err.Error(),
		Timestamp:       d.now().UTC(),
		Synthetic:       true,
	}, nil
}

func (d *Dispatcher) post(ctx context.Context, scheme Scheme, req Request, body []byte, contentType string) (*Ack, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, scheme.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, core.E(core.KindDispatchPermanent, "clearing.post", err)
	}
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("X-Attempt", strconv.Itoa(resilience.AttemptFromContext(ctx)))
	if req.CorrelationID != "" {
		httpReq.Header.Set("X-Correlation-ID", req.CorrelationID)
	}
	if err := d.headers.Apply(ctx, httpReq, req.Auth, body); err != nil {
		return nil, err
	}

	started := d.now()
	resp, err := d.client.Do(httpReq)
	if err != nil {
		switch {
		case errors.Is(err, context.Canceled):
			return nil, core.E(core.KindCancelled, "clearing.post", err)
		case errors.Is(err, context.DeadlineExceeded):
			return nil, core.E(core.KindTimedOut, "clearing.post", err)
		}
		return nil, core.E(core.KindDispatchTransient, "clearing.post", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxAckBytes))
	if err != nil {
		return nil, core.E(core.KindDispatchTransient, "clearing.post", err)
	}
	if kind := resilience.ClassifyStatus(resp.StatusCode); kind != "" {
		return nil, core.Errorf(kind, "clearing.post",
			"clearing system %s returned %d", scheme.Name, resp.StatusCode)
	}

	var ack Ack
	if err := json.Unmarshal(raw, &ack); err != nil {
		return nil, core.Errorf(core.KindDispatchPermanent, "clearing.post",
			"undecodable clearing response: %v", err)
	}
	if ack.Status == "" {
		return nil, core.Errorf(core.KindDispatchPermanent, "clearing.post",
			"clearing response missing status")
	}
	if ack.ProcessingTimeMs == 0 {
		ack.ProcessingTimeMs = d.now().Sub(started).Milliseconds()
	}
	if ack.Timestamp.IsZero() {
		ack.Timestamp = d.now().UTC()
	}
	return &ack, nil
}

// HealthProbe returns an active check for one scheme endpoint, for use with
// the resilience health monitor.
func (d *Dispatcher) HealthProbe(schemeName string) resilience.ProbeFunc {
	return func(ctx context.Context) error {
		scheme, ok := d.schemes.Scheme(schemeName)
		if !ok {
			return core.Errorf(core.KindConfigurationMissing, "clearing.probe",
				"no scheme registered for clearing system %q", schemeName)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, scheme.Endpoint, nil)
		if err != nil {
			return err
		}
		resp, err := d.client.Do(req)
		if err != nil {
			return err
		}
		resp.Body.Close()
		if resp.StatusCode >= http.StatusInternalServerError {
			return core.Errorf(core.KindDispatchTransient, "clearing.probe",
				"%s health returned %d", scheme.Name, resp.StatusCode)
		}
		return nil
	}
}

func encodeBody(format Format, kind iso20022.Kind, msg core.Message) ([]byte, string, error) {
	if format == FormatXML {
		raw, err := iso20022.EncodeXML(kind, msg)
		return raw, "application/xml", err
	}
	raw, err := iso20022.EncodeJSON(msg)
	return raw, "application/json", err
}
