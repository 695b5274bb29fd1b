// Package flow drives the request/response state machine that ties policy
// resolution, fraud gating, payload mapping, clearing dispatch and response
// emission together. One goroutine owns one flow from ingress to its
// terminal state; everything the rest of the system learns about a flow
// travels through transition records.
package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kranthikarthan/PE-sub004/internal/clearing"
	"github.com/kranthikarthan/PE-sub004/internal/core"
	"github.com/kranthikarthan/PE-sub004/internal/fraud"
	"github.com/kranthikarthan/PE-sub004/internal/iso20022"
	"github.com/kranthikarthan/PE-sub004/internal/mapping"
	"github.com/kranthikarthan/PE-sub004/internal/policy"
)

// DefaultDeadline bounds a whole flow when no tenant override exists.
const DefaultDeadline = 60 * time.Second

// PolicySource is the configuration surface the orchestrator reads.
type PolicySource interface {
	ResolveAuth(ctx context.Context, coordinate core.PolicyCoordinate) (*policy.AuthConfig, error)
	EffectiveMapping(ctx context.Context, coordinate core.PolicyCoordinate, direction core.Direction) (*mapping.Document, bool, error)
}

// Assessor gates flows on fraud decisions.
type Assessor interface {
	Assess(ctx context.Context, msg core.Message, coordinate core.PolicyCoordinate, source fraud.Source) (*fraud.Assessment, error)
}

// Clearer posts mapped messages to the clearing system.
type Clearer interface {
	Dispatch(ctx context.Context, req clearing.Request) (*clearing.Ack, error)
}

// Flow is the per-ingress state the orchestrator goroutine owns. Nothing
// outside that goroutine touches it; observers read transition records.
type Flow struct {
	CorrelationID string
	MessageID     string
	Coordinate    core.PolicyCoordinate
	IngressKind   iso20022.Kind
	Definition    Definition
	ResponseMode  ResponseMode
	Message       core.Message
	State         State
	StartedAt     time.Time
	Assessment    *fraud.Assessment

	release func()
}

func (f *Flow) done() {
	if f.release != nil {
		f.release()
		f.release = nil
	}
}

// ackKind names the status-report kind for this flow, defaulting to
// pain.002 when the ingress kind was never recognized.
func (f *Flow) ackKind() iso20022.Kind {
	if f.Definition.ClientAck != "" {
		return f.Definition.ClientAck
	}
	return iso20022.PAIN002
}

// Orchestrator owns the flow machine and its collaborators.
type Orchestrator struct {
	definitions map[iso20022.Kind]Definition
	policies    PolicySource
	gate        Assessor
	clearer     Clearer
	guard       Guard
	sequences   mapping.SequenceStore
	recorder    Recorder
	publisher   Publisher
	sink        ResponseSink

	mu    sync.RWMutex
	plans map[string]*mapping.Plan

	deadline        time.Duration
	tenantDeadlines map[string]time.Duration
	now             func() time.Time
	newID           func() string
}

func NewOrchestrator(policies PolicySource, gate Assessor, clearer Clearer, guard Guard, sequences mapping.SequenceStore, recorder Recorder) *Orchestrator {
	return &Orchestrator{
		definitions:     Definitions(),
		policies:        policies,
		gate:            gate,
		clearer:         clearer,
		guard:           guard,
		sequences:       sequences,
		recorder:        recorder,
		plans:           make(map[string]*mapping.Plan),
		deadline:        DefaultDeadline,
		tenantDeadlines: make(map[string]time.Duration),
		now:             time.Now,
		newID:           uuid.NewString,
	}
}

// WithPublisher attaches a live transition observer.
func (o *Orchestrator) WithPublisher(p Publisher) *Orchestrator {
	o.publisher = p
	return o
}

// WithResponseSink attaches the asynchronous acknowledgement consumer.
func (o *Orchestrator) WithResponseSink(s ResponseSink) *Orchestrator {
	o.sink = s
	return o
}

// WithDeadline overrides the default flow deadline.
func (o *Orchestrator) WithDeadline(d time.Duration) *Orchestrator {
	if d > 0 {
		o.deadline = d
	}
	return o
}

// WithTenantDeadlines installs per-tenant flow deadline overrides.
func (o *Orchestrator) WithTenantDeadlines(overrides map[string]time.Duration) *Orchestrator {
	for tenant, d := range overrides {
		if d > 0 {
			o.tenantDeadlines[tenant] = d
		}
	}
	return o
}

// InvalidatePlans drops compiled mapping plans, forcing recompilation from
// the current snapshot's documents.
func (o *Orchestrator) InvalidatePlans() {
	o.mu.Lock()
	o.plans = make(map[string]*mapping.Plan)
	o.mu.Unlock()
}

// Process runs one ingress through the machine. SYNC flows complete before
// returning; ASYNC and WEBHOOK flows return an accepted receipt while the
// flow continues on its own goroutine with its own deadline. Errors are
// returned only for unusable envelopes; every flow-level failure folds into
// the Outcome via the acknowledgement it emitted.
func (o *Orchestrator) Process(ctx context.Context, env Envelope) (*Outcome, error) {
	if env.TenantID == "" {
		return nil, core.Errorf(core.KindValidation, "flow.process", "envelope missing tenantId")
	}
	if len(env.Message) == 0 {
		return nil, core.Errorf(core.KindValidation, "flow.process", "envelope missing message")
	}
	mode := env.ResponseMode
	if mode == "" {
		mode = ModeSync
	}

	f := &Flow{
		CorrelationID: env.CorrelationID,
		ResponseMode:  mode,
		Message:       env.Message,
		StartedAt:     o.now().UTC(),
		Coordinate: core.PolicyCoordinate{
			TenantID:        env.TenantID,
			PaymentType:     env.PaymentType,
			LocalInstrument: env.LocalInstrument,
			ClearingSystem:  env.ClearingSystem,
			Direction:       core.DirectionRequest,
		},
	}
	if f.CorrelationID == "" {
		f.CorrelationID = o.newID()
	}
	ctx = core.ContextWithCorrelation(ctx, f.CorrelationID)
	o.advanceWithStatus(ctx, f, StateIngress, StatusOK, map[string]interface{}{
		"tenantId":     env.TenantID,
		"responseMode": string(mode),
	})

	kind, res := iso20022.ValidateAuto(env.Message)
	def, known := o.definitions[kind]
	if !known {
		return o.fail(ctx, f, core.Errorf(core.KindValidation, "flow.parse",
			"unsupported message kind %q", kind)), nil
	}
	f.IngressKind = kind
	f.Definition = def
	f.MessageID = kind.MessageID(env.Message)
	if !res.Valid {
		return o.fail(ctx, f, core.Errorf(core.KindValidation, "flow.parse",
			"%s", strings.Join(res.Errors, "; "))), nil
	}
	o.advance(ctx, f, StateParsed, map[string]interface{}{
		"kind":      kind.String(),
		"messageId": f.MessageID,
	})

	release, err := o.guard.Acquire(ctx, GuardKey(env.TenantID, f.MessageID))
	if err != nil {
		return o.fail(ctx, f, err), nil
	}
	f.release = release

	if mode == ModeSync {
		return o.run(ctx, f), nil
	}

	// The flow outlives the ingress request: detach from its cancellation
	// but keep its values.
	go o.run(context.WithoutCancel(ctx), f)
	return &Outcome{CorrelationID: f.CorrelationID, State: f.State}, nil
}

// run drives a parsed, guarded flow to a terminal state.
func (o *Orchestrator) run(ctx context.Context, f *Flow) *Outcome {
	ctx, cancel := context.WithTimeout(ctx, o.flowDeadline(f.Coordinate.TenantID))
	defer cancel()
	defer f.done()

	// POLICY_RESOLVED
	authCfg, err := o.policies.ResolveAuth(ctx, f.Coordinate)
	if err != nil {
		return o.fail(ctx, f, err)
	}
	docDirection := core.DirectionRequest
	if !f.Definition.Dispatches() {
		docDirection = core.DirectionResponse
	}
	doc, hasDoc, err := o.policies.EffectiveMapping(ctx, f.Coordinate, docDirection)
	if err != nil {
		return o.fail(ctx, f, err)
	}
	resolvedMeta := map[string]interface{}{"authMethod": string(authCfg.Method)}
	if hasDoc {
		resolvedMeta["mappingDocument"] = doc.Name
	}
	o.advance(ctx, f, StatePolicyResolved, resolvedMeta)

	// FRAUD_CHECKED
	source := fraud.DetermineSource(f.IngressKind.String(), f.Coordinate)
	assessment, err := o.gate.Assess(ctx, f.Message, f.Coordinate, source)
	if err != nil {
		return o.fail(ctx, f, err)
	}
	f.Assessment = assessment
	o.advance(ctx, f, StateFraudChecked, map[string]interface{}{
		"decision":  string(assessment.Decision),
		"riskLevel": string(assessment.RiskLevel),
		"riskScore": assessment.RiskScore,
	})
	switch assessment.Decision {
	case fraud.DecisionReject:
		return o.fail(ctx, f, core.Errorf(core.KindFraudRejected, "flow.fraud", "%s", assessment.Reason))
	case fraud.DecisionManualReview:
		return o.fail(ctx, f, core.Errorf(core.KindFraudReview, "flow.fraud", "%s", assessment.Reason))
	}

	if !f.Definition.Dispatches() {
		return o.completeInternal(ctx, f, doc, hasDoc)
	}

	// MAPPED
	outbound, mapMeta, err := o.transformRequest(ctx, f, doc, hasDoc)
	if err != nil {
		return o.fail(ctx, f, err)
	}
	o.advance(ctx, f, StateMapped, mapMeta)

	// DISPATCHED
	ack, err := o.clearer.Dispatch(ctx, clearing.Request{
		Coordinate:    f.Coordinate,
		Kind:          f.Definition.Request,
		Message:       outbound,
		Auth:          authCfg,
		CorrelationID: f.CorrelationID,
	})
	if err != nil {
		return o.fail(ctx, f, err)
	}
	o.advance(ctx, f, StateDispatched, map[string]interface{}{
		"clearingSystem": f.Coordinate.ClearingSystem,
	})

	if ack.Synthetic {
		// The resilience chain gave up; acknowledge the client negatively.
		clientAck := o.buildStatusAck(f, iso20022.StatusRJCT, iso20022.ReasonNarrative, ack.ResponseMessage)
		o.emit(ctx, f, clientAck)
		o.advanceWithStatus(ctx, f, StateFallbackEmitted, ack.ResponseCode, map[string]interface{}{
			"error":   ack.ResponseMessage,
			"ackKind": f.ackKind().String(),
			"ack":     map[string]interface{}(clientAck),
		})
		return &Outcome{
			CorrelationID: f.CorrelationID,
			State:         f.State,
			Status:        iso20022.StatusRJCT,
			Reason:        iso20022.ReasonNarrative,
			AckKind:       f.ackKind(),
			ClientAck:     clientAck,
			Assessment:    f.Assessment,
			Detail:        ack.ResponseMessage,
		}
	}

	// CLEARING_ACK
	o.advance(ctx, f, StateClearingAck, map[string]interface{}{
		"clearingSystem":   f.Coordinate.ClearingSystem,
		"status":           ack.Status,
		"responseCode":     ack.ResponseCode,
		"processingTimeMs": ack.ProcessingTimeMs,
	})

	// RESPONSE_MAPPED
	clientAck, respMeta, err := o.transformResponse(ctx, f, ack)
	if err != nil {
		return o.fail(ctx, f, err)
	}
	o.advance(ctx, f, StateResponseMapped, respMeta)

	// EMITTED
	st, rsn := ackVerdict(ack)
	o.emit(ctx, f, clientAck)
	o.advance(ctx, f, StateEmitted, map[string]interface{}{
		"ackKind": f.ackKind().String(),
		"ack":     map[string]interface{}(clientAck),
	})
	return &Outcome{
		CorrelationID: f.CorrelationID,
		State:         f.State,
		Status:        st,
		Reason:        rsn,
		AckKind:       f.ackKind(),
		ClientAck:     clientAck,
		Assessment:    f.Assessment,
	}
}

// completeInternal finishes a flow that never leaves the bank: the mapped
// output is itself the client acknowledgement.
func (o *Orchestrator) completeInternal(ctx context.Context, f *Flow, doc *mapping.Document, hasDoc bool) *Outcome {
	clientAck, mapMeta, err := o.transformInternal(ctx, f, doc, hasDoc)
	if err != nil {
		return o.fail(ctx, f, err)
	}
	o.advance(ctx, f, StateMapped, mapMeta)

	o.emit(ctx, f, clientAck)
	o.advance(ctx, f, StateEmitted, map[string]interface{}{
		"ackKind": f.ackKind().String(),
		"ack":     map[string]interface{}(clientAck),
	})
	return &Outcome{
		CorrelationID: f.CorrelationID,
		State:         f.State,
		Status:        iso20022.StatusACSP,
		Reason:        iso20022.ReasonAccepted,
		AckKind:       f.ackKind(),
		ClientAck:     clientAck,
		Assessment:    f.Assessment,
	}
}

// ============================================================================
// Mapping stages
// ============================================================================

// transformRequest produces the outbound clearing message: the effective
// REQUEST-direction document when one exists, the built-in transform
// otherwise.
func (o *Orchestrator) transformRequest(ctx context.Context, f *Flow, doc *mapping.Document, hasDoc bool) (core.Message, map[string]interface{}, error) {
	if hasDoc {
		return o.applyDocument(ctx, f, doc, f.Message)
	}
	if !iso20022.HasTransform(f.IngressKind, f.Definition.Request) {
		return nil, nil, core.Errorf(core.KindConfigurationMissing, "flow.map",
			"no transformation from %s to %s", f.IngressKind, f.Definition.Request)
	}
	out, err := iso20022.Transform(f.IngressKind, f.Definition.Request, f.Message, o.stampContext(f, core.DirectionRequest))
	if err != nil {
		return nil, nil, core.E(core.KindMappingFailed, "flow.map", err)
	}
	return out, map[string]interface{}{"transform": "built-in", "target": f.Definition.Request.String()}, nil
}

// transformResponse turns the clearing acknowledgement into the client ack:
// the RESPONSE-direction document, the built-in transform, or a synthesized
// status report when the scheme answered without a payload.
func (o *Orchestrator) transformResponse(ctx context.Context, f *Flow, ack *clearing.Ack) (core.Message, map[string]interface{}, error) {
	if len(ack.Payload) == 0 {
		st, rsn := ackVerdict(ack)
		out := o.buildStatusAck(f, st, rsn, ack.ResponseMessage)
		return out, map[string]interface{}{"synthesized": true, "target": f.ackKind().String()}, nil
	}

	respDoc, hasRespDoc, err := o.policies.EffectiveMapping(ctx, f.Coordinate, core.DirectionResponse)
	if err != nil {
		return nil, nil, err
	}
	if hasRespDoc {
		return o.applyDocument(ctx, f, respDoc, ack.Payload)
	}
	if iso20022.HasTransform(f.Definition.Response, f.Definition.ClientAck) {
		out, err := iso20022.Transform(f.Definition.Response, f.Definition.ClientAck, ack.Payload, o.stampContext(f, core.DirectionResponse))
		if err != nil {
			return nil, nil, core.E(core.KindMappingFailed, "flow.map", err)
		}
		return out, map[string]interface{}{"transform": "built-in", "target": f.Definition.ClientAck.String()}, nil
	}
	st, rsn := ackVerdict(ack)
	out := o.buildStatusAck(f, st, rsn, ack.ResponseMessage)
	return out, map[string]interface{}{"synthesized": true, "target": f.ackKind().String()}, nil
}

// transformInternal produces the acknowledgement of a flow with no clearing
// leg: document, built-in transform, passthrough for kinds that emit
// themselves, or a generated status report.
func (o *Orchestrator) transformInternal(ctx context.Context, f *Flow, doc *mapping.Document, hasDoc bool) (core.Message, map[string]interface{}, error) {
	switch {
	case hasDoc:
		return o.applyDocument(ctx, f, doc, f.Message)
	case iso20022.HasTransform(f.IngressKind, f.Definition.ClientAck):
		out, err := iso20022.Transform(f.IngressKind, f.Definition.ClientAck, f.Message, o.stampContext(f, core.DirectionResponse))
		if err != nil {
			return nil, nil, core.E(core.KindMappingFailed, "flow.map", err)
		}
		return out, map[string]interface{}{"transform": "built-in", "target": f.Definition.ClientAck.String()}, nil
	case f.Definition.ClientAck == f.IngressKind:
		// Passthrough kinds are re-emitted as received, stamped with the
		// flow's correlation metadata.
		out := f.Message.Clone()
		o.stampFlowMetadata(f, out)
		return out, map[string]interface{}{"transform": "passthrough"}, nil
	default:
		out := o.buildStatusAck(f, iso20022.StatusACSP, iso20022.ReasonAccepted, "")
		return out, map[string]interface{}{"synthesized": true, "target": f.ackKind().String()}, nil
	}
}

// applyDocument compiles (with caching) and applies a mapping document,
// then stamps the flow metadata the document itself does not know.
func (o *Orchestrator) applyDocument(ctx context.Context, f *Flow, doc *mapping.Document, source core.Message) (core.Message, map[string]interface{}, error) {
	plan, err := o.plan(doc)
	if err != nil {
		return nil, nil, err
	}
	out, report, err := plan.Apply(ctx, source, mapping.ApplyContext{
		TenantID:  f.Coordinate.TenantID,
		Now:       o.now(),
		NewUUID:   o.newID,
		Sequences: o.sequences,
	})
	if err != nil {
		return nil, nil, err
	}
	for _, skip := range report.Skipped {
		slog.Warn("Mapping clause skipped",
			"correlationId", f.CorrelationID,
			"document", report.Document,
			"clause", skip.Clause,
			"reason", skip.Reason)
	}
	o.stampFlowMetadata(f, out)
	return out, map[string]interface{}{
		"mappingDocument": doc.Name,
		"clausesApplied":  report.Applied,
		"clausesSkipped":  len(report.Skipped),
	}, nil
}

func (o *Orchestrator) plan(doc *mapping.Document) (*mapping.Plan, error) {
	key := fmt.Sprintf("%s@%d", doc.Name, doc.Version)
	o.mu.RLock()
	p, ok := o.plans[key]
	o.mu.RUnlock()
	if ok {
		return p, nil
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if p, ok := o.plans[key]; ok {
		return p, nil
	}
	p, err := mapping.Compile(doc)
	if err != nil {
		return nil, core.E(core.KindMappingFailed, "flow.map", err)
	}
	o.plans[key] = p
	return p, nil
}

// ============================================================================
// Failure folding
// ============================================================================

// verdict is the terminal decision derived from an error kind.
type verdict struct {
	state  State
	status iso20022.Status
	reason iso20022.Reason
}

func classify(kind core.ErrorKind) verdict {
	switch kind {
	case core.KindValidation:
		return verdict{state: StateEmitted, status: iso20022.StatusRJCT, reason: iso20022.ReasonValidation}
	case core.KindDuplicate:
		return verdict{state: StateFlowRejected, status: iso20022.StatusRJCT, reason: iso20022.ReasonDuplicate}
	case core.KindFraudRejected:
		return verdict{state: StateFlowRejected, status: iso20022.StatusRJCT, reason: iso20022.ReasonFraud}
	case core.KindFraudReview:
		return verdict{state: StateFlowPending, status: iso20022.StatusPDNG, reason: iso20022.ReasonReview}
	case core.KindCancelled:
		return verdict{}
	case core.KindDispatchTransient, core.KindDispatchPermanent, core.KindCircuitOpen, core.KindSaturated, core.KindTimedOut:
		return verdict{state: StateFallbackEmitted, status: iso20022.StatusRJCT, reason: iso20022.ReasonNarrative}
	default:
		return verdict{state: StateEmitted, status: iso20022.StatusRJCT, reason: iso20022.ReasonNarrative}
	}
}

// fail folds an error into the appropriate negative acknowledgement and
// terminal state. Cancellation emits nothing: the client is gone.
func (o *Orchestrator) fail(ctx context.Context, f *Flow, err error) *Outcome {
	defer f.done()
	kind := core.KindOf(err)
	v := classify(kind)

	if v.state == "" {
		o.recordStatus(ctx, f, string(kind), map[string]interface{}{"error": err.Error()})
		return &Outcome{CorrelationID: f.CorrelationID, State: f.State, Detail: detailOf(err)}
	}
	if !f.State.CanTransition(v.state) {
		v.state = StateEmitted
	}

	detail := detailOf(err)
	clientAck := o.buildStatusAck(f, v.status, v.reason, detail)
	o.emit(ctx, f, clientAck)
	o.advanceWithStatus(ctx, f, v.state, string(kind), map[string]interface{}{
		"error":   detail,
		"ackKind": f.ackKind().String(),
		"ack":     map[string]interface{}(clientAck),
	})
	return &Outcome{
		CorrelationID: f.CorrelationID,
		State:         f.State,
		Status:        v.status,
		Reason:        v.reason,
		AckKind:       f.ackKind(),
		ClientAck:     clientAck,
		Assessment:    f.Assessment,
		Detail:        detail,
	}
}

// detailOf extracts the innermost message for the acknowledgement's AddtlInf
// without leaking operation names.
func detailOf(err error) string {
	var fe *core.FlowError
	for errors.As(err, &fe) && fe.Err != nil {
		var inner *core.FlowError
		if errors.As(fe.Err, &inner) {
			err = fe.Err
			continue
		}
		return fe.Err.Error()
	}
	return err.Error()
}

// ackVerdict maps the clearing acknowledgement status onto the client's.
func ackVerdict(ack *clearing.Ack) (iso20022.Status, iso20022.Reason) {
	switch ack.Status {
	case "SUCCESS", "ACCEPTED", "ACCC", "ACSC":
		return iso20022.StatusACSC, iso20022.ReasonAccepted
	case "ACSP", "ACTC", "PENDING":
		return iso20022.StatusACSP, iso20022.ReasonAccepted
	}
	return iso20022.StatusRJCT, iso20022.ReasonNarrative
}

// ============================================================================
// Emission and tracking
// ============================================================================

func (o *Orchestrator) buildStatusAck(f *Flow, st iso20022.Status, rsn iso20022.Reason, detail string) core.Message {
	return iso20022.BuildStatus(f.ackKind(), f.Message, f.IngressKind, st, rsn, detail, o.stampContext(f, core.DirectionResponse))
}

func (o *Orchestrator) stampContext(f *Flow, direction core.Direction) iso20022.StampContext {
	return iso20022.StampContext{
		MessageID:     o.wireMsgID(),
		CorrelationID: f.CorrelationID,
		OriginalMsgID: f.MessageID,
		Now:           o.now(),
		Direction:     direction,
	}
}

// wireMsgID derives an ISO-compatible MsgId (max 35 chars) from a UUID.
func (o *Orchestrator) wireMsgID() string {
	return strings.ToUpper(strings.ReplaceAll(o.newID(), "-", ""))
}

func (o *Orchestrator) stampFlowMetadata(f *Flow, m core.Message) {
	meta := m.Metadata()
	meta["correlationId"] = f.CorrelationID
	meta["originalMessageId"] = f.MessageID
	meta["generatedAt"] = o.now().UTC().Format("2006-01-02T15:04:05.000Z07:00")
}

// emit hands the acknowledgement to the response sink for WEBHOOK flows.
// SYNC flows return it inline and ASYNC flows surface it through the
// tracking records.
func (o *Orchestrator) emit(ctx context.Context, f *Flow, ack core.Message) {
	if ack == nil || f.ResponseMode != ModeWebhook || o.sink == nil {
		return
	}
	o.sink.DeliverResponse(ctx, f.Coordinate.TenantID, f.ackKind().String(), f.CorrelationID, ack)
}

func (o *Orchestrator) advance(ctx context.Context, f *Flow, to State, meta map[string]interface{}) {
	o.advanceWithStatus(ctx, f, to, StatusOK, meta)
}

func (o *Orchestrator) advanceWithStatus(ctx context.Context, f *Flow, to State, status string, meta map[string]interface{}) {
	if !f.State.CanTransition(to) {
		slog.Error("Illegal flow transition",
			"correlationId", f.CorrelationID,
			"from", string(f.State),
			"to", string(to))
	}
	from := f.State
	f.State = to
	o.track(ctx, Transition{
		CorrelationID: f.CorrelationID,
		TenantID:      f.Coordinate.TenantID,
		From:          from,
		Stage:         to,
		Status:        status,
		At:            o.now().UTC(),
		Metadata:      meta,
	})
}

// recordStatus tracks a status change without moving the machine, used for
// cancellation where the flow simply stops.
func (o *Orchestrator) recordStatus(ctx context.Context, f *Flow, status string, meta map[string]interface{}) {
	o.track(ctx, Transition{
		CorrelationID: f.CorrelationID,
		TenantID:      f.Coordinate.TenantID,
		From:          f.State,
		Stage:         f.State,
		Status:        status,
		At:            o.now().UTC(),
		Metadata:      meta,
	})
}

func (o *Orchestrator) track(ctx context.Context, tr Transition) {
	if o.recorder != nil {
		if err := o.recorder.RecordTransition(ctx, tr); err != nil {
			slog.Warn("Flow transition not recorded",
				"correlationId", tr.CorrelationID,
				"stage", string(tr.Stage),
				"error", err)
		}
	}
	if o.publisher != nil {
		o.publisher.PublishTransition(tr)
	}
}

func (o *Orchestrator) flowDeadline(tenantID string) time.Duration {
	if d, ok := o.tenantDeadlines[tenantID]; ok {
		return d
	}
	return o.deadline
}
