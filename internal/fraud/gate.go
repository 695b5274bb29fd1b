package fraud

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/kranthikarthan/PE-sub004/internal/auth"
	"github.com/kranthikarthan/PE-sub004/internal/core"
	"github.com/kranthikarthan/PE-sub004/internal/policy"
	"github.com/kranthikarthan/PE-sub004/internal/resilience"
)

// ServiceName keys the gate's dispatcher executors and policies.
const ServiceName = "fraud-engine"

const maxEngineResponseBytes = 1 << 20

// ConfigSource is the slice of the configuration resolver the gate reads.
type ConfigSource interface {
	FraudConfig(tenantID string) (*policy.FraudAPIConfig, bool)
}

// Recorder persists finished assessments for audit. A nil Recorder disables
// recording; recording failures are logged, never surfaced to the flow.
type Recorder interface {
	RecordAssessment(ctx context.Context, a Assessment) error
}

// Gate performs the fraud check for one flow: pre-screening rules, then the
// tenant's remote engine under the `fraud-engine` resilience policy with a
// fail-safe fallback.
type Gate struct {
	configs  ConfigSource
	registry *resilience.Registry
	headers  *auth.Builder
	screener *Screener
	recorder Recorder
	client   *http.Client

	now   func() time.Time
	newID func() string
}

func NewGate(configs ConfigSource, registry *resilience.Registry, headers *auth.Builder, recorder Recorder) (*Gate, error) {
	screener, err := NewScreener()
	if err != nil {
		return nil, err
	}
	g := &Gate{
		configs:  configs,
		registry: registry,
		headers:  headers,
		screener: screener,
		recorder: recorder,
		client:   &http.Client{},
		now:      time.Now,
		newID:    uuid.NewString,
	}
	registry.SetFallback(ServiceName, failSafe)
	return g, nil
}

// WithHTTPClient routes engine calls through client.
func (g *Gate) WithHTTPClient(client *http.Client) *Gate {
	g.client = client
	return g
}

// Invalidate drops compiled screening programs so the next assessment
// recompiles them from the tenant's current configuration.
func (g *Gate) Invalidate() {
	g.screener.Invalidate()
}

// failSafe is the dispatcher fallback: any terminal engine failure becomes
// a MANUAL_REVIEW assessment instead of an approval or an error.
func failSafe(ctx context.Context, err error) (interface{}, error) {
	return &Assessment{
		Status:       StatusError,
		Decision:     DecisionManualReview,
		RiskLevel:    RiskMedium,
		RiskScore:    0.5,
		Reason:       "fraud engine unavailable",
		ErrorMessage: err.Error(),
	}, nil
}

// Assess obtains the gate decision for one message. The whole assessment,
// retries included, is bounded by the tenant's configured deadline. The only
// error Assess returns is flow cancellation; every other failure mode
// degrades to the fail-safe assessment.
func (g *Gate) Assess(ctx context.Context, msg core.Message, coordinate core.PolicyCoordinate, source Source) (*Assessment, error) {
	base := Assessment{
		AssessmentID:  g.newID(),
		CorrelationID: core.CorrelationFromContext(ctx),
		MessageID:     messageID(msg),
		TenantID:      coordinate.TenantID,
		Source:        source,
		Type:          TypeRealTime,
		CreatedAt:     g.now().UTC(),
	}

	cfg, ok := g.configs.FraudConfig(coordinate.TenantID)
	if !ok {
		// Fraud gating is per-tenant opt-in. Without an engine the flow
		// proceeds, recorded as a local approval.
		base.Status = StatusOK
		base.Decision = DecisionApprove
		base.RiskLevel = RiskLow
		base.Reason = "no fraud engine configured"
		g.record(ctx, &base)
		return &base, nil
	}

	tx := extractTx(msg)

	if rule := g.screener.Screen(cfg.PreScreenRules, g.screenInput(msg, coordinate, source, tx)); rule != nil {
		base.Status = StatusOK
		base.Decision = Decision(rule.Decision)
		base.RiskLevel, base.RiskScore = localRuleRisk(base.Decision)
		base.Reason = rule.Reason
		if base.Reason == "" {
			base.Reason = "pre-screen rule " + rule.Name
		}
		slog.Info("Pre-screen rule fired",
			"tenant_id", base.TenantID,
			"rule", rule.Name,
			"decision", base.Decision)
		g.record(ctx, &base)
		return &base, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, cfg.Deadline())
	defer cancel()

	result, err := g.registry.Execute(callCtx, ServiceName, coordinate.TenantID, func(ctx context.Context) (interface{}, error) {
		return g.callEngine(ctx, cfg, msg, &base, coordinate, tx)
	})
	if err != nil {
		// Fallback absorbed everything except cancellation.
		return nil, err
	}

	a := result.(*Assessment)
	if a.AssessmentID == "" {
		a.AssessmentID = base.AssessmentID
		a.CorrelationID = base.CorrelationID
		a.MessageID = base.MessageID
		a.TenantID = base.TenantID
		a.Source = base.Source
		a.Type = base.Type
		a.CreatedAt = base.CreatedAt
	}
	g.record(ctx, a)
	return a, nil
}

func localRuleRisk(d Decision) (RiskLevel, float64) {
	if d == DecisionReject {
		return RiskHigh, 0.9
	}
	return RiskMedium, 0.5
}

func (g *Gate) record(ctx context.Context, a *Assessment) {
	if g.recorder == nil {
		return
	}
	if err := g.recorder.RecordAssessment(ctx, *a); err != nil {
		slog.Warn("Fraud assessment not recorded",
			"assessment_id", a.AssessmentID,
			"tenant_id", a.TenantID,
			"error", err)
	}
}

// engineResponse is the wire shape the remote engine answers with. Fields
// the engine omits are derived from the score.
type engineResponse struct {
	AssessmentID string  `json:"assessmentId"`
	Status       string  `json:"status"`
	Decision     string  `json:"decision"`
	RiskLevel    string  `json:"riskLevel"`
	RiskScore    float64 `json:"riskScore"`
	Reason       string  `json:"reason"`
	ErrorMessage string  `json:"errorMessage"`
}

func (g *Gate) callEngine(ctx context.Context, cfg *policy.FraudAPIConfig, msg core.Message, base *Assessment, coordinate core.PolicyCoordinate, tx txContext) (*Assessment, error) {
	payload := g.engineRequest(cfg, msg, base, coordinate, tx)
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, core.E(core.KindInternal, "fraud.request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, core.E(core.KindInternal, "fraud.request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if err := g.headers.Apply(ctx, req, cfg.Auth, body); err != nil {
		return nil, err
	}

	resp, err := g.client.Do(req)
	if err != nil {
		switch {
		case errors.Is(err, context.Canceled):
			return nil, core.E(core.KindCancelled, "fraud.call", err)
		case errors.Is(err, context.DeadlineExceeded):
			return nil, core.E(core.KindTimedOut, "fraud.call", err)
		default:
			return nil, core.E(core.KindDispatchTransient, "fraud.call", err)
		}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxEngineResponseBytes))
	if err != nil {
		return nil, core.E(core.KindDispatchTransient, "fraud.call", err)
	}
	if kind := resilience.ClassifyStatus(resp.StatusCode); kind != "" {
		return nil, core.Errorf(kind, "fraud.call", "fraud engine returned %d", resp.StatusCode)
	}

	var er engineResponse
	if err := json.Unmarshal(raw, &er); err != nil {
		return nil, core.Errorf(core.KindDispatchPermanent, "fraud.call", "undecodable engine response: %v", err)
	}
	if er.Status == string(StatusError) {
		return nil, core.Errorf(core.KindDispatchPermanent, "fraud.call", "fraud engine reported ERROR: %s", er.ErrorMessage)
	}

	a := *base
	a.Status = StatusOK
	switch Decision(er.Decision) {
	case DecisionApprove, DecisionReject, DecisionManualReview:
		a.Decision = Decision(er.Decision)
	default:
		return nil, core.Errorf(core.KindDispatchPermanent, "fraud.call", "fraud engine returned unknown decision %q", er.Decision)
	}
	a.RiskScore = clampScore(er.RiskScore)
	if level, ok := parseRiskLevel(er.RiskLevel); ok {
		a.RiskLevel = level
	} else {
		a.RiskLevel = riskLevelFromScore(a.RiskScore)
	}
	a.Reason = er.Reason
	return &a, nil
}

func clampScore(s float64) float64 {
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}

// engineRequest assembles the engine payload: the tenant template with
// ${fieldName} substitution when configured, the default shape otherwise.
func (g *Gate) engineRequest(cfg *policy.FraudAPIConfig, msg core.Message, base *Assessment, coordinate core.PolicyCoordinate, tx txContext) core.Message {
	if len(cfg.RequestTemplate) > 0 {
		vars := substitutionVars(base, coordinate, tx)
		return core.Message(substituteTree(cfg.RequestTemplate, vars, msg).(map[string]interface{}))
	}
	return core.Message{
		"assessmentId":   base.AssessmentID,
		"messageId":      base.MessageID,
		"tenantId":       base.TenantID,
		"source":         string(base.Source),
		"assessmentType": string(base.Type),
		"transaction": map[string]interface{}{
			"reference":       tx.Reference,
			"amount":          tx.Amount,
			"currency":        tx.Currency,
			"paymentType":     coordinate.PaymentType,
			"localInstrument": coordinate.LocalInstrument,
			"clearingSystem":  coordinate.ClearingSystem,
		},
		"parties": map[string]interface{}{
			"debtor":   tx.Debtor,
			"creditor": tx.Creditor,
		},
		"context": map[string]interface{}{
			"direction": string(coordinate.Direction),
			"timestamp": base.CreatedAt.Format(time.RFC3339),
		},
	}
}

func substitutionVars(base *Assessment, coordinate core.PolicyCoordinate, tx txContext) map[string]string {
	return map[string]string{
		"assessmentId":         base.AssessmentID,
		"messageId":            base.MessageID,
		"tenantId":             base.TenantID,
		"transactionReference": tx.Reference,
		"paymentType":          coordinate.PaymentType,
		"localInstrument":      coordinate.LocalInstrument,
		"clearingSystem":       coordinate.ClearingSystem,
		"source":               string(base.Source),
		"assessmentType":       string(base.Type),
		"amount":               core.Stringify(tx.Amount),
		"currency":             tx.Currency,
		"debtor":               tx.Debtor,
		"creditor":             tx.Creditor,
	}
}

var placeholderRe = regexp.MustCompile(`\$\{([^}]+)\}`)

// substituteTree deep-copies a template subtree, replacing ${fieldName}
// placeholders in string leaves. Names resolve against the assessment vars
// first, then the message by path, then by breadth-first field search.
func substituteTree(node interface{}, vars map[string]string, msg core.Message) interface{} {
	switch t := node.(type) {
	case core.Message:
		return substituteTree(map[string]interface{}(t), vars, msg)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, v := range t {
			out[k] = substituteTree(v, vars, msg)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, v := range t {
			out[i] = substituteTree(v, vars, msg)
		}
		return out
	case string:
		return placeholderRe.ReplaceAllStringFunc(t, func(m string) string {
			name := m[2 : len(m)-1]
			if v, ok := vars[name]; ok {
				return v
			}
			if v := msg.GetString(name); v != "" {
				return v
			}
			if v, ok := msg.FindValue(name); ok {
				return core.Stringify(v)
			}
			return ""
		})
	default:
		return t
	}
}

func (g *Gate) screenInput(msg core.Message, coordinate core.PolicyCoordinate, source Source, tx txContext) map[string]interface{} {
	return map[string]interface{}{
		"message":         map[string]interface{}(msg.StripMetadata()),
		"fields":          msg.Flatten(),
		"tenantId":        coordinate.TenantID,
		"paymentType":     coordinate.PaymentType,
		"localInstrument": coordinate.LocalInstrument,
		"clearingSystem":  coordinate.ClearingSystem,
		"source":          string(source),
		"amount":          tx.Amount,
		"currency":        tx.Currency,
		"debtor":          tx.Debtor,
		"creditor":        tx.Creditor,
	}
}

// txContext is the transaction summary shared by the default request shape
// and the pre-screening inputs.
type txContext struct {
	Reference string
	Amount    float64
	Currency  string
	Debtor    string
	Creditor  string
}

func messageID(msg core.Message) string {
	if id := msg.GetString("GrpHdr.MsgId"); id != "" {
		return id
	}
	if v, ok := msg.FindValue("MsgId"); ok {
		return core.Stringify(v)
	}
	return ""
}

// amountKeys in preference order: settlement amount beats instructed amount
// beats a bare Amt wrapper.
var amountKeys = []string{"IntrBkSttlmAmt", "InstdAmt", "Amt"}

func extractTx(msg core.Message) txContext {
	tx := txContext{Reference: transactionReference(msg)}
	for _, key := range amountKeys {
		v, ok := msg.FindValue(key)
		if !ok {
			continue
		}
		if amount, ccy, ok := parseAmount(v); ok {
			tx.Amount = amount
			tx.Currency = ccy
			break
		}
	}
	tx.Debtor = partyName(msg, "Dbtr")
	tx.Creditor = partyName(msg, "Cdtr")
	return tx
}

func transactionReference(msg core.Message) string {
	for _, key := range []string{"EndToEndId", "TxId", "InstrId"} {
		if v, ok := msg.FindValue(key); ok {
			if s := core.Stringify(v); s != "" && s != "NOTPROVIDED" {
				return s
			}
		}
	}
	return msg.GetString("GrpHdr.MsgId")
}

func partyName(msg core.Message, key string) string {
	v, ok := msg.FindValue(key)
	if !ok {
		return ""
	}
	if m, ok := v.(map[string]interface{}); ok {
		return core.Stringify(m["Nm"])
	}
	return core.Stringify(v)
}

// parseAmount accepts the shapes amounts take in canonical trees: a wrapper
// object with value/Ccy (or amount/currency) fields, a bare string, or a
// number.
func parseAmount(v interface{}) (float64, string, bool) {
	switch t := v.(type) {
	case map[string]interface{}:
		ccy := core.Stringify(firstNonNil(t["Ccy"], t["currency"]))
		inner := firstNonNil(t["value"], t["amount"], t["Amt"])
		if inner == nil {
			return 0, "", false
		}
		amount, _, ok := parseAmount(inner)
		return amount, ccy, ok
	case string:
		f, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return 0, "", false
		}
		return f, "", true
	case float64:
		return t, "", true
	case int:
		return float64(t), "", true
	}
	return 0, "", false
}

func firstNonNil(vs ...interface{}) interface{} {
	for _, v := range vs {
		if v != nil {
			return v
		}
	}
	return nil
}
