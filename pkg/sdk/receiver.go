package sdk

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"
)

// Notification is one webhook delivery as it arrives at a tenant endpoint.
// The identifying fields come from the X-* headers the engine stamps on
// every delivery; Message is the decoded body.
type Notification struct {
	CorrelationID string
	TenantID      string
	MessageType   string
	Attempt       int
	SentAt        time.Time // zero when the X-Timestamp header is absent
	Message       Message
}

// ReceiverFunc handles one parsed notification.
//
// Return nil to acknowledge the delivery. A non-nil error answers 500,
// which the engine treats as retryable: the same notification arrives
// again after the configured delay, with Attempt incremented. Handlers
// must therefore be idempotent on CorrelationID.
type ReceiverFunc func(ctx context.Context, n Notification) error

// Receiver wraps a ReceiverFunc into the http.Handler a tenant mounts to
// receive engine webhooks.
//
//	http.Handle("/payments/hook", sdk.Receiver(func(ctx context.Context, n sdk.Notification) error {
//	    return ledger.Apply(ctx, n.CorrelationID, n.Message)
//	}))
//
// Malformed bodies answer 400, which the engine treats as a permanent
// failure and does not retry.
func Receiver(fn ReceiverFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "unreadable body", http.StatusBadRequest)
			return
		}

		var msg Message
		if err := json.Unmarshal(body, &msg); err != nil {
			http.Error(w, "malformed payload", http.StatusBadRequest)
			return
		}

		n := Notification{
			CorrelationID: r.Header.Get("X-Correlation-ID"),
			TenantID:      r.Header.Get("X-Tenant-ID"),
			MessageType:   r.Header.Get("X-Message-Type"),
			Message:       msg,
		}
		if v := r.Header.Get("X-Delivery-Attempt"); v != "" {
			n.Attempt, _ = strconv.Atoi(v)
		}
		if v := r.Header.Get("X-Timestamp"); v != "" {
			n.SentAt, _ = time.Parse(time.RFC3339, v)
		}

		if err := fn(r.Context(), n); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"received"}`))
	})
}
