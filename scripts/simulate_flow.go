// Fires sample pain.001 traffic at a running payment engine: one SYNC
// submission, then one ASYNC submission polled to its terminal state.
//
// Usage:
//
//	PE_API_KEY=pe_tenant-1.xxx go run scripts/simulate_flow.go
//
// PE_GATEWAY_URL overrides the default http://localhost:8080, and
// PE_CLEARING_SYSTEM the scheme name (default RTP; it must match a
// CLEARING_SCHEMES entry on the engine).
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/kranthikarthan/PE-sub004/pkg/sdk"
)

func main() {
	gateway := os.Getenv("PE_GATEWAY_URL")
	if gateway == "" {
		gateway = "http://localhost:8080"
	}
	apiKey := os.Getenv("PE_API_KEY")
	if apiKey == "" {
		log.Fatal("❌ PE_API_KEY is required (create one with the tenant admin)")
	}

	client := sdk.NewClient(sdk.Config{
		BaseURL: gateway,
		APIKey:  apiKey,
		Timeout: 45 * time.Second,
		OnRejected: func(o *sdk.Outcome) {
			fmt.Printf("🚫 Flow %s rejected: %s %s\n", o.CorrelationID, o.Status, o.Reason)
		},
	})
	ctx := context.Background()

	scheme := os.Getenv("PE_CLEARING_SYSTEM")
	if scheme == "" {
		scheme = "RTP"
	}

	fmt.Printf("💸 Payment simulator → %s (clearing via %s)\n\n", gateway, scheme)

	// 1. Synchronous credit transfer: the acknowledgement comes back inline.
	fmt.Println("── SYNC pain.001 ──")
	outcome, err := client.SubmitPayment(ctx, sdk.PaymentRequest{
		PaymentType:    "RTP",
		ClearingSystem: scheme,
		ResponseMode:   sdk.ModeSync,
		Message:        samplePain001(),
	})
	if err != nil {
		log.Fatalf("❌ Submission failed: %v", err)
	}
	fmt.Printf("✅ %s → %s (%s)\n", outcome.CorrelationID, outcome.State, outcome.Status)
	if ack, ok := outcome.ClientAck["CstmrPmtStsRpt"]; ok {
		fmt.Printf("🎟️  pain.002 acknowledgement received: %T\n", ack)
	}

	// 2. Asynchronous credit transfer: receipt now, poll until terminal.
	fmt.Println("\n── ASYNC pain.001 ──")
	receipt, err := client.SubmitPayment(ctx, sdk.PaymentRequest{
		PaymentType:    "RTP",
		ClearingSystem: scheme,
		ResponseMode:   sdk.ModeAsync,
		Message:        samplePain001(),
	})
	if err != nil {
		log.Fatalf("❌ Submission failed: %v", err)
	}
	fmt.Printf("📨 Accepted as %s, polling...\n", receipt.CorrelationID)

	waitCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()
	status, err := client.WaitForFlow(waitCtx, receipt.CorrelationID, time.Second)
	if err != nil {
		log.Fatalf("❌ Polling failed: %v", err)
	}
	fmt.Printf("✅ %s → %s (%s) after %d transition(s)\n",
		status.CorrelationID, status.State, status.Status, status.Transitions)

	entries, err := client.Transitions(ctx, receipt.CorrelationID)
	if err != nil {
		log.Fatalf("❌ Trail fetch failed: %v", err)
	}
	fmt.Println("\n🧾 Audit trail:")
	for _, e := range entries {
		fmt.Printf("   %s  %-16s %s\n", e.At.Format(time.RFC3339), e.Stage, e.Status)
	}
}

// samplePain001 builds a minimal customer credit transfer initiation with a
// fresh MsgId, so reruns do not trip the duplicate guard.
func samplePain001() sdk.Message {
	msgID := fmt.Sprintf("SIM-%d", time.Now().UnixNano())
	return sdk.Message{
		"CstmrCdtTrfInitn": sdk.Message{
			"GrpHdr": sdk.Message{
				"MsgId":    msgID,
				"CreDtTm":  time.Now().UTC().Format("2006-01-02T15:04:05.000Z"),
				"NbOfTxs":  "1",
				"InitgPty": sdk.Message{"Nm": "Simulator Treasury"},
			},
			"PmtInf": []interface{}{
				sdk.Message{
					"PmtInfId": "PMT-" + msgID,
					"Dbtr":     sdk.Message{"Nm": "Simulator GmbH"},
					"CdtTrfTxInf": []interface{}{
						sdk.Message{
							"PmtId": sdk.Message{"InstrId": "INSTR-1", "EndToEndId": "E2E-" + msgID},
							"Amt":   sdk.Message{"InstdAmt": sdk.Message{"Ccy": "EUR", "value": 250.00}},
							"Cdtr":  sdk.Message{"Nm": "Globex Ltd"},
						},
					},
				},
			},
		},
	}
}
