package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/spanner"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"

	"github.com/kranthikarthan/PE-sub004/internal/flow"
	"github.com/kranthikarthan/PE-sub004/internal/fraud"
	"github.com/kranthikarthan/PE-sub004/internal/webhook"
)

// trailStaleness is how far behind trail queries may read. The trail is an
// append-only record; slightly stale reads trade freshness for latency.
const trailStaleness = 15 * time.Second

// SpannerStore persists the trail in an AuditTrail table. Writes are
// single-row inserts with a commit timestamp; queries use bounded-staleness
// reads.
type SpannerStore struct {
	client *spanner.Client
	newID  func() string
}

// NewSpannerStore connects to the given database.
func NewSpannerStore(ctx context.Context, project, instance, database string) (*SpannerStore, error) {
	dbPath := fmt.Sprintf("projects/%s/instances/%s/databases/%s", project, instance, database)
	client, err := spanner.NewClient(ctx, dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create Spanner client: %w", err)
	}
	return &SpannerStore{client: client, newID: uuid.NewString}, nil
}

func (s *SpannerStore) insert(ctx context.Context, e Entry) error {
	detail, err := json.Marshal(e.Detail)
	if err != nil {
		return fmt.Errorf("failed to encode entry detail: %w", err)
	}
	_, err = s.client.Apply(ctx, []*spanner.Mutation{
		spanner.Insert("AuditTrail",
			[]string{"EntryID", "CorrelationID", "TenantID", "Kind", "Stage", "Status", "At", "Detail", "CreatedAt"},
			[]interface{}{e.EntryID, e.CorrelationID, e.TenantID, string(e.Kind), e.Stage, e.Status, e.At, string(detail), spanner.CommitTimestamp},
		),
	})
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}
	return nil
}

func (s *SpannerStore) RecordTransition(ctx context.Context, tr flow.Transition) error {
	return s.insert(ctx, entryFromTransition(s.newID(), tr))
}

func (s *SpannerStore) RecordAssessment(ctx context.Context, a fraud.Assessment) error {
	return s.insert(ctx, entryFromAssessment(s.newID(), a))
}

func (s *SpannerStore) RecordDelivery(ctx context.Context, d *webhook.Delivery) error {
	return s.insert(ctx, entryFromDelivery(s.newID(), d))
}

// Trail returns the recorded entries for one correlation id, oldest first.
func (s *SpannerStore) Trail(ctx context.Context, correlationID string) ([]Entry, error) {
	roTx := s.client.ReadOnlyTransaction().WithTimestampBound(spanner.MaxStaleness(trailStaleness))
	defer roTx.Close()

	stmt := spanner.Statement{
		SQL: `SELECT EntryID, CorrelationID, TenantID, Kind, Stage, Status, At, Detail
		      FROM AuditTrail WHERE CorrelationID = @corr ORDER BY At, EntryID`,
		Params: map[string]interface{}{"corr": correlationID},
	}

	iter := roTx.Query(ctx, stmt)
	defer iter.Stop()

	var entries []Entry
	for {
		row, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read audit trail: %w", err)
		}

		var (
			e      Entry
			kind   string
			detail string
		)
		if err := row.Columns(&e.EntryID, &e.CorrelationID, &e.TenantID,
			&kind, &e.Stage, &e.Status, &e.At, &detail); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		e.Kind = Kind(kind)
		if detail != "" {
			if err := json.Unmarshal([]byte(detail), &e.Detail); err != nil {
				return nil, fmt.Errorf("failed to decode entry detail: %w", err)
			}
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Close releases the Spanner session pool.
func (s *SpannerStore) Close() {
	s.client.Close()
}

var _ Store = (*SpannerStore)(nil)
