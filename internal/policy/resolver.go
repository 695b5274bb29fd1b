package policy

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/kranthikarthan/PE-sub004/internal/core"
	"github.com/kranthikarthan/PE-sub004/internal/mapping"
	"github.com/kranthikarthan/PE-sub004/internal/resilience"
)

// Provider loads configuration snapshots from somewhere durable. Providers
// must return snapshots that already passed Validate.
type Provider interface {
	Load(ctx context.Context) (*Snapshot, error)
}

// Resolver answers "which record applies to this coordinate" against one
// immutable snapshot. Lookups are memoized per coordinate; swapping in a
// new snapshot or invalidating a tenant clears the memo and bumps the
// resolver version, so a resolution is always a pure function of
// (snapshot version, coordinate).
type Resolver struct {
	mu       sync.RWMutex
	snapshot *Snapshot
	version  uint64
	authMemo map[string]*authHit
	mapMemo  map[string]*mappingHit
}

type authHit struct {
	record *AuthRecord // nil records a memoized miss
}

type mappingHit struct {
	doc *mapping.Document
}

func NewResolver(s *Snapshot) *Resolver {
	return &Resolver{
		snapshot: s,
		version:  1,
		authMemo: make(map[string]*authHit),
		mapMemo:  make(map[string]*mappingHit),
	}
}

// Snapshot returns the currently published snapshot.
func (r *Resolver) Snapshot() *Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshot
}

// Version increases on every reload or invalidation.
func (r *Resolver) Version() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.version
}

// Reload atomically publishes a new snapshot and drops every memoized
// resolution.
func (r *Resolver) Reload(s *Snapshot) {
	r.mu.Lock()
	r.snapshot = s
	r.version++
	r.authMemo = make(map[string]*authHit)
	r.mapMemo = make(map[string]*mappingHit)
	version := r.version
	r.mu.Unlock()
	slog.Info("Configuration snapshot published",
		"snapshot_version", s.Version,
		"resolver_version", version,
		"auth_configs", len(s.AuthConfigs),
		"mapping_documents", len(s.MappingDocuments),
		"service_policies", len(s.ServicePolicies))
}

// Invalidate drops memoized resolutions for one tenant. An empty tenantID
// behaves like InvalidateAll.
func (r *Resolver) Invalidate(tenantID string) {
	if tenantID == "" {
		r.InvalidateAll()
		return
	}
	prefix := tenantID + "|"
	r.mu.Lock()
	for k := range r.authMemo {
		if strings.HasPrefix(k, prefix) {
			delete(r.authMemo, k)
		}
	}
	for k := range r.mapMemo {
		if strings.HasPrefix(k, prefix) {
			delete(r.mapMemo, k)
		}
	}
	r.version++
	r.mu.Unlock()
	slog.Info("Configuration cache invalidated", "tenant_id", tenantID)
}

// InvalidateAll drops every memoized resolution.
func (r *Resolver) InvalidateAll() {
	r.mu.Lock()
	r.authMemo = make(map[string]*authHit)
	r.mapMemo = make(map[string]*mappingHit)
	r.version++
	r.mu.Unlock()
	slog.Info("Configuration cache invalidated", "tenant_id", "*")
}

// coordinateMatches applies the wildcard rule: fields the candidate leaves
// empty match anything; fields it specifies must equal the query's.
func coordinateMatches(candidate, query core.PolicyCoordinate) bool {
	if candidate.TenantID != "" && candidate.TenantID != query.TenantID {
		return false
	}
	if candidate.PaymentType != "" && candidate.PaymentType != query.PaymentType {
		return false
	}
	if candidate.LocalInstrument != "" && candidate.LocalInstrument != query.LocalInstrument {
		return false
	}
	if candidate.ClearingSystem != "" && candidate.ClearingSystem != query.ClearingSystem {
		return false
	}
	if candidate.Direction != "" && query.Direction != "" && !candidate.Direction.Matches(query.Direction) {
		return false
	}
	return true
}

// wins reports whether (priority, name) beats the incumbent: priority
// descending, ties broken by lexicographic name.
func wins(priority int, name string, bestPriority int, bestName string) bool {
	if priority != bestPriority {
		return priority > bestPriority
	}
	return name < bestName
}

// ResolveAuth walks the levels from most specific to least and returns the
// single effective AuthConfig, or CONFIGURATION_MISSING when no level has an
// active match.
func (r *Resolver) ResolveAuth(ctx context.Context, coordinate core.PolicyCoordinate) (*AuthConfig, error) {
	key := coordinate.Key()

	r.mu.RLock()
	hit, ok := r.authMemo[key]
	snap := r.snapshot
	r.mu.RUnlock()
	if ok {
		return r.authResult(hit, coordinate)
	}

	var best *AuthRecord
	for _, level := range levelOrder {
		for i := range snap.AuthConfigs {
			rec := &snap.AuthConfigs[i]
			if rec.Level != level || !rec.Active || !coordinateMatches(rec.Coordinate, coordinate) {
				continue
			}
			if best == nil || wins(rec.Priority, rec.Name, best.Priority, best.Name) {
				best = rec
			}
		}
		if best != nil {
			break
		}
	}

	r.mu.Lock()
	// A concurrent reload may have swapped the snapshot; only memoize
	// results computed against the published one.
	if r.snapshot == snap {
		r.authMemo[key] = &authHit{record: best}
	}
	r.mu.Unlock()

	return r.authResult(&authHit{record: best}, coordinate)
}

func (r *Resolver) authResult(hit *authHit, coordinate core.PolicyCoordinate) (*AuthConfig, error) {
	if hit.record == nil {
		return nil, core.Errorf(core.KindConfigurationMissing, "policy.resolve_auth",
			"no active auth config for coordinate %s", coordinate.Key())
	}
	return &hit.record.Auth, nil
}

// EffectiveMapping returns the single active document for (coordinate,
// direction), or (nil, false) when the built-in transformation applies.
func (r *Resolver) EffectiveMapping(ctx context.Context, coordinate core.PolicyCoordinate, direction core.Direction) (*mapping.Document, bool, error) {
	key := coordinate.Key() + "#" + string(direction)

	r.mu.RLock()
	hit, ok := r.mapMemo[key]
	snap := r.snapshot
	r.mu.RUnlock()
	if ok {
		return hit.doc, hit.doc != nil, nil
	}

	var best *mapping.Document
	for i := range snap.MappingDocuments {
		d := &snap.MappingDocuments[i]
		if !d.Active || !d.Direction.Matches(direction) || !coordinateMatches(d.Coordinate, coordinate) {
			continue
		}
		if best == nil || wins(d.Priority, d.Name, best.Priority, best.Name) {
			best = d
		}
	}

	r.mu.Lock()
	if r.snapshot == snap {
		r.mapMemo[key] = &mappingHit{doc: best}
	}
	r.mu.Unlock()

	return best, best != nil, nil
}

// ServicePolicy resolves the resilience policy for (service, tenant):
// a tenant-scoped record wins, then the service default record, then the
// built-in defaults. The signature matches resilience.PolicyLookup.
func (r *Resolver) ServicePolicy(service, tenantID string) resilience.Policy {
	r.mu.RLock()
	snap := r.snapshot
	r.mu.RUnlock()

	var tenantRec, defaultRec *ServicePolicyRecord
	for i := range snap.ServicePolicies {
		rec := &snap.ServicePolicies[i]
		if !rec.Active || rec.Service != service {
			continue
		}
		switch rec.TenantID {
		case tenantID:
			tenantRec = rec
		case "":
			defaultRec = rec
		}
	}

	switch {
	case tenantRec != nil:
		return tenantRec.Policy.ToPolicy(service)
	case defaultRec != nil:
		return defaultRec.Policy.ToPolicy(service)
	default:
		return resilience.DefaultPolicy(service)
	}
}

// FraudConfig returns the active fraud engine config for a tenant.
func (r *Resolver) FraudConfig(tenantID string) (*FraudAPIConfig, bool) {
	r.mu.RLock()
	snap := r.snapshot
	r.mu.RUnlock()

	for i := range snap.FraudConfigs {
		rec := &snap.FraudConfigs[i]
		if rec.Active && rec.TenantID == tenantID {
			return rec, true
		}
	}
	return nil, false
}

// WebhookTargets lists the active delivery targets for (tenant, emitted
// message type). Targets with an empty MessageType match every type.
func (r *Resolver) WebhookTargets(tenantID, messageType string) []WebhookTarget {
	r.mu.RLock()
	snap := r.snapshot
	r.mu.RUnlock()

	var out []WebhookTarget
	for i := range snap.WebhookTargets {
		rec := &snap.WebhookTargets[i]
		if !rec.Active || rec.TenantID != tenantID {
			continue
		}
		if rec.MessageType != "" && rec.MessageType != messageType {
			continue
		}
		out = append(out, *rec)
	}
	return out
}
