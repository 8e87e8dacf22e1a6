package incident

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hazz-dev/pulsewatch/internal/probe"
	"github.com/hazz-dev/pulsewatch/internal/storage"
)

var testDesc = probe.Descriptor{Tenant: "acme", Kind: probe.KindAPIRead}

// mockStore keeps incidents in memory, mirroring the single-open-incident
// behavior of the real store.
type mockStore struct {
	incidents map[string]*storage.Incident
	insertErr error
	closeErr  error
	closed    int
}

func newMockStore() *mockStore {
	return &mockStore{incidents: make(map[string]*storage.Incident)}
}

func (m *mockStore) InsertIncident(_ context.Context, inc storage.Incident) error {
	if m.insertErr != nil {
		return m.insertErr
	}
	m.incidents[inc.ID] = &inc
	return nil
}

func (m *mockStore) CloseIncident(_ context.Context, id string, endedAt time.Time, durationMs int64) error {
	if m.closeErr != nil {
		return m.closeErr
	}
	inc, ok := m.incidents[id]
	if !ok || inc.EndedAt != nil {
		return nil
	}
	inc.EndedAt = &endedAt
	inc.DurationMs = &durationMs
	m.closed++
	return nil
}

func (m *mockStore) OpenIncident(_ context.Context, tenant, kind string) (*storage.Incident, error) {
	for _, inc := range m.incidents {
		if inc.Tenant == tenant && inc.Kind == kind && inc.EndedAt == nil {
			cp := *inc
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *mockStore) OpenIncidents(_ context.Context, tenant string) ([]storage.Incident, error) {
	var out []storage.Incident
	for _, inc := range m.incidents {
		if inc.EndedAt != nil {
			continue
		}
		if tenant != "" && inc.Tenant != tenant {
			continue
		}
		out = append(out, *inc)
	}
	return out, nil
}

func TestOnTransition_DownOpensIncident(t *testing.T) {
	store := newMockStore()
	led := New(store, nil)

	inc := led.OnTransition(context.Background(), testDesc, probe.StatusUp, probe.StatusDown, "HTTP 503")
	if inc == nil {
		t.Fatal("expected an incident")
	}
	if inc.ID == "" {
		t.Error("expected a generated incident id")
	}
	if inc.Details != "HTTP 503" {
		t.Errorf("unexpected details %q", inc.Details)
	}

	open, _ := store.OpenIncident(context.Background(), "acme", "api-read")
	if open == nil {
		t.Fatal("expected the incident to be persisted open")
	}
}

func TestOnTransition_RecoveryClosesIncident(t *testing.T) {
	store := newMockStore()
	led := New(store, nil)
	ctx := context.Background()

	led.OnTransition(ctx, testDesc, probe.StatusUp, probe.StatusDown, "")
	closed := led.OnTransition(ctx, testDesc, probe.StatusDown, probe.StatusUp, "")
	if closed == nil {
		t.Fatal("expected the closed incident")
	}
	if closed.EndedAt == nil || closed.DurationMs == nil {
		t.Error("expected end fields on the closed incident")
	}

	open, _ := store.OpenIncident(ctx, "acme", "api-read")
	if open != nil {
		t.Errorf("expected no open incident, got %+v", open)
	}
}

func TestOnTransition_NonDownTransitionsAreNoOps(t *testing.T) {
	store := newMockStore()
	led := New(store, nil)
	ctx := context.Background()

	for _, tr := range []struct{ prev, next probe.Status }{
		{probe.StatusUnknown, probe.StatusUp},
		{probe.StatusUp, probe.StatusWarning},
		{probe.StatusWarning, probe.StatusUp},
	} {
		if inc := led.OnTransition(ctx, testDesc, tr.prev, tr.next, ""); inc != nil {
			t.Errorf("%s -> %s: expected no incident, got %+v", tr.prev, tr.next, inc)
		}
	}
	if len(store.incidents) != 0 {
		t.Errorf("expected no persisted incidents, got %d", len(store.incidents))
	}
}

func TestOnTransition_DownToWarningCloses(t *testing.T) {
	store := newMockStore()
	led := New(store, nil)
	ctx := context.Background()

	led.OnTransition(ctx, testDesc, probe.StatusUp, probe.StatusDown, "")
	if closed := led.OnTransition(ctx, testDesc, probe.StatusDown, probe.StatusWarning, ""); closed == nil {
		t.Fatal("expected down -> warning to close the incident")
	}
}

func TestOnTransition_SingleOpenPerDescriptor(t *testing.T) {
	store := newMockStore()
	led := New(store, nil)
	ctx := context.Background()

	led.OnTransition(ctx, testDesc, probe.StatusUp, probe.StatusDown, "")
	led.OnTransition(ctx, testDesc, probe.StatusDown, probe.StatusUp, "")
	led.OnTransition(ctx, testDesc, probe.StatusUp, probe.StatusDown, "")

	open, _ := store.OpenIncidents(ctx, "")
	if len(open) != 1 {
		t.Errorf("expected exactly one open incident, got %d", len(open))
	}
	if len(store.incidents) != 2 {
		t.Errorf("expected two incidents total, got %d", len(store.incidents))
	}
}

func TestOnTransition_MissingOpenIncident(t *testing.T) {
	store := newMockStore()
	led := New(store, nil)

	// Recovery with nothing persisted must not panic or invent a record.
	if inc := led.OnTransition(context.Background(), testDesc, probe.StatusDown, probe.StatusUp, ""); inc != nil {
		t.Errorf("expected nil, got %+v", inc)
	}
}

func TestOnTransition_InsertFailureStillReturnsIncident(t *testing.T) {
	store := newMockStore()
	store.insertErr = errors.New("disk full")
	led := New(store, nil)

	inc := led.OnTransition(context.Background(), testDesc, probe.StatusUp, probe.StatusDown, "")
	if inc == nil {
		t.Fatal("expected the in-memory incident despite the persistence failure")
	}
}

func TestResolveOrphans(t *testing.T) {
	store := newMockStore()
	led := New(store, nil)
	ctx := context.Background()

	webDesc := probe.Descriptor{Tenant: "acme", Kind: probe.KindWeb}
	led.OnTransition(ctx, testDesc, probe.StatusUp, probe.StatusDown, "")
	led.OnTransition(ctx, webDesc, probe.StatusUp, probe.StatusDown, "")

	// api-read has recovered out-of-band, web is still down.
	live := func(desc probe.Descriptor) probe.Status {
		if desc == webDesc {
			return probe.StatusDown
		}
		return probe.StatusUp
	}

	var recovered []storage.Incident
	led.ResolveOrphans(ctx, live, func(inc storage.Incident) {
		recovered = append(recovered, inc)
	})

	if len(recovered) != 1 {
		t.Fatalf("expected one recovered incident, got %d", len(recovered))
	}
	if recovered[0].Descriptor() != testDesc {
		t.Errorf("unexpected descriptor %s", recovered[0].Descriptor())
	}
	if recovered[0].EndedAt == nil {
		t.Error("expected the recovered incident to carry its end time")
	}

	open, _ := store.OpenIncidents(ctx, "")
	if len(open) != 1 || open[0].Descriptor() != webDesc {
		t.Errorf("expected only the web incident to stay open, got %+v", open)
	}

	// Running again must be a no-op.
	led.ResolveOrphans(ctx, live, func(inc storage.Incident) {
		t.Errorf("unexpected second recovery for %s", inc.Descriptor())
	})
	if store.closed != 1 {
		t.Errorf("expected one close total, got %d", store.closed)
	}
}

func TestResolveOrphans_UnknownStatusCloses(t *testing.T) {
	store := newMockStore()
	led := New(store, nil)
	ctx := context.Background()

	led.OnTransition(ctx, testDesc, probe.StatusUp, probe.StatusDown, "")

	// A descriptor no longer configured reports unknown; its stale incident
	// must still be reconciled.
	led.ResolveOrphans(ctx, func(probe.Descriptor) probe.Status { return probe.StatusUnknown }, nil)

	open, _ := store.OpenIncidents(ctx, "")
	if len(open) != 0 {
		t.Errorf("expected no open incidents, got %d", len(open))
	}
}
