package session

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"go.uber.org/zap"

	"github.com/matheus3301/wappd/internal/bus"
	"github.com/matheus3301/wappd/internal/convstore"
	"github.com/matheus3301/wappd/internal/status"
	"github.com/matheus3301/wappd/internal/store"
)

func newTestRegistry(t *testing.T, built *atomic.Int32) *Registry {
	t.Helper()
	dir := t.TempDir()
	paths := Paths{DataDir: dir, MediaDir: filepath.Join(dir, "media")}

	db, err := store.Open(paths.RegistryDBPath())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if _, _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}

	factory := func(_ context.Context, id string) (*Session, error) {
		if built != nil {
			built.Add(1)
		}
		b := bus.New()
		return New(id, &fakeLink{loggedIn: true}, b, status.NewMachine(b),
			convstore.New(0, 0), nil, zap.NewNop(), Options{}), nil
	}

	r := NewRegistry(factory, db, paths, zap.NewNop())
	t.Cleanup(func() { r.CloseAll(context.Background()) })
	return r
}

func TestGetOrCreateIsIdempotent(t *testing.T) {
	var built atomic.Int32
	r := newTestRegistry(t, &built)

	first, err := r.GetOrCreate(context.Background(), "alpha")
	if err != nil {
		t.Fatal(err)
	}
	second, err := r.GetOrCreate(context.Background(), "alpha")
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Error("expected the same session instance")
	}
	if built.Load() != 1 {
		t.Errorf("factory ran %d times, want 1", built.Load())
	}
}

func TestGetOrCreateConcurrent(t *testing.T) {
	var built atomic.Int32
	r := newTestRegistry(t, &built)

	const n = 16
	sessions := make([]*Session, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := r.GetOrCreate(context.Background(), "alpha")
			if err != nil {
				t.Error(err)
				return
			}
			sessions[i] = s
		}(i)
	}
	wg.Wait()

	if built.Load() != 1 {
		t.Errorf("factory ran %d times, want 1", built.Load())
	}
	for i := 1; i < n; i++ {
		if sessions[i] != sessions[0] {
			t.Fatal("concurrent callers got different instances")
		}
	}
}

func TestGetOrCreateRejectsBadID(t *testing.T) {
	r := newTestRegistry(t, nil)
	for _, id := range []string{"", "UPPER", "has space", "a/b", "séssion"} {
		if _, err := r.GetOrCreate(context.Background(), id); err == nil {
			t.Errorf("id %q accepted", id)
		}
	}
}

func TestDestroyRemovesSession(t *testing.T) {
	r := newTestRegistry(t, nil)

	if _, err := r.GetOrCreate(context.Background(), "alpha"); err != nil {
		t.Fatal(err)
	}
	if err := r.Destroy(context.Background(), "alpha"); err != nil {
		t.Fatal(err)
	}
	if r.Get("alpha") != nil {
		t.Error("session still live after destroy")
	}
	if err := r.Destroy(context.Background(), "alpha"); err == nil {
		t.Error("expected error destroying twice")
	}

	records, err := r.db.ListSessions()
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 0 {
		t.Errorf("registry rows = %d, want 0", len(records))
	}
}

func TestRestoreBringsSessionsBack(t *testing.T) {
	var built atomic.Int32
	r := newTestRegistry(t, &built)

	if err := r.db.InsertSession("alpha"); err != nil {
		t.Fatal(err)
	}
	if err := r.db.InsertSession("beta"); err != nil {
		t.Fatal(err)
	}

	if err := r.Restore(context.Background()); err != nil {
		t.Fatal(err)
	}
	if built.Load() != 2 {
		t.Errorf("factory ran %d times, want 2", built.Load())
	}
	if r.Get("alpha") == nil || r.Get("beta") == nil {
		t.Error("restored sessions not live")
	}

	snaps := r.List()
	if len(snaps) != 2 || snaps[0].ID != "alpha" || snaps[1].ID != "beta" {
		t.Errorf("unexpected list: %+v", snaps)
	}
}

func TestValidateID(t *testing.T) {
	valid := []string{"a", "session-1", "my_bot", "0123456789"}
	for _, id := range valid {
		if err := ValidateID(id); err != nil {
			t.Errorf("ValidateID(%q) = %v", id, err)
		}
	}
	invalid := []string{"", "UPPER", "dot.dot", "a b", "x/y", "émoji", string(make([]byte, 65))}
	for _, id := range invalid {
		if err := ValidateID(id); err == nil {
			t.Errorf("ValidateID(%q) accepted", id)
		}
	}
}

func TestPathsLayout(t *testing.T) {
	p := Paths{DataDir: "/var/lib/wappd", MediaDir: "/var/lib/wappd/media"}
	if got := p.RegistryDBPath(); got != "/var/lib/wappd/registry.db" {
		t.Errorf("registry = %q", got)
	}
	if got := p.SessionDBPath("alpha"); got != "/var/lib/wappd/sessions/alpha/session.db" {
		t.Errorf("session db = %q", got)
	}
	if got := p.SessionMediaDir("alpha"); got != "/var/lib/wappd/media/alpha" {
		t.Errorf("media dir = %q", got)
	}
}
