package definition

import (
	"os"
	"testing"
	"time"

	"github.com/yuqie6/ModuBot/internal/schema"
)

func TestCatalogReloadSeesPatchedColumns(t *testing.T) {
	path := writeDefinition(t, handWritten)
	gen := NewGenerator(path)
	catalog := NewCatalog(gen)

	if _, ok := catalog.Table("alpha"); ok {
		t.Fatalf("catalog should be empty before Reload")
	}
	if err := catalog.Reload(); err != nil {
		t.Fatalf("Reload error: %v", err)
	}
	if _, err := gen.Patch("alpha", schema.ColumnSpec{Name: "score", Type: schema.TypeInteger}); err != nil {
		t.Fatalf("Patch error: %v", err)
	}

	alpha, _ := catalog.Table("ALPHA")
	if _, ok := alpha.Column("score"); ok {
		t.Fatalf("catalog should not change before Reload")
	}
	if err := catalog.Reload(); err != nil {
		t.Fatalf("Reload error: %v", err)
	}
	alpha, _ = catalog.Table("alpha")
	if _, ok := alpha.Column("score"); !ok {
		t.Fatalf("score missing after Reload: %+v", alpha)
	}
	if got := len(catalog.Tables()); got != 2 {
		t.Fatalf("tables=%d, want 2", got)
	}
}

func TestCatalogReloadKeepsOldOnCorruption(t *testing.T) {
	path := writeDefinition(t, handWritten)
	catalog := NewCatalog(NewGenerator(path))
	if err := catalog.Reload(); err != nil {
		t.Fatalf("Reload error: %v", err)
	}

	if err := os.WriteFile(path, []byte("table {"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := catalog.Reload(); err == nil {
		t.Fatalf("Reload should fail on a corrupt file")
	}
	if _, ok := catalog.Table("beta"); !ok {
		t.Fatalf("old catalog should be kept")
	}
}

func TestWatcherReloadsOnExternalEdit(t *testing.T) {
	path := writeDefinition(t, handWritten)
	changed := make(chan struct{}, 1)
	w, err := NewWatcher(path, 20*time.Millisecond, func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	if err != nil {
		t.Fatalf("NewWatcher error: %v", err)
	}
	ctx := t.Context()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	defer w.Stop()

	if err := os.WriteFile(path, []byte(handWritten+"\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case <-changed:
	case <-time.After(5 * time.Second):
		t.Fatalf("watcher did not fire")
	}
}
