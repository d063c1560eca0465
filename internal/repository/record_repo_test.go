package repository

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/yuqie6/ModuBot/internal/schema"
	"gorm.io/gorm"
)

type staticCatalog map[string]schema.TableDef

func (c staticCatalog) Table(name string) (schema.TableDef, bool) {
	def, ok := c[schema.CanonicalName(name)]
	return def, ok
}

func newTestRecords(t *testing.T, extra ...schema.TableDef) (*gorm.DB, *SchemaRegistry, *RecordRepository) {
	t.Helper()
	db, reg := newTestRegistry(t)
	ctx := context.Background()

	catalog := staticCatalog{}
	defaults := schema.NewDefaultRegistry()
	schema.RegisterBuiltinDefaults(defaults)
	for _, def := range append(schema.BuiltinTables(), extra...) {
		catalog[def.Name] = def
		for _, c := range def.Columns {
			defaults.Register(def.Name, c.Name, c.Default)
		}
		if err := reg.QueueTable(def.Spec()); err != nil {
			t.Fatalf("QueueTable(%s) error: %v", def.Name, err)
		}
	}
	if created := reg.DDL().CreatePendingTables(ctx); len(created) != len(catalog) {
		t.Fatalf("created=%v, want %d tables", created, len(catalog))
	}
	return db, reg, NewRecordRepository(db, catalog, defaults)
}

func countRows(t *testing.T, db *gorm.DB, table string) int64 {
	t.Helper()
	var n int64
	if err := db.Table(table).Count(&n).Error; err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return n
}

func TestFetchOrCreateAppliesDefaults(t *testing.T) {
	db, _, repo := newTestRecords(t)
	ctx := context.Background()

	rec, err := repo.FetchOrCreate(ctx, "ServerUser", schema.Record{"user_id": "42", "server_id": 7})
	if err != nil {
		t.Fatalf("FetchOrCreate error: %v", err)
	}
	if rec.GetString("id") != "42_7" {
		t.Fatalf("id=%v, want 42_7", rec["id"])
	}
	if rec.GetTime("join_date").IsZero() {
		t.Fatalf("join_date default not applied: %v", rec["join_date"])
	}
	if rec.GetInt64("server_id") != 7 {
		t.Fatalf("server_id=%v", rec["server_id"])
	}

	again, err := repo.FetchOrCreate(ctx, "serveruser", schema.Record{"user_id": "42", "server_id": int64(7)})
	if err != nil {
		t.Fatalf("second FetchOrCreate error: %v", err)
	}
	if !again.GetTime("join_date").Equal(rec.GetTime("join_date")) {
		t.Fatalf("found path must return the stored record unmodified")
	}
	if n := countRows(t, db, "serveruser"); n != 1 {
		t.Fatalf("rows=%d, want 1", n)
	}
}

func TestFetchOrCreateExplicitValueWinsOverDefault(t *testing.T) {
	counter := schema.TableDef{Name: "counter", Record: "Counter", Columns: []schema.ColumnSpec{
		{Name: "id", Type: schema.TypeInteger, PrimaryKey: true},
		{Name: "label", Type: schema.TypeString},
		{Name: "count", Type: schema.TypeInteger, Default: schema.Literal(5)},
		{Name: "enabled", Type: schema.TypeBoolean, Default: schema.Literal(true)},
	}}
	_, _, repo := newTestRecords(t, counter)
	ctx := context.Background()

	rec, err := repo.FetchOrCreate(ctx, "counter", schema.Record{"label": "zero", "count": 0, "enabled": false})
	if err != nil {
		t.Fatalf("FetchOrCreate error: %v", err)
	}
	if rec.GetInt64("count") != 0 || rec.GetBool("enabled") {
		t.Fatalf("explicit zero values overridden: %v", rec)
	}
	if rec.GetInt64("id") == 0 {
		t.Fatalf("autoincrement id not assigned: %v", rec)
	}

	server, err := repo.FetchOrCreate(ctx, "server", schema.Record{
		"guild_id": 1, "guild_name": "g", "guild_owner_id": 2, "language": "",
	})
	if err != nil {
		t.Fatalf("FetchOrCreate server error: %v", err)
	}
	if server.GetString("language") != "" {
		t.Fatalf("language=%q, want explicit empty string", server.GetString("language"))
	}

	other, err := repo.FetchOrCreate(ctx, "server", schema.Record{"guild_id": 3, "guild_name": "h", "guild_owner_id": 4})
	if err != nil {
		t.Fatalf("FetchOrCreate server error: %v", err)
	}
	if other.GetString("language") != "en" {
		t.Fatalf("language=%q, want default en", other.GetString("language"))
	}
}

func TestFetchOrCreateConcurrentSameKey(t *testing.T) {
	db, _, repo := newTestRecords(t)
	ctx := context.Background()

	const workers = 8
	var wg sync.WaitGroup
	results := make([]schema.Record, workers)
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = repo.FetchOrCreate(ctx, "serveruser", schema.Record{"user_id": "42", "server_id": 7})
		}(i)
	}
	wg.Wait()

	for i := 0; i < workers; i++ {
		if errs[i] != nil {
			t.Fatalf("worker %d error: %v", i, errs[i])
		}
		if results[i].GetString("id") != "42_7" {
			t.Fatalf("worker %d id=%v", i, results[i]["id"])
		}
		if !results[i].GetTime("join_date").Equal(results[0].GetTime("join_date")) {
			t.Fatalf("worker %d saw a different record", i)
		}
	}
	if n := countRows(t, db, "serveruser"); n != 1 {
		t.Fatalf("rows=%d, want exactly 1", n)
	}
}

func TestFetchOrCreateEnrichment(t *testing.T) {
	db, _, repo := newTestRecords(t)
	ctx := context.Background()

	var calls atomic.Int32
	repo.RegisterEnricher("user", func(ctx context.Context, keys schema.Record) (schema.Record, error) {
		calls.Add(1)
		return schema.Record{"username": "from-platform", "avatar": "https://cdn/a.png"}, nil
	})

	rec, err := repo.FetchOrCreate(ctx, "user", schema.Record{"discord_id": "1"})
	if err != nil {
		t.Fatalf("FetchOrCreate error: %v", err)
	}
	if rec.GetString("username") != "from-platform" || rec.GetString("avatar") != "https://cdn/a.png" {
		t.Fatalf("enriched fields missing: %v", rec)
	}

	mine, err := repo.FetchOrCreate(ctx, "user", schema.Record{"discord_id": "2", "username": "mine"})
	if err != nil {
		t.Fatalf("FetchOrCreate error: %v", err)
	}
	if mine.GetString("username") != "mine" {
		t.Fatalf("caller field overridden by enrichment: %v", mine)
	}

	if _, err := repo.FetchOrCreate(ctx, "user", schema.Record{"discord_id": "1"}); err != nil {
		t.Fatalf("FetchOrCreate error: %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("enricher calls=%d, want 2 (not on the found path)", calls.Load())
	}
	if n := countRows(t, db, "user"); n != 2 {
		t.Fatalf("rows=%d, want 2", n)
	}
}

func TestFetchOrCreateEnrichmentFailureLeavesNoRow(t *testing.T) {
	db, _, repo := newTestRecords(t)
	ctx := context.Background()
	errPlatform := errors.New("platform unavailable")
	repo.RegisterEnricher("user", func(ctx context.Context, keys schema.Record) (schema.Record, error) {
		return nil, errPlatform
	})

	if _, err := repo.FetchOrCreate(ctx, "user", schema.Record{"discord_id": "1"}); !errors.Is(err, errPlatform) {
		t.Fatalf("err=%v, want enrichment error", err)
	}
	if n := countRows(t, db, "user"); n != 0 {
		t.Fatalf("rows=%d, want 0", n)
	}
}

func TestFetchOrCreateErrors(t *testing.T) {
	_, _, repo := newTestRecords(t)
	ctx := context.Background()

	if _, err := repo.FetchOrCreate(ctx, "nope", schema.Record{"a": 1}); !errors.Is(err, schema.ErrUnknownTable) {
		t.Fatalf("err=%v, want ErrUnknownTable", err)
	}
	if _, err := repo.FetchOrCreate(ctx, "user", nil); !errors.Is(err, schema.ErrMissingKey) {
		t.Fatalf("err=%v, want ErrMissingKey", err)
	}
}

func TestUpdateAbsentRecordReturnsNil(t *testing.T) {
	db, reg, repo := newTestRecords(t)
	ctx := context.Background()
	if _, err := reg.EnsureColumn(ctx, "serveruser", schema.ColumnSpec{Name: "warnings", Type: schema.TypeInteger, Default: schema.Literal(0)}); err != nil {
		t.Fatalf("EnsureColumn error: %v", err)
	}

	rec, err := repo.Update(ctx, "ServerUser", schema.Record{"user_id": "42", "server_id": "7"}, schema.Record{"warnings": 3})
	if err != nil {
		t.Fatalf("Update error: %v", err)
	}
	if rec != nil {
		t.Fatalf("rec=%v, want nil", rec)
	}
	if n := countRows(t, db, "serveruser"); n != 0 {
		t.Fatalf("rows=%d, update must never create", n)
	}
}

func TestUpdateExistingRecord(t *testing.T) {
	_, reg, repo := newTestRecords(t)
	ctx := context.Background()
	if _, err := reg.EnsureColumn(ctx, "serveruser", schema.ColumnSpec{Name: "warnings", Type: schema.TypeInteger, Default: schema.Literal(0)}); err != nil {
		t.Fatalf("EnsureColumn error: %v", err)
	}
	created, err := repo.FetchOrCreate(ctx, "serveruser", schema.Record{"user_id": "42", "server_id": 7})
	if err != nil {
		t.Fatalf("FetchOrCreate error: %v", err)
	}
	if created.GetInt64("warnings") != 0 {
		t.Fatalf("warnings=%v, want column default 0", created["warnings"])
	}

	rec, err := repo.Update(ctx, "serveruser", schema.Record{"user_id": "42", "server_id": 7}, schema.Record{"warnings": 3})
	if err != nil {
		t.Fatalf("Update error: %v", err)
	}
	if rec.GetInt64("warnings") != 3 || rec.GetString("id") != "42_7" {
		t.Fatalf("rec=%v", rec)
	}
}

func TestUpdateAmbiguousKey(t *testing.T) {
	note := schema.TableDef{Name: "note", Record: "Note", Columns: []schema.ColumnSpec{
		{Name: "id", Type: schema.TypeInteger, PrimaryKey: true},
		{Name: "author", Type: schema.TypeString},
		{Name: "body", Type: schema.TypeText, Nullable: true},
	}}
	db, _, repo := newTestRecords(t, note)
	ctx := context.Background()
	for _, body := range []string{"a", "b"} {
		if err := db.Table("note").Create(map[string]any{"author": "kim", "body": body}).Error; err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	if _, err := repo.Update(ctx, "note", schema.Record{"author": "kim"}, schema.Record{"body": "c"}); !errors.Is(err, schema.ErrAmbiguousKey) {
		t.Fatalf("err=%v, want ErrAmbiguousKey", err)
	}
	rec, err := repo.Update(ctx, "note", schema.Record{"author": "kim", "body": "a"}, schema.Record{"body": "c"})
	if err != nil || rec.GetString("body") != "c" {
		t.Fatalf("Update rec=%v err=%v", rec, err)
	}
}
