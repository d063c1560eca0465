package service

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/yuqie6/ModuBot/internal/definition"
	"github.com/yuqie6/ModuBot/internal/eventbus"
	"github.com/yuqie6/ModuBot/internal/repository"
	"github.com/yuqie6/ModuBot/internal/schema"
	"github.com/yuqie6/ModuBot/internal/testutil"
	"gorm.io/gorm"
)

type testEngine struct {
	db      *gorm.DB
	reg     *repository.SchemaRegistry
	gen     *definition.Generator
	catalog *definition.Catalog
	engine  *SchemaEngine
}

func newTestEngine(t *testing.T, restart *RestartCoordinator) *testEngine {
	t.Helper()
	db := testutil.OpenTestDB(t)
	reg := repository.NewSchemaRegistry(db)
	if err := reg.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh error: %v", err)
	}
	gen := definition.NewGenerator(testutil.TempDefinitionPath(t))
	catalog := definition.NewCatalog(gen)
	engine := NewSchemaEngine(reg, reg.DDL(), gen, catalog, schema.NewDefaultRegistry(), restart, eventbus.NewHub())
	return &testEngine{db: db, reg: reg, gen: gen, catalog: catalog, engine: engine}
}

// countingRestart 记录重启钩子被调用的次数
func countingRestart(calls *atomic.Int32) RestartFunc {
	return func(ctx context.Context) error {
		calls.Add(1)
		return nil
	}
}

func pokedexBatch() Batch {
	return Batch{
		Module: "pokedex",
		Table:  "pokedexentry",
		Columns: []schema.ColumnSpec{
			{Name: "pokemon_id", Type: schema.TypeInteger, PrimaryKey: true},
			{Name: "name", Type: schema.TypeString},
			{Name: "type", Type: schema.TypeString},
			{Name: "description", Type: schema.TypeText, Nullable: true},
		},
	}
}

func waitDone(t *testing.T, c *RestartCoordinator) {
	t.Helper()
	select {
	case <-c.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("restart hook not called")
	}
}

func TestApplyBatchQueuedTableCreatedOnFinalColumn(t *testing.T) {
	te := newTestEngine(t, nil)
	ctx := context.Background()

	res, err := te.engine.ApplyBatch(ctx, pokedexBatch())
	if err != nil {
		t.Fatalf("ApplyBatch error: %v", err)
	}
	if res.ID == "" {
		t.Fatalf("batch id empty")
	}
	if len(res.Queued) != 3 || len(res.Applied) != 1 || res.Applied[0] != "description" {
		t.Fatalf("res=%+v", res)
	}

	info, ok := te.reg.Snapshot().Table("pokedexentry")
	if !ok || len(info.Columns) != 4 {
		t.Fatalf("table info=%+v ok=%v", info, ok)
	}
	if len(te.reg.PendingTables()) != 0 {
		t.Fatalf("pending=%v", te.reg.PendingTables())
	}

	src, err := os.ReadFile(te.gen.Path())
	if err != nil {
		t.Fatalf("read definition: %v", err)
	}
	if !strings.Contains(string(src), `table "pokedexentry"`) {
		t.Fatalf("definition missing table block:\n%s", src)
	}
	def, ok := te.catalog.Table("pokedexentry")
	if !ok || len(def.Columns) != 4 {
		t.Fatalf("catalog def=%+v ok=%v", def, ok)
	}
}

func TestApplyBatchOnExistingTableAppliesColumns(t *testing.T) {
	te := newTestEngine(t, nil)
	ctx := context.Background()
	if err := te.engine.Bootstrap(ctx); err != nil {
		t.Fatalf("Bootstrap error: %v", err)
	}

	batch := Batch{
		Module: "invite_tracker",
		Table:  "serveruser",
		Columns: []schema.ColumnSpec{
			{Name: "invited_by", Type: schema.TypeBigInteger, Nullable: true},
			{Name: "invites_count", Type: schema.TypeInteger, Default: schema.Literal(0)},
			{Name: "stayed_invitees", Type: schema.TypeInteger, Default: schema.Literal(0)},
		},
	}
	res, err := te.engine.ApplyBatch(ctx, batch)
	if err != nil {
		t.Fatalf("ApplyBatch error: %v", err)
	}
	if len(res.Applied) != 3 {
		t.Fatalf("res=%+v", res)
	}
	def, ok := te.catalog.Table("serveruser")
	if !ok {
		t.Fatalf("serveruser missing from catalog")
	}
	if _, ok := def.Column("invites_count"); !ok {
		t.Fatalf("catalog not reloaded: %+v", def.Columns)
	}
	if d, ok := te.engine.Defaults().Lookup("serveruser", "invites_count"); !ok || d.Value() != 0 {
		t.Fatalf("default not registered: %+v ok=%v", d, ok)
	}

	// 重放：全部已存在
	res, err = te.engine.ApplyBatch(ctx, batch)
	if err != nil {
		t.Fatalf("replay error: %v", err)
	}
	if len(res.Existing) != 3 || len(res.Applied) != 0 {
		t.Fatalf("replay res=%+v", res)
	}
}

func TestRestartScheduledOnceForNewFinalColumn(t *testing.T) {
	var calls atomic.Int32
	restart := NewRestartCoordinator(RestartOptions{Enabled: true}, countingRestart(&calls), nil)
	te := newTestEngine(t, restart)
	ctx := context.Background()

	res, err := te.engine.ApplyBatch(ctx, pokedexBatch())
	if err != nil {
		t.Fatalf("ApplyBatch error: %v", err)
	}
	if !res.Restart {
		t.Fatalf("restart not scheduled: %+v", res)
	}
	waitDone(t, restart)

	other := Batch{
		Module:  "extra",
		Table:   "pokedexentry",
		Columns: []schema.ColumnSpec{{Name: "generation", Type: schema.TypeInteger, Default: schema.Literal(1)}},
	}
	res, err = te.engine.ApplyBatch(ctx, other)
	if err != nil {
		t.Fatalf("second ApplyBatch error: %v", err)
	}
	if res.Restart {
		t.Fatalf("restart scheduled twice")
	}
	if calls.Load() != 1 {
		t.Fatalf("calls=%d, want 1", calls.Load())
	}
}

func TestNoRestartWhenFinalColumnAlreadyExists(t *testing.T) {
	te := newTestEngine(t, nil)
	ctx := context.Background()
	if _, err := te.engine.ApplyBatch(ctx, pokedexBatch()); err != nil {
		t.Fatalf("ApplyBatch error: %v", err)
	}

	var calls atomic.Int32
	te.engine.restart = NewRestartCoordinator(RestartOptions{Enabled: true}, countingRestart(&calls), nil)
	res, err := te.engine.ApplyBatch(ctx, pokedexBatch())
	if err != nil {
		t.Fatalf("replay error: %v", err)
	}
	if res.Restart || te.engine.Restart().Requested() {
		t.Fatalf("replayed batch scheduled a restart")
	}
}

func TestNoRestartWhenConcurrentCreatorBuiltWholeTable(t *testing.T) {
	var calls atomic.Int32
	restart := NewRestartCoordinator(RestartOptions{Enabled: true}, countingRestart(&calls), nil)
	te := newTestEngine(t, restart)
	ctx := context.Background()

	// 快照过期：另一个写者已建好整张表
	if err := te.db.Exec(`CREATE TABLE "pokedexentry" ("pokemon_id" INTEGER NOT NULL PRIMARY KEY, "name" VARCHAR(255) NOT NULL, "type" VARCHAR(255) NOT NULL, "description" TEXT)`).Error; err != nil {
		t.Fatalf("create: %v", err)
	}

	res, err := te.engine.ApplyBatch(ctx, pokedexBatch())
	if err != nil {
		t.Fatalf("ApplyBatch error: %v", err)
	}
	if res.Restart || restart.Requested() {
		t.Fatalf("no-op final column scheduled a restart: %+v", res)
	}
	if len(res.Applied) != 0 || len(res.Existing) != 1 || res.Existing[0] != "description" {
		t.Fatalf("res=%+v", res)
	}
	if _, ok := te.catalog.Table("pokedexentry"); !ok {
		t.Fatalf("definition should still be patched and reloaded")
	}
	if calls.Load() != 0 {
		t.Fatalf("calls=%d, want 0", calls.Load())
	}
}

func TestFailedRestartReloadsCatalogInProcess(t *testing.T) {
	var calls atomic.Int32
	restart := NewRestartCoordinator(RestartOptions{Enabled: true}, func(ctx context.Context) error {
		calls.Add(1)
		return errors.New("exec not permitted")
	}, nil)
	te := newTestEngine(t, restart)
	ctx := context.Background()

	res, err := te.engine.ApplyBatch(ctx, pokedexBatch())
	if err != nil {
		t.Fatalf("ApplyBatch error: %v", err)
	}
	if !res.Restart {
		t.Fatalf("restart should be scheduled: %+v", res)
	}
	waitDone(t, restart)

	if calls.Load() != 1 {
		t.Fatalf("calls=%d, want 1", calls.Load())
	}
	def, ok := te.catalog.Table("pokedexentry")
	if !ok || len(def.Columns) != 4 {
		t.Fatalf("catalog should be reloaded after a failed restart: def=%+v ok=%v", def, ok)
	}
}

// failingWriter 定义文件补丁总是失败
type failingWriter struct{}

func (failingWriter) Exists() bool { return true }
func (failingWriter) RegenerateFull(*schema.Snapshot, []schema.TableDef) ([]schema.TableDef, error) {
	return nil, schema.ErrDefinitionCorrupt
}
func (failingWriter) Patch(string, schema.ColumnSpec) (bool, error) {
	return false, schema.ErrDefinitionCorrupt
}

type emptyCatalog struct{ reloads int }

func (c *emptyCatalog) Reload() error                        { c.reloads++; return nil }
func (c *emptyCatalog) Table(string) (schema.TableDef, bool) { return schema.TableDef{}, false }
func (c *emptyCatalog) Tables() []schema.TableDef            { return nil }

func TestPatchFailureBlocksRestart(t *testing.T) {
	db := testutil.OpenTestDB(t)
	reg := repository.NewSchemaRegistry(db)
	if err := reg.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh error: %v", err)
	}
	var calls atomic.Int32
	restart := NewRestartCoordinator(RestartOptions{Enabled: true}, countingRestart(&calls), nil)
	catalog := &emptyCatalog{}
	engine := NewSchemaEngine(reg, reg.DDL(), failingWriter{}, catalog, nil, restart, nil)

	res, err := engine.ApplyBatch(context.Background(), pokedexBatch())
	if !errors.Is(err, schema.ErrDefinitionCorrupt) {
		t.Fatalf("err=%v, want ErrDefinitionCorrupt", err)
	}
	if res.Restart || restart.Requested() || calls.Load() != 0 {
		t.Fatalf("restart must not be scheduled when the definition was not patched")
	}
	// 表已经建好，只是定义文件没跟上
	if !reg.Snapshot().HasColumn("pokedexentry", "description") {
		t.Fatalf("table not created")
	}
	if catalog.reloads != 0 {
		t.Fatalf("catalog reloaded after failed patch")
	}
}

func TestApplyBatchRejectsEmpty(t *testing.T) {
	te := newTestEngine(t, nil)
	_, err := te.engine.ApplyBatch(context.Background(), Batch{Module: "empty", Table: "x"})
	if !errors.Is(err, schema.ErrNoPendingColumns) {
		t.Fatalf("err=%v", err)
	}
}

func TestBootstrapCreatesBuiltinTablesAndDefinition(t *testing.T) {
	te := newTestEngine(t, nil)
	ctx := context.Background()
	if err := te.engine.Bootstrap(ctx); err != nil {
		t.Fatalf("Bootstrap error: %v", err)
	}

	for _, name := range []string{schema.TableUser, schema.TableServer, schema.TableServerUser} {
		if _, ok := te.reg.Snapshot().Table(name); !ok {
			t.Fatalf("table %s not created", name)
		}
		if _, ok := te.catalog.Table(name); !ok {
			t.Fatalf("table %s missing from catalog", name)
		}
	}
	if !te.gen.Exists() {
		t.Fatalf("definition file not generated")
	}
	v, ok := te.engine.Defaults().Resolve("serveruser", "id", schema.Record{"user_id": "42", "server_id": int64(7)})
	if !ok || v != "42_7" {
		t.Fatalf("serveruser id default=%v ok=%v", v, ok)
	}

	// 第二次启动：不重新生成，结果不变
	before, _ := os.ReadFile(te.gen.Path())
	if err := te.engine.Bootstrap(ctx); err != nil {
		t.Fatalf("second Bootstrap error: %v", err)
	}
	after, _ := os.ReadFile(te.gen.Path())
	if string(before) != string(after) {
		t.Fatalf("definition changed on restart:\n%s\n---\n%s", before, after)
	}
}

func TestBootstrapCreatesTablesDeclaredInDefinition(t *testing.T) {
	te := newTestEngine(t, nil)
	ctx := context.Background()
	for _, c := range pokedexBatch().Columns {
		if _, err := te.gen.Patch("pokedexentry", c); err != nil {
			t.Fatalf("Patch error: %v", err)
		}
	}

	if err := te.engine.Bootstrap(ctx); err != nil {
		t.Fatalf("Bootstrap error: %v", err)
	}
	info, ok := te.reg.Snapshot().Table("pokedexentry")
	if !ok || len(info.Columns) != 4 {
		t.Fatalf("pokedexentry info=%+v ok=%v", info, ok)
	}
	if _, ok := te.reg.Snapshot().Table(schema.TableServerUser); !ok {
		t.Fatalf("builtin table missing")
	}
	if _, ok := te.catalog.Table(schema.TableUser); !ok {
		t.Fatalf("builtin table not patched into definition")
	}
}

func TestReconcilePatchesColumnsAddedOutsideTheEngine(t *testing.T) {
	te := newTestEngine(t, nil)
	ctx := context.Background()
	if err := te.engine.Bootstrap(ctx); err != nil {
		t.Fatalf("Bootstrap error: %v", err)
	}

	if err := te.db.Exec("ALTER TABLE server ADD COLUMN prefix VARCHAR(16)").Error; err != nil {
		t.Fatalf("alter: %v", err)
	}
	if err := te.reg.Refresh(ctx); err != nil {
		t.Fatalf("Refresh error: %v", err)
	}

	n, err := te.engine.Reconcile(ctx)
	if err != nil {
		t.Fatalf("Reconcile error: %v", err)
	}
	if n != 1 {
		t.Fatalf("patched=%d, want 1", n)
	}
	def, _ := te.catalog.Table("server")
	if _, ok := def.Column("prefix"); !ok {
		t.Fatalf("catalog missing prefix: %+v", def.Columns)
	}

	if n, err := te.engine.Reconcile(ctx); err != nil || n != 0 {
		t.Fatalf("second Reconcile n=%d err=%v", n, err)
	}
}

func TestEnsureColumnConflictSurfaces(t *testing.T) {
	te := newTestEngine(t, nil)
	ctx := context.Background()
	if err := te.engine.Bootstrap(ctx); err != nil {
		t.Fatalf("Bootstrap error: %v", err)
	}
	_, err := te.engine.EnsureColumn(ctx, "server", schema.ColumnSpec{Name: "guild_name", Type: schema.TypeBoolean})
	if !errors.Is(err, schema.ErrColumnConflict) {
		t.Fatalf("err=%v, want ErrColumnConflict", err)
	}
}
