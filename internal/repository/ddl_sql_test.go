package repository

import (
	"strings"
	"testing"

	"github.com/yuqie6/ModuBot/internal/schema"
)

func TestBuildColumnClauseOrder(t *testing.T) {
	cases := []struct {
		col  schema.ColumnSpec
		want string
	}{
		{
			col:  schema.ColumnSpec{Name: "Language", Type: schema.TypeString, Default: schema.Literal("en"), Nullable: true},
			want: `"language" VARCHAR(255) DEFAULT 'en'`,
		},
		{
			col:  schema.ColumnSpec{Name: "warnings", Type: schema.TypeInteger, Default: schema.Literal(0)},
			want: `"warnings" INTEGER DEFAULT 0 NOT NULL`,
		},
		{
			col:  schema.ColumnSpec{Name: "automod", Type: schema.TypeBoolean, Default: schema.Literal(true)},
			want: `"automod" BOOLEAN DEFAULT 1 NOT NULL`,
		},
		{
			col:  schema.ColumnSpec{Name: "notes", Type: schema.TypeString, Size: 64, Default: schema.Literal("it's"), Nullable: true},
			want: `"notes" VARCHAR(64) DEFAULT 'it''s'`,
		},
		{
			col:  schema.ColumnSpec{Name: "join_date", Type: schema.TypeDateTime, Default: schema.Now()},
			want: `"join_date" DATETIME NOT NULL`,
		},
		{
			col:  schema.ColumnSpec{Name: "discord_id", Type: schema.TypeString, PrimaryKey: true},
			want: `"discord_id" VARCHAR(255) NOT NULL PRIMARY KEY`,
		},
		{
			col:  schema.ColumnSpec{Name: "id", Type: schema.TypeInteger, PrimaryKey: true},
			want: `"id" INTEGER PRIMARY KEY AUTOINCREMENT`,
		},
		{
			col:  schema.ColumnSpec{Name: "id", Type: schema.TypeBigInteger, PrimaryKey: true},
			want: `"id" INTEGER PRIMARY KEY AUTOINCREMENT`,
		},
	}
	for _, tc := range cases {
		if got := buildColumnClause(tc.col.Canonical(), true); got != tc.want {
			t.Fatalf("buildColumnClause(%s)=%q, want %q", tc.col.Name, got, tc.want)
		}
	}
}

func TestBuildCreateTableSQLCompositeKey(t *testing.T) {
	spec := schema.TableSpec{Name: "Membership", Columns: []schema.ColumnSpec{
		{Name: "user_id", Type: schema.TypeString, PrimaryKey: true},
		{Name: "server_id", Type: schema.TypeBigInteger, PrimaryKey: true},
		{Name: "id", Type: schema.TypeInteger},
	}}
	stmt, err := buildCreateTableSQL(spec)
	if err != nil {
		t.Fatalf("buildCreateTableSQL error: %v", err)
	}
	if !strings.HasPrefix(stmt, `CREATE TABLE "membership" (`) {
		t.Fatalf("stmt=%q", stmt)
	}
	if !strings.Contains(stmt, `PRIMARY KEY ("user_id", "server_id")`) {
		t.Fatalf("composite key missing: %q", stmt)
	}
	if strings.Contains(stmt, "AUTOINCREMENT") {
		t.Fatalf("composite keys must not autoincrement: %q", stmt)
	}
}

func TestBuildCreateTableSQLRejectsEmptyTable(t *testing.T) {
	if _, err := buildCreateTableSQL(schema.TableSpec{Name: "ghost"}); err == nil {
		t.Fatalf("expected error for a table without columns")
	}
}

func TestBuildAddColumnSQL(t *testing.T) {
	stmt, err := buildAddColumnSQL("ServerUser", schema.ColumnSpec{Name: "invited_by", Type: schema.TypeBigInteger, Nullable: true})
	if err != nil {
		t.Fatalf("buildAddColumnSQL error: %v", err)
	}
	if want := `ALTER TABLE "serveruser" ADD COLUMN "invited_by" BIGINT`; stmt != want {
		t.Fatalf("stmt=%q, want %q", stmt, want)
	}
	if _, err := buildAddColumnSQL("serveruser", schema.ColumnSpec{Name: "x", Type: "uuid"}); err == nil {
		t.Fatalf("expected error for an unknown type")
	}
}
