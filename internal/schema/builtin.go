package schema

import "fmt"

// 内置表：用户、服务器、成员关系
const (
	TableUser       = "user"
	TableServer     = "server"
	TableServerUser = "serveruser"
)

// ServerUserID 成员关系的组合主键 "<user_id>_<server_id>"
func ServerUserID(rec Record) any {
	if !rec.Has("user_id") || !rec.Has("server_id") {
		return nil
	}
	return fmt.Sprintf("%s_%s", rec.GetString("user_id"), rec.GetString("server_id"))
}

// BuiltinTables 完整重新生成时始终写入的表
func BuiltinTables() []TableDef {
	return []TableDef{
		{
			Name:   TableUser,
			Record: "User",
			Columns: []ColumnSpec{
				{Name: "discord_id", Type: TypeString, PrimaryKey: true},
				{Name: "global_join_date", Type: TypeDateTime, Default: Now()},
				{Name: "username", Type: TypeString},
				{Name: "avatar", Type: TypeText, Nullable: true},
				{Name: "account_creation_date", Type: TypeDateTime, Default: Now()},
			},
		},
		{
			Name:   TableServer,
			Record: "Server",
			Columns: []ColumnSpec{
				{Name: "guild_id", Type: TypeBigInteger, PrimaryKey: true},
				{Name: "guild_name", Type: TypeText},
				{Name: "guild_owner_id", Type: TypeBigInteger},
				{Name: "guild_icon_url", Type: TypeText, Nullable: true},
				{Name: "language", Type: TypeString, Default: Literal("en"), Nullable: true},
			},
		},
		{
			Name:   TableServerUser,
			Record: "ServerUser",
			Columns: []ColumnSpec{
				{Name: "id", Type: TypeString, PrimaryKey: true, Default: FromRecord("serveruser_id", ServerUserID)},
				{Name: "user_id", Type: TypeString},
				{Name: "server_id", Type: TypeBigInteger},
				{Name: "join_date", Type: TypeDateTime, Default: Now()},
			},
		},
	}
}

// RegisterBuiltinDefaults 登记内置表的默认值与具名函数
func RegisterBuiltinDefaults(r *DefaultRegistry) {
	r.RegisterNamed(Now())
	r.RegisterNamed(FromRecord("serveruser_id", ServerUserID))
	for _, t := range BuiltinTables() {
		for _, c := range t.Columns {
			r.Register(t.Name, c.Name, c.Default)
		}
	}
}
