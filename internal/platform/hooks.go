package platform

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/yuqie6/ModuBot/internal/repository"
	"github.com/yuqie6/ModuBot/internal/schema"
)

// API 记录补全所需的平台查询
type API interface {
	User(ctx context.Context, id string) (*User, error)
	Guild(ctx context.Context, id string) (*Guild, error)
	Member(ctx context.Context, guildID, userID string) (*Member, error)
	AvatarURL(u *User) string
	IconURL(g *Guild) string
}

// RecordStore 记录访问门面
type RecordStore interface {
	RegisterEnricher(table string, fn repository.EnrichFunc)
	FetchOrCreate(ctx context.Context, table string, keys schema.Record) (schema.Record, error)
}

// Hooks 内置表的创建前补全：从平台拉取用户、服务器、成员信息
type Hooks struct {
	api     API
	records RecordStore
}

func NewHooks(api API, records RecordStore) *Hooks {
	return &Hooks{api: api, records: records}
}

// Register 为 user、server、serveruser 登记补全函数
func (h *Hooks) Register() {
	h.records.RegisterEnricher(schema.TableUser, h.enrichUser)
	h.records.RegisterEnricher(schema.TableServer, h.enrichServer)
	h.records.RegisterEnricher(schema.TableServerUser, h.enrichServerUser)
	slog.Info("平台补全钩子已登记")
}

func (h *Hooks) enrichUser(ctx context.Context, keys schema.Record) (schema.Record, error) {
	id := keys.GetString("discord_id")
	if id == "" {
		return nil, fmt.Errorf("%w: user.discord_id", schema.ErrMissingKey)
	}
	u, err := h.api.User(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("获取用户 %s 失败: %w", id, err)
	}

	out := schema.Record{"username": u.Username}
	if avatar := h.api.AvatarURL(u); avatar != "" {
		out["avatar"] = avatar
	}
	if created, err := SnowflakeTime(u.ID); err == nil {
		out["account_creation_date"] = created
	}
	return out, nil
}

func (h *Hooks) enrichServer(ctx context.Context, keys schema.Record) (schema.Record, error) {
	id := keys.GetInt64("guild_id")
	if id == 0 {
		return nil, fmt.Errorf("%w: server.guild_id", schema.ErrMissingKey)
	}
	g, err := h.api.Guild(ctx, strconv.FormatInt(id, 10))
	if err != nil {
		return nil, fmt.Errorf("获取服务器 %d 失败: %w", id, err)
	}
	owner, err := strconv.ParseInt(g.OwnerID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("服务器 %d 的 owner_id 无效: %w", id, err)
	}

	out := schema.Record{
		"guild_name":     g.Name,
		"guild_owner_id": owner,
	}
	if icon := h.api.IconURL(g); icon != "" {
		out["guild_icon_url"] = icon
	}
	return out, nil
}

// enrichServerUser 先确保所属服务器记录存在，再取成员加入时间
func (h *Hooks) enrichServerUser(ctx context.Context, keys schema.Record) (schema.Record, error) {
	userID := keys.GetString("user_id")
	serverID := keys.GetInt64("server_id")
	if userID == "" || serverID == 0 {
		return nil, fmt.Errorf("%w: serveruser.user_id/server_id", schema.ErrMissingKey)
	}

	if _, err := h.records.FetchOrCreate(ctx, schema.TableServer, schema.Record{"guild_id": serverID}); err != nil {
		return nil, fmt.Errorf("确保服务器记录失败: %w", err)
	}
	m, err := h.api.Member(ctx, strconv.FormatInt(serverID, 10), userID)
	if err != nil {
		return nil, fmt.Errorf("获取成员 %s@%d 失败: %w", userID, serverID, err)
	}

	out := schema.Record{}
	if !m.JoinedAt.IsZero() {
		out["join_date"] = m.JoinedAt.UTC()
	}
	return out, nil
}
