package modules

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/yuqie6/ModuBot/internal/schema"
	"github.com/yuqie6/ModuBot/internal/service"
)

const InviteTrackerName = "invite_tracker"

// InviteTracker 邀请统计：在成员关系表上记录邀请人与邀请数
type InviteTracker struct{}

func (InviteTracker) Name() string { return InviteTrackerName }

func (InviteTracker) Batches() []service.Batch {
	return []service.Batch{{
		Table: schema.TableServerUser,
		Columns: []schema.ColumnSpec{
			{Name: "invited_by", Type: schema.TypeBigInteger, Nullable: true},
			{Name: "invites_count", Type: schema.TypeInteger, Default: schema.Literal(0)},
			{Name: "left_guild", Type: schema.TypeBoolean, Default: schema.Literal(false)},
			{Name: "left_invitees", Type: schema.TypeInteger, Default: schema.Literal(0)},
			{Name: "stayed_invitees", Type: schema.TypeInteger, Default: schema.Literal(0)},
		},
	}}
}

// Period 排行榜统计区间
type Period string

const (
	PeriodToday   Period = "today"
	PeriodWeek    Period = "week"
	PeriodMonth   Period = "month"
	PeriodAllTime Period = "all_time"
)

// ParsePeriod 解析区间名，空串视为 all_time
func ParsePeriod(s string) (Period, error) {
	switch p := Period(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return PeriodAllTime, nil
	case PeriodToday, PeriodWeek, PeriodMonth, PeriodAllTime:
		return p, nil
	default:
		return "", fmt.Errorf("无效的统计区间: %q", s)
	}
}

// PeriodRange 按 UTC 自然日、ISO 周（周一开始）、自然月计算 [start, end)
// all_time 返回 ok=false，表示不过滤
func PeriodRange(p Period, now time.Time) (start, end time.Time, ok bool) {
	now = now.UTC()
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	switch p {
	case PeriodToday:
		return day, day.AddDate(0, 0, 1), true
	case PeriodWeek:
		offset := (int(day.Weekday()) + 6) % 7
		start = day.AddDate(0, 0, -offset)
		return start, start.AddDate(0, 0, 7), true
	case PeriodMonth:
		start = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
		return start, start.AddDate(0, 1, 0), true
	default:
		return time.Time{}, time.Time{}, false
	}
}

// LeaderboardEntry 排行榜的一行
type LeaderboardEntry struct {
	UserID string `gorm:"column:user_id"`
	Total  int64  `gorm:"column:total"`
	Stayed int64  `gorm:"column:stayed"`
	Left   int64  `gorm:"column:left_count"`
}

// Leaderboard 某服务器在区间内按邀请总数降序的前 limit 名
func Leaderboard(ctx context.Context, db *gorm.DB, serverID int64, p Period, limit int, now time.Time) ([]LeaderboardEntry, error) {
	if limit <= 0 {
		limit = 10
	}
	q := db.WithContext(ctx).
		Table(schema.TableServerUser).
		Select("user_id, SUM(invites_count) AS total, SUM(stayed_invitees) AS stayed, SUM(left_invitees) AS left_count").
		Where("server_id = ?", serverID)
	if start, end, ok := PeriodRange(p, now); ok {
		q = q.Where("join_date >= ? AND join_date < ?", start, end)
	}

	var out []LeaderboardEntry
	err := q.Group("user_id").
		Order("total DESC, user_id ASC").
		Limit(limit).
		Scan(&out).Error
	if err != nil {
		return nil, fmt.Errorf("查询邀请排行榜失败: %w", err)
	}
	return out, nil
}
