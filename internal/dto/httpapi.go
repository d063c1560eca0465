package dto

// 注意：本包用于承载“对外契约”的 DTO（管理 HTTP API 保持稳定）。
// 不要在这里放 GORM/持久化细节；结构描述请见 internal/schema。

type ColumnDTO struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Size        int    `json:"size,omitempty"`
	Nullable    bool   `json:"nullable"`
	PrimaryKey  bool   `json:"primary_key"`
	Default     any    `json:"default,omitempty"`
	DefaultFunc string `json:"default_func,omitempty"`
}

type TableDTO struct {
	Name    string      `json:"name"`
	Record  string      `json:"record,omitempty"`
	Columns []ColumnDTO `json:"columns"`
}

type SchemaDTO struct {
	TakenAt int64      `json:"taken_at"`
	Tables  []TableDTO `json:"tables"`
	Pending []string   `json:"pending,omitempty"`
}

type LeaderboardEntryDTO struct {
	Rank   int    `json:"rank"`
	UserID string `json:"user_id"`
	Total  int64  `json:"total"`
	Stayed int64  `json:"stayed"`
	Left   int64  `json:"left"`
}

type LeaderboardDTO struct {
	ServerID int64                 `json:"server_id"`
	Period   string                `json:"period"`
	Entries  []LeaderboardEntryDTO `json:"entries"`
}
