package dto

type StatusDTO struct {
	App     AppStatusDTO     `json:"app"`
	Storage StorageStatusDTO `json:"storage"`
	Restart RestartStatusDTO `json:"restart"`
	Events  EventsStatusDTO  `json:"events"`
}

type AppStatusDTO struct {
	Name      string `json:"name"`
	Version   string `json:"version"`
	StartedAt string `json:"started_at"`
	UptimeSec int64  `json:"uptime_sec"`
}

type StorageStatusDTO struct {
	DBPath         string   `json:"db_path"`
	DefinitionPath string   `json:"definition_path"`
	Tables         int      `json:"tables"`
	Definitions    int      `json:"definitions"`
	PendingTables  []string `json:"pending_tables,omitempty"`
}

type RestartStatusDTO struct {
	Enabled   bool `json:"enabled"`
	Requested bool `json:"requested"`
}

type EventsStatusDTO struct {
	Dropped int64 `json:"dropped"`
}
