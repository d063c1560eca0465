package httpapi

import (
	"net/http"
	"time"

	"github.com/yuqie6/ModuBot/internal/dto"
	"github.com/yuqie6/ModuBot/internal/modules"
)

func (a *apiServer) registerJSONRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/status", a.handleStatus)
	mux.HandleFunc("GET /api/schema", a.handleSchema)
	mux.HandleFunc("GET /api/definitions", a.handleDefinitions)
	mux.HandleFunc("POST /api/definitions/reload", a.handleDefinitionsReload)
	mux.HandleFunc("GET /api/leaderboard", a.handleLeaderboard)
}

func (a *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap := a.deps.Schema.Snapshot()
	writeJSON(w, http.StatusOK, dto.StatusDTO{
		App: dto.AppStatusDTO{
			Name:      a.deps.Name,
			Version:   a.deps.Version,
			StartedAt: a.startTime.Format(time.RFC3339),
			UptimeSec: int64(time.Since(a.startTime).Seconds()),
		},
		Storage: dto.StorageStatusDTO{
			DBPath:         a.deps.DBPath,
			DefinitionPath: a.deps.DefinitionPath,
			Tables:         len(snap.Tables),
			Definitions:    len(a.deps.Definitions.Tables()),
			PendingTables:  a.deps.Schema.PendingTables(),
		},
		Restart: dto.RestartStatusDTO{
			Enabled:   a.deps.Restart.Enabled(),
			Requested: a.deps.Restart.Requested(),
		},
		Events: dto.EventsStatusDTO{Dropped: a.deps.Hub.Dropped()},
	})
}

// handleSchema 实时库结构（反射快照）
func (a *apiServer) handleSchema(w http.ResponseWriter, r *http.Request) {
	snap := a.deps.Schema.Snapshot()
	out := dto.SchemaDTO{
		TakenAt: snap.TakenAt.UnixMilli(),
		Tables:  make([]dto.TableDTO, 0, len(snap.Tables)),
		Pending: a.deps.Schema.PendingTables(),
	}
	for _, name := range snap.TableNames() {
		info, _ := snap.Table(name)
		t := dto.TableDTO{Name: name, Columns: make([]dto.ColumnDTO, 0, len(info.Columns))}
		for _, c := range info.Columns {
			t.Columns = append(t.Columns, toColumnDTO(c.Spec()))
		}
		out.Tables = append(out.Tables, t)
	}
	writeJSON(w, http.StatusOK, out)
}

// handleDefinitions 定义文件中的记录描述
func (a *apiServer) handleDefinitions(w http.ResponseWriter, r *http.Request) {
	defs := a.deps.Definitions.Tables()
	out := make([]dto.TableDTO, 0, len(defs))
	for _, def := range defs {
		t := dto.TableDTO{Name: def.Name, Record: def.Record, Columns: make([]dto.ColumnDTO, 0, len(def.Columns))}
		for _, c := range def.Columns {
			t.Columns = append(t.Columns, toColumnDTO(c))
		}
		out = append(out, t)
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *apiServer) handleDefinitionsReload(w http.ResponseWriter, r *http.Request) {
	if err := a.deps.Definitions.Reload(); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "tables": len(a.deps.Definitions.Tables())})
}

// handleLeaderboard GET /api/leaderboard?server=<id>&period=week&limit=10
func (a *apiServer) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	if a.deps.DB == nil {
		writeError(w, http.StatusServiceUnavailable, "数据库不可用")
		return
	}
	q := r.URL.Query()
	serverID, err := parseInt64Param(q.Get("server"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "server 参数无效")
		return
	}
	period, err := modules.ParsePeriod(q.Get("period"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rows, err := modules.Leaderboard(r.Context(), a.deps.DB, serverID, period, parseIntParam(q.Get("limit"), 10), time.Now())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := dto.LeaderboardDTO{ServerID: serverID, Period: string(period), Entries: make([]dto.LeaderboardEntryDTO, 0, len(rows))}
	for i, row := range rows {
		out.Entries = append(out.Entries, dto.LeaderboardEntryDTO{
			Rank:   i + 1,
			UserID: row.UserID,
			Total:  row.Total,
			Stayed: row.Stayed,
			Left:   row.Left,
		})
	}
	writeJSON(w, http.StatusOK, out)
}
