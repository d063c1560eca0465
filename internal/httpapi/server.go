package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/yuqie6/ModuBot/internal/eventbus"
	"github.com/yuqie6/ModuBot/internal/schema"
	"github.com/yuqie6/ModuBot/internal/service"
)

// SchemaSource 实时库结构
type SchemaSource interface {
	Snapshot() *schema.Snapshot
	PendingTables() []string
}

// DefinitionSource 定义文件目录
type DefinitionSource interface {
	Reload() error
	Tables() []schema.TableDef
}

// Deps 管理 API 的依赖
type Deps struct {
	Name           string
	Version        string
	DBPath         string
	DefinitionPath string

	Hub         *eventbus.Hub
	Schema      SchemaSource
	Definitions DefinitionSource
	DB          *gorm.DB
	Restart     *service.RestartCoordinator
}

type LocalServer struct {
	hub     *eventbus.Hub
	ln      net.Listener
	srv     *http.Server
	baseURL string
}

type Options struct {
	ListenAddr string // e.g. "127.0.0.1:0"
}

// Start 启动本地管理 HTTP；ctx 结束时自动关闭
func Start(ctx context.Context, deps Deps, opts Options) (*LocalServer, error) {
	if deps.Schema == nil || deps.Definitions == nil {
		return nil, fmt.Errorf("deps 不完整")
	}
	if strings.TrimSpace(opts.ListenAddr) == "" {
		opts.ListenAddr = "127.0.0.1:0"
	}

	ln, err := net.Listen("tcp", opts.ListenAddr)
	if err != nil {
		return nil, err
	}

	srv := &http.Server{
		Handler:           NewHandler(deps),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ls := &LocalServer{
		hub:     deps.Hub,
		ln:      ln,
		srv:     srv,
		baseURL: "http://" + ln.Addr().String(),
	}

	go func() {
		<-ctx.Done()
		_ = ls.Shutdown(context.Background())
	}()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server 异常退出", "error", err)
		}
	}()

	slog.Info("管理 HTTP 已启动", "base_url", ls.baseURL)
	return ls, nil
}

func (s *LocalServer) BaseURL() string {
	if s == nil {
		return ""
	}
	return s.baseURL
}

func (s *LocalServer) Shutdown(ctx context.Context) error {
	if s == nil || s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

// NewHandler 构建路由
func NewHandler(deps Deps) http.Handler {
	if deps.Hub == nil {
		deps.Hub = eventbus.NewHub()
	}
	api := newAPI(deps)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", api.handleHealth)
	mux.HandleFunc("/api/events", api.handleSSE)
	api.registerJSONRoutes(mux)
	return mux
}

type apiServer struct {
	deps      Deps
	startTime time.Time
}

func newAPI(deps Deps) *apiServer {
	return &apiServer{
		deps:      deps,
		startTime: time.Now(),
	}
}

func (a *apiServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":         true,
		"name":       a.deps.Name,
		"version":    a.deps.Version,
		"started_at": a.startTime.Format(time.RFC3339),
	})
}

// handleSSE 推送结构变更事件
func (a *apiServer) handleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "stream not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ctx := r.Context()
	var types []string
	if t := strings.TrimSpace(r.URL.Query().Get("types")); t != "" {
		types = strings.Split(t, ",")
	}
	sub := a.deps.Hub.Subscribe(ctx, 32, types...)

	_, _ = io.WriteString(w, "event: ready\n")
	_, _ = io.WriteString(w, "data: {}\n\n")
	flusher.Flush()

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = io.WriteString(w, "event: ping\n")
			_, _ = io.WriteString(w, "data: {}\n\n")
			flusher.Flush()
		case evt, ok := <-sub:
			if !ok {
				return
			}
			b, _ := json.Marshal(evt)
			_, _ = io.WriteString(w, "event: "+sanitizeSSEName(evt.Type)+"\n")
			_, _ = io.WriteString(w, "data: ")
			_, _ = w.Write(b)
			_, _ = io.WriteString(w, "\n\n")
			flusher.Flush()
		}
	}
}

func sanitizeSSEName(name string) string {
	n := strings.TrimSpace(name)
	if n == "" {
		return "message"
	}
	n = strings.ReplaceAll(n, "\n", "")
	n = strings.ReplaceAll(n, "\r", "")
	return n
}
