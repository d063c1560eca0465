package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/yuqie6/ModuBot/internal/dto"
	"github.com/yuqie6/ModuBot/internal/schema"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}

func parseInt64Param(value string) (int64, error) {
	v := strings.TrimSpace(value)
	if v == "" {
		return 0, fmt.Errorf("参数为空")
	}
	return strconv.ParseInt(v, 10, 64)
}

func parseIntParam(value string, def int) int {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func toColumnDTO(c schema.ColumnSpec) dto.ColumnDTO {
	out := dto.ColumnDTO{
		Name:       c.Name,
		Type:       string(c.Type),
		Nullable:   c.Nullable,
		PrimaryKey: c.PrimaryKey,
	}
	if c.Type == schema.TypeString {
		out.Size = c.Size
	}
	switch c.Default.Kind() {
	case schema.DefaultLiteral:
		out.Default = c.Default.Value()
	case schema.DefaultFunc, schema.DefaultFromRecord:
		out.DefaultFunc = c.Default.Name()
	}
	return out
}
