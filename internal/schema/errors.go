package schema

import (
	"errors"
	"strings"

	"gorm.io/gorm"
)

var (
	// ErrColumnConflict 同名列以不同形状重复声明
	ErrColumnConflict = errors.New("列定义冲突")
	// ErrNoPendingColumns 建表时没有排队的列
	ErrNoPendingColumns = errors.New("没有待创建的列")
	// ErrDDLFailed 建表/加列失败（已记录日志，不影响进程）
	ErrDDLFailed = errors.New("DDL 执行失败")
	// ErrDefinitionCorrupt 定义文件无法解析或无法安全扩展
	ErrDefinitionCorrupt = errors.New("定义文件损坏")
	// ErrUnknownTable 目录中不存在该表
	ErrUnknownTable = errors.New("未知的表")
	// ErrMissingKey 查询键为空
	ErrMissingKey = errors.New("缺少查询键")
	// ErrAmbiguousKey 查询键匹配到多行
	ErrAmbiguousKey = errors.New("查询键匹配到多条记录")
)

// IsDuplicateColumnError 并发/重放导致的重复列错误（视为成功）
func IsDuplicateColumnError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), "duplicate column name")
}

// IsTableExistsError 建表竞争导致的表已存在错误
func IsTableExistsError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "already exists") && strings.Contains(msg, "table")
}

// IsUniqueViolation 插入时违反唯一约束（并发创建者先行写入）
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint failed") ||
		strings.Contains(msg, "primary key must be unique") ||
		strings.Contains(msg, "constraint failed: unique")
}
