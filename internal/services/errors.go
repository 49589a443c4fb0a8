package services

import "errors"

var (
	// ErrNotFound 表示目标记录不存在。
	ErrNotFound = errors.New("not_found")
	// ErrValidation 表示入参未通过校验。
	ErrValidation = errors.New("invalid_request")
	// ErrNotReady 表示分析或工具尚未完成，没有可读取的产物。
	ErrNotReady = errors.New("not_ready")
)
