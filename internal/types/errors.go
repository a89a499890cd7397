package types

import "errors"

// 工作流操作的错误分类，调用方使用 errors.Is 判断
var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrStateConflict     = errors.New("state conflict")
	ErrValidation        = errors.New("validation failed")
)
