package models

import "errors"

var (
	// ErrDocumentNotFound 文档不存在错误
	ErrDocumentNotFound = errors.New("document not found")

	// ErrRunNotFound 入库流水不存在错误
	ErrRunNotFound = errors.New("ingest run not found")

	// ErrInvalidStatus 无效的状态错误
	ErrInvalidStatus = errors.New("invalid ingest status")
)
