package storage

import "errors"

var (
	ErrKeyNotFound   = errors.New("storage: key not found")
	ErrClosed        = errors.New("storage: store is closed")
	ErrAlreadyExists = errors.New("storage: key already exists")
	ErrQuotaExceeded = errors.New("storage: agent storage quota exceeded")
)
