package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrInvalidColumn = errors.New("invalid column")
	ErrNoDrag        = errors.New("no drag in progress")
)
