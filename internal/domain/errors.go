package domain

import "errors"

var (
	ErrValidation     = errors.New("validation failed")
	ErrNotFound       = errors.New("not found")
	ErrInvalidRange   = errors.New("invalid identifier range")
	ErrAuthentication = errors.New("smtp authentication rejected")
	ErrRender         = errors.New("message render failed")
	ErrStore          = errors.New("delivery record store failure")
)
