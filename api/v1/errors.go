package v1

import "errors"

var (
	ErrTaskCtx     = errors.New("task missing in context")
	ErrControlCtx  = errors.New("control action missing in context")
	ErrActionJSON  = errors.New("action is required")
	ErrContentType = errors.New("Content-Type must be application/json")
)
