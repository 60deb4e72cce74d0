package api

import "errors"

var (
	ErrNotFound    = errors.New("endpoint not found")
	ErrRateLimited = errors.New("rate limited by server")
	ErrBadRequest  = errors.New("request rejected")
)
