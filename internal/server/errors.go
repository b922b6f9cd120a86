package server

import "codeberg.org/wrenhale/gpuctl/internal/errors"

const (
	ErrListenFailed = errors.ErrorCode("server_listen_failed")
	ErrAcceptFailed = errors.ErrorCode("server_accept_failed")
	ErrBadRequest   = errors.ErrorCode("server_bad_request")
)
