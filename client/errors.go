package client

import "codeberg.org/wrenhale/gpuctl/internal/errors"

const (
	ErrConnectFailed = errors.ErrorCode("client_connect_failed")
	ErrRequestFailed = errors.ErrorCode("client_request_failed")
	ErrBadResponse   = errors.ErrorCode("client_bad_response")
)
