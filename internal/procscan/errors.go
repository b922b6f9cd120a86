package procscan

import "codeberg.org/wrenhale/gpuctl/internal/errors"

const (
	ErrSnapshotFailed = errors.ErrorCode("process_snapshot_failed")
)
