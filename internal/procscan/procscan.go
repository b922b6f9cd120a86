// Package procscan takes snapshots of the live process set for the
// profile watcher.
package procscan

import (
	"context"

	"github.com/shirou/gopsutil/v3/process"

	"codeberg.org/wrenhale/gpuctl/internal/errors"
	"codeberg.org/wrenhale/gpuctl/schema"
)

// Snapshot lists every live process with its executable name and
// command line, keyed by pid. Processes that exit mid-scan are
// skipped; a snapshot is a best-effort view, not a transaction.
func Snapshot(ctx context.Context) (map[int32]schema.ProcessInfo, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, errors.New().Wrap(ErrSnapshotFailed, err)
	}

	snapshot := make(map[int32]schema.ProcessInfo, len(procs))
	for _, proc := range procs {
		name, err := proc.NameWithContext(ctx)
		if err != nil {
			continue
		}

		// Kernel threads have no command line; that is not an error.
		cmdline, _ := proc.CmdlineWithContext(ctx)

		snapshot[proc.Pid] = schema.ProcessInfo{Name: name, Cmdline: cmdline}
	}

	return snapshot, nil
}
