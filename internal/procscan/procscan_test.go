package procscan_test

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codeberg.org/wrenhale/gpuctl/internal/procscan"
)

func TestSnapshotIncludesSelf(t *testing.T) {
	snapshot, err := procscan.Snapshot(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, snapshot)

	self, ok := snapshot[int32(os.Getpid())]
	require.True(t, ok, "the test binary must appear in its own snapshot")
	assert.NotEmpty(t, self.Name)
}
