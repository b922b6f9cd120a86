package telemetry_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codeberg.org/wrenhale/gpuctl/internal/telemetry"
)

func TestNewServiceDisabledIsNoop(t *testing.T) {
	collector, err := telemetry.NewService(telemetry.Config{Enabled: false})
	require.NoError(t, err)

	require.NoError(t, collector.Record(context.Background(), &telemetry.Sample{}))
	require.NoError(t, collector.Close())
}

func TestNewServiceEnabledRequiresPath(t *testing.T) {
	_, err := telemetry.NewService(telemetry.Config{Enabled: true})
	require.Error(t, err)
}

func TestRecordRejectsInvalidSamples(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "telemetry.db")
	collector, err := telemetry.NewService(telemetry.Config{
		Enabled: true, DBPath: dbPath, BatchSize: 1,
	})
	require.NoError(t, err)
	defer collector.Close()

	require.Error(t, collector.Record(context.Background(), nil))
	require.Error(t, collector.Record(context.Background(), &telemetry.Sample{
		Timestamp: time.Now(),
	}), "a sample without a device id is rejected")
}

func TestRecordPersistsSamples(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "telemetry.db")
	collector, err := telemetry.NewService(telemetry.Config{
		Enabled: true, DBPath: dbPath, BatchSize: 2, BatchTimeout: 60,
	})
	require.NoError(t, err)

	profile := "Gaming"
	base := time.Unix(1700000000, 0)
	samples := []*telemetry.Sample{
		{Timestamp: base, DeviceID: "GPU-a", Temperature: 62, FanDuty: 0.5, Profile: &profile},
		{Timestamp: base, DeviceID: "GPU-b", Temperature: 55, FanDuty: 0.35},
		{Timestamp: base.Add(2 * time.Second), DeviceID: "GPU-a", Temperature: 64, FanDuty: 0.55},
	}
	for _, sample := range samples {
		require.NoError(t, collector.Record(context.Background(), sample))
	}

	// Close flushes the partially filled batch.
	require.NoError(t, collector.Close())

	db, err := sql.Open("sqlite3", dbPath)
	require.NoError(t, err)
	defer db.Close()

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM telemetry").Scan(&count))
	assert.Equal(t, 3, count)

	var gotProfile sql.NullString
	var gotDuty float64
	require.NoError(t, db.QueryRow(
		"SELECT profile, fan_duty FROM telemetry WHERE device_id = ? AND timestamp = ?",
		"GPU-a", base.Unix(),
	).Scan(&gotProfile, &gotDuty))
	assert.True(t, gotProfile.Valid)
	assert.Equal(t, "Gaming", gotProfile.String)
	assert.InDelta(t, 0.5, gotDuty, 1e-9)

	require.NoError(t, db.QueryRow(
		"SELECT profile FROM telemetry WHERE device_id = ?", "GPU-b",
	).Scan(&gotProfile))
	assert.False(t, gotProfile.Valid, "absent profile is stored as NULL")
}

func TestRecordUpsertsSameTick(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "telemetry.db")
	collector, err := telemetry.NewService(telemetry.Config{
		Enabled: true, DBPath: dbPath, BatchSize: 1,
	})
	require.NoError(t, err)

	ts := time.Unix(1700000100, 0)
	require.NoError(t, collector.Record(context.Background(), &telemetry.Sample{
		Timestamp: ts, DeviceID: "GPU-a", Temperature: 60, FanDuty: 0.4,
	}))
	require.NoError(t, collector.Record(context.Background(), &telemetry.Sample{
		Timestamp: ts, DeviceID: "GPU-a", Temperature: 61, FanDuty: 0.6,
	}))
	require.NoError(t, collector.Close())

	db, err := sql.Open("sqlite3", dbPath)
	require.NoError(t, err)
	defer db.Close()

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM telemetry").Scan(&count))
	assert.Equal(t, 1, count)

	var duty float64
	require.NoError(t, db.QueryRow("SELECT fan_duty FROM telemetry").Scan(&duty))
	assert.InDelta(t, 0.6, duty, 1e-9, "the later write wins within a tick")
}
