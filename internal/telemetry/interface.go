package telemetry

import (
	"context"
	"time"
)

// Collector defines the core domain interface
type Collector interface {
	Record(ctx context.Context, sample *Sample) error
	Close() error
}

// Repository defines the interface for telemetry data storage
type Repository interface {
	Store(ctx context.Context, sample *Sample) error
	Close() error
}

// Sample is one control-loop observation for one device. Profile and
// PowerDraw are nullable columns; absence means the daemon had no
// value that tick, not zero.
type Sample struct {
	Timestamp   time.Time
	DeviceID    string
	Temperature float64
	FanDuty     float64
	Profile     *string
	PowerDraw   *float64
}
