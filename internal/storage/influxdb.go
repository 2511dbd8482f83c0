package storage

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/good-yellow-bee/pondwatch/internal/models"
)

// InfluxConfig holds InfluxDB v2 connection settings.
type InfluxConfig struct {
	URL         string
	Token       string
	Org         string
	Bucket      string
	Measurement string
	Timeout     time.Duration
}

// InfluxArchive implements ReadingArchive for InfluxDB v2. Each reading
// becomes one point tagged with pond and device, one field per measurement.
type InfluxArchive struct {
	config   InfluxConfig
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
}

// NewInfluxArchive creates an archive and verifies the server is healthy.
func NewInfluxArchive(ctx context.Context, config InfluxConfig) (*InfluxArchive, error) {
	if config.URL == "" || config.Org == "" || config.Bucket == "" {
		return nil, fmt.Errorf("influxdb url, org and bucket are required")
	}
	if config.Measurement == "" {
		config.Measurement = "pond_reading"
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}

	opts := influxdb2.DefaultOptions().SetHTTPRequestTimeout(uint(config.Timeout / time.Second))
	client := influxdb2.NewClientWithOptions(config.URL, config.Token, opts)

	a := &InfluxArchive{
		config:   config,
		client:   client,
		writeAPI: client.WriteAPIBlocking(config.Org, config.Bucket),
	}
	if err := a.Ping(ctx); err != nil {
		client.Close()
		return nil, err
	}
	return a, nil
}

// InsertReadings writes readings as points.
func (a *InfluxArchive) InsertReadings(ctx context.Context, readings []*models.Reading) error {
	points := make([]*write.Point, 0, len(readings))
	for _, r := range readings {
		if p := a.point(r); p != nil {
			points = append(points, p)
		}
	}
	if len(points) == 0 {
		return nil
	}
	if err := a.writeAPI.WritePoint(ctx, points...); err != nil {
		return fmt.Errorf("write points: %w", err)
	}
	return nil
}

// point converts a reading; readings without measurements yield nil.
func (a *InfluxArchive) point(r *models.Reading) *write.Point {
	values := r.Values()
	if len(values) == 0 {
		return nil
	}
	p := influxdb2.NewPointWithMeasurement(a.config.Measurement)
	p.SetTime(r.Timestamp)
	p.AddTag("pond_id", r.PondID)
	if r.DeviceID != "" {
		p.AddTag("device_id", r.DeviceID)
	}
	p.AddField("reading_id", r.ID)
	for param, v := range values {
		p.AddField(string(param), v)
	}
	return p
}

// Ping checks server health.
func (a *InfluxArchive) Ping(ctx context.Context) error {
	health, err := a.client.Health(ctx)
	if err != nil {
		return fmt.Errorf("influxdb health: %w", err)
	}
	if health.Status != "pass" {
		return fmt.Errorf("influxdb is not healthy: %s", health.Status)
	}
	return nil
}

// Close releases the client.
func (a *InfluxArchive) Close() error {
	a.client.Close()
	return nil
}
