// Package history writes one InfluxDB point per speaker mutation so state
// changes can be graphed over time.
package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/fideliod/internal/config"
	"github.com/dokzlo13/fideliod/internal/speaker"
)

// Measurement is the InfluxDB measurement every point is written to.
const Measurement = "speaker_state"

const connectTimeout = 10 * time.Second

// ErrConnectionFailed is returned when the server does not answer a ping.
var ErrConnectionFailed = errors.New("influxdb connection failed")

// pointWriter is the subset of api.WriteAPI the sink needs.
type pointWriter interface {
	WritePoint(point *write.Point)
}

// Sink is a speaker.Observer writing asynchronously batched points.
type Sink struct {
	client influxdb2.Client
	writer pointWriter
	flush  func()
}

// Connect creates the client, verifies the server is healthy and starts the
// async write error pump.
func Connect(ctx context.Context, cfg config.InfluxDBConfig) (*Sink, error) {
	client := influxdb2.NewClientWithOptions(
		cfg.URL,
		cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(cfg.BatchSize).
			SetFlushInterval(uint(cfg.FlushInterval.Duration().Milliseconds())),
	)

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	healthy, err := client.Ping(pingCtx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: ping failed: %w", ErrConnectionFailed, err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("%w: server not healthy", ErrConnectionFailed)
	}

	writeAPI := client.WriteAPI(cfg.Org, cfg.Bucket)
	go func() {
		for err := range writeAPI.Errors() {
			log.Warn().Err(err).Msg("InfluxDB write failed")
		}
	}()

	log.Info().Str("url", cfg.URL).Str("bucket", cfg.Bucket).Msg("Connected to InfluxDB")
	return &Sink{client: client, writer: writeAPI, flush: writeAPI.Flush}, nil
}

// ApplyCompleted queues one point. Never blocks on the network.
func (s *Sink) ApplyCompleted(r speaker.Report) {
	s.writer.WritePoint(Point(r))
}

// Close flushes pending points and closes the client.
func (s *Sink) Close() {
	if s.flush != nil {
		s.flush()
	}
	if s.client != nil {
		s.client.Close()
	}
}

// Point converts a report into a speaker_state point.
func Point(r speaker.Report) *write.Point {
	ts := r.Started.Add(r.Duration)
	if r.Started.IsZero() {
		ts = time.Now()
	}

	return influxdb2.NewPoint(
		Measurement,
		map[string]string{
			"speaker": r.Speaker,
			"source":  r.Source,
		},
		map[string]any{
			"power":           r.State.Power,
			"volume":          r.State.Volume,
			"channel":         r.State.Channel,
			"volume_pending":  r.State.VolumePending,
			"channel_pending": r.State.ChannelPending,
			"ok":              r.Err == nil,
			"duration_ms":     r.Duration.Milliseconds(),
		},
		ts,
	)
}
