package speaker

import (
	"context"
	"time"
)

type sourceKey struct{}

// Sources that trigger Apply.
const (
	SourceUnknown      = "unknown"
	SourceAPI          = "api"
	SourceHomeKit      = "homekit"
	SourceMQTT         = "mqtt"
	SourceFeed         = "feed"
	SourceSystemVolume = "system_volume"
	SourceCLI          = "cli"
)

// WithSource tags ctx with the adapter that triggered an Apply.
func WithSource(ctx context.Context, source string) context.Context {
	return context.WithValue(ctx, sourceKey{}, source)
}

// SourceFrom returns the source stored by WithSource.
func SourceFrom(ctx context.Context) string {
	if s, ok := ctx.Value(sourceKey{}).(string); ok && s != "" {
		return s
	}
	return SourceUnknown
}

// Report describes one finished Apply.
type Report struct {
	ID       string
	Speaker  string
	Source   string
	Desired  Desired
	State    Snapshot
	Err      error
	Started  time.Time
	Duration time.Duration
}

// Observer is notified after every Apply, successful or not.
// Implementations must not block for long and must not call Apply.
type Observer interface {
	ApplyCompleted(report Report)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Report)

func (f ObserverFunc) ApplyCompleted(report Report) {
	f(report)
}
