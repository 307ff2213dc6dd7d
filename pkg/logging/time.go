package logging

import (
	"time"

	"go.uber.org/zap/zapcore"
)

// zapShortISO8601 encodes timestamps with offset, matching the ISO-8601
// format used throughout the hub/client wire protocol so log lines and
// API responses read consistently side by side.
func zapShortISO8601(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(t.Format("2006-01-02T15:04:05-07:00"))
}
