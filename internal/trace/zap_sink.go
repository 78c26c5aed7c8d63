package trace

import (
	"go.uber.org/zap"
)

// ZapSink writes each event as a structured log line. Warnings and failures
// log at Warn and Error; everything else at Debug, except finished builds
// which log at Info.
type ZapSink struct {
	Logger *zap.Logger
}

func NewZapSink(logger *zap.Logger) *ZapSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapSink{Logger: logger}
}

func (s *ZapSink) Record(e Event) {
	fields := []zap.Field{zap.String("task", e.TaskID)}
	if e.Reason != "" {
		fields = append(fields, zap.String("reason", e.Reason))
	}
	if e.CauseTaskID != "" {
		fields = append(fields, zap.String("cause", e.CauseTaskID))
	}
	if e.Fingerprint != "" {
		fields = append(fields, zap.String("fingerprint", shortFingerprint(e.Fingerprint)))
	}
	if e.Count > 0 {
		fields = append(fields, zap.Int("count", e.Count))
	}
	if len(e.Artifacts) > 0 {
		fields = append(fields, zap.Strings("outputs", e.Artifacts))
	}
	if e.Elapsed > 0 {
		fields = append(fields, zap.Duration("elapsed", e.Elapsed))
	}

	switch e.Kind {
	case EventNumericalWarning:
		s.Logger.Warn(e.Detail, fields...)
	case EventTaskFailed:
		s.Logger.Error("task failed", append(fields, zap.String("error", e.Detail))...)
	case EventTaskSkipped:
		s.Logger.Warn("task not run", fields...)
	case EventTaskFinished:
		s.Logger.Info("task finished", fields...)
	case EventTaskCached:
		s.Logger.Debug("task up to date", fields...)
	case EventTaskStarted:
		s.Logger.Debug("task started", fields...)
	case EventTaskReleased:
		s.Logger.Debug("intermediate outputs released", fields...)
	default:
		s.Logger.Debug(string(e.Kind), fields...)
	}
}

func shortFingerprint(fp string) string {
	if len(fp) > 12 {
		return fp[:12]
	}
	return fp
}
