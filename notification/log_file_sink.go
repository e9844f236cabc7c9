package notification

import (
	"context"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogFileSink appends events as JSON lines to a file.
type LogFileSink struct {
	fileName string
	logger   *zap.Logger
}

func NewLogFileSink(fileName string) (*LogFileSink, error) {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.StacktraceKey = ""
	encoderConfig.CallerKey = ""
	fileEncoder := zapcore.NewJSONEncoder(encoderConfig)
	logFile, err := os.OpenFile(fileName, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	core := zapcore.NewCore(fileEncoder, zapcore.AddSync(logFile), zapcore.InfoLevel)
	return &LogFileSink{
		fileName: fileName,
		logger:   zap.New(core),
	}, nil
}

func (s *LogFileSink) Notify(ctx context.Context, ev Event) error {
	fields := []zap.Field{
		zap.String("execution", ev.ExecutionID),
		zap.String("workflow", ev.WorkflowID),
		zap.Time("at", ev.At),
	}
	if ev.NodeID != "" {
		fields = append(fields, zap.String("node", ev.NodeID))
	}
	if ev.StepID != "" {
		fields = append(fields, zap.String("step", ev.StepID))
	}
	if ev.Message != "" {
		fields = append(fields, zap.String("message", ev.Message))
	}
	if len(ev.Data) > 0 {
		fields = append(fields, zap.Any("data", ev.Data))
	}
	s.logger.Info(string(ev.Type), fields...)
	return nil
}

func (s *LogFileSink) Close() error {
	return s.logger.Sync()
}
