package connection

import (
	"fmt"

	"github.com/go-stomp/stomp/v3"
	"go.uber.org/zap"
)

var _ stomp.Logger = (*stompLogger)(nil)

// stompLogger routes the STOMP client's own diagnostics into zap. The client
// reports routine subscription and receipt traffic at info, so info is
// lowered to debug.
type stompLogger struct {
	logger *zap.Logger
}

func newSTOMPLogger(logger *zap.Logger) *stompLogger {
	return &stompLogger{logger: logger.Named("stomp").WithOptions(zap.AddCallerSkip(1))}
}

func (l *stompLogger) Debugf(format string, value ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, value...))
}

func (l *stompLogger) Infof(format string, value ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, value...))
}

func (l *stompLogger) Warningf(format string, value ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, value...))
}

func (l *stompLogger) Errorf(format string, value ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, value...))
}

func (l *stompLogger) Debug(message string) {
	l.logger.Debug(message)
}

func (l *stompLogger) Info(message string) {
	l.logger.Debug(message)
}

func (l *stompLogger) Warning(message string) {
	l.logger.Warn(message)
}

func (l *stompLogger) Error(message string) {
	l.logger.Error(message)
}
