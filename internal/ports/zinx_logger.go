package ports

import (
	"context"

	"github.com/aceld/zinx/zlog"
	"github.com/sirupsen/logrus"

	"github.com/bujia-iot/meter-frame-analyzer/internal/infrastructure/logger"
)

// zinxLogger 把Zinx框架日志转到应用日志，统一带 component=zinx 字段
type zinxLogger struct {
	entry *logrus.Entry
}

func newZinxLogger() *zinxLogger {
	return &zinxLogger{entry: logger.WithField("component", "zinx")}
}

func (z *zinxLogger) InfoF(format string, v ...interface{}) {
	z.entry.Infof(format, v...)
}

func (z *zinxLogger) ErrorF(format string, v ...interface{}) {
	z.entry.Errorf(format, v...)
}

func (z *zinxLogger) DebugF(format string, v ...interface{}) {
	z.entry.Debugf(format, v...)
}

func (z *zinxLogger) InfoFX(ctx context.Context, format string, v ...interface{}) {
	z.entry.WithContext(ctx).Infof(format, v...)
}

func (z *zinxLogger) ErrorFX(ctx context.Context, format string, v ...interface{}) {
	z.entry.WithContext(ctx).Errorf(format, v...)
}

func (z *zinxLogger) DebugFX(ctx context.Context, format string, v ...interface{}) {
	z.entry.WithContext(ctx).Debugf(format, v...)
}

// setupZinxLogger 设置Zinx框架使用应用日志
func setupZinxLogger() {
	zlog.SetLogger(newZinxLogger())
}
