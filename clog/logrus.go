package clog

import "github.com/sirupsen/logrus"

// logrusProvider adapts a *logrus.Logger to LogProvider.
type logrusProvider struct {
	log *logrus.Logger
}

var _ LogProvider = logrusProvider{}

// NewLogrusProvider wraps lg as a LogProvider for use with Clog.SetLogProvider.
// A nil lg falls back to logrus.StandardLogger().
func NewLogrusProvider(lg *logrus.Logger) LogProvider {
	if lg == nil {
		lg = logrus.StandardLogger()
	}
	return logrusProvider{log: lg}
}

func (sf logrusProvider) Critical(format string, v ...interface{}) {
	sf.log.WithField("level", "critical").Errorf(format, v...)
}

func (sf logrusProvider) Error(format string, v ...interface{}) {
	sf.log.Errorf(format, v...)
}

func (sf logrusProvider) Warn(format string, v ...interface{}) {
	sf.log.Warnf(format, v...)
}

func (sf logrusProvider) Debug(format string, v ...interface{}) {
	sf.log.Debugf(format, v...)
}
