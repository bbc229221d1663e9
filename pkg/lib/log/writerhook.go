package log

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// WriterHook is a hook that writes logs of specified LogLevels to specified Writer
type WriterHook struct {
	Writer    io.Writer
	LogLevels []logrus.Level
}

// Fire formats the entry and writes it to the hook's writer.
func (hook *WriterHook) Fire(entry *logrus.Entry) error {
	line, err := entry.Bytes()
	if err != nil {
		return err
	}
	_, err = hook.Writer.Write(line)
	return err
}

// Levels define on which log levels this hook would trigger
func (hook *WriterHook) Levels() []logrus.Level {
	return hook.LogLevels
}

// AddHooks routes the logger's output through hooks only.
func AddHooks(logger *logrus.Logger, hooks ...*WriterHook) {
	logger.SetOutput(io.Discard)

	for _, hook := range hooks {
		logger.AddHook(hook)
	}
}

// AddDefaultWriterHooks sends warnings and errors to stderr and everything
// else to stdout. When terminationLogPath is set, fatal entries are also
// written there so the container runtime can report why the service exited.
func AddDefaultWriterHooks(logger *logrus.Logger, terminationLogPath string) error {
	hooks := []*WriterHook{
		{
			Writer: os.Stderr,
			LogLevels: []logrus.Level{
				logrus.PanicLevel,
				logrus.FatalLevel,
				logrus.ErrorLevel,
				logrus.WarnLevel,
			},
		},
		{
			Writer: os.Stdout,
			LogLevels: []logrus.Level{
				logrus.InfoLevel,
				logrus.DebugLevel,
				logrus.TraceLevel,
			},
		},
	}

	if terminationLogPath != "" {
		terminationLogFile, err := os.OpenFile(terminationLogPath, os.O_WRONLY|os.O_CREATE, 0644)
		if err != nil {
			return err
		}
		hooks = append(hooks, &WriterHook{
			Writer: terminationLogFile,
			LogLevels: []logrus.Level{
				logrus.PanicLevel,
				logrus.FatalLevel,
			},
		})
	}

	AddHooks(logger, hooks...)
	return nil
}

// Null returns an entry that discards everything.
func Null() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}
