package utils

import (
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/ethpandaops/zkrelay/types"
)

// LogWriter owns the optional rotating log file.
type LogWriter struct {
	file *lumberjack.Logger
}

func (w *LogWriter) Dispose() {
	if w.file != nil {
		w.file.Close()
	}
}

type logSinkHook struct {
	mutex     sync.Mutex
	writer    io.Writer
	formatter logrus.Formatter
	levels    []logrus.Level
}

func (h *logSinkHook) Levels() []logrus.Level {
	return h.levels
}

func (h *logSinkHook) Fire(entry *logrus.Entry) error {
	line, err := h.formatter.Format(entry)
	if err != nil {
		return err
	}

	h.mutex.Lock()
	defer h.mutex.Unlock()
	_, err = h.writer.Write(line)
	return err
}

// InitLogger configures the standard logrus logger from the logging config
// and attaches the rotating log file if one is configured.
func InitLogger(cfg *types.Config) (*LogWriter, *logrus.Logger) {
	logger := logrus.StandardLogger()
	logWriter := &LogWriter{}

	outputLevel, err := logrus.ParseLevel(cfg.Logging.OutputLevel)
	if err != nil {
		outputLevel = logrus.InfoLevel
	}

	var output io.Writer = os.Stdout
	if cfg.Logging.OutputStderr {
		output = os.Stderr
	}

	if cfg.Logging.FilePath == "" {
		logger.SetOutput(output)
		logger.SetLevel(outputLevel)
		return logWriter, logger
	}

	fileLevel, err := logrus.ParseLevel(cfg.Logging.FileLevel)
	if err != nil {
		fileLevel = outputLevel
	}

	logWriter.file = &lumberjack.Logger{
		Filename:   cfg.Logging.FilePath,
		MaxSize:    cfg.Logging.FileMaxSize,
		MaxBackups: cfg.Logging.FileMaxBackups,
	}

	// both sinks are hooks with their own level, the logger itself runs at the more verbose one
	logger.SetOutput(io.Discard)
	logger.AddHook(&logSinkHook{
		writer:    output,
		formatter: logger.Formatter,
		levels:    logrus.AllLevels[:outputLevel+1],
	})
	logger.AddHook(&logSinkHook{
		writer:    logWriter.file,
		formatter: &logrus.JSONFormatter{},
		levels:    logrus.AllLevels[:fileLevel+1],
	})
	logger.SetLevel(max(outputLevel, fileLevel))

	return logWriter, logger
}
