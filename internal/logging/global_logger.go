package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/alien-org/alien-sso-go/internal/config"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

const mainLogName = "alien-sso.log"

var (
	setupOnce  sync.Once
	ginWriters []*io.PipeWriter

	outputMu sync.Mutex
	logFile  *lumberjack.Logger
	pruner   *retention
)

// SetupBaseLogger installs LineFormatter on the standard logger and routes gin's
// writers through it. Only the first call has an effect.
func SetupBaseLogger() {
	setupOnce.Do(func() {
		log.SetOutput(os.Stdout)
		log.SetReportCaller(true)
		log.SetFormatter(LineFormatter{})

		info := log.StandardLogger().Writer()
		errs := log.StandardLogger().WriterLevel(log.ErrorLevel)
		gin.DefaultWriter, gin.DefaultErrorWriter = info, errs
		ginWriters = []*io.PipeWriter{info, errs}
		gin.DebugPrintFunc = func(format string, values ...any) {
			log.Debugf(strings.TrimRight(format, "\r\n"), values...)
		}

		log.RegisterExitHandler(closeOutputs)
	})
}

// LogDirectory picks where log files go: cfg.LogDir when set, ./logs when the working
// directory is writable, otherwise a directory under the user config dir.
func LogDirectory(cfg *config.Config) string {
	if cfg != nil {
		if dir := strings.TrimSpace(cfg.LogDir); dir != "" {
			return dir
		}
	}
	if writable(".") {
		return "logs"
	}
	base, err := os.UserConfigDir()
	if err != nil {
		base = os.TempDir()
	}
	return filepath.Join(base, "alien-sso", "logs")
}

func writable(dir string) bool {
	f, err := os.CreateTemp(dir, ".alien-sso-*")
	if err != nil {
		return false
	}
	name := f.Name()
	_ = f.Close()
	_ = os.Remove(name)
	return true
}

// SetLevel switches between debug and info output.
func SetLevel(debug bool) {
	if debug {
		log.SetLevel(log.DebugLevel)
		gin.SetMode(gin.DebugMode)
		return
	}
	log.SetLevel(log.InfoLevel)
	gin.SetMode(gin.ReleaseMode)
}

// ConfigureLogOutput applies the logging part of cfg: level, stdout or rotating file
// output and, for file output with logs-max-total-size-mb set, size based retention.
// It may be called again after a config reload.
func ConfigureLogOutput(cfg *config.Config) error {
	SetupBaseLogger()
	if cfg == nil {
		cfg = &config.Config{}
	}
	SetLevel(cfg.Debug)

	outputMu.Lock()
	defer outputMu.Unlock()
	log.SetOutput(os.Stdout)
	closeFileLocked()
	if !cfg.LoggingToFile {
		return nil
	}

	dir := LogDirectory(cfg)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("logging: create log directory: %w", err)
	}
	logFile = &lumberjack.Logger{
		Filename:   filepath.Join(dir, mainLogName),
		MaxSize:    10,
		MaxBackups: 5,
		MaxAge:     14,
		Compress:   true,
	}
	log.SetOutput(logFile)
	if cfg.LogsMaxTotalSizeMB > 0 {
		pruner = newRetention(dir, int64(cfg.LogsMaxTotalSizeMB)<<20, logFile.Filename)
		pruner.start()
	}
	return nil
}

func closeFileLocked() {
	pruner.stop()
	pruner = nil
	if logFile != nil {
		_ = logFile.Close()
		logFile = nil
	}
}

func closeOutputs() {
	outputMu.Lock()
	closeFileLocked()
	outputMu.Unlock()
	for _, w := range ginWriters {
		_ = w.Close()
	}
	ginWriters = nil
}
