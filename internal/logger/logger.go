package logger

import (
	"io"
	"os"
	"path/filepath"

	"facestore/config"

	log "github.com/sirupsen/logrus"
)

// Init konfiguriert den globalen logrus-Logger. Der zurückgegebene Closer schließt
// die Logdatei beim Herunterfahren (nil, wenn nur auf stdout geloggt wird).
func Init(cfg config.LogConfig) (io.Closer, error) {
	level, err := log.ParseLevel(cfg.Level)
	if err != nil {
		log.Warnf("Invalid log level '%s', defaulting to 'info': %v", cfg.Level, err)
		level = log.InfoLevel
	}
	log.SetLevel(level)

	log.SetFormatter(&log.TextFormatter{
		FullTimestamp: true,
	})

	writers := []io.Writer{os.Stdout}
	var file *os.File

	if cfg.File != "" {
		logDir := filepath.Dir(cfg.File)
		if err := os.MkdirAll(logDir, 0750); err != nil {
			log.SetOutput(os.Stdout)
			return nil, err
		}
		file, err = os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0660)
		if err != nil {
			log.SetOutput(os.Stdout)
			return nil, err
		}
		writers = append(writers, file)
	}

	log.SetOutput(io.MultiWriter(writers...))
	log.WithField("level", level.String()).Info("Logger initialized")

	if file == nil {
		return nil, nil
	}
	return file, nil
}
