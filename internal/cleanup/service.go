package cleanup

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

// ImageIndex liefert die Bildpfade, auf die noch Gesichtsdatensätze verweisen
type ImageIndex interface {
	ImageRefs(ctx context.Context) (map[string]struct{}, error)
}

// Service entfernt Bilddateien im Bildverzeichnis, auf die kein Datensatz verweist.
// Solche Dateien entstehen, wenn ein Enrollment nach dem Speichern des Bildes scheitert.
type Service struct {
	index         ImageIndex
	imageDir      string
	minAge        time.Duration
	checkInterval time.Duration
	stopChan      chan struct{}
}

// NewService erstellt einen Cleanup-Service. Liefert nil, wenn das Aufräumen deaktiviert ist.
func NewService(index ImageIndex, imageDir string, checkInterval, minAge time.Duration) *Service {
	if checkInterval <= 0 {
		log.Info("Automatic image cleanup disabled (cleanup_interval <= 0).")
		return nil
	}
	if index == nil || imageDir == "" {
		log.Error("Cannot initialize cleanup service: image index or directory missing")
		return nil
	}
	log.Infof("Initializing cleanup service: ImageDir='%s', CheckInterval=%s, MinAge=%s", imageDir, checkInterval, minAge)
	return &Service{
		index:         index,
		imageDir:      filepath.Clean(imageDir),
		minAge:        minAge,
		checkInterval: checkInterval,
		stopChan:      make(chan struct{}),
	}
}

// StartBackgroundCleanup startet die periodische Bereinigung
func (s *Service) StartBackgroundCleanup(ctx context.Context) {
	if s == nil {
		return
	}
	log.Info("Starting background cleanup routine...")

	ticker := time.NewTicker(s.checkInterval)
	go func() {
		defer ticker.Stop()
		s.runLogged(ctx)
		for {
			select {
			case <-ticker.C:
				s.runLogged(ctx)
			case <-ctx.Done():
				return
			case <-s.stopChan:
				log.Info("Stopping background cleanup routine.")
				return
			}
		}
	}()
}

// StopBackgroundCleanup beendet die Hintergrund-Routine
func (s *Service) StopBackgroundCleanup() {
	if s == nil || s.stopChan == nil {
		return
	}
	select {
	case <-s.stopChan:
		// bereits geschlossen
	default:
		close(s.stopChan)
	}
}

func (s *Service) runLogged(ctx context.Context) {
	removed, err := s.RunCleanupCycle(ctx)
	if err != nil {
		log.Errorf("Cleanup: cycle failed: %v", err)
		return
	}
	log.Infof("Cleanup cycle finished. Removed %d orphaned image(s)", removed)
}

// RunCleanupCycle löscht alle nicht referenzierten JPEG-Dateien, die älter als minAge sind
func (s *Service) RunCleanupCycle(ctx context.Context) (int, error) {
	refs, err := s.index.ImageRefs(ctx)
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().Add(-s.minAge)
	removed := 0

	err = filepath.WalkDir(s.imageDir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if errors.Is(walkErr, fs.ErrNotExist) {
				return nil
			}
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(path), ".jpg") {
			return nil
		}
		if _, ok := refs[filepath.Clean(path)]; ok {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.ModTime().After(cutoff) {
			return nil
		}

		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Warnf("Cleanup: Failed to remove orphaned image '%s': %v", path, err)
			return nil
		}
		log.Debugf("Cleanup: Removed orphaned image '%s'", path)
		removed++
		return nil
	})
	return removed, err
}
