package identity

import (
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"unicode"

	"facestore/internal/util/timezone"

	log "github.com/sirupsen/logrus"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const maxNameAttempts = 1000

// ImageStore legt Gesichtsausschnitte unter <root>/<safe_name>/ ab
type ImageStore struct {
	root string
	seq  atomic.Uint64
}

// NewImageStore erstellt einen ImageStore mit dem angegebenen Basisverzeichnis
func NewImageStore(root string) *ImageStore {
	return &ImageStore{root: root}
}

// Root gibt das Basisverzeichnis zurück
func (s *ImageStore) Root() string {
	return s.root
}

// SafeName macht aus einem Anzeigenamen einen Verzeichnisnamen: Diakritika entfernen,
// nur Buchstaben, Ziffern, Leerzeichen, '-' und '_' behalten, Leerzeichen durch '_' ersetzen.
func SafeName(name string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, name)
	if err != nil {
		folded = name
	}

	var b strings.Builder
	for _, r := range folded {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == ' ' || r == '-' || r == '_' {
			b.WriteRune(r)
		}
	}
	safe := strings.ReplaceAll(strings.TrimSpace(b.String()), " ", "_")
	if safe == "" {
		return "unnamed"
	}
	return safe
}

// Save schreibt img als JPEG und gibt den Pfad zurück
func (s *ImageStore) Save(name string, img image.Image) (string, error) {
	if img == nil {
		return "", fmt.Errorf("image is nil")
	}

	dir := filepath.Join(s.root, SafeName(name))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", storageErr("create image directory", err)
	}

	path, f, err := s.createUnique(dir)
	if err != nil {
		return "", err
	}
	if err := jpeg.Encode(f, img, &jpeg.Options{Quality: 90}); err != nil {
		f.Close()
		_ = os.Remove(path)
		return "", storageErr("encode image", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return "", storageErr("close image file", err)
	}

	log.WithFields(logFields).WithField("path", path).Debug("Saved face image")
	return path, nil
}

// createUnique legt eine neue Datei <timestamp>_<n>.jpg an. Vorhandene Dateien werden nie
// überschrieben; nach einem Neustart beginnt der Zähler wieder bei 1, belegte Namen werden übersprungen.
func (s *ImageStore) createUnique(dir string) (string, *os.File, error) {
	stamp := timezone.Now().Format("20060102_150405")
	for attempt := 0; attempt < maxNameAttempts; attempt++ {
		path := filepath.Join(dir, fmt.Sprintf("%s_%d.jpg", stamp, s.seq.Add(1)))
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if err == nil {
			return path, f, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", nil, storageErr("create image file", err)
		}
	}
	return "", nil, storageErr("create image file", fmt.Errorf("no free file name in %s after %d attempts", dir, maxNameAttempts))
}

// Remove löscht ein zuvor gespeichertes Bild; fehlende Dateien sind kein Fehler
func (s *ImageStore) Remove(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return storageErr("remove image", err)
	}
	return nil
}
