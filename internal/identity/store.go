// Package identity verwaltet eingelernte Personen, ihre Gesichts-Embeddings und die
// Suche nach der besten Übereinstimmung (linearer Scan mit Kosinus-Ähnlichkeit).
package identity

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"facestore/internal/core/models"
	"facestore/internal/db/repository"
	"facestore/internal/util/timezone"

	log "github.com/sirupsen/logrus"
)

var logFields = log.Fields{
	"component": "identity",
}

// Options parametrisieren einen Store
type Options struct {
	// Dimension fixiert die Embedding-Länge. 0 = erste Einfügung legt sie fest.
	Dimension int
}

// PersonSummary ist ein Eintrag von ListPersons
type PersonSummary struct {
	ID   uint   `json:"id"`
	Name string `json:"name"`
}

// Match ist das Ergebnis von FindBestMatch
type Match struct {
	PersonID uint    `json:"person_id"`
	Name     string  `json:"name"`
	Score    float64 `json:"score"`
	FaceID   uint    `json:"face_id"`
}

// Store ist der Identity-Store. Schreibende Operationen werden serialisiert.
type Store struct {
	repo repository.Repository
	mu   sync.RWMutex
	dim  int
}

// NewStore erstellt einen Store. Ist keine Dimension konfiguriert, wird sie aus dem
// ältesten gespeicherten Datensatz übernommen.
func NewStore(ctx context.Context, repo repository.Repository, opts Options) (*Store, error) {
	if opts.Dimension < 0 {
		return nil, fmt.Errorf("dimension must not be negative, got %d", opts.Dimension)
	}

	s := &Store{repo: repo, dim: opts.Dimension}

	first, err := repo.FirstFace(ctx)
	if err != nil {
		return nil, storageErr("load dimension", err)
	}
	if first != nil {
		stored := len(first.Embedding)
		if s.dim == 0 {
			s.dim = stored
		} else if s.dim != stored {
			return nil, fmt.Errorf("%w: configured dimension %d but stored embeddings have %d",
				ErrInvalidEmbedding, s.dim, stored)
		}
	}

	log.WithFields(logFields).WithField("dimension", s.dim).Info("Identity store ready")
	return s, nil
}

// Dimension gibt die aktuelle Embedding-Länge zurück (0 = noch nicht festgelegt)
func (s *Store) Dimension() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dim
}

// NormalizeName entfernt umgebende Leerzeichen und lehnt leere Namen ab
func NormalizeName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("%w: name must not be empty", ErrInvalidName)
	}
	return name, nil
}

// Enroll legt eine neue Person an und gibt ihre ID zurück
func (s *Store) Enroll(ctx context.Context, name string) (uint, error) {
	name, err := NormalizeName(name)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	person := &models.Person{Name: name, CreatedAt: timezone.Now()}
	if err := s.repo.CreatePerson(ctx, person); err != nil {
		return 0, storageErr("create person", err)
	}

	log.WithFields(logFields).WithFields(log.Fields{
		"person_id": person.ID,
		"name":      person.Name,
	}).Info("Enrolled person")
	return person.ID, nil
}

// AddSample speichert ein Embedding für eine bestehende Person. Bei Fehlern wird nichts geschrieben.
func (s *Store) AddSample(ctx context.Context, personID uint, embedding []float32, imageRef *string) (uint, error) {
	if len(embedding) == 0 {
		return 0, fmt.Errorf("%w: embedding is empty", ErrInvalidEmbedding)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dim != 0 && len(embedding) != s.dim {
		return 0, fmt.Errorf("%w: expected dimension %d, got %d", ErrInvalidEmbedding, s.dim, len(embedding))
	}

	person, err := s.repo.GetPersonByID(ctx, personID)
	if err != nil {
		return 0, storageErr("get person", err)
	}
	if person == nil {
		return 0, fmt.Errorf("%w: person %d", ErrNotFound, personID)
	}

	face := &models.FaceRecord{
		PersonID:  personID,
		Embedding: models.Embedding(slices.Clone(embedding)),
		Dim:       len(embedding),
		ImagePath: imageRef,
		CreatedAt: timezone.Now(),
	}
	if err := s.repo.CreateFace(ctx, face); err != nil {
		if errors.Is(err, repository.ErrPersonNotFound) {
			return 0, fmt.Errorf("%w: person %d", ErrNotFound, personID)
		}
		if dimErr := s.dimensionConflict(err); dimErr != nil {
			return 0, dimErr
		}
		return 0, storageErr("create face", err)
	}

	s.establishDimension(len(embedding))

	log.WithFields(logFields).WithFields(log.Fields{
		"person_id": personID,
		"face_id":   face.ID,
	}).Debug("Stored face sample")
	return face.ID, nil
}

// EnrollWithSample legt eine Person samt erstem Gesichtsdatensatz an. Beides wird in einer
// Transaktion geschrieben; bei einem Fehler bleibt weder Person noch Datensatz zurück.
func (s *Store) EnrollWithSample(ctx context.Context, name string, embedding []float32, imageRef *string) (personID, faceID uint, err error) {
	name, err = NormalizeName(name)
	if err != nil {
		return 0, 0, err
	}
	if len(embedding) == 0 {
		return 0, 0, fmt.Errorf("%w: embedding is empty", ErrInvalidEmbedding)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dim != 0 && len(embedding) != s.dim {
		return 0, 0, fmt.Errorf("%w: expected dimension %d, got %d", ErrInvalidEmbedding, s.dim, len(embedding))
	}

	now := timezone.Now()
	person := &models.Person{Name: name, CreatedAt: now}
	face := &models.FaceRecord{
		Embedding: models.Embedding(slices.Clone(embedding)),
		Dim:       len(embedding),
		ImagePath: imageRef,
		CreatedAt: now,
	}
	if err := s.repo.CreatePersonWithFace(ctx, person, face); err != nil {
		if dimErr := s.dimensionConflict(err); dimErr != nil {
			return 0, 0, dimErr
		}
		return 0, 0, storageErr("create person with face", err)
	}

	s.establishDimension(len(embedding))

	log.WithFields(logFields).WithFields(log.Fields{
		"person_id": person.ID,
		"name":      person.Name,
		"face_id":   face.ID,
	}).Info("Enrolled person with face sample")
	return person.ID, face.ID, nil
}

// dimensionConflict übersetzt einen Längenkonflikt der Datenbank in ErrInvalidEmbedding.
// Kennt der Store noch keine Dimension, übernimmt er die gespeicherte. Aufruf nur unter s.mu.
func (s *Store) dimensionConflict(err error) error {
	var dme *repository.DimensionMismatchError
	if !errors.As(err, &dme) {
		return nil
	}
	if s.dim == 0 {
		s.dim = dme.Stored
	}
	return fmt.Errorf("%w: expected dimension %d, got %d", ErrInvalidEmbedding, dme.Stored, dme.Got)
}

// establishDimension merkt sich die Länge der ersten erfolgreichen Einfügung. Aufruf nur unter s.mu.
func (s *Store) establishDimension(dim int) {
	if s.dim != 0 {
		return
	}
	s.dim = dim
	log.WithFields(logFields).WithField("dimension", s.dim).Info("Embedding dimension established")
}

// FindBestMatch vergleicht embedding mit allen gespeicherten Datensätzen. Geliefert wird der
// Datensatz mit dem höchsten Score, sofern dieser >= threshold ist. Bei Gleichstand gewinnt der
// zuerst gespeicherte Datensatz (aufsteigende Face-ID).
func (s *Store) FindBestMatch(ctx context.Context, embedding []float32, threshold float64) (*Match, bool, error) {
	if len(embedding) == 0 {
		return nil, false, fmt.Errorf("%w: embedding is empty", ErrInvalidEmbedding)
	}
	if math.IsNaN(threshold) {
		return nil, false, fmt.Errorf("%w: threshold must be a number", ErrInvalidThreshold)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	dim := s.dim
	if dim == 0 {
		// ein anderes Handle kann inzwischen geschrieben haben
		first, err := s.repo.FirstFace(ctx)
		if err != nil {
			return nil, false, storageErr("load dimension", err)
		}
		if first == nil {
			return nil, false, nil
		}
		dim = len(first.Embedding)
	}
	if len(embedding) != dim {
		return nil, false, fmt.Errorf("%w: expected dimension %d, got %d", ErrInvalidEmbedding, dim, len(embedding))
	}

	var (
		found     bool
		bestScore float64
		bestFace  uint
		bestOwner uint
	)
	err := s.repo.ScanFaces(ctx, func(face *models.FaceRecord) error {
		score := CosineSimilarity(embedding, face.Embedding)
		if score < threshold {
			return nil
		}
		if !found || score > bestScore {
			found = true
			bestScore = score
			bestFace = face.ID
			bestOwner = face.PersonID
		}
		return nil
	})
	if err != nil {
		return nil, false, storageErr("scan faces", err)
	}
	if !found {
		return nil, false, nil
	}

	person, err := s.repo.GetPersonByID(ctx, bestOwner)
	if err != nil {
		return nil, false, storageErr("get person", err)
	}
	if person == nil {
		return nil, false, storageErr("get person", fmt.Errorf("face %d references missing person %d", bestFace, bestOwner))
	}

	return &Match{
		PersonID: person.ID,
		Name:     person.Name,
		Score:    bestScore,
		FaceID:   bestFace,
	}, true, nil
}

// ListPersons listet alle Personen in Anlagereihenfolge
func (s *Store) ListPersons(ctx context.Context) ([]PersonSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	persons, err := s.repo.ListPersons(ctx)
	if err != nil {
		return nil, storageErr("list persons", err)
	}
	out := make([]PersonSummary, 0, len(persons))
	for _, p := range persons {
		out = append(out, PersonSummary{ID: p.ID, Name: p.Name})
	}
	return out, nil
}

// GetPerson liefert eine einzelne Person
func (s *Store) GetPerson(ctx context.Context, personID uint) (*models.Person, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	person, err := s.repo.GetPersonByID(ctx, personID)
	if err != nil {
		return nil, storageErr("get person", err)
	}
	if person == nil {
		return nil, fmt.Errorf("%w: person %d", ErrNotFound, personID)
	}
	return person, nil
}

// GetPersonFaces liefert alle Gesichtsdatensätze einer Person
func (s *Store) GetPersonFaces(ctx context.Context, personID uint) ([]models.FaceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	person, err := s.repo.GetPersonByID(ctx, personID)
	if err != nil {
		return nil, storageErr("get person", err)
	}
	if person == nil {
		return nil, fmt.Errorf("%w: person %d", ErrNotFound, personID)
	}

	faces, err := s.repo.GetFacesByPersonID(ctx, personID)
	if err != nil {
		return nil, storageErr("get faces", err)
	}
	return faces, nil
}

// ImageRefs liefert die Menge aller referenzierten Bildpfade (bereinigt mit filepath.Clean)
func (s *Store) ImageRefs(ctx context.Context) (map[string]struct{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	paths, err := s.repo.ImagePaths(ctx)
	if err != nil {
		return nil, storageErr("image paths", err)
	}
	refs := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		refs[filepath.Clean(p)] = struct{}{}
	}
	return refs, nil
}

// Stats zählt Personen und Gesichter
func (s *Store) Stats(ctx context.Context) (models.Statistics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats, err := s.repo.GetStatistics(ctx)
	if err != nil {
		return stats, storageErr("statistics", err)
	}
	stats.Dimension = s.dim
	return stats, nil
}
