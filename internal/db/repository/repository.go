package repository

import (
	"context"
	"errors"
	"fmt"

	"facestore/internal/core/models"

	"gorm.io/gorm"
)

// ErrPersonNotFound wird von CreateFace geliefert, wenn die referenzierte Person fehlt
var ErrPersonNotFound = errors.New("person not found")

// ErrDimensionMismatch: die Embedding-Länge passt nicht zu den bereits gespeicherten Datensätzen
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// DimensionMismatchError nennt die gespeicherte und die abgelehnte Embedding-Länge
type DimensionMismatchError struct {
	Stored int
	Got    int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("%s: stored %d, got %d", ErrDimensionMismatch.Error(), e.Stored, e.Got)
}

// Is lässt errors.Is(err, ErrDimensionMismatch) zutreffen
func (e *DimensionMismatchError) Is(target error) bool {
	return target == ErrDimensionMismatch
}

// scanBatchSize begrenzt die Anzahl gleichzeitig geladener Embeddings beim Durchlauf
const scanBatchSize = 500

// Repository definiert die Schnittstelle für die Datenbank-Operationen
type Repository interface {
	// Person-Methoden
	CreatePerson(ctx context.Context, person *models.Person) error
	GetPersonByID(ctx context.Context, id uint) (*models.Person, error)
	ListPersons(ctx context.Context) ([]models.Person, error)

	// Face-Methoden
	CreateFace(ctx context.Context, face *models.FaceRecord) error
	CreatePersonWithFace(ctx context.Context, person *models.Person, face *models.FaceRecord) error
	GetFacesByPersonID(ctx context.Context, personID uint) ([]models.FaceRecord, error)
	FirstFace(ctx context.Context) (*models.FaceRecord, error)
	ScanFaces(ctx context.Context, fn func(face *models.FaceRecord) error) error
	ImagePaths(ctx context.Context) ([]string, error)

	// Statistik-Methoden
	GetStatistics(ctx context.Context) (models.Statistics, error)
}

// SQLiteRepository implementiert die Repository-Schnittstelle für SQLite
type SQLiteRepository struct {
	db *gorm.DB
}

// NewSQLiteRepository erstellt eine neue SQLite-Repository-Instanz
func NewSQLiteRepository(db *gorm.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Person-Methoden

// CreatePerson legt eine Person an, ID wird von der Datenbank vergeben
func (r *SQLiteRepository) CreatePerson(ctx context.Context, person *models.Person) error {
	return r.db.WithContext(ctx).Create(person).Error
}

// GetPersonByID holt eine Person anhand ihrer ID, (nil, nil) wenn sie nicht existiert
func (r *SQLiteRepository) GetPersonByID(ctx context.Context, id uint) (*models.Person, error) {
	var person models.Person
	result := r.db.WithContext(ctx).First(&person, id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return &person, nil
}

// ListPersons holt alle Personen in Anlagereihenfolge
func (r *SQLiteRepository) ListPersons(ctx context.Context) ([]models.Person, error) {
	var persons []models.Person
	if err := r.db.WithContext(ctx).Order("id ASC").Find(&persons).Error; err != nil {
		return nil, err
	}
	return persons, nil
}

// Face-Methoden

// CreateFace speichert einen Face-Datensatz. Existenzprüfung der Person, Längenprüfung und
// Insert laufen in einer Transaktion, damit entweder alles oder nichts geschrieben wird.
// Die Länge wird gegen die Datenbank geprüft, nicht gegen den Zustand eines einzelnen Stores,
// da mehrere Handles dieselbe Datei beschreiben können.
func (r *SQLiteRepository) CreateFace(ctx context.Context, face *models.FaceRecord) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.Person{}).Where("id = ?", face.PersonID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return ErrPersonNotFound
		}
		if err := checkDimension(tx, len(face.Embedding)); err != nil {
			return err
		}
		return tx.Omit("Person").Create(face).Error
	})
}

// CreatePersonWithFace legt Person und ersten Face-Datensatz in einer Transaktion an.
// Scheitert der Face-Insert, bleibt auch keine Person zurück.
func (r *SQLiteRepository) CreatePersonWithFace(ctx context.Context, person *models.Person, face *models.FaceRecord) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := checkDimension(tx, len(face.Embedding)); err != nil {
			return err
		}
		if err := tx.Create(person).Error; err != nil {
			return err
		}
		face.PersonID = person.ID
		return tx.Omit("Person").Create(face).Error
	})
}

// checkDimension vergleicht dim mit der Länge des ältesten gespeicherten Datensatzes
func checkDimension(tx *gorm.DB, dim int) error {
	var dims []int
	if err := tx.Model(&models.FaceRecord{}).Order("id ASC").Limit(1).Pluck("dim", &dims).Error; err != nil {
		return err
	}
	if len(dims) > 0 && dims[0] != dim {
		return &DimensionMismatchError{Stored: dims[0], Got: dim}
	}
	return nil
}

// GetFacesByPersonID holt alle Gesichter einer Person in Anlagereihenfolge
func (r *SQLiteRepository) GetFacesByPersonID(ctx context.Context, personID uint) ([]models.FaceRecord, error) {
	var faces []models.FaceRecord
	result := r.db.WithContext(ctx).Where("person_id = ?", personID).Order("id ASC").Find(&faces)
	if result.Error != nil {
		return nil, result.Error
	}
	return faces, nil
}

// FirstFace liefert den ältesten Face-Datensatz, (nil, nil) bei leerer Tabelle
func (r *SQLiteRepository) FirstFace(ctx context.Context) (*models.FaceRecord, error) {
	var face models.FaceRecord
	result := r.db.WithContext(ctx).Order("id ASC").First(&face)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return &face, nil
}

// ScanFaces ruft fn für jeden gespeicherten Datensatz in aufsteigender ID-Reihenfolge auf.
// Gibt fn einen Fehler zurück, wird der Durchlauf abgebrochen.
func (r *SQLiteRepository) ScanFaces(ctx context.Context, fn func(face *models.FaceRecord) error) error {
	var batch []models.FaceRecord
	var fnErr error
	result := r.db.WithContext(ctx).FindInBatches(&batch, scanBatchSize, func(tx *gorm.DB, _ int) error {
		for i := range batch {
			if err := fn(&batch[i]); err != nil {
				fnErr = err
				return err
			}
		}
		return nil
	})
	if fnErr != nil {
		return fnErr
	}
	return result.Error
}

// ImagePaths liefert alle gesetzten Bildreferenzen
func (r *SQLiteRepository) ImagePaths(ctx context.Context) ([]string, error) {
	var paths []string
	err := r.db.WithContext(ctx).
		Model(&models.FaceRecord{}).
		Where("image_path IS NOT NULL").
		Pluck("image_path", &paths).Error
	return paths, err
}

// Statistik-Methoden

// GetStatistics zählt Personen und Gesichter
func (r *SQLiteRepository) GetStatistics(ctx context.Context) (models.Statistics, error) {
	var stats models.Statistics
	db := r.db.WithContext(ctx)

	if err := db.Model(&models.Person{}).Count(&stats.PersonCount).Error; err != nil {
		return stats, err
	}
	if err := db.Model(&models.FaceRecord{}).Count(&stats.FaceCount).Error; err != nil {
		return stats, err
	}
	return stats, nil
}
