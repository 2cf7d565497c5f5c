package models

import (
	"time"
)

// Person repräsentiert eine eingelernte Person. Namen sind nicht eindeutig,
// zwei Personen mit gleichem Namen sind unterschiedliche Identitäten.
type Person struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Name      string    `gorm:"not null;index" json:"name"`
	CreatedAt time.Time `gorm:"not null" json:"created_at"`
}

// TableName setzt den Tabellennamen explizit
func (Person) TableName() string {
	return "persons"
}

// FaceRecord ist ein gespeichertes Embedding einer Person (ein Datensatz pro Enrollment-Aufnahme).
// Datensätze werden nach dem Anlegen nicht mehr verändert.
type FaceRecord struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	PersonID  uint      `gorm:"not null;index" json:"person_id"`
	Embedding Embedding `gorm:"type:blob;not null" json:"embedding"`
	Dim       int       `gorm:"not null" json:"dim"`
	ImagePath *string   `json:"image_path,omitempty"`
	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	Person    *Person   `gorm:"foreignKey:PersonID;constraint:OnDelete:CASCADE;" json:"-"`
}

// TableName setzt den Tabellennamen explizit
func (FaceRecord) TableName() string {
	return "faces"
}

// Statistics fasst den Inhalt des Stores zusammen
type Statistics struct {
	PersonCount int64 `json:"person_count"`
	FaceCount   int64 `json:"face_count"`
	Dimension   int   `json:"dimension"`
}
