package facerecognition

import (
	"context"
	"errors"
	"fmt"
	"image"
)

// FailureReason beschreibt, warum aus einem Bild kein Embedding gewonnen werden konnte
type FailureReason string

const (
	// ReasonNoFace: kein Gesicht gefunden
	ReasonNoFace FailureReason = "no_face"

	// ReasonMultipleFaces: mehr als ein Gesicht, Zuordnung nicht eindeutig
	ReasonMultipleFaces FailureReason = "multiple_faces"

	// ReasonLowQuality: Gesicht unter der Erkennungsschwelle
	ReasonLowQuality FailureReason = "low_quality"

	// ReasonUnavailable: Dienst nicht erreichbar oder fehlerhafte Antwort
	ReasonUnavailable FailureReason = "unavailable"
)

// ErrCodec ist der gemeinsame Fehler aller Codec-Fehlschläge
var ErrCodec = errors.New("feature extraction failed")

// CodecError wird von Codec.Encode bei jedem Fehlschlag geliefert
type CodecError struct {
	Reason FailureReason
	Err    error
}

func (e *CodecError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s (%s): %v", ErrCodec.Error(), e.Reason, e.Err)
	}
	return fmt.Sprintf("%s (%s)", ErrCodec.Error(), e.Reason)
}

func (e *CodecError) Unwrap() error { return e.Err }

// Is lässt errors.Is(err, ErrCodec) zutreffen
func (e *CodecError) Is(target error) bool {
	return target == ErrCodec
}

// NewCodecError erzeugt einen CodecError
func NewCodecError(reason FailureReason, err error) *CodecError {
	return &CodecError{Reason: reason, Err: err}
}

// Codec wandelt ein Gesichtsbild in ein Embedding fester Länge um.
// Fehlschläge sind immer *CodecError.
type Codec interface {
	// Name des Backends, z.B. "insightface"
	Name() string

	// IsAvailable prüft, ob der Dienst erreichbar ist
	IsAvailable(ctx context.Context) bool

	// Encode liefert das Embedding des einzigen Gesichts im Bild
	Encode(ctx context.Context, img image.Image) ([]float32, error)
}
