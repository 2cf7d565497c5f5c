package processor

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"facestore/internal/identity"
	"facestore/internal/integrations/facerecognition"
	"facestore/internal/util/timezone"

	log "github.com/sirupsen/logrus"
)

// ErrCodecDisabled: kein Embedding-Dienst konfiguriert
var ErrCodecDisabled = facerecognition.NewCodecError(facerecognition.ReasonUnavailable, errors.New("no face codec configured"))

// Publisher veröffentlicht Erkennungsereignisse (z.B. der MQTT-Client)
type Publisher interface {
	Publish(topic string, payload interface{}) error
	Topic(suffix string) string
}

// ProcessingOptions enthält Optionen für die Bildverarbeitung
type ProcessingOptions struct {
	Threshold  float64
	SaveImages bool
}

// EnrollResult beschreibt einen gespeicherten Gesichtsdatensatz
type EnrollResult struct {
	PersonID  uint    `json:"person_id"`
	Name      string  `json:"name"`
	FaceID    uint    `json:"face_id"`
	ImagePath *string `json:"image_path,omitempty"`
}

// RecognitionResult ist das Ergebnis einer Erkennung
type RecognitionResult struct {
	Matched   bool            `json:"matched"`
	Match     *identity.Match `json:"match,omitempty"`
	Threshold float64         `json:"threshold"`
	Duration  time.Duration   `json:"duration_ns"`
}

// MatchEvent wird nach jeder Erkennung veröffentlicht
type MatchEvent struct {
	Matched   bool      `json:"matched"`
	PersonID  uint      `json:"person_id,omitempty"`
	Name      string    `json:"name,omitempty"`
	Score     float64   `json:"score"`
	Threshold float64   `json:"threshold"`
	Timestamp time.Time `json:"timestamp"`
}

// ImageProcessor verbindet Codec, Identity-Store und Bildablage: Gesicht kodieren,
// einlernen oder gegen den Store abgleichen.
type ImageProcessor struct {
	store     *identity.Store
	codec     facerecognition.Codec
	images    *identity.ImageStore
	publisher Publisher
	options   ProcessingOptions
}

// NewImageProcessor erstellt einen neuen Bildverarbeitungsprozessor. codec, images und
// publisher dürfen nil sein.
func NewImageProcessor(store *identity.Store, codec facerecognition.Codec, images *identity.ImageStore, publisher Publisher, options ProcessingOptions) *ImageProcessor {
	return &ImageProcessor{
		store:     store,
		codec:     codec,
		images:    images,
		publisher: publisher,
		options:   options,
	}
}

// Threshold gibt die konfigurierte Ähnlichkeitsschwelle zurück
func (p *ImageProcessor) Threshold() float64 {
	return p.options.Threshold
}

func (p *ImageProcessor) encode(ctx context.Context, img image.Image) ([]float32, error) {
	if p.codec == nil {
		return nil, ErrCodecDisabled
	}
	embedding, err := p.codec.Encode(ctx, img)
	if err != nil {
		var ce *facerecognition.CodecError
		if !errors.As(err, &ce) {
			err = facerecognition.NewCodecError(facerecognition.ReasonUnavailable, err)
		}
		return nil, err
	}
	return embedding, nil
}

// EnrollImage legt eine neue Person an und speichert das Gesicht aus img als ersten Datensatz.
// Person und Datensatz entstehen gemeinsam; scheitert ein Schritt, wird keine Person angelegt.
func (p *ImageProcessor) EnrollImage(ctx context.Context, name string, img image.Image) (*EnrollResult, error) {
	// 1. Name prüfen, bevor der Codec bemüht wird
	name, err := identity.NormalizeName(name)
	if err != nil {
		return nil, err
	}

	// 2. Embedding berechnen
	embedding, err := p.encode(ctx, img)
	if err != nil {
		return nil, err
	}
	if err := p.checkDimension(embedding); err != nil {
		return nil, err
	}

	// 3. Bild ablegen und Person samt Datensatz speichern
	imageRef, err := p.saveImage(name, img)
	if err != nil {
		return nil, err
	}
	personID, faceID, err := p.store.EnrollWithSample(ctx, name, embedding, imageRef)
	if err != nil {
		p.discardImage(imageRef)
		return nil, err
	}

	log.WithFields(log.Fields{
		"person_id": personID,
		"name":      name,
		"face_id":   faceID,
	}).Info("Person enrolled from image")

	return &EnrollResult{PersonID: personID, Name: name, FaceID: faceID, ImagePath: imageRef}, nil
}

// AddImageSample fügt einer bestehenden Person ein weiteres Gesicht hinzu
func (p *ImageProcessor) AddImageSample(ctx context.Context, personID uint, img image.Image) (*EnrollResult, error) {
	person, err := p.store.GetPerson(ctx, personID)
	if err != nil {
		return nil, err
	}

	embedding, err := p.encode(ctx, img)
	if err != nil {
		return nil, err
	}
	if err := p.checkDimension(embedding); err != nil {
		return nil, err
	}

	imageRef, err := p.saveImage(person.Name, img)
	if err != nil {
		return nil, err
	}
	faceID, err := p.store.AddSample(ctx, person.ID, embedding, imageRef)
	if err != nil {
		p.discardImage(imageRef)
		return nil, err
	}

	log.WithFields(log.Fields{
		"person_id": person.ID,
		"name":      person.Name,
		"face_id":   faceID,
	}).Info("Face sample enrolled")

	return &EnrollResult{PersonID: person.ID, Name: person.Name, FaceID: faceID, ImagePath: imageRef}, nil
}

// checkDimension lehnt Embeddings mit falscher Länge ab, bevor ein Bild geschrieben wird.
// Die verbindliche Prüfung erfolgt beim Speichern im Store.
func (p *ImageProcessor) checkDimension(embedding []float32) error {
	if dim := p.store.Dimension(); dim != 0 && len(embedding) != dim {
		return fmt.Errorf("%w: expected dimension %d, got %d", identity.ErrInvalidEmbedding, dim, len(embedding))
	}
	return nil
}

func (p *ImageProcessor) saveImage(name string, img image.Image) (*string, error) {
	if !p.options.SaveImages || p.images == nil {
		return nil, nil
	}
	path, err := p.images.Save(name, img)
	if err != nil {
		return nil, err
	}
	return &path, nil
}

func (p *ImageProcessor) discardImage(imageRef *string) {
	if imageRef == nil {
		return
	}
	if err := p.images.Remove(*imageRef); err != nil {
		log.WithError(err).Warn("Failed to remove orphaned face image")
	}
}

// Recognize kodiert das Gesicht in img und sucht die beste Übereinstimmung
func (p *ImageProcessor) Recognize(ctx context.Context, img image.Image) (*RecognitionResult, error) {
	start := time.Now()

	embedding, err := p.encode(ctx, img)
	if err != nil {
		return nil, err
	}

	return p.Match(ctx, embedding, p.options.Threshold, start)
}

// Match gleicht ein fertiges Embedding ab und veröffentlicht das Ergebnis
func (p *ImageProcessor) Match(ctx context.Context, embedding []float32, threshold float64, start time.Time) (*RecognitionResult, error) {
	if threshold < 0 || threshold > 1 {
		return nil, fmt.Errorf("%w: threshold %v outside [0, 1]", identity.ErrInvalidThreshold, threshold)
	}

	match, ok, err := p.store.FindBestMatch(ctx, embedding, threshold)
	if err != nil {
		return nil, err
	}

	result := &RecognitionResult{
		Matched:   ok,
		Match:     match,
		Threshold: threshold,
		Duration:  time.Since(start),
	}

	entry := log.WithFields(log.Fields{"threshold": threshold, "duration": result.Duration})
	if ok {
		entry.WithFields(log.Fields{"person_id": match.PersonID, "name": match.Name, "score": match.Score}).Info("Face recognized")
	} else {
		entry.Info("Face unknown")
	}

	p.publish(result)
	return result, nil
}

func (p *ImageProcessor) publish(result *RecognitionResult) {
	if p.publisher == nil {
		return
	}

	event := MatchEvent{
		Matched:   result.Matched,
		Threshold: result.Threshold,
		Timestamp: timezone.Now(),
	}
	topic := p.publisher.Topic("unknown")
	if result.Matched {
		event.PersonID = result.Match.PersonID
		event.Name = result.Match.Name
		event.Score = result.Match.Score
		topic = p.publisher.Topic("match")
	}

	if err := p.publisher.Publish(topic, event); err != nil {
		log.WithError(err).WithField("topic", topic).Debug("Recognition event not published")
	}
}
