package insightface

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"facestore/config"
	"facestore/internal/integrations/facerecognition"

	log "github.com/sirupsen/logrus"
)

// Service implementiert facerecognition.Codec über den InsightFace-REST-Dienst
type Service struct {
	client    *APIClient
	threshold float64
}

// NewService erstellt einen neuen InsightFace-Service
func NewService(cfg config.CodecConfig) *Service {
	return &Service{
		client:    NewAPIClient(cfg),
		threshold: cfg.DetectionThreshold,
	}
}

// Name gibt den Namen des Backends zurück
func (s *Service) Name() string {
	return "insightface"
}

// IsAvailable prüft, ob der InsightFace-Dienst verfügbar ist
func (s *Service) IsAvailable(ctx context.Context) bool {
	ok, err := s.client.Ping(ctx)
	if err != nil {
		log.WithFields(logFields).WithError(err).Warn("InsightFace ping failed")
	}
	return ok
}

// Encode erkennt genau ein Gesicht im Bild und liefert dessen Embedding
func (s *Service) Encode(ctx context.Context, img image.Image) ([]float32, error) {
	if img == nil {
		return nil, facerecognition.NewCodecError(facerecognition.ReasonNoFace, errors.New("image is nil"))
	}

	start := time.Now()
	resp, err := s.client.DetectFaces(ctx, img, s.threshold)
	if err != nil {
		return nil, facerecognition.NewCodecError(facerecognition.ReasonUnavailable, err)
	}

	log.WithFields(logFields).WithFields(log.Fields{
		"faces":    len(resp.Faces),
		"duration": time.Since(start),
	}).Debug("InsightFace detection finished")

	switch {
	case len(resp.Faces) == 0:
		return nil, facerecognition.NewCodecError(facerecognition.ReasonNoFace, nil)
	case len(resp.Faces) > 1:
		return nil, facerecognition.NewCodecError(facerecognition.ReasonMultipleFaces,
			fmt.Errorf("%d faces detected", len(resp.Faces)))
	}

	face := resp.Faces[0]
	if face.Confidence < s.threshold {
		return nil, facerecognition.NewCodecError(facerecognition.ReasonLowQuality,
			fmt.Errorf("confidence %.2f below %.2f", face.Confidence, s.threshold))
	}
	if len(face.Embedding) == 0 {
		return nil, facerecognition.NewCodecError(facerecognition.ReasonUnavailable,
			errors.New("response contains no embedding"))
	}
	return face.Embedding, nil
}
