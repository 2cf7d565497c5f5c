package compreface

import (
	"context"
	"errors"
	"fmt"
	"image"

	"facestore/config"
	"facestore/internal/integrations/facerecognition"

	log "github.com/sirupsen/logrus"
)

// Service implementiert facerecognition.Codec über den CompreFace-Detection-Service
type Service struct {
	client    *Client
	threshold float64
}

// NewService erstellt einen neuen CompreFace-Service
func NewService(cfg config.CodecConfig) *Service {
	return &Service{
		client:    NewClient(cfg),
		threshold: cfg.DetectionThreshold,
	}
}

// Name gibt den Namen des Backends zurück
func (s *Service) Name() string {
	return "compreface"
}

// IsAvailable prüft, ob CompreFace erreichbar ist
func (s *Service) IsAvailable(ctx context.Context) bool {
	ok, err := s.client.Ping(ctx)
	if err != nil {
		log.WithError(err).Warn("CompreFace ping failed")
	}
	return ok
}

// Encode erkennt genau ein Gesicht im Bild und liefert dessen Embedding
func (s *Service) Encode(ctx context.Context, img image.Image) ([]float32, error) {
	if img == nil {
		return nil, facerecognition.NewCodecError(facerecognition.ReasonNoFace, errors.New("image is nil"))
	}

	resp, err := s.client.Detect(ctx, img, s.threshold)
	if err != nil {
		return nil, facerecognition.NewCodecError(facerecognition.ReasonUnavailable, err)
	}

	switch {
	case len(resp.Result) == 0:
		return nil, facerecognition.NewCodecError(facerecognition.ReasonNoFace, nil)
	case len(resp.Result) > 1:
		return nil, facerecognition.NewCodecError(facerecognition.ReasonMultipleFaces,
			fmt.Errorf("%d faces detected", len(resp.Result)))
	}

	face := resp.Result[0]
	if face.Box.Probability < s.threshold {
		return nil, facerecognition.NewCodecError(facerecognition.ReasonLowQuality,
			fmt.Errorf("probability %.2f below %.2f", face.Box.Probability, s.threshold))
	}
	if len(face.Embedding) == 0 {
		return nil, facerecognition.NewCodecError(facerecognition.ReasonUnavailable,
			errors.New("calculator plugin returned no embedding"))
	}
	return face.Embedding, nil
}
