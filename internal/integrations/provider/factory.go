package provider

import (
	"fmt"
	"strings"

	"facestore/config"
	"facestore/internal/integrations/compreface"
	"facestore/internal/integrations/facerecognition"
	"facestore/internal/integrations/insightface"

	log "github.com/sirupsen/logrus"
)

// ProviderType bezeichnet ein Embedding-Backend
type ProviderType string

const (
	ProviderInsightFace ProviderType = "insightface"
	ProviderCompreFace  ProviderType = "compreface"
)

// NewCodec erstellt den konfigurierten Embedding-Dienst. Ist der Codec deaktiviert,
// wird (nil, nil) geliefert.
func NewCodec(cfg config.CodecConfig) (facerecognition.Codec, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	provider := ProviderType(strings.ToLower(cfg.Provider))
	if provider == "" {
		provider = ProviderInsightFace
	}

	switch provider {
	case ProviderInsightFace:
		log.Info("Using InsightFace as face codec")
		return insightface.NewService(cfg), nil
	case ProviderCompreFace:
		log.Info("Using CompreFace as face codec")
		return compreface.NewService(cfg), nil
	default:
		return nil, fmt.Errorf("unknown codec provider %q", cfg.Provider)
	}
}
