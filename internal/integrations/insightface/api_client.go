package insightface

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"facestore/config"

	log "github.com/sirupsen/logrus"
)

// Log-Felder für die InsightFace-Komponente
var logFields = log.Fields{
	"component": "insightface",
}

// APIClient implementiert die Kommunikation mit dem InsightFace-Dienst
type APIClient struct {
	baseURL    string
	httpClient *http.Client
}

// apiInfoResponse enthält Informationen über den InsightFace-Dienst
type apiInfoResponse struct {
	Status    string   `json:"status"`
	Version   string   `json:"version"`
	Backend   string   `json:"backend"`
	Providers []string `json:"providers"`
}

// apiFace ist ein einzelnes Gesicht in der Detect-Antwort
type apiFace struct {
	BoundingBox []int     `json:"bbox"`
	Confidence  float64   `json:"confidence"`
	Embedding   []float32 `json:"embedding,omitempty"`
}

// apiDetectResponse enthält die Antwort auf eine Gesichtserkennungsanfrage
type apiDetectResponse struct {
	Status      string    `json:"status"`
	FacesCount  int       `json:"faces_count"`
	Faces       []apiFace `json:"faces"`
	ProcessTime float64   `json:"process_time"`
}

// NewAPIClient erstellt einen neuen InsightFace-APIClient
func NewAPIClient(cfg config.CodecConfig) *APIClient {
	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &APIClient{
		baseURL: strings.TrimRight(cfg.URL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Ping prüft, ob der InsightFace-Dienst verfügbar ist
func (c *APIClient) Ping(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/info", nil)
	if err != nil {
		return false, fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("failed to reach insightface: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("insightface unavailable, status: %d", resp.StatusCode)
	}

	var info apiInfoResponse
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return false, fmt.Errorf("failed to decode info response: %w", err)
	}

	log.WithFields(logFields).WithFields(log.Fields{
		"version": info.Version,
		"backend": info.Backend,
	}).Debug("InsightFace info")
	return info.Status == "ok", nil
}

// encodeImage kodiert ein Bild im JPEG-Format für die Übertragung
func encodeImage(img image.Image) ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := jpeg.Encode(buf, img, nil); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DetectFaces sendet das Bild an /detect und fordert Embeddings an
func (c *APIClient) DetectFaces(ctx context.Context, img image.Image, threshold float64) (*apiDetectResponse, error) {
	imgData, err := encodeImage(img)
	if err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("file", "image.jpg")
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(imgData); err != nil {
		return nil, fmt.Errorf("failed to write image data: %w", err)
	}

	fields := map[string]string{
		"threshold":         fmt.Sprintf("%f", threshold),
		"return_face_data":  "false",
		"extract_embedding": "true",
	}
	for k, v := range fields {
		if err := writer.WriteField(k, v); err != nil {
			return nil, fmt.Errorf("failed to write field %s: %w", k, err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/detect", body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("detect request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var apiResp apiDetectResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("failed to decode detect response: %w", err)
	}
	if apiResp.Status != "ok" {
		return nil, fmt.Errorf("insightface error: %s", apiResp.Status)
	}

	return &apiResp, nil
}
