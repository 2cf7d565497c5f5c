package compreface

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
	"net/url"
	"time"

	"facestore/config"

	log "github.com/sirupsen/logrus"
)

// noFaceErrorCode: CompreFace-Fehlercode für "kein Gesicht gefunden"
const noFaceErrorCode = 28

// Client für die Detection-API von CompreFace
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// Box repräsentiert die Begrenzungsbox eines Gesichts
type Box struct {
	Probability float64 `json:"probability"`
	XMin        int     `json:"x_min"`
	YMin        int     `json:"y_min"`
	XMax        int     `json:"x_max"`
	YMax        int     `json:"y_max"`
}

// DetectionResult ist ein erkanntes Gesicht samt Embedding (Plugin "calculator")
type DetectionResult struct {
	Box       Box       `json:"box"`
	Embedding []float32 `json:"embedding"`
}

// DetectionResponse repräsentiert die Antwort der Detection-API
type DetectionResponse struct {
	Result []DetectionResult `json:"result"`
}

// NewClient erstellt einen neuen CompreFace-Client
func NewClient(cfg config.CodecConfig) *Client {
	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: cfg.URL,
		apiKey:  cfg.APIKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Ping prüft, ob der CompreFace-Dienst erreichbar ist. Jede Antwort unterhalb von 500 zählt als erreichbar.
func (c *Client) Ping(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL, nil)
	if err != nil {
		return false, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		log.Warnf("CompreFace connection test failed (status %d): %s", resp.StatusCode, string(bodyBytes))
		return false, nil
	}
	return true, nil
}

// Detect sendet ein Bild an die Detection-API und fordert Embeddings an
func (c *Client) Detect(ctx context.Context, img image.Image, detProbThreshold float64) (*DetectionResponse, error) {
	imgBuf := new(bytes.Buffer)
	if err := jpeg.Encode(imgBuf, img, nil); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", "image.jpg")
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(imgBuf.Bytes()); err != nil {
		return nil, fmt.Errorf("failed to write image data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	apiURL, err := url.JoinPath(c.baseURL, "/api/v1/detection/detect")
	if err != nil {
		return nil, fmt.Errorf("failed to create API URL: %w", err)
	}
	query := url.Values{}
	query.Set("face_plugins", "calculator")
	query.Set("det_prob_threshold", fmt.Sprintf("%.2f", detProbThreshold))
	apiURL += "?" + query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("x-api-key", c.apiKey)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()
	log.Debugf("CompreFace detection request took %s", time.Since(start))

	// "kein Gesicht" kommt als 400 mit eigenem Fehlercode
	if resp.StatusCode == http.StatusBadRequest {
		var apiErr struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		}
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if json.Unmarshal(bodyBytes, &apiErr) == nil && apiErr.Code == noFaceErrorCode {
			return &DetectionResponse{}, nil
		}
		return nil, fmt.Errorf("CompreFace API returned error (status %d): %s", resp.StatusCode, string(bodyBytes))
	}
	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("CompreFace API returned error (status %d): %s", resp.StatusCode, string(bodyBytes))
	}

	var result DetectionResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	log.Debugf("CompreFace detected %d faces", len(result.Result))
	return &result, nil
}
