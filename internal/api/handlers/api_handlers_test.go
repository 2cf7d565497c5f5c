package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"facestore/config"
	"facestore/internal/core/processor"
	"facestore/internal/db"
	"facestore/internal/db/repository"
	"facestore/internal/identity"
	"facestore/internal/integrations/facerecognition"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// widthCodec liefert das Embedding, das unter der Bildbreite hinterlegt ist
type widthCodec map[int][]float32

func (w widthCodec) Name() string                     { return "width" }
func (w widthCodec) IsAvailable(context.Context) bool { return true }

func (w widthCodec) Encode(_ context.Context, img image.Image) ([]float32, error) {
	emb, ok := w[img.Bounds().Dx()]
	if !ok {
		return nil, facerecognition.NewCodecError(facerecognition.ReasonNoFace, nil)
	}
	return emb, nil
}

func newTestRouter(t *testing.T, codec facerecognition.Codec) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	database, err := db.Open(config.DBConfig{File: filepath.Join(t.TempDir(), "api.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close(database) })

	store, err := identity.NewStore(context.Background(), repository.NewSQLiteRepository(database), identity.Options{})
	require.NoError(t, err)

	proc := processor.NewImageProcessor(store, codec, nil, nil, processor.ProcessingOptions{Threshold: 0.6})
	h := NewAPIHandler(&config.Config{}, store, proc, codec)

	router := gin.New()
	h.RegisterRoutes(router.Group("/api"))
	return router
}

func doJSON(t *testing.T, router http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func doUpload(t *testing.T, router http.Handler, path string, width int, fields map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	part, err := mw.CreateFormFile("image", "face.png")
	require.NoError(t, err)
	require.NoError(t, png.Encode(part, image.NewRGBA(image.Rect(0, 0, width, 2))))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestPersonsAndMatch(t *testing.T) {
	router := newTestRouter(t, nil)

	w := doJSON(t, router, http.MethodPost, "/api/persons", gin.H{"name": "Alice"})
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, float64(1), decode(t, w)["id"])

	w = doJSON(t, router, http.MethodPost, "/api/persons", gin.H{"name": "Bob"})
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(t, router, http.MethodPost, "/api/persons/1/faces", gin.H{"embedding": []float32{1, 0, 0}})
	require.Equal(t, http.StatusCreated, w.Code)
	w = doJSON(t, router, http.MethodPost, "/api/persons/2/faces", gin.H{"embedding": []float32{0, 1, 0}})
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(t, router, http.MethodPost, "/api/match", gin.H{"embedding": []float32{0.9, 0.1, 0}})
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, true, body["matched"])
	match := body["match"].(map[string]interface{})
	assert.Equal(t, "Alice", match["name"])
	assert.InDelta(t, 0.994, match["score"].(float64), 1e-3)

	w = doJSON(t, router, http.MethodPost, "/api/match", gin.H{"embedding": []float32{0, 0, 1}})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, decode(t, w)["matched"])

	w = doJSON(t, router, http.MethodGet, "/api/persons", nil)
	require.Equal(t, http.StatusOK, w.Code)
	persons := decode(t, w)["persons"].([]interface{})
	require.Len(t, persons, 2)
	assert.Equal(t, "Alice", persons[0].(map[string]interface{})["name"])

	w = doJSON(t, router, http.MethodGet, "/api/persons/1/faces", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["faces"], 1)
}

func TestErrorMapping(t *testing.T) {
	router := newTestRouter(t, nil)
	w := doJSON(t, router, http.MethodPost, "/api/persons", gin.H{"name": "Alice"})
	require.Equal(t, http.StatusCreated, w.Code)
	w = doJSON(t, router, http.MethodPost, "/api/persons/1/faces", gin.H{"embedding": []float32{1, 0, 0}})
	require.Equal(t, http.StatusCreated, w.Code)

	tests := []struct {
		name   string
		method string
		path   string
		body   interface{}
		status int
	}{
		{"UnknownPersonFaces", http.MethodGet, "/api/persons/99/faces", nil, http.StatusNotFound},
		{"UnknownPersonSample", http.MethodPost, "/api/persons/99/faces", gin.H{"embedding": []float32{1, 0, 0}}, http.StatusNotFound},
		{"InvalidPersonID", http.MethodGet, "/api/persons/abc/faces", nil, http.StatusBadRequest},
		{"DimensionMismatch", http.MethodPost, "/api/persons/1/faces", gin.H{"embedding": []float32{1, 0}}, http.StatusBadRequest},
		{"EmptyEmbedding", http.MethodPost, "/api/persons/1/faces", gin.H{"embedding": []float32{}}, http.StatusBadRequest},
		{"BlankName", http.MethodPost, "/api/persons", gin.H{"name": "   "}, http.StatusBadRequest},
		{"MissingName", http.MethodPost, "/api/persons", gin.H{}, http.StatusBadRequest},
		{"ThresholdOutOfRange", http.MethodPost, "/api/match", gin.H{"embedding": []float32{1, 0, 0}, "threshold": 2}, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(t, router, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, w.Code)
			assert.NotEmpty(t, decode(t, w)["error"])
		})
	}
}

func TestEnrollAndRecognizeUpload(t *testing.T) {
	router := newTestRouter(t, widthCodec{
		1: {1, 0, 0},
		2: {0, 1, 0},
		3: {0.9, 0.1, 0},
	})

	w := doUpload(t, router, "/api/enroll", 1, map[string]string{"name": "Alice"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "Alice", decode(t, w)["name"])

	w = doUpload(t, router, "/api/persons/1/images", 2, nil)
	require.Equal(t, http.StatusCreated, w.Code)

	w = doUpload(t, router, "/api/recognize", 3, nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, true, body["matched"])
	assert.Equal(t, "Alice", body["match"].(map[string]interface{})["name"])

	w = doUpload(t, router, "/api/recognize", 7, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, string(facerecognition.ReasonNoFace), decode(t, w)["reason"])
}

func TestRecognizeRejectsGarbage(t *testing.T) {
	router := newTestRouter(t, widthCodec{})

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("image", "face.png")
	require.NoError(t, err)
	_, _ = part.Write([]byte("not an image"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/recognize", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	req = httptest.NewRequest(http.MethodPost, "/api/recognize", strings.NewReader(""))
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRecognizeWithoutCodec(t *testing.T) {
	router := newTestRouter(t, nil)
	w := doUpload(t, router, "/api/recognize", 1, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, string(facerecognition.ReasonUnavailable), decode(t, w)["reason"])
}

func TestStatus(t *testing.T) {
	router := newTestRouter(t, widthCodec{})
	w := doJSON(t, router, http.MethodPost, "/api/persons", gin.H{"name": "Alice"})
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(t, router, http.MethodGet, "/api/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, 0.6, body["threshold"])
	system := body["system"].(map[string]interface{})
	assert.Equal(t, float64(1), system["person_count"])
	codec := body["codec"].(map[string]interface{})
	assert.Equal(t, "width", codec["name"])
	assert.Equal(t, true, codec["reachable"])
}

func TestErrorStatus(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, errorStatus(identity.ErrNotFound))
	assert.Equal(t, http.StatusBadRequest, errorStatus(identity.ErrInvalidEmbedding))
	assert.Equal(t, http.StatusBadRequest, errorStatus(identity.ErrInvalidName))
	assert.Equal(t, http.StatusUnprocessableEntity, errorStatus(facerecognition.NewCodecError(facerecognition.ReasonLowQuality, nil)))
	assert.Equal(t, http.StatusInternalServerError, errorStatus(&identity.StorageError{Op: "x", Err: assert.AnError}))
}

func TestEnrollUploadBlankName(t *testing.T) {
	for _, codec := range []facerecognition.Codec{nil, widthCodec{1: {1, 0, 0}}} {
		router := newTestRouter(t, codec)
		w := doUpload(t, router, "/api/enroll", 1, map[string]string{"name": "  "})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Nil(t, decode(t, w)["reason"])

		w = doJSON(t, router, http.MethodGet, "/api/persons", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.NotContains(t, w.Body.String(), `"id"`)
	}
}
