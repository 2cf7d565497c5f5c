package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"facestore/config"
	"facestore/internal/core/processor"
	"facestore/internal/identity"
	"facestore/internal/integrations/facerecognition"
	"facestore/internal/utils"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// APIHandler behandelt API-Anfragen an den Identity-Store
type APIHandler struct {
	cfg            *config.Config
	store          *identity.Store
	imageProcessor *processor.ImageProcessor
	codec          facerecognition.Codec
}

// NewAPIHandler erstellt einen neuen API-Handler. codec darf nil sein.
func NewAPIHandler(cfg *config.Config, store *identity.Store, imageProcessor *processor.ImageProcessor, codec facerecognition.Codec) *APIHandler {
	return &APIHandler{
		cfg:            cfg,
		store:          store,
		imageProcessor: imageProcessor,
		codec:          codec,
	}
}

// RegisterRoutes registriert alle API-Routen
func (h *APIHandler) RegisterRoutes(router *gin.RouterGroup) {
	// Personen
	router.GET("/persons", h.ListPersons)
	router.POST("/persons", h.CreatePerson)
	router.GET("/persons/:id/faces", h.GetPersonFaces)
	router.POST("/persons/:id/faces", h.AddFace)
	router.POST("/persons/:id/images", h.AddFaceImage)

	// Einlernen und Erkennen
	router.POST("/enroll", h.EnrollImage)
	router.POST("/match", h.Match)
	router.POST("/recognize", h.RecognizeImage)

	router.GET("/status", h.GetStatus)
}

type createPersonRequest struct {
	Name string `json:"name" binding:"required"`
}

type addFaceRequest struct {
	Embedding []float32 `json:"embedding" binding:"required"`
	ImagePath *string   `json:"image_path"`
}

type matchRequest struct {
	Embedding []float32 `json:"embedding" binding:"required"`
	Threshold *float64  `json:"threshold"`
}

// errorStatus bildet Store- und Codec-Fehler auf HTTP-Statuscodes ab
func errorStatus(err error) int {
	switch {
	case errors.Is(err, identity.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, identity.ErrInvalidEmbedding),
		errors.Is(err, identity.ErrInvalidName),
		errors.Is(err, identity.ErrInvalidThreshold):
		return http.StatusBadRequest
	case errors.Is(err, facerecognition.ErrCodec):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, err error) {
	status := errorStatus(err)
	body := gin.H{"error": err.Error()}

	var ce *facerecognition.CodecError
	if errors.As(err, &ce) {
		body["reason"] = ce.Reason
	}

	if status >= http.StatusInternalServerError {
		log.WithError(err).WithField("path", c.FullPath()).Error("Request failed")
	} else {
		log.WithError(err).WithField("path", c.FullPath()).Debug("Request rejected")
	}
	c.JSON(status, body)
}

func parsePersonID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid person id %q", c.Param("id"))})
		return 0, false
	}
	return uint(id), true
}

// ListPersons gibt alle Personen in Anlagereihenfolge zurück
func (h *APIHandler) ListPersons(c *gin.Context) {
	persons, err := h.store.ListPersons(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"persons": persons})
}

// CreatePerson legt eine Person ohne Gesichtsdatensätze an
func (h *APIHandler) CreatePerson(c *gin.Context) {
	var req createPersonRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid request: %v", err)})
		return
	}

	id, err := h.store.Enroll(c.Request.Context(), req.Name)
	if err != nil {
		respondError(c, err)
		return
	}
	person, err := h.store.GetPerson(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, person)
}

// GetPersonFaces gibt die Gesichtsdatensätze einer Person zurück
func (h *APIHandler) GetPersonFaces(c *gin.Context) {
	id, ok := parsePersonID(c)
	if !ok {
		return
	}

	faces, err := h.store.GetPersonFaces(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"person_id": id, "faces": faces})
}

// AddFace speichert ein fertiges Embedding als neuen Datensatz einer Person
func (h *APIHandler) AddFace(c *gin.Context) {
	id, ok := parsePersonID(c)
	if !ok {
		return
	}

	var req addFaceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid request: %v", err)})
		return
	}

	faceID, err := h.store.AddSample(c.Request.Context(), id, req.Embedding, req.ImagePath)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": faceID, "person_id": id})
}

// Match sucht die beste Übereinstimmung für ein fertiges Embedding
func (h *APIHandler) Match(c *gin.Context) {
	start := time.Now()

	var req matchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid request: %v", err)})
		return
	}

	threshold := h.imageProcessor.Threshold()
	if req.Threshold != nil {
		threshold = *req.Threshold
	}

	result, err := h.imageProcessor.Match(c.Request.Context(), req.Embedding, threshold, start)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// GetStatus gibt den Systemstatus zurück
func (h *APIHandler) GetStatus(c *gin.Context) {
	ctx := c.Request.Context()

	stats, err := utils.GetSystemStats(ctx, h.store)
	if err != nil {
		respondError(c, err)
		return
	}

	codecStatus := gin.H{"enabled": h.codec != nil}
	if h.codec != nil {
		codecStatus["name"] = h.codec.Name()
		codecStatus["reachable"] = h.codec.IsAvailable(ctx)
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"threshold": h.imageProcessor.Threshold(),
		"codec":     codecStatus,
		"mqtt":      gin.H{"enabled": h.cfg.MQTT.Enabled},
		"system":    stats,
		"memory":    utils.FormatBytes(stats.MemoryAlloc),
	})
}
