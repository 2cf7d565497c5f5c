package handlers

import (
	"fmt"
	"image"
	_ "image/jpeg" // Decoder registrieren
	_ "image/png"
	"net/http"

	"facestore/internal/identity"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// readImage dekodiert das hochgeladene Bild aus dem Formularfeld "image"
func readImage(c *gin.Context) (image.Image, bool) {
	file, header, err := c.Request.FormFile("image")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No image uploaded or invalid form data"})
		return nil, false
	}
	defer file.Close()

	img, format, err := image.Decode(file)
	if err != nil {
		log.WithError(err).WithField("file", header.Filename).Debug("Failed to decode upload")
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Failed to decode image: %v", err)})
		return nil, false
	}

	log.WithFields(log.Fields{
		"file":   header.Filename,
		"format": format,
		"size":   header.Size,
	}).Debug("Image upload decoded")
	return img, true
}

// EnrollImage legt eine neue Person an und lernt das Gesicht aus dem Bild ein
func (h *APIHandler) EnrollImage(c *gin.Context) {
	name, err := identity.NormalizeName(c.PostForm("name"))
	if err != nil {
		respondError(c, err)
		return
	}
	img, ok := readImage(c)
	if !ok {
		return
	}

	result, err := h.imageProcessor.EnrollImage(c.Request.Context(), name, img)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

// AddFaceImage fügt einer Person ein Gesicht aus einem hochgeladenen Bild hinzu
func (h *APIHandler) AddFaceImage(c *gin.Context) {
	id, ok := parsePersonID(c)
	if !ok {
		return
	}
	img, ok := readImage(c)
	if !ok {
		return
	}

	result, err := h.imageProcessor.AddImageSample(c.Request.Context(), id, img)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

// RecognizeImage erkennt das Gesicht in einem hochgeladenen Bild
func (h *APIHandler) RecognizeImage(c *gin.Context) {
	img, ok := readImage(c)
	if !ok {
		return
	}

	result, err := h.imageProcessor.Recognize(c.Request.Context(), img)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
