package clusterapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/zstd"

	"web/firemap/maploader"
)

// Server exposes the clustering query contract over HTTP.
type Server struct {
	store *Store
}

func NewServer(store *Store) *Server {
	return &Server{store: store}
}

// Router builds the gin engine with all routes attached.
func (s *Server) Router() *gin.Engine {
	r := gin.Default()

	// Enable CORS
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	r.GET("/api/layers", s.listLayers)
	r.GET("/api/clusters", s.getClusters)

	return r
}

type layerInfo struct {
	ID           string                `json:"id"`
	Kind         string                `json:"kind"`
	Color        string                `json:"color"`
	Icon         string                `json:"icon,omitempty"`
	Style        *maploader.LayerStyle `json:"style,omitempty"`
	FeatureCount int                   `json:"featureCount"`
}

func (s *Server) listLayers(c *gin.Context) {
	layers := s.store.Layers()
	out := make([]layerInfo, len(layers))
	for i, l := range layers {
		out[i] = layerInfo{
			ID:           l.ID,
			Kind:         l.Kind,
			Color:        l.Color,
			Icon:         l.Icon,
			Style:        l.Style,
			FeatureCount: len(l.Features),
		}
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) getClusters(c *gin.Context) {
	layerID := c.Query("layer")
	if layerID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing layer parameter"})
		return
	}

	zoom, err := strconv.Atoi(c.Query("zoom"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid zoom parameter"})
		return
	}

	north, err := strconv.ParseFloat(c.Query("north"), 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid north parameter"})
		return
	}

	south, err := strconv.ParseFloat(c.Query("south"), 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid south parameter"})
		return
	}

	east, err := strconv.ParseFloat(c.Query("east"), 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid east parameter"})
		return
	}

	west, err := strconv.ParseFloat(c.Query("west"), 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid west parameter"})
		return
	}

	bounds := maploader.BoundingBox{West: west, South: south, East: east, North: north}

	result, err := s.store.Query(layerID, bounds, zoom)
	if err != nil {
		if errors.Is(err, ErrUnknownLayer) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if strings.Contains(c.GetHeader("Accept-Encoding"), "zstd") {
		payload, err := json.Marshal(result)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		var buf bytes.Buffer
		enc, err := zstd.NewWriter(&buf)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if _, err := enc.Write(payload); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if err := enc.Close(); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.Header("Content-Encoding", "zstd")
		c.Data(http.StatusOK, "application/json", buf.Bytes())
		return
	}

	c.JSON(http.StatusOK, result)
}
