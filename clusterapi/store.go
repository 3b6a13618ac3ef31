// Package clusterapi is the clustering service the map loader talks to: it
// holds per-layer feature datasets and answers bounding-box + zoom queries
// with server-side clusters.
package clusterapi

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/paulmach/orb/geojson"

	"web/firemap/maploader"
)

// Feature is one stored map feature. Polygon-layer features carry their
// boundary geometry; point-layer features leave it nil.
type Feature struct {
	ID         int64
	Lat        float64
	Lng        float64
	Title      string
	Properties map[string]any
	Geometry   *geojson.Geometry
}

// Layer is a named, styled feature collection.
type Layer struct {
	ID       string
	Kind     string // "point" or "polygon"
	Color    string
	Icon     string
	Style    *maploader.LayerStyle
	Features []Feature
}

// Store holds all layers in memory. Datasets are small enough (tens of
// thousands of features) that queries scan the layer directly.
type Store struct {
	mu     sync.RWMutex
	layers map[string]*Layer
	order  []string
}

func NewStore() *Store {
	return &Store{layers: make(map[string]*Layer)}
}

func (s *Store) AddLayer(l *Layer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.layers[l.ID]; !exists {
		s.order = append(s.order, l.ID)
	}
	s.layers[l.ID] = l
}

func (s *Store) Layer(id string) (*Layer, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.layers[id]
	return l, ok
}

// Layers returns all layers in insertion order.
func (s *Store) Layers() []*Layer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Layer, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.layers[id])
	}
	return out
}

func (s *Store) TotalFeatures() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, l := range s.layers {
		n += len(l.Features)
	}
	return n
}

// SaveCompressed writes the store as a zstd-compressed binary snapshot.
func (s *Store) SaveCompressed(filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create file: %v", err)
	}
	defer file.Close()

	bufWriter := bufio.NewWriterSize(file, 1024*1024)
	enc, err := zstd.NewWriter(bufWriter,
		zstd.WithEncoderLevel(zstd.SpeedBestCompression))
	if err != nil {
		return fmt.Errorf("failed to create zstd writer: %v", err)
	}
	defer enc.Close()

	if err := s.encodeTo(enc); err != nil {
		return err
	}

	if err := enc.Close(); err != nil {
		return fmt.Errorf("failed to close encoder: %v", err)
	}
	if err := bufWriter.Flush(); err != nil {
		return fmt.Errorf("failed to flush buffer: %v", err)
	}
	return nil
}

// LoadCompressed reads a snapshot written by SaveCompressed.
func LoadCompressed(filename string) (*Store, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %v", err)
	}
	defer file.Close()

	bufReader := bufio.NewReaderSize(file, 1024*1024)
	dec, err := zstd.NewReader(bufReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd reader: %v", err)
	}
	defer dec.Close()

	return decodeFrom(dec)
}

func (s *Store) encodeTo(w io.Writer) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	binary.Write(w, binary.LittleEndian, uint32(len(s.order)))
	for _, id := range s.order {
		layer := s.layers[id]
		writeString(w, layer.ID)
		writeString(w, layer.Kind)
		writeString(w, layer.Color)
		writeString(w, layer.Icon)

		styleBytes, err := json.Marshal(layer.Style)
		if err != nil {
			return fmt.Errorf("failed to marshal style for layer %s: %v", layer.ID, err)
		}
		writeBytes(w, styleBytes)

		binary.Write(w, binary.LittleEndian, uint32(len(layer.Features)))
		for _, f := range layer.Features {
			binary.Write(w, binary.LittleEndian, f.ID)
			binary.Write(w, binary.LittleEndian, f.Lat)
			binary.Write(w, binary.LittleEndian, f.Lng)
			writeString(w, f.Title)

			propBytes, err := json.Marshal(f.Properties)
			if err != nil {
				return fmt.Errorf("failed to marshal properties: %v", err)
			}
			writeBytes(w, propBytes)

			var geomBytes []byte
			if f.Geometry != nil {
				geomBytes, err = json.Marshal(f.Geometry)
				if err != nil {
					return fmt.Errorf("failed to marshal geometry: %v", err)
				}
			}
			writeBytes(w, geomBytes)
		}
	}
	return nil
}

func decodeFrom(r io.Reader) (*Store, error) {
	store := NewStore()

	var numLayers uint32
	if err := binary.Read(r, binary.LittleEndian, &numLayers); err != nil {
		return nil, fmt.Errorf("failed to read layer count: %v", err)
	}

	for i := uint32(0); i < numLayers; i++ {
		layer := &Layer{}
		var err error
		if layer.ID, err = readString(r); err != nil {
			return nil, err
		}
		if layer.Kind, err = readString(r); err != nil {
			return nil, err
		}
		if layer.Color, err = readString(r); err != nil {
			return nil, err
		}
		if layer.Icon, err = readString(r); err != nil {
			return nil, err
		}

		styleBytes, err := readBytes(r)
		if err != nil {
			return nil, err
		}
		if len(styleBytes) > 0 && string(styleBytes) != "null" {
			layer.Style = &maploader.LayerStyle{}
			if err := json.Unmarshal(styleBytes, layer.Style); err != nil {
				return nil, fmt.Errorf("failed to unmarshal style: %v", err)
			}
		}

		var numFeatures uint32
		if err := binary.Read(r, binary.LittleEndian, &numFeatures); err != nil {
			return nil, fmt.Errorf("failed to read feature count: %v", err)
		}

		layer.Features = make([]Feature, numFeatures)
		for j := uint32(0); j < numFeatures; j++ {
			f := &layer.Features[j]
			binary.Read(r, binary.LittleEndian, &f.ID)
			binary.Read(r, binary.LittleEndian, &f.Lat)
			if err := binary.Read(r, binary.LittleEndian, &f.Lng); err != nil {
				return nil, fmt.Errorf("failed to read feature: %v", err)
			}
			if f.Title, err = readString(r); err != nil {
				return nil, err
			}

			propBytes, err := readBytes(r)
			if err != nil {
				return nil, err
			}
			if len(propBytes) > 0 && string(propBytes) != "null" {
				if err := json.Unmarshal(propBytes, &f.Properties); err != nil {
					return nil, fmt.Errorf("failed to unmarshal properties: %v", err)
				}
			}

			geomBytes, err := readBytes(r)
			if err != nil {
				return nil, err
			}
			if len(geomBytes) > 0 {
				f.Geometry = &geojson.Geometry{}
				if err := json.Unmarshal(geomBytes, f.Geometry); err != nil {
					return nil, fmt.Errorf("failed to unmarshal geometry: %v", err)
				}
			}
		}

		store.AddLayer(layer)
	}

	return store, nil
}

func writeString(w io.Writer, s string) {
	writeBytes(w, []byte(s))
}

func writeBytes(w io.Writer, b []byte) {
	binary.Write(w, binary.LittleEndian, uint32(len(b)))
	w.Write(b)
}

func readString(r io.Reader) (string, error) {
	b, err := readBytes(r)
	return string(b), err
}

func readBytes(r io.Reader) ([]byte, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, fmt.Errorf("failed to read length: %v", err)
	}
	if n == 0 {
		return nil, nil
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, fmt.Errorf("failed to read value: %v", err)
	}
	return b, nil
}
