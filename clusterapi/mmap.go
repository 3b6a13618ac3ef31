package clusterapi

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"

	"github.com/edsrzf/mmap-go"
	"github.com/paulmach/orb/geojson"

	"web/firemap/maploader"
)

// MMapWriter handles writing to memory-mapped files
type MMapWriter struct {
	data   mmap.MMap
	offset int
}

func NewMMapWriter(data mmap.MMap) *MMapWriter {
	return &MMapWriter{data: data}
}

func (w *MMapWriter) WriteUint32(v uint32) {
	binary.LittleEndian.PutUint32(w.data[w.offset:], v)
	w.offset += 4
}

func (w *MMapWriter) WriteInt64(v int64) {
	binary.LittleEndian.PutUint64(w.data[w.offset:], uint64(v))
	w.offset += 8
}

func (w *MMapWriter) WriteFloat64(v float64) {
	binary.LittleEndian.PutUint64(w.data[w.offset:], math.Float64bits(v))
	w.offset += 8
}

func (w *MMapWriter) WriteBytes(b []byte) {
	w.WriteUint32(uint32(len(b)))
	copy(w.data[w.offset:], b)
	w.offset += len(b)
}

// MMapReader handles reading from memory-mapped files
type MMapReader struct {
	data   mmap.MMap
	offset int
}

func NewMMapReader(data mmap.MMap) *MMapReader {
	return &MMapReader{data: data}
}

func (r *MMapReader) ReadUint32() uint32 {
	v := binary.LittleEndian.Uint32(r.data[r.offset:])
	r.offset += 4
	return v
}

func (r *MMapReader) ReadInt64() int64 {
	v := binary.LittleEndian.Uint64(r.data[r.offset:])
	r.offset += 8
	return int64(v)
}

func (r *MMapReader) ReadFloat64() float64 {
	v := binary.LittleEndian.Uint64(r.data[r.offset:])
	r.offset += 8
	return math.Float64frombits(v)
}

func (r *MMapReader) ReadBytes() []byte {
	n := int(r.ReadUint32())
	if n == 0 {
		return nil
	}
	b := make([]byte, n)
	copy(b, r.data[r.offset:r.offset+n])
	r.offset += n
	return b
}

// encodedLayer is a layer with its variable-size fields pre-marshaled so
// the snapshot size can be computed before mapping the file.
type encodedLayer struct {
	layer *Layer
	style []byte
	props [][]byte
	geoms [][]byte
}

// SaveSnapshotMMap writes an uncompressed snapshot through a memory-mapped
// file. Faster than the zstd path for large datasets at the cost of disk.
func (s *Store) SaveSnapshotMMap(filename string) error {
	s.mu.RLock()
	encoded := make([]encodedLayer, 0, len(s.order))
	size := 4 // layer count
	for _, id := range s.order {
		layer := s.layers[id]
		el := encodedLayer{layer: layer}

		var err error
		if el.style, err = json.Marshal(layer.Style); err != nil {
			s.mu.RUnlock()
			return fmt.Errorf("failed to marshal style: %v", err)
		}
		size += 4 + len(layer.ID) + 4 + len(layer.Kind) + 4 + len(layer.Color) + 4 + len(layer.Icon)
		size += 4 + len(el.style)
		size += 4 // feature count

		for i := range layer.Features {
			f := &layer.Features[i]
			props, err := json.Marshal(f.Properties)
			if err != nil {
				s.mu.RUnlock()
				return fmt.Errorf("failed to marshal properties: %v", err)
			}
			var geom []byte
			if f.Geometry != nil {
				if geom, err = json.Marshal(f.Geometry); err != nil {
					s.mu.RUnlock()
					return fmt.Errorf("failed to marshal geometry: %v", err)
				}
			}
			el.props = append(el.props, props)
			el.geoms = append(el.geoms, geom)
			size += 8 + 8 + 8 // id, lat, lng
			size += 4 + len(f.Title)
			size += 4 + len(props)
			size += 4 + len(geom)
		}
		encoded = append(encoded, el)
	}
	s.mu.RUnlock()

	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create file: %v", err)
	}
	defer file.Close()

	if err := file.Truncate(int64(size)); err != nil {
		return fmt.Errorf("failed to size file: %v", err)
	}

	m, err := mmap.Map(file, mmap.RDWR, 0)
	if err != nil {
		return fmt.Errorf("failed to mmap file: %v", err)
	}
	defer m.Unmap()

	w := NewMMapWriter(m)
	w.WriteUint32(uint32(len(encoded)))
	for _, el := range encoded {
		w.WriteBytes([]byte(el.layer.ID))
		w.WriteBytes([]byte(el.layer.Kind))
		w.WriteBytes([]byte(el.layer.Color))
		w.WriteBytes([]byte(el.layer.Icon))
		w.WriteBytes(el.style)
		w.WriteUint32(uint32(len(el.layer.Features)))
		for i := range el.layer.Features {
			f := &el.layer.Features[i]
			w.WriteInt64(f.ID)
			w.WriteFloat64(f.Lat)
			w.WriteFloat64(f.Lng)
			w.WriteBytes([]byte(f.Title))
			w.WriteBytes(el.props[i])
			w.WriteBytes(el.geoms[i])
		}
	}

	if err := m.Flush(); err != nil {
		return fmt.Errorf("failed to flush mmap: %v", err)
	}
	return nil
}

// LoadSnapshotMMap reads a snapshot written by SaveSnapshotMMap.
func LoadSnapshotMMap(filename string) (*Store, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %v", err)
	}
	defer file.Close()

	m, err := mmap.Map(file, mmap.RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to mmap file: %v", err)
	}
	defer m.Unmap()

	store := NewStore()
	r := NewMMapReader(m)

	numLayers := r.ReadUint32()
	for i := uint32(0); i < numLayers; i++ {
		layer := &Layer{
			ID:    string(r.ReadBytes()),
			Kind:  string(r.ReadBytes()),
			Color: string(r.ReadBytes()),
			Icon:  string(r.ReadBytes()),
		}

		styleBytes := r.ReadBytes()
		if len(styleBytes) > 0 && string(styleBytes) != "null" {
			layer.Style = &maploader.LayerStyle{}
			if err := json.Unmarshal(styleBytes, layer.Style); err != nil {
				return nil, fmt.Errorf("failed to unmarshal style: %v", err)
			}
		}

		numFeatures := r.ReadUint32()
		layer.Features = make([]Feature, numFeatures)
		for j := uint32(0); j < numFeatures; j++ {
			f := &layer.Features[j]
			f.ID = r.ReadInt64()
			f.Lat = r.ReadFloat64()
			f.Lng = r.ReadFloat64()
			f.Title = string(r.ReadBytes())

			if props := r.ReadBytes(); len(props) > 0 && string(props) != "null" {
				if err := json.Unmarshal(props, &f.Properties); err != nil {
					return nil, fmt.Errorf("failed to unmarshal properties: %v", err)
				}
			}
			if geom := r.ReadBytes(); len(geom) > 0 {
				f.Geometry = &geojson.Geometry{}
				if err := json.Unmarshal(geom, f.Geometry); err != nil {
					return nil, fmt.Errorf("failed to unmarshal geometry: %v", err)
				}
			}
		}

		store.AddLayer(layer)
	}

	return store, nil
}
