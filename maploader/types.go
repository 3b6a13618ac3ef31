package maploader

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// BoundingBox is a geographic viewport rectangle in degrees.
type BoundingBox struct {
	West  float64 `json:"west"`
	South float64 `json:"south"`
	East  float64 `json:"east"`
	North float64 `json:"north"`
}

// Bound converts to an orb bound for geometry tests.
func (b BoundingBox) Bound() orb.Bound {
	return orb.Bound{
		Min: orb.Point{b.West, b.South},
		Max: orb.Point{b.East, b.North},
	}
}

// Viewport is the visible map region at a settled camera position.
// Immutable once emitted by the tracker.
type Viewport struct {
	Bounds BoundingBox
	Zoom   int
}

type GeometryKind string

const (
	KindPoint   GeometryKind = "point"
	KindPolygon GeometryKind = "polygon"
)

// LayerStyle carries the presentation parameters a polygon layer is drawn
// with. The clustering service echoes it back with each result.
type LayerStyle struct {
	FillColor     string  `json:"fill_color,omitempty"`
	FillOpacity   float64 `json:"fill_opacity,omitempty"`
	StrokeColor   string  `json:"stroke_color,omitempty"`
	StrokeOpacity float64 `json:"stroke_opacity,omitempty"`
	StrokeWeight  float64 `json:"stroke_weight,omitempty"`
}

// LayerDescriptor identifies one toggleable feature layer. Supplied by the
// host application and treated as read-only here.
type LayerDescriptor struct {
	ID           string
	GeometryKind GeometryKind
	Color        string
	Icon         string
	Style        *LayerStyle
}

const (
	ItemCluster = "cluster"
	ItemFeature = "feature"
)

// ClusterItem is one entry of a layer fetch result: either a server-side
// cluster (lat/lng/count) or an individual feature. Features on polygon
// layers carry their boundary geometry.
type ClusterItem struct {
	Type       string            `json:"type"`
	ID         int64             `json:"id,omitempty"`
	Lat        float64           `json:"lat"`
	Lng        float64           `json:"lng"`
	Count      int               `json:"count,omitempty"`
	Title      string            `json:"title,omitempty"`
	Properties map[string]any    `json:"properties,omitempty"`
	Geometry   *geojson.Geometry `json:"geometry,omitempty"`
}

// LayerResult is the clustering service response for one layer.
type LayerResult struct {
	LayerColor string       `json:"layer_color"`
	LayerType  string       `json:"layer_type"`
	LayerIcon  string       `json:"layer_icon"`
	LayerStyle *LayerStyle  `json:"layer_style,omitempty"`
	Items      []ClusterItem `json:"items"`
}

// FeatureClick is the normalized payload handed to the host when an
// individual feature marker or a polygon sub-geometry is clicked.
type FeatureClick struct {
	ID          int64
	Title       string
	Description string
	Properties  map[string]any
	Lat         float64
	Lng         float64
	LayerID     string
	LayerIcon   string
	LayerColor  string
}
