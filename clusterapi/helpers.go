package clusterapi

import (
	"fmt"
	"math/rand"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"web/firemap/maploader"
)

// NewDemoStore builds a deterministic demo dataset: three point layers
// (hydrants, stations, incidents) scattered over the bounds plus a
// polygon layer of response districts. Used for local development and the
// host simulator.
func NewDemoStore(bounds maploader.BoundingBox, hydrants, stations, incidents int) *Store {
	// Deterministic seed for reproducibility
	r := rand.New(rand.NewSource(42))
	store := NewStore()

	store.AddLayer(&Layer{
		ID:    "hydrants",
		Kind:  "point",
		Color: "#e53935",
		Icon:  "🧯",
		Features: generatePoints(r, bounds, hydrants, 1000, "Hydrant", func(r *rand.Rand) map[string]any {
			return map[string]any{
				"flow_gpm":  float64(500 + r.Intn(30)*50),
				"main_size": fmt.Sprintf("%d\"", 4+2*r.Intn(4)),
			}
		}),
	})

	store.AddLayer(&Layer{
		ID:    "stations",
		Kind:  "point",
		Color: "#1e88e5",
		Icon:  "🚒",
		Features: generatePoints(r, bounds, stations, 100, "Station", func(r *rand.Rand) map[string]any {
			return map[string]any{
				"company":     fmt.Sprintf("Engine %d", 1+r.Intn(40)),
				"description": "staffed 24/7",
			}
		}),
	})

	store.AddLayer(&Layer{
		ID:    "incidents",
		Kind:  "point",
		Color: "#fb8c00",
		Icon:  "🔥",
		Features: generatePoints(r, bounds, incidents, 50000, "Incident", func(r *rand.Rand) map[string]any {
			kinds := []string{"structure fire", "brush fire", "vehicle fire", "alarm", "medical"}
			return map[string]any{
				"kind":  kinds[r.Intn(len(kinds))],
				"units": 1 + r.Intn(6),
			}
		}),
	})

	store.AddLayer(districtsLayer(bounds))
	return store
}

func generatePoints(r *rand.Rand, bounds maploader.BoundingBox, n int, startID int64, title string, props func(*rand.Rand) map[string]any) []Feature {
	features := make([]Feature, n)
	for i := 0; i < n; i++ {
		features[i] = Feature{
			ID:         startID + int64(i),
			Lng:        bounds.West + r.Float64()*(bounds.East-bounds.West),
			Lat:        bounds.South + r.Float64()*(bounds.North-bounds.South),
			Title:      fmt.Sprintf("%s %d", title, i+1),
			Properties: props(r),
		}
	}
	return features
}

// districtsLayer splits the bounds into a 2x2 grid of response districts.
func districtsLayer(bounds maploader.BoundingBox) *Layer {
	midLng := (bounds.West + bounds.East) / 2
	midLat := (bounds.South + bounds.North) / 2

	rect := func(w, s, e, n float64) orb.Polygon {
		return orb.Polygon{{{w, s}, {e, s}, {e, n}, {w, n}, {w, s}}}
	}

	cells := []struct {
		name       string
		battalion  string
		w, s, e, n float64
	}{
		{"District Northwest", "1", bounds.West, midLat, midLng, bounds.North},
		{"District Northeast", "2", midLng, midLat, bounds.East, bounds.North},
		{"District Southwest", "3", bounds.West, bounds.South, midLng, midLat},
		{"District Southeast", "4", midLng, bounds.South, bounds.East, midLat},
	}

	layer := &Layer{
		ID:    "districts",
		Kind:  "polygon",
		Color: "#43a047",
		Style: &maploader.LayerStyle{
			FillColor:     "#43a047",
			FillOpacity:   0.15,
			StrokeColor:   "#2e7d32",
			StrokeOpacity: 0.9,
			StrokeWeight:  2,
		},
	}

	for i, cell := range cells {
		poly := rect(cell.w, cell.s, cell.e, cell.n)
		layer.Features = append(layer.Features, Feature{
			ID:    int64(i + 1),
			Lng:   (cell.w + cell.e) / 2,
			Lat:   (cell.s + cell.n) / 2,
			Title: cell.name,
			Properties: map[string]any{
				"battalion": cell.battalion,
			},
			Geometry: geojson.NewGeometry(poly),
		})
	}
	return layer
}
