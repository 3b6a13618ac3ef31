package clusterapi

import (
	"path/filepath"
	"reflect"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"web/firemap/maploader"
)

func snapshotStore() *Store {
	store := NewStore()
	store.AddLayer(&Layer{
		ID:    "hydrants",
		Kind:  "point",
		Color: "#e53935",
		Icon:  "🧯",
		Features: []Feature{
			{ID: 1, Lat: 39.5, Lng: -104.5, Title: "Hydrant 1",
				Properties: map[string]any{"flow_gpm": 1500.0, "main_size": "6\""}},
			{ID: 2, Lat: 39.6, Lng: -104.6, Title: "Hydrant 2"},
		},
	})
	store.AddLayer(&Layer{
		ID:    "districts",
		Kind:  "polygon",
		Color: "#43a047",
		Style: &maploader.LayerStyle{FillColor: "#43a047", FillOpacity: 0.15, StrokeColor: "#2e7d32", StrokeWeight: 2},
		Features: []Feature{
			{ID: 1, Lat: 39.5, Lng: -104.5, Title: "District North",
				Properties: map[string]any{"battalion": "1"},
				Geometry: geojson.NewGeometry(orb.Polygon{
					{{-105, 39}, {-104, 39}, {-104, 40}, {-105, 40}, {-105, 39}},
				})},
		},
	})
	return store
}

func assertStoresEqual(t *testing.T, want, got *Store) {
	t.Helper()

	wantLayers := want.Layers()
	gotLayers := got.Layers()
	if len(wantLayers) != len(gotLayers) {
		t.Fatalf("Expected %d layers, got %d", len(wantLayers), len(gotLayers))
	}

	for i, wl := range wantLayers {
		gl := gotLayers[i]
		if wl.ID != gl.ID || wl.Kind != gl.Kind || wl.Color != gl.Color || wl.Icon != gl.Icon {
			t.Errorf("Layer %s metadata mismatch: %+v vs %+v", wl.ID, wl, gl)
		}
		if !reflect.DeepEqual(wl.Style, gl.Style) {
			t.Errorf("Layer %s style mismatch: %+v vs %+v", wl.ID, wl.Style, gl.Style)
		}
		if len(wl.Features) != len(gl.Features) {
			t.Fatalf("Layer %s: expected %d features, got %d", wl.ID, len(wl.Features), len(gl.Features))
		}
		for j := range wl.Features {
			wf, gf := wl.Features[j], gl.Features[j]
			if wf.ID != gf.ID || wf.Lat != gf.Lat || wf.Lng != gf.Lng || wf.Title != gf.Title {
				t.Errorf("Feature mismatch: %+v vs %+v", wf, gf)
			}
			if !reflect.DeepEqual(wf.Properties, gf.Properties) {
				t.Errorf("Feature %d properties mismatch: %+v vs %+v", wf.ID, wf.Properties, gf.Properties)
			}
			if (wf.Geometry == nil) != (gf.Geometry == nil) {
				t.Errorf("Feature %d geometry presence mismatch", wf.ID)
			} else if wf.Geometry != nil &&
				!reflect.DeepEqual(wf.Geometry.Geometry(), gf.Geometry.Geometry()) {
				t.Errorf("Feature %d geometry mismatch", wf.ID)
			}
		}
	}
}

func TestSnapshotRoundTripCompressed(t *testing.T) {
	store := snapshotStore()
	path := filepath.Join(t.TempDir(), "snapshot.zst")

	if err := store.SaveCompressed(path); err != nil {
		t.Fatalf("SaveCompressed: %v", err)
	}
	loaded, err := LoadCompressed(path)
	if err != nil {
		t.Fatalf("LoadCompressed: %v", err)
	}

	assertStoresEqual(t, store, loaded)
}

func TestSnapshotRoundTripMMap(t *testing.T) {
	store := snapshotStore()
	path := filepath.Join(t.TempDir(), "snapshot.bin")

	if err := store.SaveSnapshotMMap(path); err != nil {
		t.Fatalf("SaveSnapshotMMap: %v", err)
	}
	loaded, err := LoadSnapshotMMap(path)
	if err != nil {
		t.Fatalf("LoadSnapshotMMap: %v", err)
	}

	assertStoresEqual(t, store, loaded)
}

func TestLoadCompressedMissingFile(t *testing.T) {
	if _, err := LoadCompressed(filepath.Join(t.TempDir(), "absent.zst")); err == nil {
		t.Error("Expected error for missing snapshot")
	}
}
