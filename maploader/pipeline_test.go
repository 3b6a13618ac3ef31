package maploader

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

func waitFor(t *testing.T, desc string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", desc)
}

// settle drives one camera gesture and blocks until no further render
// changes are expected for it.
func startPipeline(t *testing.T, srvURL string, sdk *fakeSDK, layers []LayerDescriptor, onClick func(FeatureClick)) *RenderPipeline {
	t.Helper()
	p := NewRenderPipeline(sdk, NewClusterFetcher(srvURL, nil))
	if err := p.Start(layers, onClick); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(p.Stop)
	return p
}

func TestPipelineEndToEndReclusterOnZoom(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("zoom") == "12" {
			writeResult(w, *pointResult(
				ClusterItem{Type: ItemFeature, ID: 1, Lat: 39.1, Lng: -104.1, Title: "H-1"},
				ClusterItem{Type: ItemFeature, ID: 2, Lat: 39.2, Lng: -104.2, Title: "H-2"},
				ClusterItem{Type: ItemFeature, ID: 3, Lat: 39.3, Lng: -104.3, Title: "H-3"},
			))
			return
		}
		writeResult(w, *pointResult(
			ClusterItem{Type: ItemCluster, Lat: 39.15, Lng: -104.15, Count: 12},
			ClusterItem{Type: ItemCluster, Lat: 39.25, Lng: -104.25, Count: 340},
			ClusterItem{Type: ItemFeature, ID: 77, Lat: 39.35, Lng: -104.35, Title: "Hydrant 77"},
		))
	}))
	defer srv.Close()

	sdk := newFakeSDK()
	var clicks []FeatureClick
	var clicksMu sync.Mutex
	p := startPipeline(t, srv.URL, sdk, []LayerDescriptor{hydrantsLayer}, func(c FeatureClick) {
		clicksMu.Lock()
		clicks = append(clicks, c)
		clicksMu.Unlock()
	})

	sdk.setView(testViewport.Bounds, 12)
	waitFor(t, "initial 3 hydrant markers", func() bool { return p.MarkerCount("hydrants") == 3 })
	firstBatch := sdk.live()

	sdk.setView(testViewport.Bounds, 13)
	waitFor(t, "re-clustered render", func() bool {
		for _, m := range firstBatch {
			if !m.destroyed {
				return false
			}
		}
		return p.MarkerCount("hydrants") == 3
	})

	live := sdk.live()
	if len(live) != 3 {
		t.Fatalf("Expected exactly 3 live markers, got %d", len(live))
	}

	var clusterWidths []int
	var feature *fakeMarker
	for _, m := range live {
		if m.click == nil {
			clusterWidths = append(clusterWidths, m.glyph.Width)
		} else {
			feature = m
		}
	}
	if len(clusterWidths) != 2 || feature == nil {
		t.Fatalf("Expected 2 non-interactive clusters and 1 interactive feature, got %d/%v",
			len(clusterWidths), feature != nil)
	}
	if clusterWidths[0] >= clusterWidths[1] {
		t.Errorf("Expected count 12 glyph smaller than count 340 glyph, got %v", clusterWidths)
	}

	sdk.clickOn(feature, 0)
	clicksMu.Lock()
	defer clicksMu.Unlock()
	if len(clicks) != 1 || clicks[0].ID != 77 {
		t.Errorf("Expected click dispatch for feature 77, got %+v", clicks)
	}
}

func TestPipelineLastViewportWins(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("west") == "-105" {
			// Old viewport: hold the response until the test says so.
			select {
			case <-release:
			case <-r.Context().Done():
				return
			}
			writeResult(w, *pointResult(ClusterItem{Type: ItemFeature, ID: 1, Lat: 39.5, Lng: -104.5, Title: "old"}))
			return
		}
		writeResult(w, *pointResult(
			ClusterItem{Type: ItemFeature, ID: 2, Lat: 39.5, Lng: -99.5, Title: "new"},
			ClusterItem{Type: ItemFeature, ID: 3, Lat: 39.6, Lng: -99.6, Title: "new"},
		))
	}))
	defer srv.Close()

	sdk := newFakeSDK()
	p := startPipeline(t, srv.URL, sdk, []LayerDescriptor{hydrantsLayer}, nil)

	sdk.setView(BoundingBox{West: -105, South: 39, East: -104, North: 40}, 12)
	sdk.setView(BoundingBox{West: -100, South: 39, East: -99, North: 40}, 12)

	waitFor(t, "newest viewport rendered", func() bool { return p.MarkerCount("hydrants") == 2 })
	close(release)

	// Give the superseded response every chance to sneak in.
	time.Sleep(50 * time.Millisecond)
	if got := p.MarkerCount("hydrants"); got != 2 {
		t.Errorf("Expected the superseded fetch to never overwrite state, got %d markers", got)
	}
	for _, m := range sdk.live() {
		if m.lng < -104 {
			t.Errorf("Expected only markers from the newest viewport, found one at lng %f", m.lng)
		}
	}
}

func TestPipelinePartialFailureKeepsSiblingAndPreviousState(t *testing.T) {
	var failHydrants bool
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		layer := r.URL.Query().Get("layer")
		mu.Lock()
		fail := failHydrants && layer == "hydrants"
		mu.Unlock()
		if fail {
			http.Error(w, "db down", http.StatusBadGateway)
			return
		}
		n := 1
		if layer == "stations" {
			n = 2
		}
		res := pointResult()
		for i := 0; i < n; i++ {
			res.Items = append(res.Items, ClusterItem{
				Type: ItemFeature, ID: int64(i + 1), Lat: 39.5, Lng: -104.5,
			})
		}
		writeResult(w, *res)
	}))
	defer srv.Close()

	layers := []LayerDescriptor{
		hydrantsLayer,
		{ID: "stations", GeometryKind: KindPoint, Color: "#1e88e5", Icon: "🚒"},
	}
	sdk := newFakeSDK()
	p := startPipeline(t, srv.URL, sdk, layers, nil)

	sdk.setView(testViewport.Bounds, 12)
	waitFor(t, "both layers rendered", func() bool {
		return p.MarkerCount("hydrants") == 1 && p.MarkerCount("stations") == 2
	})

	mu.Lock()
	failHydrants = true
	mu.Unlock()

	next := testViewport.Bounds
	next.West, next.East = -104.5, -103.5
	sdk.setView(next, 12)

	waitFor(t, "stations re-rendered despite hydrants failure", func() bool {
		return p.MarkerCount("stations") == 2 && len(sdk.live()) == 3
	})
	if got := p.MarkerCount("hydrants"); got != 1 {
		t.Errorf("Expected failed layer to keep its previous markers, got %d", got)
	}
}

func TestPipelineEmptyLayerSetTearsDownImmediately(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeResult(w, *pointResult(ClusterItem{Type: ItemFeature, ID: 1, Lat: 39.5, Lng: -104.5}))
	}))
	defer srv.Close()

	sdk := newFakeSDK()
	p := startPipeline(t, srv.URL, sdk, []LayerDescriptor{hydrantsLayer}, nil)

	sdk.setView(testViewport.Bounds, 12)
	waitFor(t, "initial render", func() bool { return p.MarkerCount("hydrants") == 1 })

	p.SetLayers(nil)
	waitFor(t, "teardown without a new settle", func() bool {
		return p.MarkerCount("hydrants") == 0 && len(sdk.live()) == 0
	})
}

func TestPipelineLayerSwapClearsRemovedLayer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeResult(w, *pointResult(ClusterItem{Type: ItemFeature, ID: 1, Lat: 39.5, Lng: -104.5}))
	}))
	defer srv.Close()

	layers := []LayerDescriptor{
		hydrantsLayer,
		{ID: "stations", GeometryKind: KindPoint, Color: "#1e88e5"},
	}
	sdk := newFakeSDK()
	p := startPipeline(t, srv.URL, sdk, layers, nil)

	sdk.setView(testViewport.Bounds, 12)
	waitFor(t, "both layers rendered", func() bool {
		return p.MarkerCount("hydrants") == 1 && p.MarkerCount("stations") == 1
	})

	p.SetLayers(layers[1:])
	waitFor(t, "removed layer cleared, kept layer refetched", func() bool {
		return p.MarkerCount("hydrants") == 0 && p.MarkerCount("stations") == 1
	})
}

func TestPipelineStopDestroysEverything(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeResult(w, *pointResult(
			ClusterItem{Type: ItemFeature, ID: 1, Lat: 39.5, Lng: -104.5},
			ClusterItem{Type: ItemCluster, Lat: 39.6, Lng: -104.6, Count: 30},
		))
	}))
	defer srv.Close()

	sdk := newFakeSDK()
	p := startPipeline(t, srv.URL, sdk, []LayerDescriptor{hydrantsLayer}, nil)

	sdk.setView(testViewport.Bounds, 12)
	waitFor(t, "initial render", func() bool { return p.MarkerCount("hydrants") == 2 })

	p.Stop()

	if got := len(sdk.live()); got != 0 {
		t.Errorf("Expected all handles destroyed on stop, %d still live", got)
	}

	// The settle subscription must be gone too.
	sdk.setView(testViewport.Bounds, 13)
	time.Sleep(50 * time.Millisecond)
	if got := p.MarkerCount("hydrants"); got != 0 {
		t.Errorf("Expected no rendering after stop, got %d markers", got)
	}
}

func TestPipelineStartRendersAlreadySettledMap(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeResult(w, *pointResult(ClusterItem{Type: ItemFeature, ID: 1, Lat: 39.5, Lng: -104.5}))
	}))
	defer srv.Close()

	sdk := newFakeSDK()
	sdk.bounds = testViewport.Bounds
	sdk.zoom = 12
	sdk.ready = true

	p := startPipeline(t, srv.URL, sdk, []LayerDescriptor{hydrantsLayer}, nil)
	waitFor(t, "render without an explicit settle", func() bool {
		return p.MarkerCount("hydrants") == 1
	})
}

func TestPipelineWithoutSDKIsFatal(t *testing.T) {
	p := NewRenderPipeline(nil, NewClusterFetcher("http://localhost:0", nil))
	if err := p.Start([]LayerDescriptor{hydrantsLayer}, nil); err == nil {
		t.Fatal("Expected Start to fail without a map SDK")
	}
}

func TestHandleOutcomeDropsStaleGeneration(t *testing.T) {
	sdk := newFakeSDK()
	f := NewClusterFetcher("http://localhost:0", nil)
	p := NewRenderPipeline(sdk, f)

	f.Invalidate() // current generation is now 1

	p.handleOutcome(LayerOutcome{
		Generation: 99,
		Layer:      hydrantsLayer,
		Result:     pointResult(ClusterItem{Type: ItemFeature, ID: 1, Lat: 1, Lng: 1}),
	})
	if got := p.MarkerCount("hydrants"); got != 0 {
		t.Errorf("Expected stale-generation outcome to be dropped, got %d markers", got)
	}
}
