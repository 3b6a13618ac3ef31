// Command mapsim drives the map loader against a running clustering
// service without a real map on screen. It replays a scripted pan/zoom
// path through a fake SDK and prints what would be rendered after each
// camera settle. Useful for eyeballing cluster breakdown behavior and for
// load-testing the service.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/paulmach/orb"

	"web/firemap/maploader"
)

// simSDK is a headless MapSDK: it tracks camera state, fires idle
// callbacks when the script moves the camera, and counts the primitives
// the renderer creates.
type simSDK struct {
	mu      sync.Mutex
	bounds  maploader.BoundingBox
	zoom    int
	ready   bool
	nextSub int
	idleFns map[int]func()
	nextID  int
	handles map[int]bool
	created int
}

func newSimSDK() *simSDK {
	return &simSDK{idleFns: make(map[int]func()), handles: make(map[int]bool)}
}

// SetView moves the camera and fires the idle callbacks, like a map
// emitting its settle event after a gesture.
func (s *simSDK) SetView(bounds maploader.BoundingBox, zoom int) {
	s.mu.Lock()
	s.bounds = bounds
	s.zoom = zoom
	s.ready = true
	fns := make([]func(), 0, len(s.idleFns))
	for _, fn := range s.idleFns {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

func (s *simSDK) OnCameraIdle(fn func()) (stop func()) {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.idleFns[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.idleFns, id)
		s.mu.Unlock()
	}
}

func (s *simSDK) Bounds() (maploader.BoundingBox, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bounds, s.ready
}

func (s *simSDK) Zoom() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.zoom
}

func (s *simSDK) create() maploader.Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.handles[id] = true
	s.created++
	return id
}

func (s *simSDK) CreateMarker(lat, lng float64, glyph *maploader.Glyph) (maploader.Handle, error) {
	return s.create(), nil
}

func (s *simSDK) CreatePolygonOverlay(parts []orb.Geometry, style maploader.LayerStyle) (maploader.Handle, error) {
	return s.create(), nil
}

func (s *simSDK) Destroy(h maploader.Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.handles, h.(int))
}

func (s *simSDK) AddClickListener(h maploader.Handle, fn func(part int)) {}

func (s *simSDK) liveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.handles)
}

// fetchLayers asks the service which layers exist and converts them to
// renderer descriptors.
func fetchLayers(serverURL string) ([]maploader.LayerDescriptor, error) {
	resp, err := http.Get(serverURL + "/api/layers")
	if err != nil {
		return nil, fmt.Errorf("failed to list layers: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("layer listing returned %d", resp.StatusCode)
	}

	var infos []struct {
		ID           string                `json:"id"`
		Kind         string                `json:"kind"`
		Color        string                `json:"color"`
		Icon         string                `json:"icon"`
		Style        *maploader.LayerStyle `json:"style"`
		FeatureCount int                   `json:"featureCount"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&infos); err != nil {
		return nil, fmt.Errorf("failed to decode layer listing: %v", err)
	}

	layers := make([]maploader.LayerDescriptor, 0, len(infos))
	for _, info := range infos {
		kind := maploader.KindPoint
		if info.Kind == "polygon" {
			kind = maploader.KindPolygon
		}
		fmt.Printf("Layer %s: %d features (%s)\n", info.ID, info.FeatureCount, info.Kind)
		layers = append(layers, maploader.LayerDescriptor{
			ID:           info.ID,
			GeometryKind: kind,
			Color:        info.Color,
			Icon:         info.Icon,
			Style:        info.Style,
		})
	}
	return layers, nil
}

type step struct {
	name   string
	bounds maploader.BoundingBox
	zoom   int
}

// script is a pan/zoom path over the demo dataset bounds: start wide,
// zoom into downtown, pan east, then back out.
func script() []step {
	wide := maploader.BoundingBox{West: -105.3, South: 39.5, East: -104.6, North: 39.95}
	downtown := maploader.BoundingBox{West: -105.05, South: 39.7, East: -104.95, North: 39.78}
	east := maploader.BoundingBox{West: -104.95, South: 39.7, East: -104.85, North: 39.78}
	return []step{
		{"city overview", wide, 11},
		{"zoom to downtown", downtown, 14},
		{"street level", downtown, 16},
		{"pan east", east, 16},
		{"back out", wide, 11},
	}
}

func main() {
	serverURL := flag.String("server", "http://localhost:8000", "clustering service base URL")
	settleWait := flag.Duration("wait", 1500*time.Millisecond, "time to wait after each camera move")
	flag.Parse()

	layers, err := fetchLayers(*serverURL)
	if err != nil {
		fmt.Printf("ERROR: %v\n", err)
		os.Exit(1)
	}
	if len(layers) == 0 {
		fmt.Println("Service has no layers to render")
		os.Exit(1)
	}

	sdk, err := maploader.SharedSDK(func() (maploader.MapSDK, error) {
		return newSimSDK(), nil
	})
	if err != nil {
		fmt.Printf("ERROR: %v\n", err)
		os.Exit(1)
	}
	sim := sdk.(*simSDK)

	pipeline := maploader.NewRenderPipeline(sdk, maploader.NewClusterFetcher(*serverURL, nil))
	err = pipeline.Start(layers, func(fc maploader.FeatureClick) {
		fmt.Printf("Clicked %s (%s)\n", fc.Title, fc.LayerID)
	})
	if err != nil {
		fmt.Printf("ERROR: Failed to start pipeline: %v\n", err)
		os.Exit(1)
	}
	defer pipeline.Stop()

	for _, st := range script() {
		fmt.Printf("\n=== %s (zoom %d) ===\n", st.name, st.zoom)
		sim.SetView(st.bounds, st.zoom)
		time.Sleep(*settleWait)

		for _, l := range layers {
			fmt.Printf("  %-10s %d rendered\n", l.ID, pipeline.MarkerCount(l.ID))
		}
		fmt.Printf("  live handles: %d\n", sim.liveCount())
	}

	fmt.Println("\nSimulation complete")
}
