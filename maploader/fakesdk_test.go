package maploader

import (
	"fmt"
	"sync"

	"github.com/paulmach/orb"
)

// fakeMarker records everything the renderer did to one native primitive.
type fakeMarker struct {
	id        int
	lat, lng  float64
	glyph     *Glyph
	overlay   bool
	parts     []orb.Geometry
	style     LayerStyle
	destroyed bool
	click     func(int)
}

// fakeSDK is an in-memory MapSDK that records marker lifecycles and lets
// tests drive camera settles and clicks.
type fakeSDK struct {
	mu      sync.Mutex
	bounds  BoundingBox
	zoom    int
	ready   bool
	nextSub int
	idleFns map[int]func()
	nextID  int
	markers []*fakeMarker

	failCreate bool
}

func newFakeSDK() *fakeSDK {
	return &fakeSDK{idleFns: make(map[int]func())}
}

// setView updates the camera and fires one settle event, like a map
// finishing a pan/zoom gesture.
func (s *fakeSDK) setView(b BoundingBox, zoom int) {
	s.mu.Lock()
	s.bounds = b
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

func (s *fakeSDK) OnCameraIdle(fn func()) (stop func()) {
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

func (s *fakeSDK) Bounds() (BoundingBox, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bounds, s.ready
}

func (s *fakeSDK) Zoom() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.zoom
}

func (s *fakeSDK) CreateMarker(lat, lng float64, glyph *Glyph) (Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failCreate {
		return nil, fmt.Errorf("fake sdk: create marker refused")
	}
	m := &fakeMarker{id: s.nextID, lat: lat, lng: lng, glyph: glyph}
	s.nextID++
	s.markers = append(s.markers, m)
	return m, nil
}

func (s *fakeSDK) CreatePolygonOverlay(parts []orb.Geometry, style LayerStyle) (Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failCreate {
		return nil, fmt.Errorf("fake sdk: create overlay refused")
	}
	m := &fakeMarker{id: s.nextID, overlay: true, parts: parts, style: style}
	s.nextID++
	s.markers = append(s.markers, m)
	return m, nil
}

func (s *fakeSDK) Destroy(h Handle) {
	m := h.(*fakeMarker)
	s.mu.Lock()
	m.destroyed = true
	s.mu.Unlock()
}

func (s *fakeSDK) AddClickListener(h Handle, fn func(part int)) {
	m := h.(*fakeMarker)
	s.mu.Lock()
	m.click = fn
	s.mu.Unlock()
}

// live returns the markers that have been created and not yet destroyed.
func (s *fakeSDK) live() []*fakeMarker {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*fakeMarker
	for _, m := range s.markers {
		if !m.destroyed {
			out = append(out, m)
		}
	}
	return out
}

// clickOn simulates the user clicking a live marker or overlay part.
func (s *fakeSDK) clickOn(m *fakeMarker, part int) {
	s.mu.Lock()
	fn := m.click
	s.mu.Unlock()
	if fn != nil {
		fn(part)
	}
}
