package maploader

import (
	"errors"
	"sync"

	"github.com/paulmach/orb"
)

// Handle is an opaque reference to a native map primitive (marker or
// overlay) owned by the underlying SDK.
type Handle any

// MapSDK is the capability surface the renderer needs from the interactive
// map. Implementations wrap the real map library; tests use a recording
// fake.
//
// Bounds reports ok=false until the map has finished initializing. Click
// callbacks receive the index of the clicked sub-geometry for overlays and
// 0 for plain markers.
type MapSDK interface {
	OnCameraIdle(fn func()) (stop func())
	Bounds() (BoundingBox, bool)
	Zoom() int
	CreateMarker(lat, lng float64, glyph *Glyph) (Handle, error)
	CreatePolygonOverlay(parts []orb.Geometry, style LayerStyle) (Handle, error)
	Destroy(h Handle)
	AddClickListener(h Handle, fn func(part int))
}

// ErrSDKUnavailable is returned when the map SDK could not be initialized.
// This is the only failure that crosses the renderer boundary; nothing can
// be drawn without the map.
var ErrSDKUnavailable = errors.New("map sdk unavailable")

var (
	sdkMu     sync.Mutex
	sdkLoaded bool
	sdkInst   MapSDK
	sdkErr    error
)

// SharedSDK returns the process-wide map SDK handle, loading it on first
// use. Concurrent callers all resolve from the single underlying load; the
// load function runs at most once per process, and its outcome (including
// failure) is sticky.
func SharedSDK(load func() (MapSDK, error)) (MapSDK, error) {
	sdkMu.Lock()
	defer sdkMu.Unlock()

	if sdkLoaded {
		return sdkInst, sdkErr
	}

	sdk, err := load()
	if err != nil {
		err = errors.Join(ErrSDKUnavailable, err)
	}
	sdkInst, sdkErr = sdk, err
	sdkLoaded = true
	return sdkInst, sdkErr
}

// resetSharedSDK clears the singleton. Test hook only.
func resetSharedSDK() {
	sdkMu.Lock()
	defer sdkMu.Unlock()
	sdkLoaded = false
	sdkInst = nil
	sdkErr = nil
}
