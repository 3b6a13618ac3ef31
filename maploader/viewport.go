package maploader

// ViewportTracker relays the map's camera-idle events as settled viewports.
// It is a pure event relay: one callback invocation per settle, nothing per
// intermediate frame, no retries.
type ViewportTracker struct {
	sdk MapSDK
}

func NewViewportTracker(sdk MapSDK) *ViewportTracker {
	return &ViewportTracker{sdk: sdk}
}

// OnSettled registers fn to run with the current viewport each time the
// camera comes to rest. If the map is already settled and has bounds when
// the subscription is installed, fn fires once immediately, covering a map
// that finished initializing before the subscriber attached. The returned
// stop func removes the subscription.
func (t *ViewportTracker) OnSettled(fn func(Viewport)) (stop func()) {
	emit := func() {
		bounds, ok := t.sdk.Bounds()
		if !ok {
			return
		}
		fn(Viewport{Bounds: bounds, Zoom: t.sdk.Zoom()})
	}

	stop = t.sdk.OnCameraIdle(emit)
	emit()
	return stop
}
