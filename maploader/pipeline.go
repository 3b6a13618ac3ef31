package maploader

import (
	"errors"
	"log"
	"sync"
	"sync/atomic"
)

type pipelineConfig struct {
	layers  []LayerDescriptor
	onClick func(FeatureClick)
}

// RenderPipeline ties the tracker, fetcher, and reconciler together: each
// settled viewport starts a new fetch generation, and each accepted layer
// outcome is applied to the rendered set. A single goroutine owns all
// render state, so a slower, older fetch can never overwrite what a newer
// one produced.
type RenderPipeline struct {
	sdk     MapSDK
	fetcher *ClusterFetcher
	icons   *IconCache
	rec     *MarkerReconciler

	// Current layer set and click handler. Stored in a swappable cell so
	// the long-lived subscription always reads the latest values instead of
	// the ones captured at subscription time.
	cfg atomic.Pointer[pipelineConfig]

	mu          sync.Mutex
	running     bool
	stopTracker func()
	settleCh    chan Viewport
	cmdCh       chan func()
	stopCh      chan struct{}
	done        chan struct{}
}

func NewRenderPipeline(sdk MapSDK, fetcher *ClusterFetcher) *RenderPipeline {
	p := &RenderPipeline{
		sdk:     sdk,
		fetcher: fetcher,
		icons:   NewIconCache(),
	}
	p.rec = NewMarkerReconciler(sdk, p.icons, func() func(FeatureClick) {
		if cfg := p.cfg.Load(); cfg != nil {
			return cfg.onClick
		}
		return nil
	})
	return p
}

// Start subscribes to the map's settle events and begins the
// fetch/reconcile loop. onClick receives the normalized payload whenever an
// individual feature is clicked.
func (p *RenderPipeline) Start(layers []LayerDescriptor, onClick func(FeatureClick)) error {
	if p.sdk == nil {
		return ErrSDKUnavailable
	}

	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return errors.New("maploader: pipeline already started")
	}
	p.running = true
	p.settleCh = make(chan Viewport, 1)
	p.cmdCh = make(chan func(), 4)
	p.stopCh = make(chan struct{})
	p.done = make(chan struct{})
	p.mu.Unlock()

	p.cfg.Store(&pipelineConfig{layers: layers, onClick: onClick})

	go p.run()

	tracker := NewViewportTracker(p.sdk)
	stop := tracker.OnSettled(p.pushSettle)

	p.mu.Lock()
	p.stopTracker = stop
	p.mu.Unlock()
	return nil
}

// SetLayers swaps the active layer set. The in-flight fetch cycle is torn
// down first so only one generation is ever current; layers dropped from
// the set are cleared right away, and an empty set tears everything down
// without waiting for another settle.
func (p *RenderPipeline) SetLayers(layers []LayerDescriptor) {
	old := p.cfg.Load()
	if old == nil {
		return
	}
	p.cfg.Store(&pipelineConfig{layers: layers, onClick: old.onClick})

	p.mu.Lock()
	running := p.running
	p.mu.Unlock()
	if !running {
		return
	}

	p.fetcher.Invalidate()

	keep := make(map[string]bool, len(layers))
	for _, l := range layers {
		keep[l.ID] = true
	}
	p.enqueue(func() {
		for _, id := range p.rec.LayerIDs() {
			if !keep[id] {
				p.rec.Clear(id)
			}
		}
	})

	if len(layers) > 0 {
		if bounds, ok := p.sdk.Bounds(); ok {
			p.pushSettle(Viewport{Bounds: bounds, Zoom: p.sdk.Zoom()})
		}
	}
}

// SetClickHandler swaps the host click callback without resubscribing.
func (p *RenderPipeline) SetClickHandler(fn func(FeatureClick)) {
	old := p.cfg.Load()
	if old == nil {
		p.cfg.Store(&pipelineConfig{onClick: fn})
		return
	}
	p.cfg.Store(&pipelineConfig{layers: old.layers, onClick: fn})
}

// MarkerCount reports the number of live handles rendered for a layer.
func (p *RenderPipeline) MarkerCount(layerID string) int {
	return p.rec.Count(layerID)
}

// Stop unsubscribes, aborts any outstanding fetch, and destroys every
// rendered handle.
func (p *RenderPipeline) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	stopTracker := p.stopTracker
	p.stopTracker = nil
	stopCh, done := p.stopCh, p.done
	p.mu.Unlock()

	if stopTracker != nil {
		stopTracker()
	}
	close(stopCh)
	<-done
}

// pushSettle hands the loop the latest viewport, displacing an unconsumed
// older one. Only the newest settle matters.
func (p *RenderPipeline) pushSettle(vp Viewport) {
	for {
		select {
		case p.settleCh <- vp:
			return
		default:
			select {
			case <-p.settleCh:
			default:
			}
		}
	}
}

func (p *RenderPipeline) enqueue(fn func()) {
	select {
	case p.cmdCh <- fn:
	case <-p.stopCh:
	}
}

func (p *RenderPipeline) run() {
	defer close(p.done)

	var outcomes <-chan LayerOutcome
	for {
		select {
		case <-p.stopCh:
			p.fetcher.Invalidate()
			p.rec.ClearAll()
			return

		case fn := <-p.cmdCh:
			fn()

		case vp := <-p.settleCh:
			cfg := p.cfg.Load()
			if cfg == nil || len(cfg.layers) == 0 {
				p.rec.ClearAll()
				continue
			}
			// Dropping the previous outcomes channel is safe: its batch was
			// cancelled by Begin and anything still buffered is stale.
			_, outcomes = p.fetcher.Begin(vp, cfg.layers)

		case oc, ok := <-outcomes:
			if !ok {
				outcomes = nil
				continue
			}
			p.handleOutcome(oc)
		}
	}
}

func (p *RenderPipeline) handleOutcome(oc LayerOutcome) {
	if oc.Stale || oc.Generation != p.fetcher.CurrentGeneration() {
		return
	}
	if oc.Err != nil {
		// Isolated per-layer failure: the layer keeps whatever it showed
		// before and gets another chance on the next settle.
		log.Printf("maploader: layer %s fetch failed: %v", oc.Layer.ID, oc.Err)
		return
	}
	p.rec.Apply(oc.Layer, oc.Result, oc.Generation)
}
