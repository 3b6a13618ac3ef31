package maploader

import (
	"log"
	"sync"

	"github.com/paulmach/orb"
)

// MarkerHandle wraps one native map primitive together with the layer and
// fetch generation that produced it. Handles are created and destroyed only
// by the reconciler.
type MarkerHandle struct {
	LayerID    string
	Generation uint64
	Native     Handle
}

// MarkerReconciler owns the rendered marker/overlay set. Reconciliation is
// atomic-replace: each Apply destroys everything the layer had before
// building the new set, which keeps the invariants trivial at the ≤~200
// visible glyphs this renderer deals in.
type MarkerReconciler struct {
	sdk    MapSDK
	icons  *IconCache
	clicks func() func(FeatureClick)

	mu      sync.Mutex
	markers map[string][]*MarkerHandle
}

// NewMarkerReconciler wires the reconciler to the map SDK and glyph cache.
// clicks returns the host's current click handler; it is re-read on every
// dispatch so a handler swapped in after subscription time is still the one
// invoked.
func NewMarkerReconciler(sdk MapSDK, icons *IconCache, clicks func() func(FeatureClick)) *MarkerReconciler {
	if clicks == nil {
		clicks = func() func(FeatureClick) { return nil }
	}
	return &MarkerReconciler{
		sdk:     sdk,
		icons:   icons,
		clicks:  clicks,
		markers: make(map[string][]*MarkerHandle),
	}
}

// Apply replaces the layer's rendered set with the items in res. An empty
// result is valid and leaves the layer cleared: an empty viewport region is
// a legitimate state.
func (r *MarkerReconciler) Apply(layer LayerDescriptor, res *LayerResult, gen uint64) {
	r.Clear(layer.ID)

	color := res.LayerColor
	if color == "" {
		color = layer.Color
	}
	icon := res.LayerIcon
	if icon == "" {
		icon = layer.Icon
	}
	style := res.LayerStyle
	if style == nil {
		style = layer.Style
	}

	var handles []*MarkerHandle
	var polyParts []orb.Geometry
	var polyItems []ClusterItem

	for _, item := range res.Items {
		if item.Geometry != nil {
			polyParts = append(polyParts, item.Geometry.Geometry())
			polyItems = append(polyItems, item)
			continue
		}

		switch item.Type {
		case ItemCluster:
			h := r.createCluster(layer, color, item)
			if h != nil {
				handles = append(handles, &MarkerHandle{LayerID: layer.ID, Generation: gen, Native: h})
			}
		case ItemFeature:
			h := r.createFeature(layer, color, icon, style, item)
			if h != nil {
				handles = append(handles, &MarkerHandle{LayerID: layer.ID, Generation: gen, Native: h})
			}
		}
	}

	if len(polyParts) > 0 {
		h := r.createOverlay(layer, color, icon, style, polyParts, polyItems)
		if h != nil {
			handles = append(handles, &MarkerHandle{LayerID: layer.ID, Generation: gen, Native: h})
		}
	}

	r.mu.Lock()
	r.markers[layer.ID] = handles
	r.mu.Unlock()
}

// createCluster draws a count-bucketed bubble. Clusters are not
// interactive: the supported gesture is zooming in so the service
// re-clusters, so no click listener is attached.
func (r *MarkerReconciler) createCluster(layer LayerDescriptor, color string, item ClusterItem) Handle {
	glyph := r.icons.Get(IconKey{
		Kind:   GlyphClusterBubble,
		Color:  color,
		Bucket: ClusterBucket(item.Count),
	})
	h, err := r.sdk.CreateMarker(item.Lat, item.Lng, glyph)
	if err != nil {
		log.Printf("maploader: layer %s: create cluster marker: %v", layer.ID, err)
		return nil
	}
	return h
}

func (r *MarkerReconciler) createFeature(layer LayerDescriptor, color, icon string, style *LayerStyle, item ClusterItem) Handle {
	key := IconKey{Kind: GlyphEmojiBadge, Color: color, Icon: icon}
	if icon == "" {
		key = IconKey{Kind: GlyphDualRing, Color: color}
		if style != nil {
			key.InnerColor = style.FillColor
		}
	}
	glyph := r.icons.Get(key)

	h, err := r.sdk.CreateMarker(item.Lat, item.Lng, glyph)
	if err != nil {
		log.Printf("maploader: layer %s: create feature marker: %v", layer.ID, err)
		return nil
	}

	click := r.clickPayload(layer, color, icon, item)
	r.sdk.AddClickListener(h, func(int) {
		if fn := r.clicks(); fn != nil {
			fn(click)
		}
	})
	return h
}

// createOverlay builds one overlay from all polygon geometries in the
// result. The previous overlay was already destroyed by Clear; replacement
// is wholesale. Clicks resolve to the clicked sub-geometry's own
// properties, not the layer's.
func (r *MarkerReconciler) createOverlay(layer LayerDescriptor, color, icon string, style *LayerStyle, parts []orb.Geometry, items []ClusterItem) Handle {
	overlayStyle := LayerStyle{}
	if style != nil {
		overlayStyle = *style
	}
	if overlayStyle.FillColor == "" {
		overlayStyle.FillColor = color
	}
	if overlayStyle.StrokeColor == "" {
		overlayStyle.StrokeColor = color
	}

	h, err := r.sdk.CreatePolygonOverlay(parts, overlayStyle)
	if err != nil {
		log.Printf("maploader: layer %s: create overlay: %v", layer.ID, err)
		return nil
	}

	clicks := make([]FeatureClick, len(items))
	for i, item := range items {
		clicks[i] = r.clickPayload(layer, color, icon, item)
	}
	r.sdk.AddClickListener(h, func(part int) {
		if part < 0 || part >= len(clicks) {
			return
		}
		if fn := r.clicks(); fn != nil {
			fn(clicks[part])
		}
	})
	return h
}

func (r *MarkerReconciler) clickPayload(layer LayerDescriptor, color, icon string, item ClusterItem) FeatureClick {
	click := FeatureClick{
		ID:         item.ID,
		Title:      item.Title,
		Properties: item.Properties,
		Lat:        item.Lat,
		Lng:        item.Lng,
		LayerID:    layer.ID,
		LayerIcon:  icon,
		LayerColor: color,
	}
	if d, ok := item.Properties["description"].(string); ok {
		click.Description = d
	}
	return click
}

// Clear destroys every handle attributed to the layer.
func (r *MarkerReconciler) Clear(layerID string) {
	r.mu.Lock()
	handles := r.markers[layerID]
	delete(r.markers, layerID)
	r.mu.Unlock()

	for _, h := range handles {
		r.sdk.Destroy(h.Native)
	}
}

// ClearAll destroys every handle across all layers.
func (r *MarkerReconciler) ClearAll() {
	r.mu.Lock()
	all := r.markers
	r.markers = make(map[string][]*MarkerHandle)
	r.mu.Unlock()

	for _, handles := range all {
		for _, h := range handles {
			r.sdk.Destroy(h.Native)
		}
	}
}

// Count reports the number of live handles for a layer.
func (r *MarkerReconciler) Count(layerID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.markers[layerID])
}

// LayerIDs lists layers that currently have rendered handles.
func (r *MarkerReconciler) LayerIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.markers))
	for id := range r.markers {
		ids = append(ids, id)
	}
	return ids
}
