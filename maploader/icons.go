package maploader

import (
	"fmt"
	"sync"
)

type GlyphKind int

const (
	// GlyphEmojiBadge is a teardrop pin in the layer color with an emoji
	// badge, used for individual features on layers that declare an icon.
	GlyphEmojiBadge GlyphKind = iota
	// GlyphDualRing is a two-tone ring marker for individual features on
	// layers without an icon.
	GlyphDualRing
	// GlyphClusterBubble is a filled circle sized by the cluster's count
	// bucket.
	GlyphClusterBubble
)

type SizeBucket int

const (
	BucketSmall SizeBucket = iota
	BucketMedium
	BucketLarge
	BucketXLarge
)

// ClusterBucket maps a cluster's point count onto its glyph size bucket.
// The break points are presentation parameters; they stay fixed for the
// life of the process so identical counts always produce identical keys.
func ClusterBucket(count int) SizeBucket {
	switch {
	case count < 50:
		return BucketSmall
	case count < 200:
		return BucketMedium
	case count < 1000:
		return BucketLarge
	default:
		return BucketXLarge
	}
}

// diameter in pixels per bucket
var bucketSizes = [...]int{30, 35, 40, 45}

func (b SizeBucket) Diameter() int {
	return bucketSizes[b]
}

// IconKey identifies one glyph by its visual parameters. Identical keys
// always resolve to the identical cached descriptor.
type IconKey struct {
	Kind       GlyphKind
	Color      string
	InnerColor string
	Icon       string
	Bucket     SizeBucket
}

// Glyph is a vector marker descriptor plus its pixel metrics. The anchor
// is the point within the image that sits on the feature's coordinates.
type Glyph struct {
	SVG     string
	Width   int
	Height  int
	AnchorX int
	AnchorY int
}

// IconCache memoizes glyph synthesis. The key space is a handful of colors
// times a handful of buckets, so entries are never evicted.
type IconCache struct {
	mu   sync.Mutex
	memo map[IconKey]*Glyph
}

func NewIconCache() *IconCache {
	return &IconCache{memo: make(map[IconKey]*Glyph)}
}

// Get returns the cached glyph for key, synthesizing and storing it on
// first use. Synthesis is deterministic: the same key yields a
// byte-identical descriptor across calls.
func (c *IconCache) Get(key IconKey) *Glyph {
	c.mu.Lock()
	defer c.mu.Unlock()

	if g, ok := c.memo[key]; ok {
		return g
	}

	g := synthesize(key)
	c.memo[key] = g
	return g
}

// Len reports the number of distinct glyphs generated so far.
func (c *IconCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.memo)
}

func synthesize(key IconKey) *Glyph {
	switch key.Kind {
	case GlyphDualRing:
		return dualRingGlyph(key.Color, key.InnerColor)
	case GlyphClusterBubble:
		return clusterGlyph(key.Color, key.Bucket)
	default:
		return emojiBadgeGlyph(key.Color, key.Icon)
	}
}

func emojiBadgeGlyph(color, icon string) *Glyph {
	svg := fmt.Sprintf(
		`<svg xmlns="http://www.w3.org/2000/svg" width="32" height="42" viewBox="0 0 32 42">`+
			`<path d="M16 0C7.16 0 0 7.16 0 16c0 11 16 26 16 26s16-15 16-26C32 7.16 24.84 0 16 0z" fill="%s"/>`+
			`<circle cx="16" cy="15" r="10" fill="#ffffff"/>`+
			`<text x="16" y="20" font-size="13" text-anchor="middle">%s</text>`+
			`</svg>`,
		color, icon)
	return &Glyph{SVG: svg, Width: 32, Height: 42, AnchorX: 16, AnchorY: 42}
}

func dualRingGlyph(outer, inner string) *Glyph {
	if inner == "" {
		inner = "#ffffff"
	}
	svg := fmt.Sprintf(
		`<svg xmlns="http://www.w3.org/2000/svg" width="24" height="24" viewBox="0 0 24 24">`+
			`<circle cx="12" cy="12" r="11" fill="%s"/>`+
			`<circle cx="12" cy="12" r="6" fill="%s" stroke="#ffffff" stroke-width="2"/>`+
			`</svg>`,
		outer, inner)
	return &Glyph{SVG: svg, Width: 24, Height: 24, AnchorX: 12, AnchorY: 12}
}

func clusterGlyph(color string, bucket SizeBucket) *Glyph {
	d := bucket.Diameter()
	r := d / 2
	svg := fmt.Sprintf(
		`<svg xmlns="http://www.w3.org/2000/svg" width="%d" height="%d" viewBox="0 0 %d %d">`+
			`<circle cx="%d" cy="%d" r="%d" fill="%s" fill-opacity="0.5"/>`+
			`<circle cx="%d" cy="%d" r="%d" fill="%s"/>`+
			`</svg>`,
		d, d, d, d,
		r, r, r, color,
		r, r, r-4, color)
	return &Glyph{SVG: svg, Width: d, Height: d, AnchorX: r, AnchorY: r}
}
