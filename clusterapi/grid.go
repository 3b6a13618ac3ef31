package clusterapi

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/google/uuid"
	"github.com/paulmach/orb"

	"web/firemap/maploader"
)

var ErrUnknownLayer = errors.New("unknown layer")

const (
	// tile extent and cell size in projected pixels; together they set the
	// on-screen cluster density
	tileExtent = 512
	cellSize   = 64

	// cells with fewer members than this come back as individual features
	minClusterPoints = 2
)

// project converts lng/lat to pixel coordinates in the web-mercator tile
// space for the given zoom level.
func project(lng, lat float64, zoom int) (float64, float64) {
	sin := math.Sin(lat * math.Pi / 180)
	x := (lng + 180) / 360
	y := 0.5 - 0.25*math.Log((1+sin)/(1-sin))/math.Pi

	scale := math.Pow(2, float64(zoom)) * tileExtent
	return x * scale, y * scale
}

// Query returns the layer's items for a viewport: polygon layers echo every
// intersecting feature with its geometry, point layers come back grid
// clustered at the request zoom.
func (s *Store) Query(layerID string, bounds maploader.BoundingBox, zoom int) (*maploader.LayerResult, error) {
	layer, ok := s.Layer(layerID)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownLayer, layerID)
	}

	res := &maploader.LayerResult{
		LayerColor: layer.Color,
		LayerType:  layer.Kind,
		LayerIcon:  layer.Icon,
		LayerStyle: layer.Style,
		Items:      []maploader.ClusterItem{},
	}

	bound := bounds.Bound()

	if layer.Kind == "polygon" {
		for _, f := range layer.Features {
			if f.Geometry == nil || !f.Geometry.Geometry().Bound().Intersects(bound) {
				continue
			}
			res.Items = append(res.Items, maploader.ClusterItem{
				Type:       maploader.ItemFeature,
				ID:         f.ID,
				Lat:        f.Lat,
				Lng:        f.Lng,
				Title:      f.Title,
				Properties: f.Properties,
				Geometry:   f.Geometry,
			})
		}
		return res, nil
	}

	// Bucket visible points into fixed-size cells of the projected plane,
	// then merge adjacent occupied cells so a dense group straddling a cell
	// edge is not split. One group becomes either a cluster (centroid +
	// count) or its individual features.
	cells := make(map[[2]int]*cell)
	for _, f := range layer.Features {
		if !bound.Contains(orb.Point{f.Lng, f.Lat}) {
			continue
		}
		x, y := project(f.Lng, f.Lat, zoom)
		key := [2]int{int(x / cellSize), int(y / cellSize)}
		c := cells[key]
		if c == nil {
			c = &cell{}
			cells[key] = c
		}
		c.sumLat += f.Lat
		c.sumLng += f.Lng
		c.members = append(c.members, f)
	}

	for _, c := range mergeAdjacentCells(cells) {
		if len(c.members) >= minClusterPoints {
			n := float64(len(c.members))
			res.Items = append(res.Items, maploader.ClusterItem{
				Type:  maploader.ItemCluster,
				ID:    int64(uuid.New().ID()),
				Lat:   c.sumLat / n,
				Lng:   c.sumLng / n,
				Count: len(c.members),
			})
			continue
		}
		for _, f := range c.members {
			res.Items = append(res.Items, maploader.ClusterItem{
				Type:       maploader.ItemFeature,
				ID:         f.ID,
				Lat:        f.Lat,
				Lng:        f.Lng,
				Title:      f.Title,
				Properties: f.Properties,
			})
		}
	}

	return res, nil
}

type cell struct {
	sumLat, sumLng float64
	members        []Feature
}

// mergeAdjacentCells unions occupied cells that touch (including
// diagonally) into one group each, the grid analogue of clustering with a
// pixel radius. A point sitting exactly on a cell edge then lands in the
// same group as its neighbors on the other side. Groups come back in
// deterministic cell order.
func mergeAdjacentCells(cells map[[2]int]*cell) []*cell {
	keys := make([][2]int, 0, len(cells))
	for k := range cells {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i][0] != keys[j][0] {
			return keys[i][0] < keys[j][0]
		}
		return keys[i][1] < keys[j][1]
	})

	parent := make(map[[2]int][2]int, len(keys))
	for _, k := range keys {
		parent[k] = k
	}
	var find func(k [2]int) [2]int
	find = func(k [2]int) [2]int {
		if parent[k] != k {
			parent[k] = find(parent[k])
		}
		return parent[k]
	}

	for _, k := range keys {
		for dx := -1; dx <= 1; dx++ {
			for dy := -1; dy <= 1; dy++ {
				if dx == 0 && dy == 0 {
					continue
				}
				n := [2]int{k[0] + dx, k[1] + dy}
				if _, ok := cells[n]; !ok {
					continue
				}
				rk, rn := find(k), find(n)
				if rk != rn {
					parent[rn] = rk
				}
			}
		}
	}

	groups := make(map[[2]int]*cell)
	order := make([][2]int, 0, len(keys))
	for _, k := range keys {
		root := find(k)
		g := groups[root]
		if g == nil {
			g = &cell{}
			groups[root] = g
			order = append(order, root)
		}
		c := cells[k]
		g.sumLat += c.sumLat
		g.sumLng += c.sumLng
		g.members = append(g.members, c.members...)
	}

	out := make([]*cell, len(order))
	for i, root := range order {
		out[i] = groups[root]
	}
	return out
}
