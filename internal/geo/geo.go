// Package geo holds the coordinate math shared by every map provider:
// position validation, Web Mercator pixel projection, bounds and zoom fitting.
package geo

import (
	"errors"
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/wroge/wgs84"
)

// TileSize is the edge length in pixels of a zoom-0 world tile.
const TileSize = 256

// MaxLatitude is the Web Mercator latitude limit.
const MaxLatitude = 85.0511287798

// halfCircumference is the EPSG:3857 x extent on each side of the meridian.
const halfCircumference = 20037508.342789244

// ErrInvalidPosition is returned for non-finite or out of range coordinates.
var ErrInvalidPosition = errors.New("invalid position")

var (
	toMercator   = wgs84.EPSG().Transform(4326, 3857)
	fromMercator = wgs84.EPSG().Transform(3857, 4326)
)

// LatLng is a WGS84 position in degrees.
type LatLng struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Validate reports whether the position is finite and inside lat [-90,90], lon [-180,180].
func (p LatLng) Validate() error {
	if math.IsNaN(p.Lat) || math.IsInf(p.Lat, 0) || math.IsNaN(p.Lon) || math.IsInf(p.Lon, 0) {
		return fmt.Errorf("%w: non-finite coordinate", ErrInvalidPosition)
	}
	if p.Lat < -90 || p.Lat > 90 {
		return fmt.Errorf("%w: lat %v out of range", ErrInvalidPosition, p.Lat)
	}
	if p.Lon < -180 || p.Lon > 180 {
		return fmt.Errorf("%w: lon %v out of range", ErrInvalidPosition, p.Lon)
	}
	return nil
}

// Point converts to an orb point (x = lon, y = lat).
func (p LatLng) Point() orb.Point {
	return orb.Point{p.Lon, p.Lat}
}

// FromPoint converts an orb point back to a LatLng.
func FromPoint(pt orb.Point) LatLng {
	return LatLng{Lat: pt.Lat(), Lon: pt.Lon()}
}

// Size is a viewport size in pixels.
type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// worldSize returns the world width in pixels at the given zoom.
func worldSize(zoom float64) float64 {
	return TileSize * math.Exp2(zoom)
}

// Project returns the world pixel coordinates of p at the given zoom.
func Project(p LatLng, zoom float64) (x, y float64) {
	lat := clamp(p.Lat, -MaxLatitude, MaxLatitude)
	mx, my, _ := toMercator(p.Lon, lat, 0)

	scale := worldSize(zoom)
	x = (mx + halfCircumference) / (2 * halfCircumference) * scale
	y = (halfCircumference - my) / (2 * halfCircumference) * scale
	return x, y
}

// Unproject is the inverse of Project. Results are clamped to valid ranges.
func Unproject(x, y, zoom float64) LatLng {
	scale := worldSize(zoom)
	mx := x/scale*2*halfCircumference - halfCircumference
	my := halfCircumference - y/scale*2*halfCircumference

	lon, lat, _ := fromMercator(mx, my, 0)
	return LatLng{
		Lat: clamp(lat, -MaxLatitude, MaxLatitude),
		Lon: clamp(lon, -180, 180),
	}
}

// PixelDistance is the distance in screen pixels between a and b at zoom.
func PixelDistance(a, b LatLng, zoom int) float64 {
	ax, ay := Project(a, float64(zoom))
	bx, by := Project(b, float64(zoom))
	return math.Hypot(ax-bx, ay-by)
}

// BoundsOf returns the bounding box of the given positions.
// ok is false for an empty slice.
func BoundsOf(points []LatLng) (b orb.Bound, ok bool) {
	if len(points) == 0 {
		return orb.Bound{}, false
	}
	mp := make(orb.MultiPoint, 0, len(points))
	for _, p := range points {
		mp = append(mp, p.Point())
	}
	return mp.Bound(), true
}

// Mean returns the arithmetic mean of the positions.
func Mean(points []LatLng) LatLng {
	if len(points) == 0 {
		return LatLng{}
	}
	var lat, lon float64
	for _, p := range points {
		lat += p.Lat
		lon += p.Lon
	}
	n := float64(len(points))
	return LatLng{Lat: lat / n, Lon: lon / n}
}

// Viewport is the visible area of a map.
type Viewport struct {
	Center LatLng `json:"center"`
	Zoom   int    `json:"zoom"`
	Size   Size   `json:"size"`
}

// Bounds returns the geographic rectangle covered by the viewport. Web
// Mercator cannot show latitudes beyond MaxLatitude; a viewport that reaches
// the top or bottom edge of the world covers the polar cap behind it.
func (v Viewport) Bounds() orb.Bound {
	z := float64(v.Zoom)
	cx, cy := Project(v.Center, z)
	hw, hh := float64(v.Size.Width)/2, float64(v.Size.Height)/2

	nw := Unproject(cx-hw, cy-hh, z).Point()
	se := Unproject(cx+hw, cy+hh, z).Point()
	if nw[1] >= MaxLatitude {
		nw[1] = 90
	}
	if se[1] <= -MaxLatitude {
		se[1] = -90
	}
	return orb.Bound{Min: orb.Point{nw[0], se[1]}, Max: orb.Point{se[0], nw[1]}}
}

// Contains reports whether p lies inside the viewport.
func (v Viewport) Contains(p LatLng) bool {
	return v.Bounds().Contains(p.Point())
}

// Fit computes the highest zoom in [minZoom, maxZoom] at which b fits in size
// with paddingPx on every side, and the center of b at that zoom.
func Fit(b orb.Bound, size Size, paddingPx, minZoom, maxZoom int) (LatLng, int) {
	availW := float64(size.Width - 2*paddingPx)
	availH := float64(size.Height - 2*paddingPx)
	if availW < 1 {
		availW = 1
	}
	if availH < 1 {
		availH = 1
	}

	nw := FromPoint(b.LeftTop())
	se := FromPoint(b.RightBottom())

	zoom := minZoom
	for z := maxZoom; z >= minZoom; z-- {
		x1, y1 := Project(nw, float64(z))
		x2, y2 := Project(se, float64(z))
		if x2-x1 <= availW && y2-y1 <= availH {
			zoom = z
			break
		}
	}

	x1, y1 := Project(nw, float64(zoom))
	x2, y2 := Project(se, float64(zoom))
	return Unproject((x1+x2)/2, (y1+y2)/2, float64(zoom)), zoom
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
