package collector

import (
	"math"
	"strings"

	"github.com/spf13/cast"
)

// maxZoom bounds zoom attributes across all providers.
const maxZoom = 22

type attrs map[string]string

func (a attrs) str(key string) string {
	return strings.TrimSpace(a[key])
}

func (a attrs) int(key string) (int, bool) {
	v := a.str(key)
	if v == "" {
		return 0, false
	}
	n, err := cast.ToIntE(v)
	if err != nil {
		// Accept "7.0" style values emitted by some page builders.
		f, ferr := cast.ToFloat64E(v)
		if ferr != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return int(f), true
	}
	return n, true
}

func (a attrs) zoom(key string, def int) int {
	n, ok := a.int(key)
	if !ok || n < 0 || n > maxZoom {
		return def
	}
	return n
}

func (a attrs) positive(key string, def int) int {
	n, ok := a.int(key)
	if !ok || n <= 0 {
		return def
	}
	return n
}

func (a attrs) nonNegative(key string, def int) int {
	n, ok := a.int(key)
	if !ok || n < 0 {
		return def
	}
	return n
}

func (a attrs) float(key string, def float64) float64 {
	v := a.str(key)
	if v == "" {
		return def
	}
	f, err := cast.ToFloat64E(v)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return def
	}
	return f
}

func (a attrs) coordinate(key string) float64 {
	return a.float(key, math.NaN())
}

func (a attrs) position(latKey, lonKey string) (lat, lon float64, ok bool) {
	lat, lon = a.coordinate(latKey), a.coordinate(lonKey)
	if math.IsNaN(lat) || math.IsNaN(lon) {
		return 0, 0, false
	}
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return 0, 0, false
	}
	return lat, lon, true
}

func (a attrs) boolean(key string, def bool) bool {
	v := strings.ToLower(a.str(key))
	switch v {
	case "":
		return def
	case "yes", "on", "enabled":
		return true
	case "no", "off", "disabled":
		return false
	}
	b, err := cast.ToBoolE(v)
	if err != nil {
		return def
	}
	return b
}

func positiveOr(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
