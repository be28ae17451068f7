// Package tiles implements slippy-map (web mercator z/x/y) tile math and URL
// template expansion for the configured tile server.
package tiles

import (
	"math"
	"strconv"
	"strings"
)

// XY returns the tile coordinates containing the given point at zoom.
func XY(lat, lon float64, zoom int) (x, y int) {
	n := float64(int(1) << uint(zoom))
	x = int(math.Floor((lon + 180.0) / 360.0 * n))
	latRad := lat * math.Pi / 180.0
	y = int(math.Floor((1.0 - math.Log(math.Tan(latRad)+1.0/math.Cos(latRad))/math.Pi) / 2.0 * n))

	max := int(n) - 1
	if x < 0 {
		x = 0
	}
	if x > max {
		x = max
	}
	if y < 0 {
		y = 0
	}
	if y > max {
		y = max
	}
	return x, y
}

// URL expands a template of the form ".../{z}/{x}/{y}.png".
func URL(template string, z, x, y int) string {
	r := strings.NewReplacer(
		"{z}", strconv.Itoa(z),
		"{x}", strconv.Itoa(x),
		"{y}", strconv.Itoa(y),
	)
	return r.Replace(template)
}

// Around returns the tile URLs in a square of the given radius centered on
// the point. Radius 0 yields just the center tile.
func Around(template string, lat, lon float64, zoom, radius int) []string {
	if radius < 0 {
		radius = 0
	}
	cx, cy := XY(lat, lon, zoom)
	max := (1 << uint(zoom)) - 1

	side := 2*radius + 1
	out := make([]string, 0, side*side)
	for dx := -radius; dx <= radius; dx++ {
		for dy := -radius; dy <= radius; dy++ {
			x, y := cx+dx, cy+dy
			if x < 0 || y < 0 || x > max || y > max {
				continue
			}
			out = append(out, URL(template, zoom, x, y))
		}
	}
	return out
}

// MatchHost reports whether host matches any pattern. A pattern matches its
// exact host or any subdomain of it ("tile.example.org" matches
// "a.tile.example.org").
func MatchHost(host string, patterns []string) bool {
	host = strings.ToLower(host)
	if i := strings.IndexByte(host, ':'); i >= 0 {
		host = host[:i]
	}
	for _, p := range patterns {
		p = strings.ToLower(strings.TrimSpace(p))
		if i := strings.IndexByte(p, ':'); i >= 0 {
			p = p[:i]
		}
		if p == "" {
			continue
		}
		if host == p || strings.HasSuffix(host, "."+p) {
			return true
		}
	}
	return false
}
