package tiles

import "testing"

func TestXYKnownPoints(t *testing.T) {
	cases := []struct {
		name     string
		lat, lon float64
		zoom     int
		x, y     int
	}{
		{"origin z0", 0, 0, 0, 0, 0},
		{"origin z1", 0, 0, 1, 1, 1},
		{"stockholm z10", 59.3293, 18.0686, 10, 563, 301},
		{"clamp south pole", -89.999, 0, 2, 2, 3},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			x, y := XY(tc.lat, tc.lon, tc.zoom)
			if x != tc.x || y != tc.y {
				t.Fatalf("XY(%v,%v,%d) = (%d,%d), want (%d,%d)",
					tc.lat, tc.lon, tc.zoom, x, y, tc.x, tc.y)
			}
		})
	}
}

func TestXYClampsOutOfRange(t *testing.T) {
	x, y := XY(85.1, 180.0, 3)
	max := (1 << 3) - 1
	if x < 0 || x > max || y < 0 || y > max {
		t.Fatalf("coordinates out of range: (%d,%d) at zoom 3", x, y)
	}
}

func TestURLTemplate(t *testing.T) {
	got := URL("https://tile.example.org/{z}/{x}/{y}.png", 10, 563, 301)
	want := "https://tile.example.org/10/563/301.png"
	if got != want {
		t.Fatalf("URL = %q, want %q", got, want)
	}
}

func TestAroundRadius(t *testing.T) {
	tpl := "https://t.example/{z}/{x}/{y}.png"

	if got := Around(tpl, 59.3293, 18.0686, 10, 0); len(got) != 1 {
		t.Fatalf("radius 0: got %d tiles, want 1", len(got))
	}
	if got := Around(tpl, 59.3293, 18.0686, 10, 1); len(got) != 9 {
		t.Fatalf("radius 1: got %d tiles, want 9", len(got))
	}

	// at the map edge, off-grid tiles are dropped rather than wrapped
	edge := Around(tpl, 0, -180, 2, 1)
	if len(edge) >= 9 {
		t.Fatalf("edge radius 1: got %d tiles, want fewer than 9", len(edge))
	}
}

func TestMatchHost(t *testing.T) {
	patterns := []string{"tile.openstreetmap.org"}

	cases := []struct {
		host string
		want bool
	}{
		{"tile.openstreetmap.org", true},
		{"a.tile.openstreetmap.org", true},
		{"TILE.OPENSTREETMAP.ORG", true},
		{"tile.openstreetmap.org:443", true},
		{"openstreetmap.org", false},
		{"eviltile.openstreetmap.org.example.com", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := MatchHost(tc.host, patterns); got != tc.want {
			t.Fatalf("MatchHost(%q) = %v, want %v", tc.host, got, tc.want)
		}
	}
}
