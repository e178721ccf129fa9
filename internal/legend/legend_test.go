package legend

import (
	"bytes"
	"encoding/json"
	"image/color"
	"image/png"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/plot/vg"
)

func TestExpand_Properties(t *testing.T) {
	legends := []Legend{
		nil,
		{},
		{0: "#00000000"},
		{0: "#102030", 1: "#ff0000", 255: "rgba(0,255,0,0.5)"},
		{7: "#abc", 300: "#fff", -1: "#fff"},
	}
	for _, l := range legends {
		table := Expand(l)
		if len(table) != 256 {
			t.Fatalf("table has %d entries", len(table))
		}
		if table[0].A != 255 {
			t.Errorf("legend %v: index 0 alpha = %d, want 255", l, table[0].A)
		}
		for i := 1; i < Size; i++ {
			if _, ok := l[i]; !ok && table[i] != Transparent {
				t.Errorf("legend %v: undefined index %d = %v, want transparent", l, i, table[i])
			}
		}
	}
}

func TestExpand_Values(t *testing.T) {
	table := Expand(Legend{
		0:   "#00000000",
		1:   "#ff0000",
		2:   "#00ff0080",
		3:   "rgb(1, 2, 3)",
		4:   "not-a-colour",
		200: "#fff",
	})

	want := map[int]color.NRGBA{
		0:   {0, 0, 0, 255},
		1:   {255, 0, 0, 255},
		2:   {0, 255, 0, 128},
		3:   {1, 2, 3, 255},
		4:   {},
		5:   {},
		200: {255, 255, 255, 255},
	}
	for i, w := range want {
		if diff := cmp.Diff(w, table[i]); diff != "" {
			t.Errorf("index %d mismatch (-want +got):\n%s", i, diff)
		}
	}
	if table.Opaque(4) || !table.Opaque(1) {
		t.Error("Opaque disagrees with table contents")
	}
}

func TestExpand_Deterministic(t *testing.T) {
	l := Legend{1: "#123456", 9: "#abcdef"}
	if Expand(l) != Expand(l) {
		t.Error("Expand is not deterministic")
	}
	if _, ok := l[0]; ok {
		t.Error("Expand mutated its input")
	}
}

func TestParseColor(t *testing.T) {
	tests := []struct {
		in      string
		want    color.NRGBA
		wantErr bool
	}{
		{"#ff8800", color.NRGBA{255, 136, 0, 255}, false},
		{"#FF880080", color.NRGBA{255, 136, 0, 128}, false},
		{"#f80", color.NRGBA{255, 136, 0, 255}, false},
		{"#f808", color.NRGBA{255, 136, 0, 136}, false},
		{" rgba(10, 20, 30, 1) ", color.NRGBA{10, 20, 30, 255}, false},
		{"rgba(10,20,30,0)", color.NRGBA{10, 20, 30, 0}, false},
		{"rgba(10,20,30,128)", color.NRGBA{10, 20, 30, 128}, false},
		{"rgb(0,0,0)", color.NRGBA{0, 0, 0, 255}, false},
		{"#12345", color.NRGBA{}, true},
		{"#gggggg", color.NRGBA{}, true},
		{"rgb(1,2)", color.NRGBA{}, true},
		{"rgb(1,2,256)", color.NRGBA{}, true},
		{"rgba(1,2,3,-1)", color.NRGBA{}, true},
		{"red", color.NRGBA{}, true},
	}
	for _, tt := range tests {
		got, err := ParseColor(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseColor(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseColor(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestLegendHelpers(t *testing.T) {
	l := Legend{5: "#fff", 1: "#000", 3: "bogus", 400: "#fff"}
	if diff := cmp.Diff([]int{1, 3, 5, 400}, l.Indices()); diff != "" {
		t.Errorf("Indices mismatch:\n%s", diff)
	}
	if err := l.Validate(); err == nil {
		t.Error("expected Validate to flag bogus entries")
	}
	if err := (Legend{1: "#000"}).Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	c := l.Clone()
	if !c.Equal(l) {
		t.Error("clone should equal original")
	}
	c[1] = "#111"
	if c.Equal(l) || l[1] != "#000" {
		t.Error("clone shares storage with original")
	}
	if Legend(nil).Clone() != nil {
		t.Error("nil clone should be nil")
	}
}

func TestRenderKey(t *testing.T) {
	var buf bytes.Buffer
	l := Legend{0: "#000000", 1: "#0000ff", 2: "#0000ff", 128: "#ff0000"}
	if err := RenderKey(&buf, l, 4*vg.Inch, 1*vg.Inch); err != nil {
		t.Fatalf("RenderKey: %v", err)
	}
	img, err := png.Decode(&buf)
	if err != nil {
		t.Fatalf("output is not a png: %v", err)
	}
	if img.Bounds().Dx() == 0 || img.Bounds().Dy() == 0 {
		t.Errorf("empty image %v", img.Bounds())
	}
}

func TestLegendUnmarshalJSON(t *testing.T) {
	var l Legend
	err := json.Unmarshal([]byte(`{"0":"#000000","1":{"type":"Normal","color":"#00ff00"},"255":"rgba(255,0,0,0.5)"}`), &l)
	require.NoError(t, err)
	assert.Equal(t, Legend{0: "#000000", 1: "#00ff00", 255: "rgba(255,0,0,0.5)"}, l)

	assert.Error(t, json.Unmarshal([]byte(`{"x":"#fff"}`), &l))
	assert.Error(t, json.Unmarshal([]byte(`{"1":42}`), &l))
	assert.Error(t, json.Unmarshal([]byte(`[1,2]`), &l))
}
