package terrain

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"math"
	"os"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// heatStops is a dark-blue to yellow ramp for low to high values
var heatStops = []color.RGBA{
	{68, 1, 84, 255},
	{59, 82, 139, 255},
	{33, 145, 140, 255},
	{94, 201, 98, 255},
	{253, 231, 37, 255},
}

var (
	emptyColor  = color.RGBA{235, 235, 235, 255}
	legendColor = color.RGBA{0, 0, 0, 255}
)

// heatColor maps t in [0, 1] onto the ramp
func heatColor(t float64) color.RGBA {
	if math.IsNaN(t) || t <= 0 {
		return heatStops[0]
	}
	if t >= 1 {
		return heatStops[len(heatStops)-1]
	}
	pos := t * float64(len(heatStops)-1)
	i := int(pos)
	f := pos - float64(i)
	a, b := heatStops[i], heatStops[i+1]
	lerp := func(x, y uint8) uint8 { return uint8(math.Round(float64(x) + f*(float64(y)-float64(x)))) }
	return color.RGBA{lerp(a.R, b.R), lerp(a.G, b.G), lerp(a.B, b.B), 255}
}

// layerRaster is a detached copy of one layer sized for drawing
type layerRaster struct {
	layer    Layer
	rows     int
	cols     int
	res      float64
	values   []float64
	valid    []bool
	min, max float64
	set      int
}

func captureLayer(m *ElevationMap, l Layer) (*layerRaster, error) {
	snap, ok := m.LayerSnapshot(l)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not allocated", ErrUnknownLayer, l)
	}
	r := &layerRaster{layer: l, values: snap.Values, valid: snap.Valid, min: math.Inf(1), max: math.Inf(-1)}
	m.View(func(g *Grid) {
		r.rows, r.cols, r.res = g.Rows(), g.Cols(), g.Resolution()
	})
	for i, ok := range r.valid {
		if !ok {
			continue
		}
		r.set++
		r.min = math.Min(r.min, r.values[i])
		r.max = math.Max(r.max, r.values[i])
	}
	if r.set == 0 {
		r.min, r.max = 0, 0
	}
	return r, nil
}

// at returns the value at row, col with row 0 at the minimum y
func (r *layerRaster) at(row, col int) (float64, bool) {
	o := row*r.cols + col
	return r.values[o], r.valid[o]
}

// normalize maps v onto [0, 1] over the layer's range
func (r *layerRaster) normalize(v float64) float64 {
	if r.max <= r.min {
		return 0.5
	}
	return (v - r.min) / (r.max - r.min)
}

// HeatmapRenderer draws one layer as a raster image, one block of pixels
// per cell, with north (max y) at the top.
type HeatmapRenderer struct {
	Map           *ElevationMap
	Layer         Layer
	PixelsPerCell int
	Legend        bool
}

const legendHeight = 36

// NewHeatmapRenderer creates a renderer with a legend and 4 pixels per cell
func NewHeatmapRenderer(m *ElevationMap, l Layer) *HeatmapRenderer {
	return &HeatmapRenderer{Map: m, Layer: l, PixelsPerCell: 4, Legend: true}
}

// Render draws the layer. Unset cells are drawn light grey.
func (h *HeatmapRenderer) Render() (*image.RGBA, error) {
	r, err := captureLayer(h.Map, h.Layer)
	if err != nil {
		return nil, err
	}
	ppc := h.PixelsPerCell
	if ppc < 1 {
		ppc = 1
	}

	width := r.cols * ppc
	mapHeight := r.rows * ppc
	height := mapHeight
	if h.Legend {
		height += legendHeight
		// room for the legend text
		if width < 200 {
			width = 200
		}
	}

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	fillRect(img, 0, 0, width, height, color.RGBA{255, 255, 255, 255})

	for row := 0; row < r.rows; row++ {
		y0 := (r.rows - 1 - row) * ppc
		for col := 0; col < r.cols; col++ {
			c := emptyColor
			if v, ok := r.at(row, col); ok {
				c = heatColor(r.normalize(v))
			}
			fillRect(img, col*ppc, y0, ppc, ppc, c)
		}
	}

	if h.Legend {
		h.drawLegend(img, r, mapHeight, width)
	}
	return img, nil
}

// drawLegend adds a colour bar and the value range below the map
func (h *HeatmapRenderer) drawLegend(img *image.RGBA, r *layerRaster, top, width int) {
	barWidth := width - 20
	for x := 0; x < barWidth; x++ {
		c := heatColor(float64(x) / float64(barWidth-1))
		fillRect(img, 10+x, top+4, 1, 10, c)
	}
	label := fmt.Sprintf("%s  %.3f .. %.3f  (%d cells)", r.layer, r.min, r.max, r.set)
	drawText(img, 10, top+30, label, legendColor)
}

// WritePNG encodes the rendered layer to w
func (h *HeatmapRenderer) WritePNG(w io.Writer) error {
	img, err := h.Render()
	if err != nil {
		return err
	}
	return png.Encode(w, img)
}

// SavePNG saves the rendered layer to a PNG file
func (h *HeatmapRenderer) SavePNG(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	return h.WritePNG(f)
}

func fillRect(img *image.RGBA, x, y, w, h int, c color.RGBA) {
	b := img.Bounds()
	for dy := 0; dy < h; dy++ {
		for dx := 0; dx < w; dx++ {
			px, py := x+dx, y+dy
			if px >= b.Min.X && px < b.Max.X && py >= b.Min.Y && py < b.Max.Y {
				img.SetRGBA(px, py, c)
			}
		}
	}
}

// drawText renders text onto an image at the specified baseline position
func drawText(img *image.RGBA, x, y int, text string, c color.RGBA) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y)},
	}
	d.DrawString(text)
}
