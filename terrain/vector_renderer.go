package terrain

import (
	"image/png"
	"io"

	"github.com/tdewolff/canvas"
	"github.com/tdewolff/canvas/renderers/rasterizer"
	"github.com/tdewolff/canvas/renderers/svg"
)

// VectorRenderer draws one layer as vector cells in map coordinates
type VectorRenderer struct {
	Map        *ElevationMap
	Layer      Layer
	Scale      float64           // canvas units (mm) per map metre
	Padding    float64           // in map metres
	Resolution canvas.Resolution // for PNG output
	ShowEmpty  bool              // draw unset cells in grey
}

// NewVectorRenderer creates a vector renderer with default settings
func NewVectorRenderer(m *ElevationMap, l Layer) *VectorRenderer {
	return &VectorRenderer{
		Map:        m,
		Layer:      l,
		Scale:      50.0,
		Padding:    0.5,
		Resolution: canvas.DPI(96),
	}
}

// canvasRenderer is implemented by both the svg and rasterizer renderers
type canvasRenderer interface {
	RenderPath(path *canvas.Path, style canvas.Style, m canvas.Matrix)
}

func (v *VectorRenderer) size(r *layerRaster) (float64, float64) {
	w := (float64(r.cols)*r.res + 2*v.Padding) * v.Scale
	h := (float64(r.rows)*r.res + 2*v.Padding) * v.Scale
	return w, h
}

// RenderToSVG writes the layer as an SVG to the provided writer
func (v *VectorRenderer) RenderToSVG(w io.Writer) error {
	r, err := captureLayer(v.Map, v.Layer)
	if err != nil {
		return err
	}
	width, height := v.size(r)

	svgRenderer := svg.New(w, width, height, nil)
	v.renderToCanvas(svgRenderer, r, width, height)
	return svgRenderer.Close()
}

// RenderToPNG rasterizes the vector drawing and writes it as a PNG
func (v *VectorRenderer) RenderToPNG(w io.Writer) error {
	r, err := captureLayer(v.Map, v.Layer)
	if err != nil {
		return err
	}
	width, height := v.size(r)

	rast := rasterizer.New(width, height, v.Resolution, canvas.DefaultColorSpace)
	v.renderToCanvas(rast, r, width, height)
	return png.Encode(w, rast)
}

// renderToCanvas draws the background, every cell and the raster outline.
// Canvas y grows upwards, so row 0 lands at the bottom as in the map.
func (v *VectorRenderer) renderToCanvas(renderer canvasRenderer, r *layerRaster, width, height float64) {
	bgStyle := canvas.DefaultStyle
	bgStyle.Fill = canvas.Paint{Color: canvas.White}
	bgStyle.Stroke = canvas.Paint{Color: canvas.Transparent}
	renderer.RenderPath(canvas.Rectangle(width, height), bgStyle, canvas.Identity)

	cell := r.res * v.Scale
	pad := v.Padding * v.Scale

	cellStyle := canvas.DefaultStyle
	cellStyle.Stroke = canvas.Paint{Color: canvas.Transparent}

	for row := 0; row < r.rows; row++ {
		for col := 0; col < r.cols; col++ {
			val, ok := r.at(row, col)
			if !ok && !v.ShowEmpty {
				continue
			}
			c := emptyColor
			if ok {
				c = heatColor(r.normalize(val))
			}
			cellStyle.Fill = canvas.Paint{Color: c}
			path := canvas.Rectangle(cell, cell).Translate(pad+float64(col)*cell, pad+float64(row)*cell)
			renderer.RenderPath(path, cellStyle, canvas.Identity)
		}
	}

	outlineStyle := canvas.DefaultStyle
	outlineStyle.Fill = canvas.Paint{Color: canvas.Transparent}
	outlineStyle.Stroke = canvas.Paint{Color: canvas.Gray}
	outlineStyle.StrokeWidth = 0.5

	outline := &canvas.Path{}
	x1, y1 := pad, pad
	x2, y2 := pad+float64(r.cols)*cell, pad+float64(r.rows)*cell
	outline.MoveTo(x1, y1)
	outline.LineTo(x2, y1)
	outline.LineTo(x2, y2)
	outline.LineTo(x1, y2)
	outline.Close()
	renderer.RenderPath(outline, outlineStyle, canvas.Identity)
}
