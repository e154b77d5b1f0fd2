// Package render draws viewport previews of parcel results using fogleman/gg.
package render

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"math"
	"sync"

	"github.com/fogleman/gg"
	"github.com/paulmach/orb"

	"github.com/agromap/server/internal/parcels"
)

// Config contains renderer configuration.
type Config struct {
	// PreviewSize is the width in pixels used when a request gives none.
	PreviewSize    int
	MaxPreviewSize int
}

// ColorFunc returns the fill color for a category.
type ColorFunc func(category string) color.Color

// PreviewRenderer renders parcels in an equirectangular projection of the viewport.
type PreviewRenderer struct {
	config     Config
	contexts   sync.Map // [w, h] -> *sync.Pool of *gg.Context
	bufferPool sync.Pool
}

// NewPreviewRenderer creates a new preview renderer.
func NewPreviewRenderer(cfg Config) *PreviewRenderer {
	if cfg.PreviewSize <= 0 {
		cfg.PreviewSize = 512
	}
	if cfg.MaxPreviewSize < cfg.PreviewSize {
		cfg.MaxPreviewSize = cfg.PreviewSize
	}
	return &PreviewRenderer{
		config: cfg,
		bufferPool: sync.Pool{
			New: func() interface{} {
				return bytes.NewBuffer(make([]byte, 0, 32*1024))
			},
		},
	}
}

// Size clamps a requested width to the configured range; zero or negative
// means the default.
func (r *PreviewRenderer) Size(requested int) int {
	switch {
	case requested <= 0:
		return r.config.PreviewSize
	case requested > r.config.MaxPreviewSize:
		return r.config.MaxPreviewSize
	default:
		return requested
	}
}

// Dimensions returns the image size for a viewport: width is size, height
// follows the viewport aspect ratio and never exceeds size.
func Dimensions(b orb.Bound, size int) (int, int) {
	dx, dy := b.Max[0]-b.Min[0], b.Max[1]-b.Min[1]
	if dx <= 0 || dy <= 0 {
		return size, size
	}
	h := int(math.Round(float64(size) * dy / dx))
	if h < 1 {
		h = 1
	}
	if h > size {
		return int(math.Max(1, math.Round(float64(size)*dx/dy))), size
	}
	return size, h
}

func (r *PreviewRenderer) context(w, h int) (*gg.Context, func()) {
	key := [2]int{w, h}
	p, _ := r.contexts.LoadOrStore(key, &sync.Pool{
		New: func() interface{} {
			return gg.NewContext(w, h)
		},
	})
	pool := p.(*sync.Pool)
	dc := pool.Get().(*gg.Context)
	return dc, func() { pool.Put(dc) }
}

// Render draws ps inside viewport b on a transparent canvas and returns a PNG.
func (r *PreviewRenderer) Render(b orb.Bound, ps []*parcels.Parcel, size int, colorFor ColorFunc) ([]byte, error) {
	w, h := Dimensions(b, r.Size(size))
	dx, dy := b.Max[0]-b.Min[0], b.Max[1]-b.Min[1]
	if len(ps) == 0 || dx <= 0 || dy <= 0 {
		return r.CreateEmpty(w, h)
	}

	dc, release := r.context(w, h)
	defer release()

	dc.SetColor(color.Transparent)
	dc.Clear()
	dc.ClearPath()
	dc.SetFillRuleEvenOdd()
	dc.SetLineWidth(1)

	sx, sy := float64(w)/dx, float64(h)/dy
	project := func(p orb.Point) (float64, float64) {
		return (p[0] - b.Min[0]) * sx, (b.Max[1] - p[1]) * sy
	}

	for _, p := range ps {
		// Parcels smaller than a pixel become a dot at their centroid.
		if (p.Bound.Max[0]-p.Bound.Min[0])*sx < 1 && (p.Bound.Max[1]-p.Bound.Min[1])*sy < 1 {
			x, y := project(p.Centroid)
			dc.DrawRectangle(math.Floor(x), math.Floor(y), 1, 1)
			dc.SetColor(colorFor(p.Category))
			dc.Fill()
			continue
		}

		switch g := p.Geometry.(type) {
		case orb.Polygon:
			tracePolygon(dc, g, project)
		case orb.MultiPolygon:
			for _, poly := range g {
				tracePolygon(dc, poly, project)
			}
		default:
			continue
		}

		c := color.RGBAModel.Convert(colorFor(p.Category)).(color.RGBA)
		dc.SetColor(color.NRGBA{R: c.R, G: c.G, B: c.B, A: 0xb3})
		dc.FillPreserve()
		dc.SetColor(c)
		dc.Stroke()
	}

	return r.encodeContext(dc)
}

func tracePolygon(dc *gg.Context, poly orb.Polygon, project func(orb.Point) (float64, float64)) {
	for _, ring := range poly {
		if len(ring) < 3 {
			continue
		}
		dc.NewSubPath()
		for i, pt := range ring {
			x, y := project(pt)
			if i == 0 {
				dc.MoveTo(x, y)
			} else {
				dc.LineTo(x, y)
			}
		}
		dc.ClosePath()
	}
}

func (r *PreviewRenderer) encodeContext(dc *gg.Context) ([]byte, error) {
	return r.encode(dc.Image())
}

func (r *PreviewRenderer) encode(img image.Image) ([]byte, error) {
	buf := r.bufferPool.Get().(*bytes.Buffer)
	defer func() {
		buf.Reset()
		r.bufferPool.Put(buf)
	}()

	// Use fast PNG encoder
	encoder := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := encoder.Encode(buf, img); err != nil {
		return nil, err
	}

	// Copy buffer contents (buffer will be reused)
	result := make([]byte, buf.Len())
	copy(result, buf.Bytes())
	return result, nil
}

// CreateEmpty creates a fully transparent w x h PNG.
func (r *PreviewRenderer) CreateEmpty(w, h int) ([]byte, error) {
	return r.encode(image.NewNRGBA(image.Rect(0, 0, w, h)))
}
