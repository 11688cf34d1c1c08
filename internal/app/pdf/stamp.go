// Package pdf counts pages and stamps filled signature fields onto PDFs.
package pdf

import (
	"bytes"
	"fmt"
	"image"
	_ "image/png"
	"io"
	"math"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
)

// Stamp is one value drawn into a rectangle. X and Y locate the top-left
// corner in points measured from the top-left of the page. Exactly one of
// Text or Image is set; Image holds PNG bytes.
type Stamp struct {
	Page   int
	X      float64
	Y      float64
	Width  float64
	Height float64
	Text   string
	Image  []byte
}

const (
	minFontSize = 6
	maxFontSize = 14
)

func configuration() *model.Configuration {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return conf
}

// PageCount returns the number of pages, failing for anything that does not
// parse as a PDF.
func PageCount(r io.ReadSeeker) (int, error) {
	n, err := api.PageCount(r, configuration())
	if err != nil {
		return 0, fmt.Errorf("pdf: %w", err)
	}
	return n, nil
}

// Apply writes a copy of the PDF in r to w with every stamp drawn on top.
// The document is parsed and written once however many stamps there are.
func Apply(r io.ReadSeeker, w io.Writer, stamps []Stamp) error {
	conf := configuration()
	dims, err := api.PageDims(r, conf)
	if err != nil {
		return fmt.Errorf("pdf: read page sizes: %w", err)
	}
	heights := make([]float64, len(dims))
	for i, d := range dims {
		heights[i] = d.Height
	}
	byPage, err := watermarksByPage(stamps, heights)
	if err != nil {
		return err
	}
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return err
	}
	if len(byPage) == 0 {
		_, err := io.Copy(w, r)
		return err
	}
	if err := api.AddWatermarksSliceMap(r, w, byPage, conf); err != nil {
		return fmt.Errorf("pdf: stamp: %w", err)
	}
	return nil
}

// watermarksByPage groups the drawable stamps by page number. Stamps with
// nothing to draw are dropped.
func watermarksByPage(stamps []Stamp, heights []float64) (map[int][]*model.Watermark, error) {
	out := make(map[int][]*model.Watermark)
	for i, st := range stamps {
		if st.Page < 1 || st.Page > len(heights) {
			return nil, fmt.Errorf("pdf: stamp %d: page %d out of range 1-%d", i, st.Page, len(heights))
		}
		wm, err := watermark(st, heights[st.Page-1])
		if err != nil {
			return nil, fmt.Errorf("pdf: stamp %d: %w", i, err)
		}
		if wm == nil {
			continue
		}
		out[st.Page] = append(out[st.Page], wm)
	}
	return out, nil
}

func watermark(st Stamp, pageHeight float64) (*model.Watermark, error) {
	dx, dy := Placement(st.X, st.Y, st.Height, pageHeight)
	if len(st.Image) > 0 {
		cfg, _, err := image.DecodeConfig(bytes.NewReader(st.Image))
		if err != nil {
			return nil, fmt.Errorf("decode image: %w", err)
		}
		desc := ImageDescriptor(dx, dy, imageScale(cfg.Width, cfg.Height, st.Width, st.Height))
		return api.ImageWatermarkForReader(bytes.NewReader(st.Image), desc, true, false, types.POINTS)
	}
	if st.Text == "" {
		return nil, nil
	}
	return api.TextWatermark(st.Text, TextDescriptor(dx, dy, FontSize(st.Height)), true, false, types.POINTS)
}

// Placement converts a top-left origin rectangle into the bottom-left offset
// pdfcpu expects.
func Placement(x, y, height, pageHeight float64) (dx, dy float64) {
	return x, pageHeight - y - height
}

// FontSize picks a size that fits a field of the given height.
func FontSize(height float64) int {
	size := int(math.Floor(height * 0.7))
	if size < minFontSize {
		return minFontSize
	}
	if size > maxFontSize {
		return maxFontSize
	}
	return size
}

// TextDescriptor builds the pdfcpu description for a text stamp.
func TextDescriptor(dx, dy float64, points int) string {
	return fmt.Sprintf("pos:bl, off:%.2f %.2f, scale:1 abs, rot:0, fontname:Helvetica, points:%d, fillcolor:#000000, opacity:1",
		dx, dy, points)
}

// ImageDescriptor builds the pdfcpu description for an image stamp.
func ImageDescriptor(dx, dy, scale float64) string {
	return fmt.Sprintf("pos:bl, off:%.2f %.2f, scale:%.4f abs, rot:0, opacity:1", dx, dy, scale)
}

func imageScale(imgW, imgH int, boxW, boxH float64) float64 {
	if imgW <= 0 || imgH <= 0 || boxW <= 0 || boxH <= 0 {
		return 1
	}
	return math.Min(boxW/float64(imgW), boxH/float64(imgH))
}
