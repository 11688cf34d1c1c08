package pdf

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/signflow/internal/app/pdf/pdftest"
)

func TestPlacementFlipsOrigin(t *testing.T) {
	// A 200x40 box 100pt from the top of a US Letter page.
	dx, dy := Placement(72, 100, 40, 792)
	assert.Equal(t, 72.0, dx)
	assert.Equal(t, 652.0, dy)

	// A box touching the top edge.
	_, dy = Placement(0, 0, 20, 842)
	assert.Equal(t, 822.0, dy)
}

func TestFontSizeIsClamped(t *testing.T) {
	assert.Equal(t, minFontSize, FontSize(2))
	assert.Equal(t, 14, FontSize(100))
	assert.Equal(t, 14, FontSize(20))
	assert.Equal(t, 7, FontSize(10))
}

func TestDescriptors(t *testing.T) {
	text := TextDescriptor(10, 20.5, 12)
	assert.True(t, strings.HasPrefix(text, "pos:bl, off:10.00 20.50"))
	assert.Contains(t, text, "points:12")

	img := ImageDescriptor(1, 2, 0.25)
	assert.Contains(t, img, "scale:0.2500 abs")
}

func TestImageScaleFitsBox(t *testing.T) {
	assert.InDelta(t, 0.5, imageScale(400, 100, 200, 80), 1e-9)
	assert.InDelta(t, 0.4, imageScale(100, 100, 200, 40), 1e-9)
	assert.Equal(t, 1.0, imageScale(0, 0, 10, 10))
}

func TestWatermarkSkipsEmptyText(t *testing.T) {
	wm, err := watermark(Stamp{Page: 1, Width: 10, Height: 10}, 792)
	require.NoError(t, err)
	assert.Nil(t, wm)
}

func TestWatermarkRejectsInvalidImage(t *testing.T) {
	_, err := watermark(Stamp{Page: 1, Width: 10, Height: 10, Image: []byte("not a png")}, 792)
	assert.Error(t, err)
}

func TestWatermarkBuildsImageStamp(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 20, 10))
	img.Set(1, 1, color.Black)
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))

	wm, err := watermark(Stamp{Page: 1, X: 10, Y: 10, Width: 40, Height: 20, Image: buf.Bytes()}, 792)
	require.NoError(t, err)
	require.NotNil(t, wm)
}

func TestWatermarksGroupedByPage(t *testing.T) {
	heights := []float64{792, 792}
	byPage, err := watermarksByPage([]Stamp{
		{Page: 1, X: 72, Y: 100, Width: 200, Height: 30, Text: "Ada Lovelace"},
		{Page: 2, X: 72, Y: 100, Width: 100, Height: 20, Text: "2026-03-02"},
		{Page: 1, X: 72, Y: 200, Width: 12, Height: 12, Text: "X"},
		{Page: 2, X: 72, Y: 300, Width: 12, Height: 12},
	}, heights)
	require.NoError(t, err)
	assert.Len(t, byPage, 2)
	assert.Len(t, byPage[1], 2)
	assert.Len(t, byPage[2], 1)

	byPage, err = watermarksByPage([]Stamp{{Page: 1, Height: 10}}, heights)
	require.NoError(t, err)
	assert.Empty(t, byPage)

	_, err = watermarksByPage([]Stamp{{Page: 0, Text: "x", Height: 10}}, heights)
	assert.Error(t, err)
}

func TestPageCountRejectsGarbage(t *testing.T) {
	_, err := PageCount(bytes.NewReader([]byte("hello world")))
	assert.Error(t, err)
}

func TestPageCountAndApply(t *testing.T) {
	doc := pdftest.Minimal(2)
	n, err := PageCount(bytes.NewReader(doc))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	var out bytes.Buffer
	err = Apply(bytes.NewReader(doc), &out, []Stamp{
		{Page: 2, X: 72, Y: 100, Width: 200, Height: 30, Text: "Ada Lovelace"},
		{Page: 1, X: 72, Y: 700, Width: 20, Height: 20, Text: ""},
	})
	require.NoError(t, err)
	n, err = PageCount(bytes.NewReader(out.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	out.Reset()
	err = Apply(bytes.NewReader(doc), &out, []Stamp{
		{Page: 1, X: 72, Y: 100, Width: 200, Height: 30, Text: "Ada Lovelace"},
		{Page: 1, X: 72, Y: 200, Width: 100, Height: 20, Text: "2026-03-02"},
		{Page: 2, X: 72, Y: 300, Width: 12, Height: 12, Text: "X"},
	})
	require.NoError(t, err)
	n, err = PageCount(bytes.NewReader(out.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	out.Reset()
	require.NoError(t, Apply(bytes.NewReader(doc), &out, nil))
	assert.Equal(t, doc, out.Bytes(), "nothing to draw leaves the file untouched")

	err = Apply(bytes.NewReader(doc), &out, []Stamp{{Page: 3, Text: "x", Height: 10}})
	assert.Error(t, err)
}
