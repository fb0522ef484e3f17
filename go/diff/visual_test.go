package diff

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/require"
)

// canvas renders a black image with a white square at |rect|.
func canvas(t *testing.T, w, h int, rect image.Rectangle) []byte {
	t.Helper()
	var img = image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if image.Pt(x, y).In(rect) {
				img.Set(x, y, color.RGBA{255, 255, 255, 255})
			} else {
				img.Set(x, y, color.RGBA{0, 0, 0, 255})
			}
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestVisualDiffIdentical(t *testing.T) {
	var img = canvas(t, 100, 100, image.Rect(10, 10, 40, 40))
	out, err := VisualDiff(img, img)
	require.NoError(t, err)
	require.Nil(t, out)
}

func TestVisualDiffHighlightsChange(t *testing.T) {
	var before = canvas(t, 200, 200, image.Rectangle{})
	var after = canvas(t, 200, 200, image.Rect(50, 50, 100, 100))

	out, err := VisualDiff(before, after)
	require.NoError(t, err)
	require.NotNil(t, out)

	decoded, err := png.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	require.Equal(t, 200, decoded.Bounds().Dx())
	require.Equal(t, 200, decoded.Bounds().Dy())

	// Inside the changed region the overlay skews red.
	r, g, b, _ := decoded.At(75, 75).RGBA()
	require.Greater(t, r, g)
	require.Greater(t, r, b)

	// Far from the change the new image passes through untouched.
	r, g, b, _ = decoded.At(10, 10).RGBA()
	require.Zero(t, r)
	require.Zero(t, g)
	require.Zero(t, b)
}

// Changed regions at or under the area filter are speckle, not change.
func TestVisualDiffIgnoresSpeckle(t *testing.T) {
	var before = canvas(t, 100, 100, image.Rectangle{})
	var after = canvas(t, 100, 100, image.Rect(20, 20, 25, 25))

	out, err := VisualDiff(before, after)
	require.NoError(t, err)
	require.Nil(t, out)
}

func TestVisualDiffResizesMismatchedShapes(t *testing.T) {
	var before = canvas(t, 100, 100, image.Rectangle{})
	var after = canvas(t, 200, 200, image.Rect(40, 40, 120, 120))

	out, err := VisualDiff(before, after)
	require.NoError(t, err)
	require.NotNil(t, out)

	decoded, err := png.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	require.Equal(t, 200, decoded.Bounds().Dx())
}

func TestVisualDiffRejectsCorruptInput(t *testing.T) {
	var valid = canvas(t, 50, 50, image.Rectangle{})
	var _, err = VisualDiff([]byte("not a png"), valid)
	require.Error(t, err)
	_, err = VisualDiff(valid, []byte("not a png"))
	require.Error(t, err)
}
