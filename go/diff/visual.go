package diff

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"

	xdraw "golang.org/x/image/draw"
)

const (
	// maskThreshold is the minimum luminance delta counted as a changed pixel.
	maskThreshold = 30
	// minRegionArea drops speckle: changed regions at or under this pixel
	// count are ignored.
	minRegionArea = 100
	// Dilation with a 5x5 element, run twice, to merge adjacent regions.
	dilateRadius = 2
	dilatePasses = 2

	overlayAlpha  = 0.7
	rectThickness = 2
)

// VisualDiff renders an annotated PNG highlighting where |newPNG| differs
// from |oldPNG|: changed regions are tinted red over the new screenshot and
// enclosed in bounding rectangles. When the images differ in shape, the
// smaller is resampled to the larger's dimensions first. It returns nil
// bytes without error when no region survives the area filter.
func VisualDiff(oldPNG, newPNG []byte) ([]byte, error) {
	oldImg, err := png.Decode(bytes.NewReader(oldPNG))
	if err != nil {
		return nil, fmt.Errorf("decoding old screenshot: %w", err)
	}
	newImg, err := png.Decode(bytes.NewReader(newPNG))
	if err != nil {
		return nil, fmt.Errorf("decoding new screenshot: %w", err)
	}

	var a, b = toRGBA(oldImg), toRGBA(newImg)
	if !a.Bounds().Eq(b.Bounds()) {
		if area(a.Bounds()) < area(b.Bounds()) {
			a = resample(a, b.Bounds())
		} else {
			b = resample(b, a.Bounds())
		}
	}

	var w, h = b.Bounds().Dx(), b.Bounds().Dy()
	var mask = luminanceMask(a, b, w, h)

	var regions = connectedRegions(mask, w, h)
	// Restrict the mask to regions that pass the area filter.
	var kept = make([]bool, w*h)
	var boxes []image.Rectangle
	for _, r := range regions {
		if r.area <= minRegionArea {
			continue
		}
		for _, p := range r.pixels {
			kept[p] = true
		}
		boxes = append(boxes, r.bounds)
	}
	if len(boxes) == 0 {
		return nil, nil
	}

	for i := 0; i < dilatePasses; i++ {
		kept = dilate(kept, w, h, dilateRadius)
	}
	// Bounding rectangles follow the dilated regions, like the tint.
	boxes = nil
	for _, r := range connectedRegions(kept, w, h) {
		boxes = append(boxes, r.bounds)
	}

	var out = image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(out, out.Bounds(), b, b.Bounds().Min, draw.Src)
	tintRed(out, kept, w, h)
	for _, box := range boxes {
		drawRect(out, box, rectThickness)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, out); err != nil {
		return nil, fmt.Errorf("encoding visual diff: %w", err)
	}
	return buf.Bytes(), nil
}

func area(r image.Rectangle) int { return r.Dx() * r.Dy() }

func toRGBA(img image.Image) *image.RGBA {
	var b = img.Bounds()
	var out = image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), img, b.Min, draw.Src)
	return out
}

func resample(img *image.RGBA, bounds image.Rectangle) *image.RGBA {
	var out = image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	xdraw.BiLinear.Scale(out, out.Bounds(), img, img.Bounds(), xdraw.Src, nil)
	return out
}

// luminanceMask marks pixels whose grayscale delta exceeds maskThreshold.
func luminanceMask(a, b *image.RGBA, w, h int) []bool {
	var mask = make([]bool, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var d = luma(a.RGBAAt(x, y)) - luma(b.RGBAAt(x, y))
			if d < 0 {
				d = -d
			}
			if d > maskThreshold {
				mask[y*w+x] = true
			}
		}
	}
	return mask
}

// luma is the ITU-R BT.601 integer luminance approximation.
func luma(c color.RGBA) int {
	return (299*int(c.R) + 587*int(c.G) + 114*int(c.B)) / 1000
}

type region struct {
	area   int
	bounds image.Rectangle
	pixels []int
}

// connectedRegions labels 8-connected components of a binary mask.
func connectedRegions(mask []bool, w, h int) []region {
	var seen = make([]bool, len(mask))
	var regions []region

	for start, set := range mask {
		if !set || seen[start] {
			continue
		}
		var r = region{bounds: image.Rect(start%w, start/w, start%w+1, start/w+1)}
		var stack = []int{start}
		seen[start] = true

		for len(stack) > 0 {
			var p = stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			var px, py = p % w, p / w

			r.area++
			r.pixels = append(r.pixels, p)
			r.bounds = r.bounds.Union(image.Rect(px, py, px+1, py+1))

			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					var nx, ny = px + dx, py + dy
					if nx < 0 || ny < 0 || nx >= w || ny >= h {
						continue
					}
					var q = ny*w + nx
					if mask[q] && !seen[q] {
						seen[q] = true
						stack = append(stack, q)
					}
				}
			}
		}
		regions = append(regions, r)
	}
	return regions
}

// dilate grows a binary mask by a square structuring element of the given
// radius (radius 2 is a 5x5 element).
func dilate(mask []bool, w, h, radius int) []bool {
	var out = make([]bool, len(mask))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if !mask[y*w+x] {
				continue
			}
			for dy := -radius; dy <= radius; dy++ {
				for dx := -radius; dx <= radius; dx++ {
					var nx, ny = x + dx, y + dy
					if nx >= 0 && ny >= 0 && nx < w && ny < h {
						out[ny*w+nx] = true
					}
				}
			}
		}
	}
	return out
}

// tintRed alpha-blends a red fill over the masked pixels.
func tintRed(img *image.RGBA, mask []bool, w, h int) {
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if !mask[y*w+x] {
				continue
			}
			var c = img.RGBAAt(x, y)
			c.R = uint8(float64(c.R)*(1-overlayAlpha) + 255*overlayAlpha)
			c.G = uint8(float64(c.G) * (1 - overlayAlpha))
			c.B = uint8(float64(c.B) * (1 - overlayAlpha))
			img.SetRGBA(x, y, c)
		}
	}
}

// drawRect outlines an axis-aligned rectangle in solid red.
func drawRect(img *image.RGBA, r image.Rectangle, thickness int) {
	var red = color.RGBA{R: 255, A: 255}
	r = r.Intersect(img.Bounds())
	for t := 0; t < thickness; t++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			setIfIn(img, x, r.Min.Y+t, red)
			setIfIn(img, x, r.Max.Y-1-t, red)
		}
		for y := r.Min.Y; y < r.Max.Y; y++ {
			setIfIn(img, r.Min.X+t, y, red)
			setIfIn(img, r.Max.X-1-t, y, red)
		}
	}
}

func setIfIn(img *image.RGBA, x, y int, c color.RGBA) {
	if image.Pt(x, y).In(img.Bounds()) {
		img.SetRGBA(x, y, c)
	}
}
