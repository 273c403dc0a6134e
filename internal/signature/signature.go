// Package signature turns a typed name or a freehand drawing into the data
// URL stored on an application.
package signature

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"html"
	"image"
	"image/color"
	"image/png"
	"math"
	"strings"
)

// Mode is how the signer produced the signature.
type Mode string

const (
	ModeTyped Mode = "typed"
	ModeDrawn Mode = "drawn"
)

// ErrEmpty is returned when no signature was captured.
var ErrEmpty = errors.New("signature: no signature captured")

const (
	canvasWidth  = 600
	canvasHeight = 200
	pngPrefix    = "data:image/png;base64,"
	svgPrefix    = "data:image/svg+xml;base64,"
	cursiveFont  = "'Dancing Script', 'Brush Script MT', cursive"

	// pen is the stroke width in pixels.
	pen = 2
	// maxStrokes and maxPoints bound a drawn signature.
	maxStrokes = 256
	maxPoints  = 20000
	maxCoord   = 1e6
	// maxUploadScale bounds a client PNG to this multiple of the canvas on
	// each side.
	maxUploadScale = 2
)

// Point is a canvas coordinate in pixels.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Input is what the review step receives from the signature pad.
type Input struct {
	Mode      Mode      `json:"mode"`
	TypedName string    `json:"typed_name,omitempty"`
	Strokes   [][]Point `json:"strokes,omitempty"`
	DataURL   string    `json:"data_url,omitempty"`
}

// Capture renders in to a data URL. Typed signatures become an SVG drawn in a
// cursive font; drawn signatures become a PNG, either rasterised from strokes
// or taken from a client-supplied PNG data URL.
func Capture(in Input) (string, error) {
	switch in.Mode {
	case ModeTyped:
		return typed(in.TypedName)
	case ModeDrawn:
		if len(in.Strokes) > 0 {
			return drawn(in.Strokes)
		}
		return checkPNG(in.DataURL)
	default:
		return "", fmt.Errorf("signature: unknown mode %q", in.Mode)
	}
}

func typed(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ErrEmpty
	}
	svg := fmt.Sprintf(
		`<svg xmlns="http://www.w3.org/2000/svg" width="%d" height="%d" viewBox="0 0 %d %d">`+
			`<text x="24" y="%d" font-family="%s" font-size="56" fill="#1a1a1a">%s</text></svg>`,
		canvasWidth, canvasHeight, canvasWidth, canvasHeight, canvasHeight*2/3,
		html.EscapeString(cursiveFont), html.EscapeString(name),
	)
	return svgPrefix + base64.StdEncoding.EncodeToString([]byte(svg)), nil
}

func drawn(strokes [][]Point) (string, error) {
	if len(strokes) > maxStrokes {
		return "", fmt.Errorf("signature: %d strokes exceeds limit of %d", len(strokes), maxStrokes)
	}
	points := 0
	for _, stroke := range strokes {
		points += len(stroke)
		for _, p := range stroke {
			if !inRange(p.X) || !inRange(p.Y) {
				return "", fmt.Errorf("signature: stroke point (%v, %v) is not a finite coordinate within ±%g", p.X, p.Y, maxCoord)
			}
		}
	}
	if points > maxPoints {
		return "", fmt.Errorf("signature: %d points exceeds limit of %d", points, maxPoints)
	}

	img := image.NewNRGBA(image.Rect(0, 0, canvasWidth, canvasHeight))
	ink := color.NRGBA{R: 0x1a, G: 0x1a, B: 0x1a, A: 0xff}
	marked := false
	for _, stroke := range strokes {
		for i, p := range stroke {
			if i == 0 {
				marked = dot(img, p, ink) || marked
				continue
			}
			marked = line(img, stroke[i-1], p, ink) || marked
		}
	}
	if !marked {
		return "", ErrEmpty
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", fmt.Errorf("signature: encoding png: %w", err)
	}
	return pngPrefix + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// inRange is false for NaN and infinities as well as far-off coordinates.
func inRange(f float64) bool {
	return !math.IsNaN(f) && math.Abs(f) <= maxCoord
}

// line plots a 2px-wide segment from a to b and reports whether any pixel
// landed on the canvas. The segment is clipped to the canvas first, so the
// number of steps never exceeds canvasWidth+canvasHeight.
func line(img *image.NRGBA, a, b Point, c color.NRGBA) bool {
	a, b, ok := clip(a, b)
	if !ok {
		return false
	}
	steps := int(math.Max(math.Abs(b.X-a.X), math.Abs(b.Y-a.Y)))
	if steps == 0 {
		return dot(img, a, c)
	}
	marked := false
	for i := 0; i <= steps; i++ {
		t := float64(i) / float64(steps)
		marked = dot(img, Point{X: a.X + (b.X-a.X)*t, Y: a.Y + (b.Y-a.Y)*t}, c) || marked
	}
	return marked
}

// clip trims the segment a-b to the canvas grown by the pen width
// (Liang-Barsky). It reports false when no part of the segment is visible.
func clip(a, b Point) (Point, Point, bool) {
	minX, minY := float64(-pen), float64(-pen)
	maxX, maxY := float64(canvasWidth+pen), float64(canvasHeight+pen)
	dx, dy := b.X-a.X, b.Y-a.Y
	t0, t1 := 0.0, 1.0
	edges := [4][2]float64{
		{-dx, a.X - minX},
		{dx, maxX - a.X},
		{-dy, a.Y - minY},
		{dy, maxY - a.Y},
	}
	for _, e := range edges {
		p, q := e[0], e[1]
		if p == 0 {
			if q < 0 {
				return a, b, false
			}
			continue
		}
		r := q / p
		if p < 0 {
			if r > t1 {
				return a, b, false
			}
			t0 = math.Max(t0, r)
		} else {
			if r < t0 {
				return a, b, false
			}
			t1 = math.Min(t1, r)
		}
	}
	return Point{X: a.X + dx*t0, Y: a.Y + dy*t0}, Point{X: a.X + dx*t1, Y: a.Y + dy*t1}, true
}

func dot(img *image.NRGBA, p Point, c color.NRGBA) bool {
	if p.X < -pen || p.Y < -pen || p.X > canvasWidth+pen || p.Y > canvasHeight+pen {
		return false
	}
	marked := false
	x, y := int(math.Round(p.X)), int(math.Round(p.Y))
	for dx := 0; dx < pen; dx++ {
		for dy := 0; dy < pen; dy++ {
			pt := image.Pt(x+dx, y+dy)
			if pt.In(img.Bounds()) {
				img.SetNRGBA(pt.X, pt.Y, c)
				marked = true
			}
		}
	}
	return marked
}

// checkPNG accepts a PNG data URL that decodes to a non-blank image.
func checkPNG(dataURL string) (string, error) {
	if dataURL == "" {
		return "", ErrEmpty
	}
	if !strings.HasPrefix(dataURL, pngPrefix) {
		return "", errors.New("signature: drawn signature must be a PNG data URL")
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(dataURL, pngPrefix))
	if err != nil {
		return "", fmt.Errorf("signature: decoding data URL: %w", err)
	}
	cfg, err := png.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("signature: decoding png header: %w", err)
	}
	if cfg.Width > canvasWidth*maxUploadScale || cfg.Height > canvasHeight*maxUploadScale {
		return "", fmt.Errorf("signature: png is %dx%d, larger than %dx%d",
			cfg.Width, cfg.Height, canvasWidth*maxUploadScale, canvasHeight*maxUploadScale)
	}
	img, err := png.Decode(bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("signature: decoding png: %w", err)
	}
	if blank(img) {
		return "", ErrEmpty
	}
	return dataURL, nil
}

func blank(img image.Image) bool {
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if _, _, _, a := img.At(x, y).RGBA(); a != 0 {
				return false
			}
		}
	}
	return true
}

// Present reports whether dataURL looks like a captured signature.
func Present(dataURL string) bool {
	return strings.HasPrefix(dataURL, pngPrefix) || strings.HasPrefix(dataURL, svgPrefix)
}
