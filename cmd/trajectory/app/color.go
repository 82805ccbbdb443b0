package app

import (
	"image/color"
	"math"
)

const defaultColorMapSize = 256

var (
	colorTimeout = color.RGBA{R: 0xd6, G: 0x27, B: 0x28, A: 0xff}
	colorSuccess = color.RGBA{R: 0x2c, G: 0xa0, B: 0x2c, A: 0xff}
	colorGrid    = color.RGBA{R: 0xe0, G: 0xe0, B: 0xe0, A: 0xff}
	colorOrigin  = color.RGBA{R: 0x90, G: 0x90, B: 0x90, A: 0xff}
)

// HSV represents a color in HSV (Hue, Saturation, Value) color space
type HSV struct {
	H float64 // Hue angle in degrees [0-360]
	S float64 // Saturation [0-1]
	V float64 // Value/Brightness [0-1]
}

// RGB converts HSV to RGB color space
func (hsv HSV) RGB() color.RGBA {
	if hsv.S <= 0.0 {
		v := uint8(hsv.V * 255)
		return color.RGBA{R: v, G: v, B: v, A: 0xff}
	}

	h := math.Mod(hsv.H, 360) / 60
	i := math.Floor(h)
	f := h - i

	v := hsv.V
	p := v * (1 - hsv.S)
	q := v * (1 - hsv.S*f)
	t := v * (1 - hsv.S*(1-f))

	var r, g, b float64
	switch int(i) {
	case 0:
		r, g, b = v, t, p
	case 1:
		r, g, b = q, v, p
	case 2:
		r, g, b = p, v, t
	case 3:
		r, g, b = p, q, v
	case 4:
		r, g, b = t, p, v
	default:
		r, g, b = v, p, q
	}

	return color.RGBA{R: uint8(r * 255), G: uint8(g * 255), B: uint8(b * 255), A: 0xff}
}

// HeightColorMapper maps normalized heights onto a blue (low) to red (high)
// ramp using a pre-computed table.
type HeightColorMapper struct {
	colorMap []color.RGBA
}

func NewHeightColorMapper(size int) *HeightColorMapper {
	if size <= 1 {
		size = defaultColorMapSize
	}

	cm := &HeightColorMapper{colorMap: make([]color.RGBA, size)}
	for i := range cm.colorMap {
		normalized := float64(i) / float64(size-1)
		cm.colorMap[i] = HSV{
			H: 240 - (normalized * 240),
			S: 0.85,
			V: 0.9,
		}.RGB()
	}
	return cm
}

// Color returns the color for a height normalized to [0, 1]. Values outside
// the range are clamped.
func (cm *HeightColorMapper) Color(normalized float64) color.RGBA {
	index := int(normalized * float64(len(cm.colorMap)-1))
	if index < 0 {
		return cm.colorMap[0]
	}
	if index >= len(cm.colorMap) {
		return cm.colorMap[len(cm.colorMap)-1]
	}
	return cm.colorMap[index]
}

// Hex returns the color as a CSS hex triplet.
func Hex(c color.RGBA) string {
	const digits = "0123456789abcdef"
	return string([]byte{'#',
		digits[c.R>>4], digits[c.R&0x0f],
		digits[c.G>>4], digits[c.G&0x0f],
		digits[c.B>>4], digits[c.B&0x0f],
	})
}
