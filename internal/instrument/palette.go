package instrument

// Color is one palette entry.
type Color struct {
	R, G, B uint8
}

// palette maps the DSO3000 screen pixel format RRGGBBxx to display colors.
// It is the palette the firmware intends; the panel itself renders duller.
// Read only through PaletteColor, which returns copies.
var palette = buildPalette()

func buildPalette() [256]Color {
	var p [256]Color
	for i := range p {
		p[i] = Color{
			R: uint8((i >> 6) * 85),
			G: uint8(((i & 0x30) >> 4) * 85),
			B: uint8(((i & 0x0c) >> 2) * 85),
		}
	}

	return p
}

// PaletteColor returns the color of a raw screen pixel.
func PaletteColor(pixel byte) Color {
	return palette[pixel]
}
