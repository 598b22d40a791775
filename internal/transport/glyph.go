package transport

import (
	"image"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Glyph cell geometry of the text frame: 16x32 pixels, 1 bit per pixel,
// rows top to bottom, least significant bit leftmost.
const (
	glyphWidth  = 16
	glyphHeight = 32
	glyphBytes  = glyphWidth * glyphHeight / 8

	minFontSize     = 8
	maxFontSize     = 32
	DefaultFontSize = 12
)

// RenderGlyphs rasterises each rune of text into a 16x32 cell bitmap.
//
// The embedded 7x13 bitmap face is scaled (nearest neighbour) so that a
// glyph is fontSize pixels tall, then centred in the cell. Runes the face
// lacks render as its replacement glyph.
func RenderGlyphs(text string, fontSize int) [][]byte {
	fontSize = max(minFontSize, min(maxFontSize, fontSize))

	face := basicfont.Face7x13
	srcW, srcH := face.Advance, face.Height

	dstH := fontSize
	dstW := min(glyphWidth, (srcW*dstH+srcH-1)/srcH)
	offX := (glyphWidth - dstW) / 2
	offY := (glyphHeight - dstH) / 2

	glyphs := make([][]byte, 0, len(text))
	for _, r := range text {
		src := image.NewAlpha(image.Rect(0, 0, srcW, srcH))
		d := font.Drawer{
			Dst:  src,
			Src:  image.Opaque,
			Face: face,
			Dot:  fixed.P(0, face.Ascent),
		}
		d.DrawString(string(r))

		cell := make([]byte, glyphBytes)
		for y := 0; y < dstH; y++ {
			sy := y * srcH / dstH
			for x := 0; x < dstW; x++ {
				sx := x * srcW / dstW
				if src.AlphaAt(sx, sy).A < 0x80 {
					continue
				}
				px, py := x+offX, y+offY
				cell[py*2+px/8] |= 1 << (px % 8)
			}
		}
		glyphs = append(glyphs, cell)
	}
	return glyphs
}
