package gmic

// channelOffsets returns the byte offsets of the red, green and blue channels
// within one pixel, plus the alpha offset or -1 when the mode has none. Gray
// modes map all three color offsets to the single achromatic channel.
func (m PixelMode) channelOffsets() (r, g, b, a int) {
	switch m {
	case Gray8:
		return 0, 0, 0, -1
	case GrayAlpha16:
		return 0, 0, 0, 1
	case Rgb24:
		return 0, 1, 2, -1
	default:
		return 0, 1, 2, 3
	}
}

// Classify scans every pixel once and returns the minimal PixelMode able to
// represent the bitmap's current contents: gray iff the three color channels
// are equal everywhere, alpha iff any pixel is not fully opaque.
//
// The result is a pure function of the pixel data at scan time; mutating the
// bitmap afterwards invalidates it. Nothing is cached.
func (b *Bitmap) Classify() PixelMode {
	ro, g, bo, ao := b.mode.channelOffsets()
	bpp := b.mode.Channels()

	gray := true
	transparent := false
	for y := 0; y < b.height; y++ {
		row := b.data[y*b.stride : y*b.stride+b.width*bpp]
		for x := 0; x < b.width; x++ {
			p := row[x*bpp:]
			if gray && (p[ro] != p[g] || p[g] != p[bo]) {
				gray = false
			}
			if !transparent && ao >= 0 && p[ao] != 0xff {
				transparent = true
			}
		}
		if !gray && (transparent || ao < 0) {
			break
		}
	}

	switch {
	case gray && transparent:
		return GrayAlpha16
	case gray:
		return Gray8
	case transparent:
		return Rgba32
	default:
		return Rgb24
	}
}
