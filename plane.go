package gmic

import (
	"fmt"

	"github.com/0xC0000054/gmic-sharp-pdn/internal/parallel"
)

// Plane holds one channel's worth of float32 samples for an entire image,
// stored row by row with its own stride. Samples use the [0, 1] scale where
// byte value v maps to v/255.
type Plane struct {
	width   int
	height  int
	stride  int
	samples []float32
}

// NewPlane allocates a zeroed plane with minimal stride.
func NewPlane(width, height int) (*Plane, error) {
	return NewPlaneStrided(width, height, width)
}

// NewPlaneStrided allocates a zeroed plane with an explicit row stride, which
// must be >= width. Engine-side buffers are often padded; the conversions
// never assume plane stride equals bitmap stride.
func NewPlaneStrided(width, height, stride int) (*Plane, error) {
	if err := checkDimensions(width, height); err != nil {
		return nil, err
	}
	if stride < width {
		return nil, fmt.Errorf("gmic: plane stride %d smaller than width %d", stride, width)
	}
	return &Plane{
		width:   width,
		height:  height,
		stride:  stride,
		samples: make([]float32, stride*height),
	}, nil
}

// Width returns the plane width in samples.
func (p *Plane) Width() int { return p.width }

// Height returns the plane height in rows.
func (p *Plane) Height() int { return p.height }

// Stride returns the distance in samples between vertically adjacent samples.
func (p *Plane) Stride() int { return p.stride }

// Samples returns the raw sample buffer. The plane retains ownership.
func (p *Plane) Samples() []float32 { return p.samples }

// Row returns the samples of row y, length Width.
func (p *Plane) Row(y int) []float32 {
	return p.samples[y*p.stride : y*p.stride+p.width]
}

// byteToFloat maps a channel byte onto the engine's [0, 1] sample scale.
// Exact at the endpoints: 0 -> 0.0, 255 -> 1.0.
func byteToFloat(v uint8) float32 {
	return float32(v) / 255
}

// floatToByte is the inverse mapping: round(f*255) clamped to [0, 255].
// NaN maps to 0.
func floatToByte(f float32) uint8 {
	v := f * 255
	if !(v > 0) {
		return 0
	}
	if v >= 255 {
		return 255
	}
	return uint8(v + 0.5)
}

// CopyToPlanes converts the bitmap into separate float32 planes in the given
// mode, one plane per channel in r, g, b, a order (gray modes: gray, alpha).
//
// mode is normally the result of Classify. A gray mode reads the red channel;
// that is lossless exactly when the bitmap classified as gray. A mode with
// alpha reads 1.0 when the bitmap itself carries no alpha channel.
//
// The conversion is pure: identical input produces byte-identical planes.
func (b *Bitmap) CopyToPlanes(mode PixelMode) ([]*Plane, error) {
	planes := make([]*Plane, mode.Channels())
	for i := range planes {
		p, err := NewPlane(b.width, b.height)
		if err != nil {
			return nil, err
		}
		planes[i] = p
	}
	if err := b.FillPlanes(mode, planes); err != nil {
		return nil, err
	}
	return planes, nil
}

// FillPlanes is CopyToPlanes writing into caller-provided planes, typically
// engine-allocated buffers with padded strides. The planes must match the
// bitmap's dimensions and count mode.Channels().
func (b *Bitmap) FillPlanes(mode PixelMode, planes []*Plane) error {
	if err := b.checkPlanes(mode, planes); err != nil {
		return err
	}

	ro, gro, blo, alo := b.mode.channelOffsets()
	bpp := b.mode.Channels()

	parallel.Rows(b.height, 0, func(y0, y1 int) {
		for y := y0; y < y1; y++ {
			row := b.data[y*b.stride:]
			switch mode {
			case Gray8:
				dst := planes[0].Row(y)
				for x := 0; x < b.width; x++ {
					dst[x] = byteToFloat(row[x*bpp+ro])
				}
			case GrayAlpha16:
				gray := planes[0].Row(y)
				alpha := planes[1].Row(y)
				for x := 0; x < b.width; x++ {
					gray[x] = byteToFloat(row[x*bpp+ro])
					alpha[x] = alphaSample(row, x*bpp, alo)
				}
			case Rgb24:
				r, g, bl := planes[0].Row(y), planes[1].Row(y), planes[2].Row(y)
				for x := 0; x < b.width; x++ {
					i := x * bpp
					r[x] = byteToFloat(row[i+ro])
					g[x] = byteToFloat(row[i+gro])
					bl[x] = byteToFloat(row[i+blo])
				}
			default:
				r, g, bl, a := planes[0].Row(y), planes[1].Row(y), planes[2].Row(y), planes[3].Row(y)
				for x := 0; x < b.width; x++ {
					i := x * bpp
					r[x] = byteToFloat(row[i+ro])
					g[x] = byteToFloat(row[i+gro])
					bl[x] = byteToFloat(row[i+blo])
					a[x] = alphaSample(row, i, alo)
				}
			}
		}
	})

	return nil
}

// checkPlanes validates a plane set against the bitmap and a channel mode.
func (b *Bitmap) checkPlanes(mode PixelMode, planes []*Plane) error {
	if len(planes) != mode.Channels() {
		return fmt.Errorf("gmic: got %d planes, mode %s needs %d", len(planes), mode, mode.Channels())
	}
	for i, p := range planes {
		if p == nil {
			return fmt.Errorf("gmic: plane %d is nil", i)
		}
		if p.width != b.width || p.height != b.height {
			return fmt.Errorf("gmic: plane %d is %dx%d, bitmap is %dx%d",
				i, p.width, p.height, b.width, b.height)
		}
	}
	return nil
}

// alphaSample reads the alpha byte at pixel offset i, or fully opaque when
// the layout has no alpha channel.
func alphaSample(row []uint8, i, alo int) float32 {
	if alo < 0 {
		return 1
	}
	return byteToFloat(row[i+alo])
}

// CopyFromPlanes fills the bitmap from separate float32 planes in the given
// mode. Gray planes are replicated into all color channels of a color bitmap;
// when the plane set carries no alpha, destination alpha is forced fully
// opaque. Color planes cannot be stored in a gray bitmap.
//
// The planes must match the bitmap's dimensions; plane stride is independent
// of the bitmap stride.
func (b *Bitmap) CopyFromPlanes(mode PixelMode, planes []*Plane) error {
	if err := b.checkPlanes(mode, planes); err != nil {
		return err
	}
	grayDst := b.mode == Gray8 || b.mode == GrayAlpha16
	if grayDst && (mode == Rgb24 || mode == Rgba32) {
		return fmt.Errorf("gmic: cannot store %s planes in %s bitmap", mode, b.mode)
	}

	ro, gro, blo, alo := b.mode.channelOffsets()
	bpp := b.mode.Channels()

	parallel.Rows(b.height, 0, func(y0, y1 int) {
		for y := y0; y < y1; y++ {
			row := b.data[y*b.stride:]
			switch mode {
			case Gray8, GrayAlpha16:
				gray := planes[0].Row(y)
				var alpha []float32
				if mode == GrayAlpha16 {
					alpha = planes[1].Row(y)
				}
				for x := 0; x < b.width; x++ {
					i := x * bpp
					v := floatToByte(gray[x])
					row[i+ro], row[i+gro], row[i+blo] = v, v, v
					if alo >= 0 {
						row[i+alo] = planeAlpha(alpha, x)
					}
				}
			default:
				r, g, bl := planes[0].Row(y), planes[1].Row(y), planes[2].Row(y)
				var alpha []float32
				if mode == Rgba32 {
					alpha = planes[3].Row(y)
				}
				for x := 0; x < b.width; x++ {
					i := x * bpp
					row[i+ro] = floatToByte(r[x])
					row[i+gro] = floatToByte(g[x])
					row[i+blo] = floatToByte(bl[x])
					if alo >= 0 {
						row[i+alo] = planeAlpha(alpha, x)
					}
				}
			}
		}
	})

	return nil
}

// planeAlpha reads an alpha sample, or fully opaque when the plane set has
// no alpha plane.
func planeAlpha(alpha []float32, x int) uint8 {
	if alpha == nil {
		return 0xff
	}
	return floatToByte(alpha[x])
}
