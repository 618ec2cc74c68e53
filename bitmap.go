package gmic

import (
	"fmt"
	"image"
	"image/color"

	"golang.org/x/image/draw"
)

// PixelMode identifies the interleaved channel layout of a Bitmap.
type PixelMode uint8

const (
	// Gray8 is a single achromatic channel, 1 byte per pixel.
	Gray8 PixelMode = iota

	// GrayAlpha16 is an achromatic channel plus alpha, 2 bytes per pixel.
	GrayAlpha16

	// Rgb24 is three color channels, 3 bytes per pixel.
	Rgb24

	// Rgba32 is three color channels plus alpha, 4 bytes per pixel.
	Rgba32
)

// Channels returns the number of interleaved channels for the mode.
func (m PixelMode) Channels() int {
	switch m {
	case Gray8:
		return 1
	case GrayAlpha16:
		return 2
	case Rgb24:
		return 3
	default:
		return 4
	}
}

// HasAlpha reports whether the mode carries an alpha channel.
func (m PixelMode) HasAlpha() bool {
	return m == GrayAlpha16 || m == Rgba32
}

func (m PixelMode) String() string {
	switch m {
	case Gray8:
		return "Gray8"
	case GrayAlpha16:
		return "GrayAlpha16"
	case Rgb24:
		return "Rgb24"
	case Rgba32:
		return "Rgba32"
	default:
		return fmt.Sprintf("PixelMode(%d)", uint8(m))
	}
}

// maxImagePixels bounds the pixel count the engine can be asked to hold.
// Anything above this fails with ErrImageTooLarge instead of an allocation
// panic deep inside the engine.
const maxImagePixels = 1 << 30

// Bitmap is a host-side raster: fixed dimensions and non-premultiplied
// interleaved byte channels, Channels() bytes per pixel, row stride >=
// width*Channels().
//
// A Bitmap is not safe for concurrent mutation. The zero value is not usable;
// use one of the constructors.
type Bitmap struct {
	width  int
	height int
	stride int
	mode   PixelMode
	data   []uint8
}

// NewBitmap allocates a zeroed bitmap with the given dimensions and mode.
// Stride is the minimal width*Channels().
func NewBitmap(width, height int, mode PixelMode) (*Bitmap, error) {
	if err := checkDimensions(width, height); err != nil {
		return nil, err
	}
	stride := width * mode.Channels()
	return &Bitmap{
		width:  width,
		height: height,
		stride: stride,
		mode:   mode,
		data:   make([]uint8, stride*height),
	}, nil
}

// NewBitmapOwned wraps a caller-supplied pixel buffer without copying. The
// bitmap takes exclusive ownership of data; the caller must not touch it
// afterwards. Use NewBitmapCopy to keep the caller's buffer independent.
func NewBitmapOwned(width, height, stride int, mode PixelMode, data []uint8) (*Bitmap, error) {
	if err := checkLayout(width, height, stride, mode, data); err != nil {
		return nil, err
	}
	return &Bitmap{width: width, height: height, stride: stride, mode: mode, data: data}, nil
}

// NewBitmapCopy clones a caller-supplied pixel buffer. The caller's copy
// stays independently owned.
func NewBitmapCopy(width, height, stride int, mode PixelMode, data []uint8) (*Bitmap, error) {
	if err := checkLayout(width, height, stride, mode, data); err != nil {
		return nil, err
	}
	buf := make([]uint8, len(data))
	copy(buf, data)
	return &Bitmap{width: width, height: height, stride: stride, mode: mode, data: buf}, nil
}

// FromImage converts any image.Image into an Rgba32 bitmap, the host's fixed
// in-memory layout. Premultiplied sources are un-premultiplied by the
// conversion.
func FromImage(img image.Image) (*Bitmap, error) {
	if img == nil {
		return nil, ErrNilBitmap
	}
	bounds := img.Bounds()
	if err := checkDimensions(bounds.Dx(), bounds.Dy()); err != nil {
		return nil, err
	}
	dst := image.NewNRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(dst, dst.Bounds(), img, bounds.Min, draw.Src)
	return NewBitmapOwned(bounds.Dx(), bounds.Dy(), dst.Stride, Rgba32, dst.Pix)
}

func checkDimensions(width, height int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("gmic: invalid dimensions %dx%d (both must be > 0)", width, height)
	}
	if int64(width)*int64(height) > maxImagePixels {
		return fmt.Errorf("%w: %dx%d exceeds %d pixels", ErrImageTooLarge, width, height, maxImagePixels)
	}
	return nil
}

func checkLayout(width, height, stride int, mode PixelMode, data []uint8) error {
	if err := checkDimensions(width, height); err != nil {
		return err
	}
	if stride < width*mode.Channels() {
		return fmt.Errorf("gmic: stride %d too small for width %d in mode %s", stride, width, mode)
	}
	if len(data) < stride*(height-1)+width*mode.Channels() {
		return fmt.Errorf("gmic: buffer length %d too small for %dx%d stride %d mode %s",
			len(data), width, height, stride, mode)
	}
	return nil
}

// Width returns the width of the bitmap in pixels.
func (b *Bitmap) Width() int { return b.width }

// Height returns the height of the bitmap in pixels.
func (b *Bitmap) Height() int { return b.height }

// Stride returns the distance in bytes between vertically adjacent pixels.
func (b *Bitmap) Stride() int { return b.stride }

// Mode returns the interleaved channel layout.
func (b *Bitmap) Mode() PixelMode { return b.mode }

// Data returns the raw pixel buffer. The bitmap retains ownership.
func (b *Bitmap) Data() []uint8 { return b.data }

// Clone returns a deep copy with an independently owned buffer.
func (b *Bitmap) Clone() *Bitmap {
	buf := make([]uint8, len(b.data))
	copy(buf, b.data)
	return &Bitmap{width: b.width, height: b.height, stride: b.stride, mode: b.mode, data: buf}
}

// At implements the image.Image interface.
func (b *Bitmap) At(x, y int) color.Color {
	if x < 0 || x >= b.width || y < 0 || y >= b.height {
		return color.NRGBA{}
	}
	i := y*b.stride + x*b.mode.Channels()
	switch b.mode {
	case Gray8:
		return color.Gray{Y: b.data[i]}
	case GrayAlpha16:
		g := b.data[i]
		return color.NRGBA{R: g, G: g, B: g, A: b.data[i+1]}
	case Rgb24:
		return color.NRGBA{R: b.data[i], G: b.data[i+1], B: b.data[i+2], A: 0xff}
	default:
		return color.NRGBA{R: b.data[i], G: b.data[i+1], B: b.data[i+2], A: b.data[i+3]}
	}
}

// Bounds implements the image.Image interface.
func (b *Bitmap) Bounds() image.Rectangle {
	return image.Rect(0, 0, b.width, b.height)
}

// ColorModel implements the image.Image interface.
func (b *Bitmap) ColorModel() color.Model {
	if b.mode == Gray8 {
		return color.GrayModel
	}
	return color.NRGBAModel
}
