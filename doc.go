// Package gmic bridges a raster-image host application and the G'MIC
// image-processing engine.
//
// # Overview
//
// The package does not implement image filters itself. It owns the glue
// between a host that holds interleaved 8-bit bitmaps and an engine that
// consumes and produces separate float32 color planes: pixel-format
// negotiation, bidirectional plane conversion, and bridging a host-side
// "should I cancel?" poll into a context the engine can observe.
//
// # Quick Start
//
//	import gmic "github.com/0xC0000054/gmic-sharp-pdn"
//
//	runner := gmic.NewCommandRunner(gmic.WithEngine(gmic.NewSoftwareEngine()))
//	defer runner.Close()
//
//	bm, _ := gmic.FromImage(decoded)
//	_ = runner.AddInput(bm, "layer-0")
//	_ = runner.Run("invert", nil)
//
//	switch {
//	case runner.Canceled():
//	    // host asked to stop
//	case runner.Err() != nil:
//	    // engine fault, captured rather than thrown
//	default:
//	    results := runner.OutputImages()
//	    _ = results
//	}
//
// Run blocks the calling goroutine until the engine finishes, faults, or is
// canceled. Cancellation is cooperative: pass a poll function to Run and the
// runner turns it into a context that the engine checks at its own pace.
//
// # Architecture
//
// The package is organized into:
//   - Public API: Bitmap, Plane, CommandRunner, PollCanceler
//   - Engine boundary: the Engine interface plus RegisterEngine; a native
//     G'MIC binding registers itself here, and NewSoftwareEngine provides a
//     pure-Go fallback with a small command set
//   - Internal: parallel (row-sliced conversion loops)
//
// # Pixel Model
//
// Bitmaps use non-premultiplied interleaved channels, 1, 2, 3, or 4 bytes per
// pixel (Gray8, GrayAlpha16, Rgb24, Rgba32), row stride >= width*bpp. Plane
// samples map bytes to [0, 1] as value/255; the reverse direction rounds and
// clamps. Conversions are pure: no hidden state, identical inputs give
// byte-identical outputs.
package gmic
