package gmic

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// EngineImage is the engine-side representation of one image: separate
// float32 planes in r, g, b, a order (gray modes: gray, alpha), plus the name
// the host gave the input it derives from, when any.
type EngineImage struct {
	Name   string
	Mode   PixelMode
	Width  int
	Height int
	Planes []*Plane
}

// NewEngineImage allocates an engine image with zeroed, minimally strided
// planes for the given mode.
func NewEngineImage(name string, width, height int, mode PixelMode) (*EngineImage, error) {
	planes := make([]*Plane, mode.Channels())
	for i := range planes {
		p, err := NewPlane(width, height)
		if err != nil {
			return nil, err
		}
		planes[i] = p
	}
	return &EngineImage{Name: name, Mode: mode, Width: width, Height: height, Planes: planes}, nil
}

// Engine executes scripted filter commands against plane images. The native
// G'MIC binding implements it; NewSoftwareEngine provides a pure-Go fallback.
//
// Run must honor ctx: return ctx.Err() promptly once the context is canceled.
// Cancellation is cooperative; an engine that never checks ctx never stops.
// Output images transfer ownership to the caller.
type Engine interface {
	// Name returns the engine name (e.g., "gmic-native", "software").
	Name() string

	// Run executes command against the ordered named inputs and returns the
	// output images. Inputs must be treated as read-only.
	Run(ctx context.Context, command string, inputs []*EngineImage) ([]*EngineImage, error)

	// Close releases engine resources.
	Close() error
}

var (
	engineMu sync.RWMutex
	engine   Engine
)

// RegisterEngine registers a package-default engine used by runners that were
// not given one via WithEngine.
//
// Only one engine can be registered; subsequent calls replace the previous
// one without closing it. Typical usage is a blank import of the native
// binding package whose init calls RegisterEngine.
func RegisterEngine(e Engine) error {
	if e == nil {
		return errors.New("gmic: engine must not be nil")
	}
	engineMu.Lock()
	engine = e
	engineMu.Unlock()

	propagateLogger(e, Logger())
	Logger().Info("gmic: engine registered", "engine", e.Name())
	return nil
}

// RegisteredEngine returns the package-default engine, or nil when none is
// registered.
func RegisteredEngine() Engine {
	engineMu.RLock()
	defer engineMu.RUnlock()
	return engine
}

// resetEngine clears the global engine state between tests.
func resetEngine() {
	engineMu.Lock()
	engine = nil
	engineMu.Unlock()
}

// validateEngineOutput rejects malformed images before they reach the bitmap
// factory, so a buggy engine faults the run instead of panicking it.
func validateEngineOutput(i int, img *EngineImage) error {
	if img == nil {
		return fmt.Errorf("gmic: engine output %d is nil", i)
	}
	if err := checkDimensions(img.Width, img.Height); err != nil {
		return fmt.Errorf("gmic: engine output %d: %w", i, err)
	}
	if len(img.Planes) != img.Mode.Channels() {
		return fmt.Errorf("gmic: engine output %d has %d planes, mode %s needs %d",
			i, len(img.Planes), img.Mode, img.Mode.Channels())
	}
	for p, pl := range img.Planes {
		if pl == nil {
			return fmt.Errorf("gmic: engine output %d plane %d is nil", i, p)
		}
		if pl.width != img.Width || pl.height != img.Height {
			return fmt.Errorf("gmic: engine output %d plane %d is %dx%d, image is %dx%d",
				i, p, pl.width, pl.height, img.Width, img.Height)
		}
	}
	return nil
}
