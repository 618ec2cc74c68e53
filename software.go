package gmic

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"
)

// SoftwareEngine is a pure-Go fallback engine with a small command set. It
// exists so hosts (and tests) can exercise the full bridge without the
// native G'MIC library:
//
//	identity        pass inputs through unchanged
//	invert          invert color channels, alpha untouched
//	fliph           mirror horizontally
//	flipv           mirror vertically
//	gray            average color channels into a single gray plane
//	wait <duration> sleep, checking cancellation; for long-running commands
//
// Commands apply to every input independently, outputs keep input order.
// Cancellation is checked between rows.
type SoftwareEngine struct {
	logger atomic.Pointer[slog.Logger]
	closed atomic.Bool
}

// NewSoftwareEngine creates a software engine.
func NewSoftwareEngine() *SoftwareEngine {
	e := &SoftwareEngine{}
	e.logger.Store(newNopLogger())
	return e
}

// Name implements Engine.
func (e *SoftwareEngine) Name() string { return "software" }

// SetLogger implements the optional logger propagation hook.
func (e *SoftwareEngine) SetLogger(l *slog.Logger) {
	if l == nil {
		l = newNopLogger()
	}
	e.logger.Store(l)
}

// Close implements Engine.
func (e *SoftwareEngine) Close() error {
	e.closed.Store(true)
	return nil
}

// Run implements Engine.
func (e *SoftwareEngine) Run(ctx context.Context, command string, inputs []*EngineImage) ([]*EngineImage, error) {
	if e.closed.Load() {
		return nil, fmt.Errorf("software: engine is closed")
	}

	fields := strings.Fields(command)
	if len(fields) == 0 {
		return nil, fmt.Errorf("software: empty command")
	}
	name, args := fields[0], fields[1:]

	e.logger.Load().Debug("software: executing", "command", name, "inputs", len(inputs))

	if name == "wait" {
		if err := e.wait(ctx, args); err != nil {
			return nil, err
		}
		return clonePassThrough(ctx, inputs)
	}

	outputs := make([]*EngineImage, 0, len(inputs))
	for _, in := range inputs {
		out, err := e.apply(ctx, name, args, in)
		if err != nil {
			return nil, err
		}
		outputs = append(outputs, out)
	}
	return outputs, nil
}

func (e *SoftwareEngine) apply(ctx context.Context, name string, args []string, in *EngineImage) (*EngineImage, error) {
	if len(args) != 0 {
		return nil, fmt.Errorf("software: command %q takes no arguments", name)
	}
	switch name {
	case "identity":
		return cloneImage(ctx, in)
	case "invert":
		return invert(ctx, in)
	case "fliph":
		return flip(ctx, in, true)
	case "flipv":
		return flip(ctx, in, false)
	case "gray":
		return grayscale(ctx, in)
	default:
		return nil, fmt.Errorf("software: unknown command %q", name)
	}
}

// wait sleeps for the duration in args, waking early on cancellation.
func (e *SoftwareEngine) wait(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("software: wait takes exactly one duration argument")
	}
	d, err := time.ParseDuration(args[0])
	if err != nil {
		return fmt.Errorf("software: wait: %w", err)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func clonePassThrough(ctx context.Context, inputs []*EngineImage) ([]*EngineImage, error) {
	outputs := make([]*EngineImage, 0, len(inputs))
	for _, in := range inputs {
		out, err := cloneImage(ctx, in)
		if err != nil {
			return nil, err
		}
		outputs = append(outputs, out)
	}
	return outputs, nil
}

func cloneImage(ctx context.Context, in *EngineImage) (*EngineImage, error) {
	out, err := NewEngineImage(in.Name, in.Width, in.Height, in.Mode)
	if err != nil {
		return nil, err
	}
	for c, src := range in.Planes {
		dst := out.Planes[c]
		for y := 0; y < in.Height; y++ {
			if err := checkCanceled(ctx, y); err != nil {
				return nil, err
			}
			copy(dst.Row(y), src.Row(y))
		}
	}
	return out, nil
}

// colorPlaneCount returns how many leading planes carry color; trailing
// alpha planes pass through filters untouched.
func colorPlaneCount(mode PixelMode) int {
	if mode == Gray8 || mode == GrayAlpha16 {
		return 1
	}
	return 3
}

func invert(ctx context.Context, in *EngineImage) (*EngineImage, error) {
	out, err := cloneImage(ctx, in)
	if err != nil {
		return nil, err
	}
	colors := colorPlaneCount(in.Mode)
	for c := 0; c < colors; c++ {
		p := out.Planes[c]
		for y := 0; y < in.Height; y++ {
			if err := checkCanceled(ctx, y); err != nil {
				return nil, err
			}
			row := p.Row(y)
			for x := range row {
				row[x] = 1 - row[x]
			}
		}
	}
	return out, nil
}

func flip(ctx context.Context, in *EngineImage, horizontal bool) (*EngineImage, error) {
	out, err := NewEngineImage(in.Name, in.Width, in.Height, in.Mode)
	if err != nil {
		return nil, err
	}
	for c, src := range in.Planes {
		dst := out.Planes[c]
		for y := 0; y < in.Height; y++ {
			if err := checkCanceled(ctx, y); err != nil {
				return nil, err
			}
			srcRow := src.Row(y)
			var dstRow []float32
			if horizontal {
				dstRow = dst.Row(y)
				for x := 0; x < in.Width; x++ {
					dstRow[x] = srcRow[in.Width-1-x]
				}
			} else {
				dstRow = dst.Row(in.Height - 1 - y)
				copy(dstRow, srcRow)
			}
		}
	}
	return out, nil
}

func grayscale(ctx context.Context, in *EngineImage) (*EngineImage, error) {
	// Gray inputs stay gray.
	if in.Mode == Gray8 || in.Mode == GrayAlpha16 {
		return cloneImage(ctx, in)
	}

	outMode := Gray8
	if in.Mode == Rgba32 {
		outMode = GrayAlpha16
	}
	out, err := NewEngineImage(in.Name, in.Width, in.Height, outMode)
	if err != nil {
		return nil, err
	}
	r, g, b := in.Planes[0], in.Planes[1], in.Planes[2]
	for y := 0; y < in.Height; y++ {
		if err := checkCanceled(ctx, y); err != nil {
			return nil, err
		}
		dst := out.Planes[0].Row(y)
		rr, gr, br := r.Row(y), g.Row(y), b.Row(y)
		for x := range dst {
			dst[x] = (rr[x] + gr[x] + br[x]) / 3
		}
		if outMode == GrayAlpha16 {
			copy(out.Planes[1].Row(y), in.Planes[3].Row(y))
		}
	}
	return out, nil
}

// checkCanceled polls ctx between rows; every 16th row keeps the check off
// the hot path for tall images.
func checkCanceled(ctx context.Context, y int) error {
	if y%16 != 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}
