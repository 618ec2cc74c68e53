package gmic

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// CommandRunner orchestrates one engine invocation at a time: it owns the
// input list, bridges an optional cancel poll into the run, blocks the caller
// until the run reaches a terminal state, and exposes exactly one of
// OutputImages, Canceled, or Err afterwards.
//
// A CommandRunner is not safe for concurrent use; a second Run while one is
// in flight fails with ErrRunnerBusy.
type CommandRunner struct {
	mu       sync.Mutex
	engine   Engine // injected; owned and closed by the runner
	factory  BitmapFactory
	pollOpts []PollOption

	inputs  []runnerInput
	adapter *PollCanceler // in-flight adapter, nil outside Run

	outputs  []*Bitmap
	canceled bool
	runErr   error

	running bool
	closed  bool
}

type runnerInput struct {
	name   string
	bitmap *Bitmap
}

// NewCommandRunner creates a runner. Without WithEngine it uses the
// package-registered engine at Run time.
func NewCommandRunner(opts ...RunnerOption) *CommandRunner {
	r := &CommandRunner{factory: defaultBitmapFactory}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// AddInput registers a bitmap with the pending run. An empty name gets an
// auto-generated "input-N". The runner holds a reference, not a copy; the
// host must not mutate the bitmap while a run is in flight.
func (r *CommandRunner) AddInput(bm *Bitmap, name string) error {
	if bm == nil {
		return ErrNilBitmap
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrRunnerClosed
	}
	if r.running {
		return ErrRunnerBusy
	}
	if name == "" {
		name = fmt.Sprintf("input-%d", len(r.inputs))
	}
	r.inputs = append(r.inputs, runnerInput{name: name, bitmap: bm})
	return nil
}

// ClearInputs drops all registered inputs.
func (r *CommandRunner) ClearInputs() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrRunnerClosed
	}
	if r.running {
		return ErrRunnerBusy
	}
	r.inputs = nil
	return nil
}

// Run executes command against the registered inputs and blocks until the
// run succeeds, faults, or is canceled.
//
// poll is optional. When non-nil it is polled periodically on a background
// goroutine; once it reports true the engine's context is canceled. If poll
// already reports true on entry the run is marked Canceled without invoking
// the engine at all.
//
// Run returns an error only for contract violations (closed runner, run in
// flight, empty command, no engine). Engine faults and cancellation are
// never returned: they are exposed through Err and Canceled after Run comes
// back, so the host inspects state instead of handling failures inline.
func (r *CommandRunner) Run(command string, poll func() bool) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrRunnerClosed
	}
	if r.running {
		r.mu.Unlock()
		return ErrRunnerBusy
	}
	if strings.TrimSpace(command) == "" {
		r.mu.Unlock()
		return ErrEmptyCommand
	}
	eng := r.engine
	if eng == nil {
		eng = RegisteredEngine()
	}
	if eng == nil {
		r.mu.Unlock()
		return ErrNoEngine
	}
	// Fresh terminal state; the previous run's output set is released.
	r.outputs = nil
	r.canceled = false
	r.runErr = nil
	factory := r.factory
	inputs := append([]runnerInput(nil), r.inputs...)
	r.running = true
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
	}()

	log := Logger()
	log.Info("gmic: run starting", "engine", eng.Name(), "command", command, "inputs", len(inputs))

	// A host that has already decided to cancel gets its answer without an
	// engine invocation.
	if poll != nil && poll() {
		r.mu.Lock()
		r.canceled = true
		r.mu.Unlock()
		log.Info("gmic: run canceled before start")
		return nil
	}

	engineInputs, err := convertInputs(inputs)
	if err != nil {
		r.mu.Lock()
		r.runErr = err
		r.mu.Unlock()
		return nil
	}

	ctx := context.Background()
	if poll != nil {
		pc, err := NewPollCanceler(poll, r.pollOpts...)
		if err != nil {
			return err
		}
		token, err := pc.Token()
		if err != nil {
			pc.Close()
			return err
		}
		ctx = token

		r.mu.Lock()
		r.adapter = pc
		r.mu.Unlock()
		defer func() {
			r.mu.Lock()
			r.adapter = nil
			r.mu.Unlock()
			pc.Close()
		}()
	}

	// The engine runs asynchronously; the caller blocks on a one-shot
	// completion signal. The terminal state is fully populated before the
	// signal fires, so no partial result is ever observed.
	done := make(chan struct{})
	go func() {
		defer close(done)
		outputs, err := eng.Run(ctx, command, engineInputs)
		r.complete(factory, outputs, err)
	}()
	<-done

	return nil
}

// convertInputs negotiates the minimal format for each input bitmap and
// converts it to engine planes.
func convertInputs(inputs []runnerInput) ([]*EngineImage, error) {
	images := make([]*EngineImage, 0, len(inputs))
	for _, in := range inputs {
		bm := in.bitmap
		mode := bm.Classify()
		Logger().Debug("gmic: input negotiated", "name", in.name, "mode", mode.String(),
			"width", bm.Width(), "height", bm.Height())
		planes, err := bm.CopyToPlanes(mode)
		if err != nil {
			return nil, fmt.Errorf("gmic: converting input %q: %w", in.name, err)
		}
		images = append(images, &EngineImage{
			Name:   in.name,
			Mode:   mode,
			Width:  bm.Width(),
			Height: bm.Height(),
			Planes: planes,
		})
	}
	return images, nil
}

// complete populates exactly one of the three terminal states. It runs on
// the engine goroutine, before the blocked caller is released.
func (r *CommandRunner) complete(factory BitmapFactory, outputs []*EngineImage, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		// Torn down mid-run; nothing left to populate.
		return
	}

	switch {
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		r.canceled = true
		Logger().Info("gmic: run canceled")
	case err != nil:
		// The underlying cause, not a wrapper; the host inspects Err.
		r.runErr = err
		Logger().Info("gmic: run faulted", "err", err)
	default:
		bitmaps, cErr := collectOutputs(factory, outputs)
		if cErr != nil {
			r.runErr = cErr
			Logger().Info("gmic: run faulted", "err", cErr)
			return
		}
		r.outputs = bitmaps
		Logger().Info("gmic: run succeeded", "outputs", len(bitmaps))
	}
}

// collectOutputs materializes engine outputs as host bitmaps through the
// factory.
func collectOutputs(factory BitmapFactory, outputs []*EngineImage) ([]*Bitmap, error) {
	bitmaps := make([]*Bitmap, 0, len(outputs))
	for i, img := range outputs {
		if err := validateEngineOutput(i, img); err != nil {
			return nil, err
		}
		bm, err := factory(img.Width, img.Height, img.Mode)
		if err != nil {
			return nil, fmt.Errorf("gmic: bitmap factory: %w", err)
		}
		if err := bm.CopyFromPlanes(img.Mode, img.Planes); err != nil {
			return nil, err
		}
		bitmaps = append(bitmaps, bm)
	}
	return bitmaps, nil
}

// OutputImages returns the output bitmaps of the last run. After a
// successful run the slice is non-nil even when the engine produced no
// images; when the last run faulted or was canceled it is nil. The slice is
// a copy; the bitmaps are owned by the host from here on.
func (r *CommandRunner) OutputImages() []*Bitmap {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.outputs == nil {
		return nil
	}
	out := make([]*Bitmap, len(r.outputs))
	copy(out, r.outputs)
	return out
}

// Canceled reports whether the last run was canceled.
func (r *CommandRunner) Canceled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.canceled
}

// Err returns the fault of the last run, or nil. Engine faults surface here
// as their underlying cause; Run itself never returns them.
func (r *CommandRunner) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runErr
}

// Close releases the injected engine, the pending output set, and any
// in-flight cancellation adapter. Close is idempotent; after it returns all
// other operations fail with ErrRunnerClosed.
func (r *CommandRunner) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	eng := r.engine
	adapter := r.adapter
	r.engine = nil
	r.adapter = nil
	r.inputs = nil
	r.outputs = nil
	r.canceled = false
	r.runErr = nil
	r.mu.Unlock()

	if adapter != nil {
		adapter.Close()
	}
	if eng != nil {
		if err := eng.Close(); err != nil {
			Logger().Warn("gmic: engine close failed", "engine", eng.Name(), "err", err)
			return err
		}
	}
	return nil
}
