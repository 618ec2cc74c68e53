package gmic

import (
	"context"
	"errors"
	"testing"
	"time"
)

// checkExactlyOneResult asserts the exactly-one-terminal-state invariant.
func checkExactlyOneResult(t *testing.T, r *CommandRunner) {
	t.Helper()
	populated := 0
	if r.OutputImages() != nil {
		populated++
	}
	if r.Canceled() {
		populated++
	}
	if r.Err() != nil {
		populated++
	}
	if populated != 1 {
		t.Errorf("%d terminal states populated, want exactly 1 (outputs=%v canceled=%v err=%v)",
			populated, r.OutputImages(), r.Canceled(), r.Err())
	}
}

// echoEngine returns clones of its inputs.
func echoEngine() *mockEngine {
	return &mockEngine{runFn: func(ctx context.Context, _ string, inputs []*EngineImage) ([]*EngineImage, error) {
		return clonePassThrough(ctx, inputs)
	}}
}

// TestRunnerRunSuccess verifies the full success path: negotiation,
// conversion, engine invocation, and output collection.
func TestRunnerRunSuccess(t *testing.T) {
	runner := NewCommandRunner(WithEngine(echoEngine()))
	defer runner.Close()

	in, _ := NewBitmap(8, 6, Rgba32)
	fillRGBA(t, in, 10, 20, 30, 0xff)
	if err := runner.AddInput(in, "layer"); err != nil {
		t.Fatalf("AddInput: %v", err)
	}

	if err := runner.Run("echo", nil); err != nil {
		t.Fatalf("Run: %v", err)
	}

	outs := runner.OutputImages()
	if len(outs) != 1 {
		t.Fatalf("got %d outputs, want 1", len(outs))
	}
	out := outs[0]
	if out.Width() != 8 || out.Height() != 6 {
		t.Fatalf("output is %dx%d, want 8x6", out.Width(), out.Height())
	}
	// Default factory always produces the host's Rgba32 layout.
	if out.Mode() != Rgba32 {
		t.Fatalf("output mode %s, want Rgba32", out.Mode())
	}
	d := out.Data()
	for i := 0; i < len(d); i += 4 {
		if d[i] != 10 || d[i+1] != 20 || d[i+2] != 30 || d[i+3] != 0xff {
			t.Fatalf("pixel %d = %v, want [10 20 30 255]", i/4, d[i:i+4])
		}
	}
	checkExactlyOneResult(t, runner)
}

// TestRunnerFormatNegotiation verifies inputs reach the engine in their
// minimal negotiated format.
func TestRunnerFormatNegotiation(t *testing.T) {
	var seen []*EngineImage
	eng := &mockEngine{runFn: func(_ context.Context, _ string, inputs []*EngineImage) ([]*EngineImage, error) {
		seen = inputs
		return nil, nil
	}}
	runner := NewCommandRunner(WithEngine(eng))
	defer runner.Close()

	gray, _ := NewBitmap(4, 4, Rgba32)
	fillRGBA(t, gray, 9, 9, 9, 0xff)
	color, _ := NewBitmap(4, 4, Rgba32)
	fillRGBA(t, color, 1, 2, 3, 0x80)

	if err := runner.AddInput(gray, ""); err != nil {
		t.Fatalf("AddInput: %v", err)
	}
	if err := runner.AddInput(color, ""); err != nil {
		t.Fatalf("AddInput: %v", err)
	}
	if err := runner.Run("inspect", nil); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(seen) != 2 {
		t.Fatalf("engine saw %d inputs, want 2", len(seen))
	}
	if seen[0].Mode != Gray8 || len(seen[0].Planes) != 1 {
		t.Errorf("gray input negotiated as %s with %d planes", seen[0].Mode, len(seen[0].Planes))
	}
	if seen[1].Mode != Rgba32 || len(seen[1].Planes) != 4 {
		t.Errorf("color input negotiated as %s with %d planes", seen[1].Mode, len(seen[1].Planes))
	}
	if seen[0].Name != "input-0" || seen[1].Name != "input-1" {
		t.Errorf("auto names %q, %q, want input-0, input-1", seen[0].Name, seen[1].Name)
	}
	checkExactlyOneResult(t, runner)
}

// TestRunnerZeroOutputSuccess verifies a successful run that yields no
// images is still observable as a success: OutputImages is empty but
// non-nil, and neither Canceled nor Err is set.
func TestRunnerZeroOutputSuccess(t *testing.T) {
	eng := &mockEngine{runFn: func(context.Context, string, []*EngineImage) ([]*EngineImage, error) {
		return nil, nil
	}}
	runner := NewCommandRunner(WithEngine(eng))
	defer runner.Close()

	if err := runner.Run("display", nil); err != nil {
		t.Fatalf("Run: %v", err)
	}

	outs := runner.OutputImages()
	if outs == nil {
		t.Fatal("OutputImages is nil after a successful run")
	}
	if len(outs) != 0 {
		t.Fatalf("got %d outputs, want 0", len(outs))
	}
	checkExactlyOneResult(t, runner)
}

// TestRunnerRunEngineFault verifies faults surface through Err as the
// underlying cause, not through Run's return value.
func TestRunnerRunEngineFault(t *testing.T) {
	fault := errors.New("filter blew up")
	eng := &mockEngine{runFn: func(context.Context, string, []*EngineImage) ([]*EngineImage, error) {
		return nil, fault
	}}
	runner := NewCommandRunner(WithEngine(eng))
	defer runner.Close()

	if err := runner.Run("explode", nil); err != nil {
		t.Fatalf("Run returned %v, want nil (faults are captured state)", err)
	}
	if runner.Err() != fault {
		t.Errorf("Err() = %v, want the engine's own error value", runner.Err())
	}
	checkExactlyOneResult(t, runner)
}

// TestRunnerImmediateCancel verifies a poll that already reports true
// short-circuits without invoking the engine.
func TestRunnerImmediateCancel(t *testing.T) {
	eng := echoEngine()
	runner := NewCommandRunner(WithEngine(eng))
	defer runner.Close()

	if err := runner.Run("anything", func() bool { return true }); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !runner.Canceled() {
		t.Error("Canceled() = false, want true")
	}
	if got := runner.OutputImages(); got != nil {
		t.Errorf("got %d outputs, want none", len(got))
	}
	if eng.runCount() != 0 {
		t.Errorf("engine invoked %d times, want 0", eng.runCount())
	}
	checkExactlyOneResult(t, runner)
}

// TestRunnerMidRunCancel verifies a poll that flips to true mid-run cancels
// a long-running command.
func TestRunnerMidRunCancel(t *testing.T) {
	runner := NewCommandRunner(
		WithEngine(NewSoftwareEngine()),
		WithPollOptions(WithPollCadence(time.Millisecond, time.Millisecond)),
	)
	defer runner.Close()

	calls := 0
	poll := func() bool {
		calls++
		return calls > 3
	}

	start := time.Now()
	if err := runner.Run("wait 30s", poll); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Fatalf("cancellation took %v", elapsed)
	}

	if !runner.Canceled() {
		t.Error("Canceled() = false, want true")
	}
	if runner.Err() != nil {
		t.Errorf("Err() = %v, want nil", runner.Err())
	}
	checkExactlyOneResult(t, runner)
}

// TestRunnerRunResetsPreviousState verifies each run starts from a clean
// terminal state.
func TestRunnerRunResetsPreviousState(t *testing.T) {
	fault := errors.New("transient")
	failNext := true
	eng := &mockEngine{runFn: func(ctx context.Context, _ string, inputs []*EngineImage) ([]*EngineImage, error) {
		if failNext {
			return nil, fault
		}
		return clonePassThrough(ctx, inputs)
	}}
	runner := NewCommandRunner(WithEngine(eng))
	defer runner.Close()

	in, _ := NewBitmap(2, 2, Rgba32)
	if err := runner.AddInput(in, ""); err != nil {
		t.Fatalf("AddInput: %v", err)
	}

	if err := runner.Run("first", nil); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if runner.Err() == nil {
		t.Fatal("first run should have faulted")
	}

	failNext = false
	if err := runner.Run("second", nil); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if runner.Err() != nil {
		t.Errorf("Err() = %v after successful rerun, want nil", runner.Err())
	}
	if len(runner.OutputImages()) != 1 {
		t.Errorf("got %d outputs, want 1", len(runner.OutputImages()))
	}
	checkExactlyOneResult(t, runner)
}

// TestRunnerContractErrors verifies synchronous argument and state
// validation.
func TestRunnerContractErrors(t *testing.T) {
	resetEngine()
	runner := NewCommandRunner()

	if err := runner.AddInput(nil, ""); !errors.Is(err, ErrNilBitmap) {
		t.Errorf("AddInput(nil): got %v, want ErrNilBitmap", err)
	}
	if err := runner.Run("  ", nil); !errors.Is(err, ErrEmptyCommand) {
		t.Errorf("empty command: got %v, want ErrEmptyCommand", err)
	}
	if err := runner.Run("blur", nil); !errors.Is(err, ErrNoEngine) {
		t.Errorf("no engine: got %v, want ErrNoEngine", err)
	}

	if err := runner.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	bm, _ := NewBitmap(2, 2, Rgba32)
	if err := runner.AddInput(bm, ""); !errors.Is(err, ErrRunnerClosed) {
		t.Errorf("AddInput after Close: got %v, want ErrRunnerClosed", err)
	}
	if err := runner.Run("blur", nil); !errors.Is(err, ErrRunnerClosed) {
		t.Errorf("Run after Close: got %v, want ErrRunnerClosed", err)
	}
	if err := runner.ClearInputs(); !errors.Is(err, ErrRunnerClosed) {
		t.Errorf("ClearInputs after Close: got %v, want ErrRunnerClosed", err)
	}
	// Disposal wins over argument validation.
	if err := runner.Run("  ", nil); !errors.Is(err, ErrRunnerClosed) {
		t.Errorf("empty command after Close: got %v, want ErrRunnerClosed", err)
	}
}

// TestRunnerBusy verifies a second Run while one is in flight is rejected.
func TestRunnerBusy(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	eng := &mockEngine{runFn: func(context.Context, string, []*EngineImage) ([]*EngineImage, error) {
		close(entered)
		<-release
		return nil, nil
	}}
	runner := NewCommandRunner(WithEngine(eng))
	defer runner.Close()

	done := make(chan error, 1)
	go func() { done <- runner.Run("slow", nil) }()
	<-entered

	if err := runner.Run("second", nil); !errors.Is(err, ErrRunnerBusy) {
		t.Errorf("got %v, want ErrRunnerBusy", err)
	}
	bm, _ := NewBitmap(2, 2, Rgba32)
	if err := runner.AddInput(bm, ""); !errors.Is(err, ErrRunnerBusy) {
		t.Errorf("AddInput mid-run: got %v, want ErrRunnerBusy", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first Run: %v", err)
	}
}

// TestRunnerCloseIdempotent verifies double Close and single engine release.
func TestRunnerCloseIdempotent(t *testing.T) {
	eng := echoEngine()
	runner := NewCommandRunner(WithEngine(eng))

	if err := runner.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := runner.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if eng.closeCount() != 1 {
		t.Errorf("engine closed %d times, want 1", eng.closeCount())
	}
}

// TestRunnerUsesRegisteredEngine verifies fallback to the package-registered
// engine, which the runner does not own.
func TestRunnerUsesRegisteredEngine(t *testing.T) {
	resetEngine()
	defer resetEngine()

	eng := echoEngine()
	if err := RegisterEngine(eng); err != nil {
		t.Fatalf("RegisterEngine: %v", err)
	}

	runner := NewCommandRunner()
	if err := runner.Run("anything", nil); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if eng.runCount() != 1 {
		t.Fatalf("engine invoked %d times, want 1", eng.runCount())
	}
	checkExactlyOneResult(t, runner)

	if err := runner.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if eng.closeCount() != 0 {
		t.Error("runner closed the registered engine it does not own")
	}
}

// TestRunnerBadEngineOutputFaults verifies malformed engine output becomes a
// captured fault, not a panic.
func TestRunnerBadEngineOutputFaults(t *testing.T) {
	eng := &mockEngine{runFn: func(context.Context, string, []*EngineImage) ([]*EngineImage, error) {
		img, _ := NewEngineImage("broken", 4, 4, Rgb24)
		img.Planes = img.Planes[:1]
		return []*EngineImage{img}, nil
	}}
	runner := NewCommandRunner(WithEngine(eng))
	defer runner.Close()

	if err := runner.Run("produce-garbage", nil); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if runner.Err() == nil {
		t.Error("malformed output did not fault the run")
	}
	checkExactlyOneResult(t, runner)
}

// TestRunnerCustomFactory verifies engine outputs are materialized through
// the injected factory.
func TestRunnerCustomFactory(t *testing.T) {
	factoryCalls := 0
	factory := func(w, h int, mode PixelMode) (*Bitmap, error) {
		factoryCalls++
		return NewBitmap(w, h, mode)
	}
	eng := &mockEngine{runFn: func(context.Context, string, []*EngineImage) ([]*EngineImage, error) {
		img, err := NewEngineImage("out", 3, 3, Gray8)
		if err != nil {
			return nil, err
		}
		return []*EngineImage{img}, nil
	}}
	runner := NewCommandRunner(WithEngine(eng), WithBitmapFactory(factory))
	defer runner.Close()

	if err := runner.Run("generate", nil); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if runner.Err() != nil {
		t.Fatalf("Err: %v", runner.Err())
	}
	if factoryCalls != 1 {
		t.Errorf("factory called %d times, want 1", factoryCalls)
	}
	outs := runner.OutputImages()
	if len(outs) != 1 || outs[0].Mode() != Gray8 {
		t.Errorf("custom factory output not honored: %d outputs", len(outs))
	}
}

// TestRunnerFactoryFailureFaults verifies allocation failures surface as a
// captured fault.
func TestRunnerFactoryFailureFaults(t *testing.T) {
	factory := func(int, int, PixelMode) (*Bitmap, error) {
		return nil, ErrImageTooLarge
	}
	eng := &mockEngine{runFn: func(context.Context, string, []*EngineImage) ([]*EngineImage, error) {
		img, err := NewEngineImage("out", 3, 3, Gray8)
		if err != nil {
			return nil, err
		}
		return []*EngineImage{img}, nil
	}}
	runner := NewCommandRunner(WithEngine(eng), WithBitmapFactory(factory))
	defer runner.Close()

	if err := runner.Run("generate", nil); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !errors.Is(runner.Err(), ErrImageTooLarge) {
		t.Errorf("Err() = %v, want ErrImageTooLarge", runner.Err())
	}
	checkExactlyOneResult(t, runner)
}

// TestRunnerClearInputs verifies input list reset.
func TestRunnerClearInputs(t *testing.T) {
	var seen int
	eng := &mockEngine{runFn: func(_ context.Context, _ string, inputs []*EngineImage) ([]*EngineImage, error) {
		seen = len(inputs)
		return nil, nil
	}}
	runner := NewCommandRunner(WithEngine(eng))
	defer runner.Close()

	bm, _ := NewBitmap(2, 2, Rgba32)
	if err := runner.AddInput(bm, ""); err != nil {
		t.Fatalf("AddInput: %v", err)
	}
	if err := runner.ClearInputs(); err != nil {
		t.Fatalf("ClearInputs: %v", err)
	}
	if err := runner.Run("count", nil); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if seen != 0 {
		t.Errorf("engine saw %d inputs after ClearInputs, want 0", seen)
	}
}
