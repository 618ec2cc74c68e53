package gmic

// BitmapFactory produces the host-side bitmap an engine output is written
// into. mode is the minimal layout the output needs; a host with a fixed
// surface format is free to ignore it.
type BitmapFactory func(width, height int, mode PixelMode) (*Bitmap, error)

// defaultBitmapFactory allocates the host's fixed Rgba32 layout regardless of
// the suggested mode.
func defaultBitmapFactory(width, height int, _ PixelMode) (*Bitmap, error) {
	return NewBitmap(width, height, Rgba32)
}

// RunnerOption configures a CommandRunner during creation.
//
// Example:
//
//	runner := gmic.NewCommandRunner(
//	    gmic.WithEngine(gmic.NewSoftwareEngine()),
//	    gmic.WithPollOptions(gmic.WithPollCadence(100*time.Millisecond, 50*time.Millisecond)),
//	)
type RunnerOption func(*CommandRunner)

// WithEngine injects the engine this runner drives, instead of the
// package-registered one. The runner takes ownership: Close closes the
// injected engine.
func WithEngine(e Engine) RunnerOption {
	return func(r *CommandRunner) {
		r.engine = e
	}
}

// WithBitmapFactory sets the factory used to materialize engine outputs as
// host bitmaps. The default allocates Rgba32 bitmaps with minimal stride.
func WithBitmapFactory(f BitmapFactory) RunnerOption {
	return func(r *CommandRunner) {
		if f != nil {
			r.factory = f
		}
	}
}

// WithPollOptions forwards options to the PollCanceler the runner creates
// when Run is given a poll function.
func WithPollOptions(opts ...PollOption) RunnerOption {
	return func(r *CommandRunner) {
		r.pollOpts = append(r.pollOpts, opts...)
	}
}
