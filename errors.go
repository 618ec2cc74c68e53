package gmic

import "errors"

// Sentinel errors returned by the public API. Engine faults are never wrapped
// in these; they surface verbatim through CommandRunner.Err.
var (
	// ErrNilBitmap is returned when a nil *Bitmap is passed where an image is
	// required.
	ErrNilBitmap = errors.New("gmic: bitmap must not be nil")

	// ErrNilPoll is returned by NewPollCanceler when the poll function is nil.
	ErrNilPoll = errors.New("gmic: poll function must not be nil")

	// ErrAdapterClosed is returned when a PollCanceler is used after Close.
	ErrAdapterClosed = errors.New("gmic: poll canceler is closed")

	// ErrRunnerClosed is returned when a CommandRunner is used after Close.
	ErrRunnerClosed = errors.New("gmic: command runner is closed")

	// ErrRunnerBusy is returned by Run and AddInput while another Run is in
	// flight on the same runner.
	ErrRunnerBusy = errors.New("gmic: command runner already has a run in flight")

	// ErrEmptyCommand is returned by Run when the command string is empty.
	ErrEmptyCommand = errors.New("gmic: command must not be empty")

	// ErrNoEngine is returned by Run when no engine was injected and none is
	// registered.
	ErrNoEngine = errors.New("gmic: no engine available")

	// ErrImageTooLarge is returned when a bitmap exceeds the pixel budget the
	// engine can be asked to hold.
	ErrImageTooLarge = errors.New("gmic: image too large")
)
