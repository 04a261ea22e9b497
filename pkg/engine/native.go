package engine

// Raw result codes used across the native boundary. Native calls return the
// negated value on failure, e.g. -ErrorFormat.
const (
	ErrorEnd      = 1
	ErrorInternal = 2
	ErrorFormat   = 3
	ErrorLoad     = 4
	ErrorDepack   = 5
	ErrorSystem   = 6
	ErrorInvalid  = 7
	ErrorState    = 8
)

// Library is the context-free part of a native decoder.
type Library interface {
	// CreateContext allocates a decode context. It returns nil when the
	// decoder cannot allocate state.
	CreateContext() Context

	// TestModule probes path without loading it. On failure it returns a
	// negative code and, for -ErrorSystem, the OS error.
	TestModule(path string) (TestInfo, int, error)

	// FormatList returns the names of all supported module formats.
	FormatList() []string
}

// Context is one opaque native decode context. Implementations are not
// required to be safe for concurrent use; [Player] serialises all calls.
type Context interface {
	Free()

	// LoadModule loads and scans the module at path. It returns 0 or a
	// negative code and, for -ErrorSystem, the OS error.
	LoadModule(path string) (int, error)
	ReleaseModule()
	ScanModule()

	StartPlayer(rate int, mode Mode) int
	EndPlayer()
	StopModule()
	RestartModule()

	// PlayFrame renders one tick. It returns 0 when a frame was produced.
	PlayFrame() int
	FrameInfo() FrameInfo

	SeekTime(ms int) int
	SetPosition(n int) int
	NextPosition() int
	PrevPosition() int

	ChannelMute(ch, state int) int
	ChannelVol(ch, vol int) int

	SetPlayer(param Param, value int) int
	GetPlayer(param Param) int

	InjectEvent(ch int, ev Event)

	ModuleInfo() Module
	Instrument(n int) (Instrument, bool)
	Sample(n int) (Sample, bool)
}
