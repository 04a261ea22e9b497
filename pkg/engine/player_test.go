package engine_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/MrWong99/modplay/pkg/engine"
	"github.com/MrWong99/modplay/pkg/engine/mock"
)

const songPath = "songs/space_debris.mod"

// newPlayer returns a Player over a mock library holding one four-position
// song with eight rows per pattern.
func newPlayer(t *testing.T) (*engine.Player, *mock.Library) {
	t.Helper()
	lib := &mock.Library{Songs: map[string]mock.Song{
		songPath: mock.NewSong("space debris", 4, 8),
	}}
	p, err := engine.New(lib)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = p.Close() })
	return p, lib
}

// startedPlayer returns a Player with the test song loaded and started at
// 44100 Hz stereo.
func startedPlayer(t *testing.T) (*engine.Player, *mock.Library) {
	t.Helper()
	p, lib := newPlayer(t)
	if _, err := p.LoadModule(songPath); err != nil {
		t.Fatalf("LoadModule: %v", err)
	}
	if err := p.Start(44100, 0); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return p, lib
}

func TestNew_ContextUnavailable(t *testing.T) {
	t.Parallel()

	_, err := engine.New(&mock.Library{FailCreate: true})
	if !errors.Is(err, engine.ErrInternal) {
		t.Fatalf("New error = %v, want ErrInternal", err)
	}
}

func TestStart_SupportedRates(t *testing.T) {
	t.Parallel()

	for _, rate := range engine.SampleRates {
		p, _ := newPlayer(t)
		if _, err := p.LoadModule(songPath); err != nil {
			t.Fatalf("LoadModule: %v", err)
		}
		if err := p.Start(rate, 0); err != nil {
			t.Errorf("Start(%d): %v", rate, err)
		}
	}
}

func TestStart_UnsupportedRates(t *testing.T) {
	t.Parallel()

	for _, rate := range []int{0, -1, 4000, 44000, 96000} {
		p, lib := newPlayer(t)
		if _, err := p.LoadModule(songPath); err != nil {
			t.Fatalf("LoadModule: %v", err)
		}
		err := p.Start(rate, 0)
		if !errors.Is(err, engine.ErrInvalidArgument) {
			t.Errorf("Start(%d) error = %v, want ErrInvalidArgument", rate, err)
		}
		if got := lib.Context().Counts().Start; got != 0 {
			t.Errorf("Start(%d) reached native code %d times", rate, got)
		}
		if p.Started() {
			t.Errorf("Start(%d) left player started", rate)
		}
	}
}

func TestStart_NoModule(t *testing.T) {
	t.Parallel()

	p, lib := newPlayer(t)
	if err := p.Start(44100, 0); !errors.Is(err, engine.ErrNoModule) {
		t.Fatalf("Start error = %v, want ErrNoModule", err)
	}
	if got := lib.Context().Counts().Start; got != 0 {
		t.Errorf("native start calls = %d, want 0", got)
	}
}

func TestStart_SystemErrorTolerated(t *testing.T) {
	t.Parallel()

	lib := &mock.Library{
		Songs:     map[string]mock.Song{songPath: mock.NewSong("x", 1, 1)},
		StartCode: -engine.ErrorSystem,
	}
	p, err := engine.New(lib)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close()
	if _, err := p.LoadModule(songPath); err != nil {
		t.Fatalf("LoadModule: %v", err)
	}
	if err := p.Start(44100, 0); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := p.PlayFrame(); err != nil {
		t.Fatalf("PlayFrame after tolerated system error: %v", err)
	}
}

func TestStart_InternalError(t *testing.T) {
	t.Parallel()

	lib := &mock.Library{
		Songs:     map[string]mock.Song{songPath: mock.NewSong("x", 1, 1)},
		StartCode: -engine.ErrorInternal,
	}
	p, err := engine.New(lib)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close()
	if _, err := p.LoadModule(songPath); err != nil {
		t.Fatalf("LoadModule: %v", err)
	}
	if err := p.Start(44100, 0); !errors.Is(err, engine.ErrInternal) {
		t.Fatalf("Start error = %v, want ErrInternal", err)
	}
	if p.Started() {
		t.Error("player started after internal error")
	}
}

func TestStart_EightBitMono(t *testing.T) {
	t.Parallel()

	p, _ := newPlayer(t)
	if _, err := p.LoadModule(songPath); err != nil {
		t.Fatalf("LoadModule: %v", err)
	}
	if err := p.Start(8000, engine.Mode8Bit|engine.ModeMono); err != nil {
		t.Fatalf("Start: %v", err)
	}
	fi, err := p.PlayFrame()
	if err != nil {
		t.Fatalf("PlayFrame: %v", err)
	}
	if want := 160; len(fi.Buffer) != want {
		t.Errorf("buffer = %d bytes, want %d", len(fi.Buffer), want)
	}
}

func TestLoadModule_Metadata(t *testing.T) {
	t.Parallel()

	p, _ := newPlayer(t)
	mod, err := p.LoadModule(songPath)
	if err != nil {
		t.Fatalf("LoadModule: %v", err)
	}
	if mod.Name != "space debris" || mod.Type != "Mock module" {
		t.Errorf("name/type = %q/%q", mod.Name, mod.Type)
	}
	if mod.Patterns != 4 || mod.Channels != 4 || mod.Instruments != 1 || mod.Samples != 1 {
		t.Errorf("counts = %+v", mod)
	}
	if mod.InitialSpeed != 6 || mod.InitialBPM != 125 || mod.Length != 4 {
		t.Errorf("speed/bpm/len = %d/%d/%d", mod.InitialSpeed, mod.InitialBPM, mod.Length)
	}
	// 4 positions * 8 rows * 6 frames * 20ms.
	if want := 3840 * time.Millisecond; mod.Duration() != want {
		t.Errorf("Duration = %s, want %s", mod.Duration(), want)
	}
	if p.Module() == nil {
		t.Error("Module() = nil after successful load")
	}
}

func TestLoadModule_NotFound(t *testing.T) {
	t.Parallel()

	p, _ := newPlayer(t)
	path := filepath.Join(t.TempDir(), "missing.xm")
	_, err := p.LoadModule(path)

	kind, ok := engine.LoadErrorKindOf(err)
	if !ok || kind != engine.NotFound {
		t.Fatalf("error = %v, want LoadError NotFound", err)
	}
	if p.Module() != nil {
		t.Error("Module() readable after failed load")
	}
}

func TestLoadModule_UnsupportedFormat(t *testing.T) {
	t.Parallel()

	p, _ := newPlayer(t)
	path := filepath.Join(t.TempDir(), "garbage.it")
	if err := os.WriteFile(path, []byte("not a module"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := p.LoadModule(path)
	kind, ok := engine.LoadErrorKindOf(err)
	if !ok || kind != engine.UnsupportedFormat {
		t.Fatalf("error = %v, want LoadError UnsupportedFormat", err)
	}
	if p.Module() != nil {
		t.Error("Module() readable after failed load")
	}
}

func TestLoadModule_SystemIO(t *testing.T) {
	t.Parallel()

	lib := &mock.Library{LoadCodes: map[string]int{"locked.s3m": -engine.ErrorSystem}}
	p, err := engine.New(lib)
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	_, err = p.LoadModule("locked.s3m")
	kind, ok := engine.LoadErrorKindOf(err)
	if !ok || kind != engine.SystemIO {
		t.Fatalf("error = %v, want LoadError SystemIO", err)
	}
	var se *engine.SystemError
	if !errors.As(err, &se) {
		t.Errorf("error %v does not wrap *SystemError", err)
	}
}

func TestLoadModule_ReplacesPrevious(t *testing.T) {
	t.Parallel()

	p, lib := startedPlayer(t)
	if _, err := p.LoadModule(songPath); err != nil {
		t.Fatal(err)
	}
	c := lib.Context().Counts()
	if c.End != 1 || c.Release != 1 {
		t.Errorf("end/release = %d/%d, want 1/1", c.End, c.Release)
	}
	if p.Started() {
		t.Error("player still started after reload")
	}
}

func TestPlayFrame_Advances(t *testing.T) {
	t.Parallel()

	p, _ := startedPlayer(t)
	var last engine.FrameInfo
	for i := range 100 {
		fi, err := p.PlayFrame()
		if err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		if fi.Time < last.Time || fi.Position < last.Position {
			t.Fatalf("frame %d went backwards: %+v after %+v", i, fi, last)
		}
		if fi.Speed != 6 || fi.BPM != 125 {
			t.Fatalf("frame %d speed/bpm = %d/%d", i, fi.Speed, fi.BPM)
		}
		if len(fi.Buffer) != 3528 {
			t.Fatalf("frame %d buffer = %d bytes, want 3528", i, len(fi.Buffer))
		}
		last = fi
	}
	// 100 frames at 6 frames/row and 8 rows/position.
	if last.Position != 2 || last.Row != 0 || last.Frame != 3 {
		t.Errorf("after 100 frames pos/row/frame = %d/%d/%d, want 2/0/3", last.Position, last.Row, last.Frame)
	}
}

func TestPlayFrame_LoopCount(t *testing.T) {
	t.Parallel()

	p, _ := startedPlayer(t)
	// One full pass is 4*8*6 frames.
	var fi engine.FrameInfo
	var err error
	for range 4*8*6 + 1 {
		if fi, err = p.PlayFrame(); err != nil {
			t.Fatal(err)
		}
	}
	if fi.LoopCount != 1 || fi.Position != 0 {
		t.Errorf("loop/pos = %d/%d, want 1/0", fi.LoopCount, fi.Position)
	}
}

func TestPlayFrame_BufferOwned(t *testing.T) {
	t.Parallel()

	p, _ := startedPlayer(t)
	a, _ := p.PlayFrame()
	a.Buffer[0] = 0xEE
	b, _ := p.PlayFrame()
	if b.Buffer[0] == 0xEE {
		t.Error("frames share a buffer")
	}
}

func TestPlayFrame_NotStarted(t *testing.T) {
	t.Parallel()

	p, _ := newPlayer(t)
	if _, err := p.PlayFrame(); !errors.Is(err, engine.ErrState) {
		t.Fatalf("error = %v, want ErrState", err)
	}
}

func TestStop_EndsStream(t *testing.T) {
	t.Parallel()

	p, _ := startedPlayer(t)
	if _, err := p.PlayFrame(); err != nil {
		t.Fatal(err)
	}
	p.Stop()
	if _, err := p.PlayFrame(); !errors.Is(err, engine.ErrEndOfStream) {
		t.Fatalf("error after Stop = %v, want ErrEndOfStream", err)
	}
}

func TestPlayFrame_InternalFault(t *testing.T) {
	t.Parallel()

	lib := &mock.Library{
		Songs:      map[string]mock.Song{songPath: mock.NewSong("x", 4, 8)},
		FaultAfter: 3,
	}
	p, err := engine.New(lib)
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()
	if _, err := p.LoadModule(songPath); err != nil {
		t.Fatal(err)
	}
	if err := p.Start(48000, 0); err != nil {
		t.Fatal(err)
	}
	for range 3 {
		if _, err := p.PlayFrame(); err != nil {
			t.Fatal(err)
		}
	}
	_, err = p.PlayFrame()
	if !errors.Is(err, engine.ErrInternal) {
		t.Fatalf("error = %v, want ErrInternal", err)
	}
	if errors.Is(err, engine.ErrEndOfStream) {
		t.Error("internal fault reported as end of stream")
	}
}

func TestSetPosition(t *testing.T) {
	t.Parallel()

	p, _ := startedPlayer(t)
	pos, err := p.SetPosition(2)
	if err != nil || pos != 2 {
		t.Fatalf("SetPosition(2) = %d, %v", pos, err)
	}
	fi, _ := p.PlayFrame()
	if fi.Position != 2 {
		t.Fatalf("position after SetPosition = %d", fi.Position)
	}

	for _, bad := range []int{-1, 4, 99} {
		if _, err := p.SetPosition(bad); !errors.Is(err, engine.ErrInvalidArgument) {
			t.Errorf("SetPosition(%d) error = %v, want ErrInvalidArgument", bad, err)
		}
	}
	fi, _ = p.PlayFrame()
	if fi.Position != 2 {
		t.Errorf("position changed by invalid SetPosition: %d", fi.Position)
	}
}

func TestNextPrevPosition(t *testing.T) {
	t.Parallel()

	p, _ := startedPlayer(t)
	if pos, err := p.PrevPosition(); err != nil || pos != 0 {
		t.Errorf("PrevPosition at start = %d, %v", pos, err)
	}
	if pos, err := p.NextPosition(); err != nil || pos != 1 {
		t.Errorf("NextPosition = %d, %v", pos, err)
	}
	if pos, err := p.PrevPosition(); err != nil || pos != 0 {
		t.Errorf("PrevPosition = %d, %v", pos, err)
	}
}

func TestSeekTime(t *testing.T) {
	t.Parallel()

	p, _ := startedPlayer(t)
	// One position lasts 8*6*20ms = 960ms.
	pos, err := p.SeekTime(2 * time.Second)
	if err != nil || pos != 2 {
		t.Fatalf("SeekTime(2s) = %d, %v", pos, err)
	}
	fi, _ := p.PlayFrame()
	if fi.Position != 2 || fi.Time != 1920*time.Millisecond {
		t.Errorf("after seek pos/time = %d/%s", fi.Position, fi.Time)
	}

	pos, err = p.SeekTime(time.Hour)
	if err != nil || pos != 3 {
		t.Errorf("SeekTime past end = %d, %v, want clamp to 3", pos, err)
	}
	if _, err := p.SeekTime(-time.Second); !errors.Is(err, engine.ErrInvalidArgument) {
		t.Errorf("negative seek error = %v", err)
	}
}

func TestVolume(t *testing.T) {
	t.Parallel()

	p, lib := startedPlayer(t)
	if err := p.SetVolume(150); err != nil {
		t.Fatalf("SetVolume(150): %v", err)
	}
	if v, err := p.Volume(); err != nil || v != 150 {
		t.Errorf("Volume = %d, %v", v, err)
	}
	calls := lib.Context().Counts().SetParameters
	for _, bad := range []int{-1, 201} {
		if err := p.SetVolume(bad); !errors.Is(err, engine.ErrInvalidArgument) {
			t.Errorf("SetVolume(%d) error = %v", bad, err)
		}
	}
	if got := lib.Context().Counts().SetParameters; got != calls {
		t.Errorf("invalid volume reached native code")
	}
	if v, _ := p.Volume(); v != 150 {
		t.Errorf("volume changed by invalid write: %d", v)
	}
}

func TestSetParameter_NativeRejects(t *testing.T) {
	t.Parallel()

	p, _ := startedPlayer(t)
	if err := p.SetParameter(engine.ParamInterp, 7); !errors.Is(err, engine.ErrInvalidArgument) {
		t.Errorf("error = %v, want ErrInvalidArgument", err)
	}
	if err := p.SetParameter(engine.ParamInterp, engine.InterpSpline); err != nil {
		t.Errorf("SetParameter spline: %v", err)
	}
}

func TestChannelMute(t *testing.T) {
	t.Parallel()

	p, _ := startedPlayer(t)
	if muted, err := p.ChannelMute(1, engine.MuteQuery); err != nil || muted {
		t.Fatalf("query = %v, %v", muted, err)
	}
	if prev, err := p.ChannelMute(1, engine.Mute); err != nil || prev {
		t.Fatalf("mute = %v, %v", prev, err)
	}
	if muted, _ := p.ChannelMute(1, engine.MuteQuery); !muted {
		t.Error("channel not muted")
	}
	if muted, _ := p.ChannelMute(1, engine.MuteQuery); !muted {
		t.Error("query changed state")
	}
	if _, err := p.ChannelMute(4, engine.Mute); !errors.Is(err, engine.ErrInvalidArgument) {
		t.Errorf("out-of-range channel error = %v", err)
	}
}

func TestChannelVolume(t *testing.T) {
	t.Parallel()

	p, _ := startedPlayer(t)
	if prev, err := p.ChannelVolume(0, 40); err != nil || prev != 100 {
		t.Fatalf("ChannelVolume = %d, %v", prev, err)
	}
	if v, _ := p.ChannelVolume(0, engine.VolumeQuery); v != 40 {
		t.Errorf("query = %d, want 40", v)
	}
	if _, err := p.ChannelVolume(0, 101); !errors.Is(err, engine.ErrInvalidArgument) {
		t.Errorf("error = %v", err)
	}
}

func TestInjectEvent(t *testing.T) {
	t.Parallel()

	p, lib := startedPlayer(t)
	ev := engine.Event{Note: 49, Instrument: 1, Volume: 64}
	if err := p.InjectEvent(3, ev); err != nil {
		t.Fatal(err)
	}
	if err := p.InjectEvent(-1, ev); !errors.Is(err, engine.ErrInvalidArgument) {
		t.Errorf("error = %v", err)
	}
	got := lib.Context().Injected()
	if len(got) != 1 || got[0].Channel != 3 || got[0].Event != ev {
		t.Errorf("injected = %+v", got)
	}
}

func TestMetadataAccessors(t *testing.T) {
	t.Parallel()

	p, _ := newPlayer(t)
	if _, err := p.Instrument(0); !errors.Is(err, engine.ErrNoModule) {
		t.Errorf("Instrument without module: %v", err)
	}
	if _, err := p.LoadModule(songPath); err != nil {
		t.Fatal(err)
	}
	ins, err := p.Instrument(0)
	if err != nil || ins.Name != "lead" {
		t.Errorf("Instrument(0) = %+v, %v", ins, err)
	}
	smp, err := p.Sample(0)
	if err != nil || smp.Name != "square" || len(smp.Data) != 4 {
		t.Errorf("Sample(0) = %+v, %v", smp, err)
	}
	if _, err := p.Sample(9); !errors.Is(err, engine.ErrInvalidArgument) {
		t.Errorf("Sample(9) error = %v", err)
	}
}

func TestClose_ReleasesOnce(t *testing.T) {
	t.Parallel()

	p, lib := startedPlayer(t)
	p.End()
	p.End()
	p.ReleaseModule()
	p.ReleaseModule()
	if err := p.Close(); err != nil {
		t.Fatal(err)
	}
	if err := p.Close(); err != nil {
		t.Fatal(err)
	}
	c := lib.Context().Counts()
	if c.End != 1 || c.Release != 1 || c.Free != 1 {
		t.Errorf("end/release/free = %d/%d/%d, want 1/1/1", c.End, c.Release, c.Free)
	}
}

func TestClose_UseAfterFreePanics(t *testing.T) {
	t.Parallel()

	p, _ := newPlayer(t)
	_ = p.Close()

	defer func() {
		if recover() == nil {
			t.Error("PlayFrame after Close did not panic")
		}
	}()
	_, _ = p.PlayFrame()
}

func TestTestModule(t *testing.T) {
	t.Parallel()

	p, lib := newPlayer(t)
	info, err := p.TestModule(songPath)
	if err != nil || info.Name != "space debris" {
		t.Errorf("TestModule = %+v, %v", info, err)
	}
	if _, err := engine.Test(lib, filepath.Join(t.TempDir(), "nope.mod")); err == nil {
		t.Error("expected error for missing file")
	}
	if len(p.Formats()) == 0 {
		t.Error("Formats is empty")
	}
}

func TestCodeString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		code int
		want string
	}{
		{0, "no error"},
		{-engine.ErrorFormat, "unsupported module format"},
		{engine.ErrorState, "invalid player state"},
		{-42, "unknown error 42"},
	}
	for _, tt := range tests {
		if got := engine.CodeString(tt.code); got != tt.want {
			t.Errorf("CodeString(%d) = %q, want %q", tt.code, got, tt.want)
		}
	}
}
