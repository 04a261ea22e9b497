//go:build libxmp

// This file binds libxmp through cgo. Build with -tags libxmp; the library
// and its headers are located with pkg-config.

package libxmp

/*
#cgo pkg-config: libxmp
#include <stdlib.h>
#include <xmp.h>

static const char *format_at(const char *const *list, int i) { return list[i]; }
*/
import "C"

import (
	"time"
	"unsafe"

	"github.com/MrWong99/modplay/pkg/engine"
)

// Compile-time interface assertions.
var (
	_ engine.Library = Library{}
	_ engine.Context = (*xmpContext)(nil)
)

// Library is the libxmp implementation of [engine.Library].
type Library struct{}

// Open returns the libxmp library.
func Open() (engine.Library, error) {
	return Library{}, nil
}

// Version returns the version string of the linked libxmp.
func Version() string {
	return C.GoString(C.xmp_version)
}

// CreateContext implements [engine.Library].
func (Library) CreateContext() engine.Context {
	c := C.xmp_create_context()
	if c == nil {
		return nil
	}
	return &xmpContext{c: c}
}

// TestModule implements [engine.Library].
func (Library) TestModule(path string) (engine.TestInfo, int, error) {
	cpath := C.CString(path)
	defer C.free(unsafe.Pointer(cpath))

	var ti C.struct_xmp_test_info
	n, errno := C.xmp_test_module(cpath, &ti)
	if n < 0 {
		return engine.TestInfo{}, int(n), errno
	}
	return engine.TestInfo{
		Name: C.GoString(&ti.name[0]),
		Type: C.GoString(&ti._type[0]),
	}, 0, nil
}

// FormatList implements [engine.Library].
func (Library) FormatList() []string {
	list := C.xmp_get_format_list()
	var out []string
	for i := 0; ; i++ {
		s := C.format_at(list, C.int(i))
		if s == nil {
			break
		}
		out = append(out, C.GoString(s))
	}
	return out
}

// xmpContext wraps one xmp_context.
type xmpContext struct {
	c C.xmp_context
}

func (x *xmpContext) Free() { C.xmp_free_context(x.c) }

func (x *xmpContext) LoadModule(path string) (int, error) {
	cpath := C.CString(path)
	defer C.free(unsafe.Pointer(cpath))
	n, errno := C.xmp_load_module(x.c, cpath)
	if n < 0 {
		return int(n), errno
	}
	return 0, nil
}

func (x *xmpContext) ReleaseModule() { C.xmp_release_module(x.c) }
func (x *xmpContext) ScanModule() { C.xmp_scan_module(x.c) }
func (x *xmpContext) EndPlayer() { C.xmp_end_player(x.c) }
func (x *xmpContext) StopModule() { C.xmp_stop_module(x.c) }
func (x *xmpContext) RestartModule() { C.xmp_restart_module(x.c) }

func (x *xmpContext) StartPlayer(rate int, mode engine.Mode) int {
	return int(C.xmp_start_player(x.c, C.int(rate), C.int(mode)))
}

func (x *xmpContext) PlayFrame() int { return int(C.xmp_play_frame(x.c)) }

// FrameInfo returns the last frame. Buffer aliases libxmp's mixer buffer.
func (x *xmpContext) FrameInfo() engine.FrameInfo {
	var fi C.struct_xmp_frame_info
	C.xmp_get_frame_info(x.c, &fi)

	var buf []byte
	if fi.buffer != nil && fi.buffer_size > 0 {
		buf = unsafe.Slice((*byte)(fi.buffer), int(fi.buffer_size))
	}
	return engine.FrameInfo{
		Position:     int(fi.pos),
		Pattern:      int(fi.pattern),
		Row:          int(fi.row),
		NumRows:      int(fi.num_rows),
		Frame:        int(fi.frame),
		Speed:        int(fi.speed),
		BPM:          int(fi.bpm),
		Time:         time.Duration(fi.time) * time.Millisecond,
		TotalTime:    time.Duration(fi.total_time) * time.Millisecond,
		FrameTime:    time.Duration(fi.frame_time) * time.Microsecond,
		Buffer:       buf,
		TotalSize:    int(fi.total_size),
		Volume:       int(fi.volume),
		LoopCount:    int(fi.loop_count),
		VirtChannels: int(fi.virt_channels),
		VirtUsed:     int(fi.virt_used),
		Sequence:     int(fi.sequence),
	}
}

func (x *xmpContext) SeekTime(ms int) int { return int(C.xmp_seek_time(x.c, C.int(ms))) }
func (x *xmpContext) SetPosition(n int) int { return int(C.xmp_set_position(x.c, C.int(n))) }
func (x *xmpContext) NextPosition() int { return int(C.xmp_next_position(x.c)) }
func (x *xmpContext) PrevPosition() int { return int(C.xmp_prev_position(x.c)) }

func (x *xmpContext) ChannelMute(ch, s int) int {
	return int(C.xmp_channel_mute(x.c, C.int(ch), C.int(s)))
}

func (x *xmpContext) ChannelVol(ch, vol int) int {
	return int(C.xmp_channel_vol(x.c, C.int(ch), C.int(vol)))
}

func (x *xmpContext) SetPlayer(param engine.Param, value int) int {
	return int(C.xmp_set_player(x.c, C.int(param), C.int(value)))
}

func (x *xmpContext) GetPlayer(param engine.Param) int {
	return int(C.xmp_get_player(x.c, C.int(param)))
}

func (x *xmpContext) InjectEvent(ch int, ev engine.Event) {
	var e C.struct_xmp_event
	e.note = C.uchar(ev.Note)
	e.ins = C.uchar(ev.Instrument)
	e.vol = C.uchar(ev.Volume)
	e.fxt = C.uchar(ev.FxType)
	e.fxp = C.uchar(ev.FxParam)
	e.f2t = C.uchar(ev.Fx2Type)
	e.f2p = C.uchar(ev.Fx2Param)
	C.xmp_inject_event(x.c, C.int(ch), &e)
}

func (x *xmpContext) moduleInfo() C.struct_xmp_module_info {
	var mi C.struct_xmp_module_info
	C.xmp_get_module_info(x.c, &mi)
	return mi
}

func (x *xmpContext) ModuleInfo() engine.Module {
	mi := x.moduleInfo()
	if mi.mod == nil {
		return engine.Module{}
	}
	m := mi.mod
	out := engine.Module{
		Name:            C.GoString(&m.name[0]),
		Type:            C.GoString(&m._type[0]),
		Patterns:        int(m.pat),
		Tracks:          int(m.trk),
		Channels:        int(m.chn),
		Instruments:     int(m.ins),
		Samples:         int(m.smp),
		InitialSpeed:    int(m.spd),
		InitialBPM:      int(m.bpm),
		Length:          int(m.len),
		RestartPosition: int(m.rst),
		GlobalVolume:    int(m.gvl),
	}
	if mi.seq_data != nil && mi.num_sequences > 0 {
		for _, s := range unsafe.Slice(mi.seq_data, int(mi.num_sequences)) {
			out.Sequences = append(out.Sequences, engine.Sequence{
				EntryPoint: int(s.entry_point),
				Duration:   time.Duration(s.duration) * time.Millisecond,
			})
		}
	}
	return out
}

func (x *xmpContext) Instrument(n int) (engine.Instrument, bool) {
	m := x.moduleInfo().mod
	if m == nil || n < 0 || n >= int(m.ins) {
		return engine.Instrument{}, false
	}
	ins := unsafe.Slice(m.xxi, int(m.ins))[n]
	out := engine.Instrument{
		Name:   C.GoString(&ins.name[0]),
		Volume: int(ins.vol),
	}
	if ins.sub != nil && ins.nsm > 0 {
		for _, sub := range unsafe.Slice(ins.sub, int(ins.nsm)) {
			out.SampleIDs = append(out.SampleIDs, int(sub.sid))
		}
	}
	return out, true
}

func (x *xmpContext) Sample(n int) (engine.Sample, bool) {
	m := x.moduleInfo().mod
	if m == nil || n < 0 || n >= int(m.smp) {
		return engine.Sample{}, false
	}
	s := unsafe.Slice(m.xxs, int(m.smp))[n]
	out := engine.Sample{
		Name:      C.GoString(&s.name[0]),
		Length:    int(s.len),
		LoopStart: int(s.lps),
		LoopEnd:   int(s.lpe),
		Flags:     engine.SampleFlags(s.flg),
	}
	size := out.Length
	if out.Flags&engine.Sample16Bit != 0 {
		size *= 2
	}
	if s.data != nil && size > 0 {
		out.Data = C.GoBytes(unsafe.Pointer(s.data), C.int(size))
	}
	return out, true
}
