package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/chzyer/readline"

	"github.com/MrWong99/modplay/internal/app"
	"github.com/MrWong99/modplay/pkg/engine"
)

// errQuit ends the console loop.
var errQuit = errors.New("quit")

// command is one console command. args excludes the command name.
type command struct {
	usage string
	help  string
	run   func(ctx context.Context, c *console, args []string) error
}

// console executes the interactive commands against the application.
type console struct {
	app      *app.App
	out      io.Writer
	commands map[string]command
}

func newConsole(a *app.App, out io.Writer) *console {
	c := &console{app: a, out: out}
	c.commands = map[string]command{
		"play":    {"play <file|query>", "play a file or the best library match", cmdPlay},
		"queue":   {"queue [file|query]", "queue a module or list the queue", cmdQueue},
		"stop":    {"stop", "stop playback and clear the queue", cmdStop},
		"pause":   {"pause", "toggle pause", cmdPause},
		"seek":    {"seek <seconds>", "jump to a time in the module", cmdSeek},
		"vol":     {"vol [0-200]", "show or set the master volume", cmdVolume},
		"mute":    {"mute <channel>", "mute a channel", muteCommand(engine.Mute)},
		"unmute":  {"unmute <channel>", "unmute a channel", muteCommand(engine.Unmute)},
		"next":    {"next", "skip to the next order position", cmdNext},
		"prev":    {"prev", "go back to the previous order position", cmdPrev},
		"pos":     {"pos <n>", "jump to an order position", cmdPosition},
		"restart": {"restart", "restart the module from the beginning", cmdRestart},
		"loop":    {"loop [on|off]", "show or set looping", cmdLoop},
		"info":    {"info", "show module information", cmdInfo},
		"status":  {"status", "show playback status", cmdStatus},
		"formats": {"formats", "list supported module formats", cmdFormats},
		"find":    {"find <query>", "search the module library", cmdFind},
		"history": {"history [n]", "list recently played modules", cmdHistory},
		"reset":   {"reset", "acknowledge a playback fault", cmdReset},
		"help":    {"help", "list commands", cmdHelp},
		"quit":    {"quit", "exit modplay", func(context.Context, *console, []string) error { return errQuit }},
	}
	return c
}

// loop reads lines from rl until quit, EOF or ctx is done.
func (c *console) loop(ctx context.Context, rl *readline.Instance) {
	rl.Config.AutoComplete = c.completer()
	for ctx.Err() == nil {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if line == "" {
				return
			}
			continue
		}
		if err != nil {
			return
		}
		if errors.Is(c.exec(ctx, line), errQuit) {
			return
		}
	}
}

// exec runs one command line. Errors other than errQuit are printed.
func (c *console) exec(ctx context.Context, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	name := strings.ToLower(fields[0])
	if name == "exit" {
		name = "quit"
	}
	cmd, ok := c.commands[name]
	if !ok {
		fmt.Fprintf(c.out, "unknown command %q, try help\n", fields[0])
		return nil
	}
	err := cmd.run(ctx, c, fields[1:])
	if err != nil && !errors.Is(err, errQuit) {
		fmt.Fprintf(c.out, "%s: %v\n", name, err)
	}
	return err
}

// completer completes command names and library titles after play, queue
// and find.
func (c *console) completer() *readline.PrefixCompleter {
	titles := readline.PcItemDynamic(func(string) []string {
		entries := c.app.Library().Catalog().All()
		out := make([]string, 0, len(entries))
		for _, e := range entries {
			out = append(out, e.Name())
		}
		return out
	})
	items := make([]readline.PrefixCompleterInterface, 0, len(c.commands))
	for _, name := range c.names() {
		switch name {
		case "play", "queue", "find":
			items = append(items, readline.PcItem(name, titles))
		default:
			items = append(items, readline.PcItem(name))
		}
	}
	return readline.NewPrefixCompleter(items...)
}

func (c *console) names() []string {
	names := make([]string, 0, len(c.commands))
	for name := range c.commands {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// ── Commands ─────────────────────────────────────────────────────────────────

func cmdPlay(ctx context.Context, c *console, args []string) error {
	if len(args) == 0 {
		return errors.New("usage: play <file|query>")
	}
	info, err := c.app.Sessions().Start(ctx, strings.Join(args, " "))
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "playing %s\n", info.Path)
	return nil
}

func cmdQueue(_ context.Context, c *console, args []string) error {
	if len(args) == 0 {
		q := c.app.Sessions().Queue()
		if len(q) == 0 {
			fmt.Fprintln(c.out, "queue is empty")
		}
		for i, t := range q {
			fmt.Fprintf(c.out, "%2d. %s\n", i+1, t)
		}
		return nil
	}
	target := strings.Join(args, " ")
	if _, err := c.app.Sessions().Resolve(target); err != nil {
		return err
	}
	c.app.Sessions().Enqueue(target)
	fmt.Fprintf(c.out, "queued %s\n", target)
	return nil
}

func cmdStop(ctx context.Context, c *console, _ []string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return c.app.Sessions().Stop(ctx)
}

func cmdPause(_ context.Context, c *console, _ []string) error {
	paused, err := c.app.Controller().Pause()
	if err != nil {
		return err
	}
	if paused {
		fmt.Fprintln(c.out, "paused")
	} else {
		fmt.Fprintln(c.out, "resumed")
	}
	return nil
}

func cmdSeek(_ context.Context, c *console, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: seek <seconds>")
	}
	secs, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		return fmt.Errorf("invalid time %q", args[0])
	}
	pos, err := c.app.Controller().Seek(time.Duration(secs * float64(time.Second)))
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "position %d\n", pos)
	return nil
}

func cmdVolume(_ context.Context, c *console, args []string) error {
	if len(args) == 0 {
		fmt.Fprintf(c.out, "volume %d\n", c.app.Controller().Volume())
		return nil
	}
	v, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid volume %q", args[0])
	}
	if err := c.app.Controller().SetVolume(v); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "volume %d\n", v)
	return nil
}

// muteCommand returns a command applying state to one channel.
func muteCommand(state engine.MuteState) func(context.Context, *console, []string) error {
	return func(_ context.Context, c *console, args []string) error {
		if len(args) != 1 {
			return errors.New("usage: mute|unmute <channel>")
		}
		ch, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid channel %q", args[0])
		}
		prev, err := c.app.Controller().ChannelMute(ch, state)
		if err != nil {
			return err
		}
		now := state == engine.Mute
		fmt.Fprintf(c.out, "channel %d muted %s (was %s)\n", ch, onOff(now), onOff(prev))
		return nil
	}
}

func cmdNext(_ context.Context, c *console, _ []string) error {
	return c.printPosition(c.app.Controller().NextPosition())
}

func cmdPrev(_ context.Context, c *console, _ []string) error {
	return c.printPosition(c.app.Controller().PrevPosition())
}

func cmdPosition(_ context.Context, c *console, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: pos <n>")
	}
	n, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid position %q", args[0])
	}
	return c.printPosition(c.app.Controller().SetPosition(n))
}

func (c *console) printPosition(pos int, err error) error {
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "position %d\n", pos)
	return nil
}

func cmdRestart(_ context.Context, c *console, _ []string) error {
	return c.app.Controller().Restart()
}

func cmdLoop(_ context.Context, c *console, args []string) error {
	ctrl := c.app.Controller()
	if len(args) > 0 {
		switch strings.ToLower(args[0]) {
		case "on", "true", "1":
			ctrl.SetLoop(true)
		case "off", "false", "0":
			ctrl.SetLoop(false)
		default:
			return errors.New("usage: loop [on|off]")
		}
	}
	fmt.Fprintf(c.out, "loop %s\n", onOff(ctrl.Loop()))
	return nil
}

func cmdInfo(_ context.Context, c *console, _ []string) error {
	mod, ok := c.app.Controller().Module()
	if !ok {
		return errors.New("no module loaded")
	}
	tw := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Name\t%s\n", mod.Name)
	fmt.Fprintf(tw, "Type\t%s\n", mod.Type)
	fmt.Fprintf(tw, "Channels\t%d\n", mod.Channels)
	fmt.Fprintf(tw, "Length\t%d positions\n", mod.Length)
	fmt.Fprintf(tw, "Patterns\t%d\n", mod.Patterns)
	fmt.Fprintf(tw, "Instruments\t%d\n", mod.Instruments)
	fmt.Fprintf(tw, "Samples\t%d\n", mod.Samples)
	fmt.Fprintf(tw, "Speed/BPM\t%d/%d\n", mod.InitialSpeed, mod.InitialBPM)
	if d := mod.Duration(); d > 0 {
		fmt.Fprintf(tw, "Duration\t%s\n", clock(d))
	}
	return tw.Flush()
}

func cmdStatus(_ context.Context, c *console, _ []string) error {
	st := c.app.Controller().Status()
	fmt.Fprintf(c.out, "state %s  volume %d  loop %s\n", st.State, st.Volume, onOff(st.Loop))
	if st.Module != "" {
		fmt.Fprintf(c.out, "module %q (%s)\n", st.Module, st.Type)
	}
	if f := st.Frame; f != nil {
		fmt.Fprintf(c.out, "time %s/%s  pos %d pat %d row %d/%d  speed %d bpm %d\n",
			clock(f.Time), clock(f.TotalTime), f.Position, f.Pattern, f.Row, f.NumRows, f.Speed, f.BPM)
	}
	if err := c.app.Controller().Err(); err != nil {
		fmt.Fprintf(c.out, "fault: %v (use reset)\n", err)
	}
	return nil
}

func cmdFormats(_ context.Context, c *console, _ []string) error {
	formats := c.app.Controller().Formats()
	if len(formats) == 0 {
		fmt.Fprintln(c.out, "no formats reported")
		return nil
	}
	fmt.Fprintln(c.out, strings.Join(formats, ", "))
	return nil
}

func cmdFind(_ context.Context, c *console, args []string) error {
	if len(args) == 0 {
		return errors.New("usage: find <query>")
	}
	matches := c.app.Library().Catalog().Find(strings.Join(args, " "), 10)
	if len(matches) == 0 {
		fmt.Fprintln(c.out, "no matches")
		return nil
	}
	tw := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	for _, m := range matches {
		fmt.Fprintf(tw, "%.2f\t%s\t%s\t%s\n", m.Score, m.Title, m.Format, m.Path)
	}
	return tw.Flush()
}

func cmdHistory(ctx context.Context, c *console, args []string) error {
	n := 10
	if len(args) > 0 {
		v, err := strconv.Atoi(args[0])
		if err != nil || v <= 0 {
			return fmt.Errorf("invalid count %q", args[0])
		}
		n = v
	}
	entries, err := c.app.History().Recent(ctx, n)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintln(c.out, "nothing played yet")
		return nil
	}
	tw := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", e.StartedAt.Local().Format(time.DateTime), clock(e.Duration()), e.Outcome, e.Title)
	}
	return tw.Flush()
}

func cmdReset(_ context.Context, c *console, _ []string) error {
	return c.app.Controller().Reset()
}

func cmdHelp(_ context.Context, c *console, _ []string) error {
	tw := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	for _, name := range c.names() {
		cmd := c.commands[name]
		fmt.Fprintf(tw, "%s\t%s\n", cmd.usage, cmd.help)
	}
	return tw.Flush()
}

// ── Formatting ───────────────────────────────────────────────────────────────

// clock formats d as m:ss.
func clock(d time.Duration) string {
	d = d.Round(time.Second)
	return fmt.Sprintf("%d:%02d", int(d.Minutes()), int(d.Seconds())%60)
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
