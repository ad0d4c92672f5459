// Package command parses the operator's single-token commands and
// dispatches them to the radio link, the recorder and the session.
package command

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/banshee-data/boatnav/internal/monitoring"
	"github.com/banshee-data/boatnav/internal/recorder"
	"github.com/banshee-data/boatnav/internal/route"
	"github.com/banshee-data/boatnav/internal/session"
)

var (
	// ErrUnknownCommand is returned by Parse for an unrecognised token or
	// malformed arguments.
	ErrUnknownCommand = errors.New("unknown command")
	// ErrEmptyCommand is returned by Parse for a blank line.
	ErrEmptyCommand = errors.New("empty command")
	// ErrNoRoute is returned when sending a route before one is loaded.
	ErrNoRoute = errors.New("no route loaded")
	// ErrUnavailable is returned when the collaborator a command needs is
	// not configured.
	ErrUnavailable = errors.New("command unavailable")
)

// Kind identifies what a parsed command does.
type Kind int

const (
	KindMotion    Kind = iota // forwarded to the boat verbatim
	KindSendRoute             // send the loaded route
	KindFlush                 // flush buffered recordings
	KindExit                  // end the session
	KindTune                  // set a parameter and replay
	KindStatus                // print the live estimate
	KindHelp                  // print the command list
)

// String returns the display name of the kind.
func (k Kind) String() string {
	switch k {
	case KindMotion:
		return "motion"
	case KindSendRoute:
		return "send"
	case KindFlush:
		return "telemetry"
	case KindExit:
		return "exit"
	case KindTune:
		return "tune"
	case KindStatus:
		return "status"
	case KindHelp:
		return "help"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// motionTokens are forwarded to the boat verbatim.
var motionTokens = map[string]bool{
	"f": true, "b": true, "l": true, "r": true,
	"h": true, "k": true, "m": true,
}

// Command is one parsed operator command.
type Command struct {
	Kind  Kind
	Token string

	// Tune only.
	Param string
	Value float64
}

// Parse reads one command line. Tokens are case-sensitive except for the
// long forms of the ground-side commands.
func Parse(line string) (Command, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Command{}, ErrEmptyCommand
	}
	tok := fields[0]

	if motionTokens[tok] {
		if len(fields) > 1 {
			return Command{}, fmt.Errorf("%w: %q takes no arguments", ErrUnknownCommand, tok)
		}
		return Command{Kind: KindMotion, Token: tok}, nil
	}

	var kind Kind
	switch strings.ToLower(tok) {
	case "s", "send":
		kind = KindSendRoute
	case "t", "telemetry":
		kind = KindFlush
	case "x", "exit":
		kind = KindExit
	case "status":
		kind = KindStatus
	case "help", "?":
		kind = KindHelp
	case "tune":
		if len(fields) != 3 {
			return Command{}, fmt.Errorf("%w: usage: tune <param> <value>", ErrUnknownCommand)
		}
		v, err := strconv.ParseFloat(fields[2], 64)
		if err != nil {
			return Command{}, fmt.Errorf("%w: bad value %q", ErrUnknownCommand, fields[2])
		}
		return Command{Kind: KindTune, Token: tok, Param: fields[1], Value: v}, nil
	default:
		return Command{}, fmt.Errorf("%w: %q", ErrUnknownCommand, tok)
	}
	if len(fields) > 1 {
		return Command{}, fmt.Errorf("%w: %q takes no arguments", ErrUnknownCommand, tok)
	}
	return Command{Kind: kind, Token: tok}, nil
}

// Link is the outbound half of the radio link.
type Link interface {
	SendCommand(command string) error
	SendCoords(data []byte) error
}

// Flusher writes buffered recordings out on demand.
type Flusher interface {
	Flush(ctx context.Context) (recorder.FlushResult, error)
}

// Tuner changes a named parameter and reports the before/after replay.
type Tuner interface {
	Tune(name string, value float64) (session.Comparison, error)
}

// Dispatcher executes parsed commands. Nil collaborators make their
// commands return ErrUnavailable.
type Dispatcher struct {
	Link     Link
	Route    route.Route
	Recorder Flusher
	Tuner    Tuner
	Status   func() string

	// OnTune, if set, receives every successful tuning comparison.
	OnTune func(session.Comparison)
}

// Result is what the operator sees after a command.
type Result struct {
	Exit    bool
	Message string
}

// Dispatch executes cmd. Collaborator failures are wrapped; an exit
// command returns a Result with Exit set.
func (d *Dispatcher) Dispatch(ctx context.Context, cmd Command) (Result, error) {
	switch cmd.Kind {
	case KindMotion:
		if d.Link == nil {
			return Result{}, fmt.Errorf("%s: %w", cmd.Token, ErrUnavailable)
		}
		if err := d.Link.SendCommand(cmd.Token); err != nil {
			return Result{}, fmt.Errorf("send %q: %w", cmd.Token, err)
		}
		return Result{Message: "sent " + cmd.Token}, nil

	case KindSendRoute:
		if d.Link == nil {
			return Result{}, fmt.Errorf("send route: %w", ErrUnavailable)
		}
		if len(d.Route) == 0 {
			return Result{}, ErrNoRoute
		}
		data, err := d.Route.Encode()
		if err != nil {
			return Result{}, err
		}
		if err := d.Link.SendCoords(data); err != nil {
			return Result{}, fmt.Errorf("send route: %w", err)
		}
		return Result{Message: fmt.Sprintf("sent route: %d waypoints, %.0f m", len(d.Route), d.Route.Length())}, nil

	case KindFlush:
		if d.Recorder == nil {
			return Result{}, fmt.Errorf("flush: %w", ErrUnavailable)
		}
		res, err := d.Recorder.Flush(ctx)
		if err != nil {
			return Result{}, fmt.Errorf("flush: %w", err)
		}
		msg := fmt.Sprintf("flushed %d telemetry, %d onboard, %d estimates",
			res.Written.Telemetry, res.Written.Onboard, res.Written.Estimates)
		for _, f := range res.Files {
			msg += "\n  " + f
		}
		return Result{Message: msg}, nil

	case KindTune:
		if d.Tuner == nil {
			return Result{}, fmt.Errorf("tune: %w", ErrUnavailable)
		}
		cmp, err := d.Tuner.Tune(cmd.Param, cmd.Value)
		if err != nil {
			return Result{}, fmt.Errorf("tune: %w", err)
		}
		if d.OnTune != nil {
			d.OnTune(cmp)
		}
		var sb strings.Builder
		for _, c := range cmp.Changes {
			fmt.Fprintf(&sb, "%s: %g -> %g\n", c.Param, c.Before, c.After)
		}
		fmt.Fprintf(&sb, "replayed %d steps", len(cmp.After))
		return Result{Message: sb.String()}, nil

	case KindStatus:
		if d.Status == nil {
			return Result{}, fmt.Errorf("status: %w", ErrUnavailable)
		}
		return Result{Message: d.Status()}, nil

	case KindHelp:
		return Result{Message: Help}, nil

	case KindExit:
		return Result{Exit: true, Message: "bye"}, nil
	}
	return Result{}, fmt.Errorf("%w: %s", ErrUnknownCommand, cmd.Kind)
}

// Help lists the console commands.
const Help = `commands:
  f b l r h k m        motion, forwarded to the boat
  s, send              push the loaded route
  t, telemetry         flush recordings
  tune <param> <value> change an estimator parameter and replay
  status               show the current estimate
  x, exit              end the session`

// Run reads commands from r until exit, EOF or ctx is done. Command
// errors are reported on w and do not stop the loop.
func (d *Dispatcher) Run(ctx context.Context, r io.Reader, w io.Writer) error {
	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					return err
				default:
					return nil
				}
			}
			cmd, err := Parse(line)
			if errors.Is(err, ErrEmptyCommand) {
				continue
			}
			if err != nil {
				fmt.Fprintf(w, "error: %v\n", err)
				continue
			}
			res, err := d.Dispatch(ctx, cmd)
			if err != nil {
				monitoring.Logf("command %s failed: %v", cmd.Kind, err)
				fmt.Fprintf(w, "error: %v\n", err)
				continue
			}
			if res.Message != "" {
				fmt.Fprintln(w, res.Message)
			}
			if res.Exit {
				return nil
			}
		}
	}
}
