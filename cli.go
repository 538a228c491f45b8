package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
)

// terminal is a line-oriented device front end. It renders the
// orchestrator's derived state and turns commands into intents.
type terminal struct {
	dev *DeviceClient
	out io.Writer
	mu  sync.Mutex
}

func newTerminal(dev *DeviceClient, out io.Writer) *terminal {
	return &terminal{dev: dev, out: out}
}

func (t *terminal) printf(format string, args ...any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(t.out, format+"\n", args...)
}

func (t *terminal) state(s ConnState) {
	t.printf("[%s]", s)
}

func (t *terminal) event(env Envelope) {
	switch env.Type {
	case MsgReport:
		rep := env.Report
		if rep.Peaceful {
			t.printf("Dawn of night %d: nobody died.", rep.Night)
		} else {
			t.printf("Dawn of night %d: seats %s died.", rep.Night, joinSeats(rep.Deaths))
		}
	case MsgNarration, MsgNotice:
		if env.Text != "" {
			t.printf("%s", env.Text)
		}
	}
}

// render prints the status line after every host message.
func (t *terminal) render() {
	o := t.dev.Orchestrator()
	if rej := o.LastRejection(); rej != nil {
		t.printf("Rejected: %s", rej.Message)
	}
	if rv := o.PendingReveal(); rv != nil {
		t.printf("Seat %d is %s. Type 'ack' to continue.", rv.TargetSeat, rv.Result)
		return
	}
	t.printf("%s", t.status())
}

func (t *terminal) status() string {
	o := t.dev.Orchestrator()
	sn, ok := o.Snapshot()
	if !ok {
		return "Waiting for the host..."
	}
	if sn.Status == NightComplete || sn.Step == nil {
		return fmt.Sprintf("Night %d is over.", sn.Night)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Night %d, step %d (%s)", sn.Night, sn.StepIndex, sn.Step.SchemaID)
	if o.InFlight() != "" {
		b.WriteString(" - waiting for the host")
	} else if o.IsMyTurn() {
		b.WriteString(" - your turn")
		if sn.Context != nil {
			if sn.Context.Blocked {
				b.WriteString(", you are blocked: 'skip'")
			}
			if sn.Context.KilledSeat != nil {
				fmt.Fprintf(&b, ", the pack attacked seat %d", *sn.Context.KilledSeat)
			}
			if sn.Context.NextSubStep != "" {
				fmt.Fprintf(&b, ", next: %s", sn.Context.NextSubStep)
			}
		}
	}
	if o.ShouldSeeWolves() && sn.Context != nil && len(sn.Context.Pack) > 0 {
		fmt.Fprintf(&b, ", pack: %s", joinSeats(sn.Context.Pack))
	}
	return b.String()
}

// exec runs one command line. Errors are for the user, not fatal.
func (t *terminal) exec(line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	o := t.dev.Orchestrator()
	switch fields[0] {
	case "target", "t":
		if len(fields) < 2 || len(fields) > 3 {
			return errors.New("usage: target SEAT [SEAT]")
		}
		var target Target
		for _, f := range fields[1:] {
			seat, err := strconv.Atoi(f)
			if err != nil {
				return fmt.Errorf("bad seat %q", f)
			}
			target = append(target, seat)
		}
		_, err := o.Submit(target, false)
		return err
	case "none":
		_, err := o.Submit(nil, false)
		return err
	case "skip":
		_, err := o.Submit(nil, true)
		return err
	case "ack":
		return o.Acknowledge()
	case "status":
		t.printf("[%s] %s", t.dev.State(), t.status())
		return nil
	case "help":
		t.printf("commands: target SEAT [SEAT] | none | skip | ack | status | quit")
		return nil
	default:
		return fmt.Errorf("unknown command %q, try 'help'", fields[0])
	}
}

func (t *terminal) readCommands(in io.Reader, quit func()) {
	defer quit()
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "quit" || line == "exit" {
			return
		}
		if err := t.exec(line); err != nil {
			t.printf("%v", err)
		}
	}
}

// runDevice joins a room as one seat and drives it from the terminal.
func runDevice(cfg AppConfig, reg *Registry, in io.Reader, out io.Writer) error {
	if cfg.DeviceToken == "" {
		return errors.New("device mode needs a seat token (-token)")
	}
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	dev := NewDeviceClient(cfg.Device, cfg.DeviceToken, reg)
	term := newTerminal(dev, out)
	dev.OnState = term.state
	dev.OnEvent = term.event
	dev.Orchestrator().OnChange = term.render

	go term.readCommands(in, cancel)

	err := dev.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func joinSeats(seats []int) string {
	parts := make([]string, len(seats))
	for i, s := range seats {
		parts[i] = strconv.Itoa(s)
	}
	return strings.Join(parts, ", ")
}
