package ui

import (
	"bufio"
	"context"
	"io"
	"strings"
)

// Commands are the actions a terminal user can take.
type Commands struct {
	Start    func()
	Stop     func()
	Checkout func(tableID string)
}

// StartControl reads line commands from in:
//
//	<Enter>          start a session, when enabled
//	stop             end the current session
//	checkout <table> free a table
//
// Start is ignored while the console reports a session in progress.
type StartControl struct {
	in      io.Reader
	console *Console
	cmds    Commands
}

func NewStartControl(in io.Reader, console *Console, cmds Commands) *StartControl {
	return &StartControl{in: in, console: console, cmds: cmds}
}

// Run blocks until in is exhausted or ctx is done. Cancellation is only
// observed between lines.
func (s *StartControl) Run(ctx context.Context) error {
	scanner := bufio.NewScanner(s.in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.dispatch(scanner.Text())
	}
	return scanner.Err()
}

func (s *StartControl) dispatch(line string) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		if s.cmds.Start != nil && (s.console == nil || s.console.StartEnabled()) {
			s.cmds.Start()
		}
		return
	}
	switch strings.ToLower(fields[0]) {
	case "stop", "q":
		if s.cmds.Stop != nil {
			s.cmds.Stop()
		}
	case "checkout":
		if len(fields) < 2 {
			if s.console != nil {
				s.console.Notice("usage: checkout <table>")
			}
			return
		}
		if s.cmds.Checkout != nil {
			s.cmds.Checkout(fields[1])
		}
	default:
		if s.console != nil {
			s.console.Notice("unknown command %q", fields[0])
		}
	}
}
