package main

import (
	"fmt"
	"io"

	"github.com/joeycumines/logiface"
)

// demoEvent is the minimal logiface.Event implementation grounded on
// stumpy's Event: only Level, AddField and AddMessage are implemented for
// real, every other optional method falls back to UnimplementedEvent's no-op.
type demoEvent struct {
	logiface.UnimplementedEvent
	level  logiface.Level
	msg    string
	fields []string
}

func (e *demoEvent) Level() logiface.Level { return e.level }

func (e *demoEvent) AddField(key string, val any) {
	e.fields = append(e.fields, fmt.Sprintf("%s=%v", key, val))
}

func (e *demoEvent) AddMessage(msg string) bool {
	e.msg = msg
	return true
}

// newDemoLogger builds a logiface.Logger that writes one line per event to
// w, allocating a fresh demoEvent for every event.
func newDemoLogger(w io.Writer, level logiface.Level) *logiface.Logger[*demoEvent] {
	return logiface.New[*demoEvent](
		logiface.WithEventFactory[*demoEvent](logiface.EventFactoryFunc[*demoEvent](func(lvl logiface.Level) *demoEvent {
			return &demoEvent{level: lvl}
		})),
		logiface.WithWriter[*demoEvent](logiface.WriterFunc[*demoEvent](func(e *demoEvent) error {
			fmt.Fprintf(w, "[%s] %s", e.level, e.msg)
			for _, f := range e.fields {
				fmt.Fprintf(w, " %s", f)
			}
			fmt.Fprintln(w)
			return nil
		})),
		logiface.WithLevel[*demoEvent](level),
	)
}
