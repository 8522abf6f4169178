// Package events implements the row-added signal (§6): a synchronous,
// in-process notification delivered at propagator insertion time. It is
// intentionally minimal — the spec treats the event bus itself as an
// external collaborator out of scope; this package is the in-process stand-in
// a caller wires a subscriber into.
package events

import (
	"log/slog"

	"github.com/dbsubsetter/subsetter/internal/subsetter/dbmodel"
)

// RowAdded is the payload delivered synchronously whenever the propagator
// commits a row to its insertion buffer.
type RowAdded struct {
	SourceDriver string
	TargetDriver string
	SourceRow    dbmodel.Row
	TargetTable  dbmodel.TableKey
	Prioritized  bool
}

// Subscriber receives RowAdded notifications.
type Subscriber func(RowAdded)

// Bus is an ordered list of subscribers, invoked synchronously and in
// registration order on every Publish.
type Bus struct {
	subscribers []Subscriber
	logger      *slog.Logger
}

// NewBus returns an empty Bus. A nil logger falls back to slog.Default().
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{logger: logger}
}

// Subscribe registers fn to run on every future Publish call.
func (b *Bus) Subscribe(fn Subscriber) {
	b.subscribers = append(b.subscribers, fn)
}

// Publish delivers evt to every subscriber in the same goroutine and
// control flow as the caller. A panicking subscriber is recovered and
// logged so a faulty observer can never abort the copy.
func (b *Bus) Publish(evt RowAdded) {
	for _, sub := range b.subscribers {
		b.invoke(sub, evt)
	}
}

func (b *Bus) invoke(sub Subscriber, evt RowAdded) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("row-added subscriber panicked", "recover", r, "table", evt.TargetTable.String())
		}
	}()
	sub(evt)
}
