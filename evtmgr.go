package rwan

// evtmgr.go implements the virtual time event manager that drives the
// simulation.  All activity in the model is expressed as timestamped
// events; the manager pops the earliest pending event, advances the
// virtual clock to its timestamp, and runs its handler to completion
// before touching the next one.  Events that carry equal timestamps
// execute in the order their Schedule calls were made, which keeps a
// run deterministic.

import (
	"container/heap"
	"fmt"

	"github.com/iti/evt/vrtime"
)

// EventHandlerFunction is the signature of every scheduled callback.
// The first argument is the manager driving the run, the second is the
// context given at scheduling time, the third the data payload.
type EventHandlerFunction func(*EventManager, any, any) any

// EventID is a handle on a pending event, usable to cancel it before
// it fires.
type EventID int

// simEvent is one pending entry in the event queue
type simEvent struct {
	time    vrtime.Time // virtual time at which the handler fires
	seq     int64       // insertion sequence, breaks timestamp ties FIFO
	id      EventID
	context any
	data    any
	handler EventHandlerFunction
	index   int // position in the heap, maintained by heap.Interface
}

// evtHeap and its methods implement a min-priority heap on
// (timestamp, insertion sequence)
type evtHeap []*simEvent

func (h evtHeap) Len() int { return len(h) }

func (h evtHeap) Less(i, j int) bool {
	if h[i].time.Ticks() != h[j].time.Ticks() {
		return h[i].time.Ticks() < h[j].time.Ticks()
	}
	return h[i].seq < h[j].seq
}

func (h evtHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *evtHeap) Push(x any) {
	evt := x.(*simEvent)
	evt.index = len(*h)
	*h = append(*h, evt)
}

func (h *evtHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	old[n-1] = nil
	*h = old[0 : n-1]
	return x
}

// EventManager owns a virtual clock and the queue of pending events.
// It is an explicitly owned instance rather than process state, so a
// test binary can run any number of independent simulations.
type EventManager struct {
	now     vrtime.Time
	pending evtHeap
	byID    map[EventID]*simEvent
	nxtSeq  int64
	nxtID   EventID
	running bool
	stopped bool
}

// CreateEventManager is a constructor.  The clock starts at virtual
// time zero.
func CreateEventManager() *EventManager {
	evtMgr := new(EventManager)
	evtMgr.now = vrtime.SecondsToTime(0.0)
	evtMgr.pending = make(evtHeap, 0)
	evtMgr.byID = make(map[EventID]*simEvent)
	heap.Init(&evtMgr.pending)
	return evtMgr
}

// CurrentTime returns the virtual clock
func (evtMgr *EventManager) CurrentTime() vrtime.Time {
	return evtMgr.now
}

// CurrentSeconds returns the virtual clock in seconds
func (evtMgr *EventManager) CurrentSeconds() float64 {
	return evtMgr.now.Seconds()
}

// Schedule enqueues a handler to run 'offset' past the current virtual
// time and returns a handle that can cancel it.  Scheduling into the
// past is a configuration error, not a recoverable condition, and
// panics.
func (evtMgr *EventManager) Schedule(context any, data any,
	handler EventHandlerFunction, offset vrtime.Time) EventID {

	if offset.Seconds() < 0.0 {
		panic(fmt.Errorf("scheduling violation: offset %f precedes virtual clock %f",
			offset.Seconds(), evtMgr.now.Seconds()))
	}

	when := vrtime.SecondsToTime(evtMgr.now.Seconds() + offset.Seconds())

	evtMgr.nxtSeq += 1
	evtMgr.nxtID += 1

	evt := &simEvent{
		time:    when,
		seq:     evtMgr.nxtSeq,
		id:      evtMgr.nxtID,
		context: context,
		data:    data,
		handler: handler,
	}
	heap.Push(&evtMgr.pending, evt)
	evtMgr.byID[evt.id] = evt

	return evt.id
}

// CancelEvent withdraws a pending event.  The return is false if the
// event already fired or was already cancelled.
func (evtMgr *EventManager) CancelEvent(id EventID) bool {
	evt, present := evtMgr.byID[id]
	if !present {
		return false
	}
	heap.Remove(&evtMgr.pending, evt.index)
	delete(evtMgr.byID, id)
	return true
}

// Stop makes the run loop return after the handler currently
// executing completes
func (evtMgr *EventManager) Stop() {
	evtMgr.stopped = true
}

// RunToTime executes pending events in timestamp order until the queue
// empties or the next event lies strictly beyond the given horizon (in
// seconds).  The clock finishes at the horizon, or at the last executed
// event if the queue drained first.
func (evtMgr *EventManager) RunToTime(limit float64) {
	evtMgr.running = true
	evtMgr.stopped = false

	for len(evtMgr.pending) > 0 && !evtMgr.stopped {
		if evtMgr.pending[0].time.Seconds() > limit {
			break
		}
		evtMgr.dispatchNext()
	}
	evtMgr.running = false

	if evtMgr.now.Seconds() < limit {
		evtMgr.now = vrtime.SecondsToTime(limit)
	}
}

// RunToEnd executes pending events until none remain
func (evtMgr *EventManager) RunToEnd() {
	evtMgr.running = true
	evtMgr.stopped = false
	for len(evtMgr.pending) > 0 && !evtMgr.stopped {
		evtMgr.dispatchNext()
	}
	evtMgr.running = false
}

// dispatchNext pops the earliest event, advances the clock to its
// timestamp, and runs its handler
func (evtMgr *EventManager) dispatchNext() {
	evt := heap.Pop(&evtMgr.pending).(*simEvent)
	delete(evtMgr.byID, evt.id)

	evtMgr.now = evt.time
	evt.handler(evtMgr, evt.context, evt.data)
}

// NullHandler exists to provide a link for data fields that call for
// an event handler when no event handler is actually needed
func NullHandler(evtMgr *EventManager, context any, msg any) any {
	return nil
}
