package rwan

// transition.go holds the link-state controller: the one component
// permitted to mutate a link's state.  Failures and recoveries arrive
// as a timeline of FaultDescs scheduled before the run starts; each
// fires a handler that flips the link at its appointed virtual time.
// A transition applies to both endpoints of the link at once (the link
// carries a single state both interfaces observe), takes effect
// immediately for any forwarding decision at or after that time, and
// is never retried or undone except by a later scheduled transition.

import (
	"fmt"

	"github.com/iti/evt/vrtime"
)

// scheduleFaults enters the fault timeline into the event queue.  It
// is called before the run begins, while the virtual clock still reads
// zero, so each fault's time is its offset.  An unknown link name or
// action is a scenario error.
func scheduleFaults(evtMgr *EventManager, topo *topoStruct, faults []FaultDesc) error {
	for _, fd := range faults {
		lk, present := topo.linkByName[fd.Link]
		if !present {
			return fmt.Errorf("fault names unknown link %s", fd.Link)
		}
		action, err := linkStateFromStr(fd.Action)
		if err != nil {
			return err
		}
		evtMgr.Schedule(lk, action, linkStateChange, vrtime.SecondsToTime(fd.Time))
	}
	return nil
}

// linkStateChange is the event handler for one transition.  The
// context is the *linkStruct, the data the target linkState.  A
// transition to the state already held is recorded but harmless.
func linkStateChange(evtMgr *EventManager, context any, data any) any {
	lk := context.(*linkStruct)
	action := data.(linkState)

	lk.state = action

	topo := lk.intrfcA.device.topo
	AddLinkTrace(topo.traceMgr, evtMgr.CurrentTime(), lk)
	return nil
}
