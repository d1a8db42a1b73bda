package events

import (
	"errors"
	"fmt"
	"testing"

	"ovndbsync/pkg/core"
)

type fakeSink struct {
	events []string
}

func (f *fakeSink) Eventf(eventType, reason, messageFmt string, args ...any) {
	f.events = append(f.events, fmt.Sprintf("%s %s %s", eventType, reason, fmt.Sprintf(messageFmt, args...)))
}

func TestRecorderNilSafe(t *testing.T) {
	var r *Recorder
	r.EntityCreated(core.NorthboundDatabase, core.EntityAction{})
	r.EntityUpdated(core.NorthboundDatabase, core.EntityAction{})
	r.EntityDeleted(core.NorthboundDatabase, core.EntityAction{})
	r.EntityFailed(core.NorthboundDatabase, core.EntityFailure{})
	r.Advisory(core.SouthboundDatabase, core.Advisory{})
	r.Error(core.NorthboundDatabase, errors.New("boom"))

	NewRecorder(nil).Error(core.NorthboundDatabase, errors.New("boom"))
}

func TestRecorderEmitsEvents(t *testing.T) {
	sink := &fakeSink{}
	r := NewRecorder(sink)
	network := core.EntityRef{Kind: core.KindNetwork, ID: "n1"}

	r.EntityCreated(core.NorthboundDatabase, core.EntityAction{EntityRef: network, Action: core.ActionCreate, Table: core.TableLogicalSwitch, Applied: true})
	r.EntityDeleted(core.NorthboundDatabase, core.EntityAction{EntityRef: network, Action: core.ActionDelete, Table: core.TableLogicalSwitch, RowUUID: "u1"})
	r.EntityFailed(core.NorthboundDatabase, core.EntityFailure{EntityRef: network, Action: core.ActionUpdate, Message: "constraint violation"})
	r.Advisory(core.SouthboundDatabase, core.Advisory{Table: core.TableMACBinding, Reason: "StaleMACBinding", Message: "stale"})
	r.Error(core.NorthboundDatabase, nil)

	want := []string{
		"Normal Created OVN_Northbound Logical_Switch row created for network/n1",
		"Normal OutOfSync OVN_Northbound Logical_Switch row u1 needs to be deleted for network/n1",
		"Warning ApplyFailed OVN_Northbound update of network/n1 failed: constraint violation",
		"Warning StaleMACBinding OVN_Southbound MAC_Binding: stale",
	}
	if len(sink.events) != len(want) {
		t.Fatalf("expected %d events, got %d: %v", len(want), len(sink.events), sink.events)
	}
	for i := range want {
		if sink.events[i] != want[i] {
			t.Fatalf("event %d: expected %q, got %q", i, want[i], sink.events[i])
		}
	}
}
