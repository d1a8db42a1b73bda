package adapters

import (
	"fmt"
	"testing"

	hostevents "ovndbsync/pkg/adapters/events"
	"ovndbsync/pkg/core"
)

type fakeSink struct {
	events []recordedEvent
}

type recordedEvent struct {
	eventType string
	reason    string
	message   string
}

func (f *fakeSink) Eventf(eventType, reason, messageFmt string, args ...any) {
	f.events = append(f.events, recordedEvent{eventType: eventType, reason: reason, message: fmt.Sprintf(messageFmt, args...)})
}

func TestEventEmitter(t *testing.T) {
	sink := &fakeSink{}
	emitter := NewEventEmitter(sink)
	report := core.SyncReport{
		Database: core.NorthboundDatabase,
		Mode:     core.SyncModeRepair,
		Creates:  []core.EntityAction{{EntityRef: core.EntityRef{Kind: core.KindNetwork, ID: "a"}, Action: core.ActionCreate, Table: core.TableLogicalSwitch, Applied: true}},
		Updates:  []core.EntityAction{{EntityRef: core.EntityRef{Kind: core.KindPort, ID: "b"}, Action: core.ActionUpdate, Table: core.TableLogicalSwitchPort, Applied: true}},
		Deletes:  []core.EntityAction{{EntityRef: core.EntityRef{Kind: core.KindRouter, ID: "c"}, Action: core.ActionDelete, Table: core.TableLogicalRouter, Applied: true}},
		Failures: []core.EntityFailure{{EntityRef: core.EntityRef{Kind: core.KindPort, ID: "d"}, Action: core.ActionCreate, Message: "parent row does not exist"}},
	}
	emitter.EmitReport(report)
	if len(sink.events) != 4 {
		t.Fatalf("expected 4 events, got %d", len(sink.events))
	}
	if sink.events[0].reason != "Created" || sink.events[0].eventType != hostevents.TypeNormal {
		t.Fatalf("unexpected first event: %+v", sink.events[0])
	}
	if sink.events[3].reason != "ApplyFailed" || sink.events[3].eventType != hostevents.TypeWarning {
		t.Fatalf("expected failure event, got %+v", sink.events[3])
	}
	emitter.EmitError(core.NorthboundDatabase, fmt.Errorf("boom"))
	if len(sink.events) != 5 {
		t.Fatalf("expected error event appended, got %d", len(sink.events))
	}
	last := sink.events[len(sink.events)-1]
	if last.reason != "SyncError" || last.eventType != hostevents.TypeWarning {
		t.Fatalf("unexpected error event: %+v", last)
	}
}

func TestNilEventEmitter(t *testing.T) {
	var emitter *EventEmitter
	emitter.EmitReport(core.SyncReport{})
	emitter.EmitError(core.NorthboundDatabase, fmt.Errorf("boom"))
}
