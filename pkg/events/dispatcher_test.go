package events

import (
	"fmt"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/onsi/gomega"

	"ovndbsync/pkg/ovsdb"
)

func macBinding(id ovsdb.UUID, ip string) ovsdb.Row {
	return ovsdb.Row{ovsdb.UUIDColumn: id, "ip": ip, "logical_port": "lrp-1"}
}

func TestOneShotSubscriptionDeregistersAfterFirstMatch(t *testing.T) {
	dispatcher := NewDispatcher(logr.Discard())
	calls := 0
	sub := dispatcher.Subscribe(Matcher{Table: "MAC_Binding", Kinds: []Kind{Delete}, OneShot: true}, func(Event) { calls++ })

	dispatcher.Dispatch(Event{Table: "MAC_Binding", Kind: Insert, UUID: "a", New: macBinding("a", "10.0.0.1")})
	if sub.Wait(10 * time.Millisecond) {
		t.Fatalf("insert must not match a delete subscription")
	}
	dispatcher.Dispatch(Event{Table: "MAC_Binding", Kind: Delete, UUID: "a", Old: macBinding("a", "10.0.0.1")})
	dispatcher.Dispatch(Event{Table: "MAC_Binding", Kind: Delete, UUID: "b", Old: macBinding("b", "10.0.0.2")})

	if !sub.Wait(time.Second) {
		t.Fatalf("expected subscription to fire")
	}
	if calls != 1 {
		t.Fatalf("expected exactly one reaction, got %d", calls)
	}
	if dispatcher.Len() != 0 {
		t.Fatalf("expected one-shot subscription to be removed, %d left", dispatcher.Len())
	}
}

func TestPersistentSubscriptionKeepsMatching(t *testing.T) {
	dispatcher := NewDispatcher(logr.Discard())
	sub := dispatcher.Subscribe(Matcher{Table: "MAC_Binding", Predicate: ColumnEquals("ip", "10.0.0.1")}, nil)

	dispatcher.Dispatch(Event{Table: "MAC_Binding", Kind: Insert, UUID: "a", New: macBinding("a", "10.0.0.1")})
	dispatcher.Dispatch(Event{Table: "MAC_Binding", Kind: Insert, UUID: "b", New: macBinding("b", "10.0.0.9")})
	dispatcher.Dispatch(Event{Table: "MAC_Binding", Kind: Delete, UUID: "a", Old: macBinding("a", "10.0.0.1")})

	if got := len(sub.Matched()); got != 2 {
		t.Fatalf("expected 2 matches, got %d", got)
	}
	sub.Cancel()
	if dispatcher.Len() != 0 {
		t.Fatalf("expected cancelled subscription to be removed")
	}
	dispatcher.Dispatch(Event{Table: "MAC_Binding", Kind: Insert, UUID: "c", New: macBinding("c", "10.0.0.1")})
	if got := len(sub.Matched()); got != 2 {
		t.Fatalf("expected no matches after cancel, got %d", got)
	}
}

func TestPersistentSubscriptionRetainsOnlyRecentMatches(t *testing.T) {
	dispatcher := NewDispatcher(logr.Discard())
	reactions := 0
	sub := dispatcher.Subscribe(Matcher{Table: "Port_Binding", Kinds: []Kind{Update}}, func(Event) { reactions++ })

	const n = 10000
	for i := 0; i < n; i++ {
		id := ovsdb.UUID(fmt.Sprintf("pb-%d", i))
		dispatcher.Dispatch(Event{Table: "Port_Binding", Kind: Update, UUID: id, New: ovsdb.Row{ovsdb.UUIDColumn: id}})
	}

	if reactions != n {
		t.Fatalf("expected %d reactions, got %d", n, reactions)
	}
	matched := sub.Matched()
	if len(matched) != matchedLimit {
		t.Fatalf("expected %d retained matches, got %d", matchedLimit, len(matched))
	}
	if got, want := matched[len(matched)-1].UUID, ovsdb.UUID(fmt.Sprintf("pb-%d", n-1)); got != want {
		t.Fatalf("expected newest match %s last, got %s", want, got)
	}
	if got, want := matched[0].UUID, ovsdb.UUID(fmt.Sprintf("pb-%d", n-matchedLimit)); got != want {
		t.Fatalf("expected oldest retained match %s, got %s", want, got)
	}
}

func TestWaitReportsFalseOnTimeout(t *testing.T) {
	dispatcher := NewDispatcher(logr.Discard())
	sub := WaitForDelete(dispatcher, "MAC_Binding", "a")
	start := time.Now()
	if sub.Wait(50 * time.Millisecond) {
		t.Fatalf("expected timeout")
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Fatalf("wait returned early after %s", elapsed)
	}
}

func TestWaitForDeleteMatchesOnlyThatRow(t *testing.T) {
	g := gomega.NewWithT(t)
	dispatcher := NewDispatcher(logr.Discard())
	sub := WaitForDelete(dispatcher, "MAC_Binding", "a")

	go func() {
		dispatcher.Dispatch(Event{Table: "MAC_Binding", Kind: Delete, UUID: "b", Old: macBinding("b", "10.0.0.1")})
		dispatcher.Dispatch(Event{Table: "MAC_Binding", Kind: Delete, UUID: "a", Old: macBinding("a", "10.0.0.1")})
	}()

	g.Expect(sub.Wait(5 * time.Second)).To(gomega.BeTrue())
	g.Expect(sub.Matched()).To(gomega.HaveLen(1))
	g.Expect(sub.Matched()[0].UUID).To(gomega.Equal(ovsdb.UUID("a")))
}

func TestPredicates(t *testing.T) {
	old := ovsdb.Row{"chassis": ovsdb.Set{}, "external_ids": ovsdb.Map{"ovndbsync:id": "p1"}}
	bound := ovsdb.Row{"chassis": ovsdb.UUID("ch1"), "external_ids": ovsdb.Map{"ovndbsync:id": "p1"}}

	if !ColumnChanged("chassis")(old, bound) {
		t.Fatalf("expected chassis change to match")
	}
	if ColumnChanged("chassis")(bound, bound) {
		t.Fatalf("expected unchanged chassis to not match")
	}
	if !ExternalIDEquals("ovndbsync:id", "p1")(nil, bound) {
		t.Fatalf("expected external id match")
	}
	if !All(ColumnEquals("chassis", ovsdb.UUID("ch1")), ExternalIDEquals("ovndbsync:id", "p1"))(old, bound) {
		t.Fatalf("expected combined predicate match")
	}
	if ColumnEquals("chassis", ovsdb.UUID("ch1"))(bound, nil) == false {
		t.Fatalf("expected delete to use the old image")
	}
}

func TestReactionPanicDoesNotStopDispatch(t *testing.T) {
	g := gomega.NewWithT(t)
	dispatcher := NewDispatcher(logr.Discard())
	dispatcher.Subscribe(Matcher{Table: "Chassis"}, func(Event) { panic("boom") })
	sub := dispatcher.Subscribe(Matcher{Table: "Chassis"}, nil)

	dispatcher.Dispatch(Event{Table: "Chassis", Kind: Insert, UUID: "c", New: ovsdb.Row{"name": "host-1"}})
	g.Expect(sub.Wait(time.Second)).To(gomega.BeTrue())
}
