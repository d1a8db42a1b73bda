package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	ctrlmetrics "sigs.k8s.io/controller-runtime/pkg/metrics"
)

// Status update outcomes.
const (
	OutcomeSent    = "sent"
	OutcomeSkipped = "skipped"
	OutcomeError   = "error"
)

var (
	registerOnce sync.Once

	eventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ovndbsync_row_events_total",
		Help: "Total number of row change events dispatched grouped by table and kind.",
	}, []string{"table", "kind"})

	lockHeldGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ovndbsync_lock_held",
		Help: "Whether this process currently holds the named lock on a database (1) or not (0).",
	}, []string{"database", "lock"})

	statusUpdatesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ovndbsync_port_status_updates_total",
		Help: "Total number of port status changes grouped by status and outcome.",
	}, []string{"status", "outcome"})

	macBindingCleanupsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ovndbsync_mac_binding_cleanups_total",
		Help: "Total number of stale MAC binding cleanups grouped by outcome.",
	}, []string{"outcome"})

	macBindingsDeletedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ovndbsync_mac_bindings_deleted_total",
		Help: "Total number of MAC_Binding rows deleted by the cleanup path.",
	})

	reconnectsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ovndbsync_reconnects_total",
		Help: "Total number of mirror connection attempts after a disconnect.",
	}, []string{"database"})
)

func ensureRegistered() {
	registerOnce.Do(func() {
		ctrlmetrics.Registry.MustRegister(eventsTotal, lockHeldGauge, statusUpdatesTotal, macBindingCleanupsTotal, macBindingsDeletedTotal, reconnectsTotal)
	})
}

// RecordEventDispatched counts one dispatched row event.
func RecordEventDispatched(table, kind string) {
	ensureRegistered()
	eventsTotal.WithLabelValues(table, kind).Inc()
}

// SetLockHeld publishes the lock state of a connection.
func SetLockHeld(database, lock string, held bool) {
	ensureRegistered()
	value := 0.0
	if held {
		value = 1
	}
	lockHeldGauge.WithLabelValues(database, lock).Set(value)
}

// RecordStatusUpdate counts one port status change attempt.
func RecordStatusUpdate(status, outcome string) {
	ensureRegistered()
	statusUpdatesTotal.WithLabelValues(status, outcome).Inc()
}

// RecordMACBindingCleanup counts one cleanup attempt and the rows it removed.
func RecordMACBindingCleanup(deleted int, err error) {
	ensureRegistered()
	if err != nil {
		macBindingCleanupsTotal.WithLabelValues(OutcomeError).Inc()
		return
	}
	macBindingCleanupsTotal.WithLabelValues(OutcomeSent).Inc()
	macBindingsDeletedTotal.Add(float64(deleted))
}

// RecordReconnect counts one reconnect attempt.
func RecordReconnect(database string) {
	ensureRegistered()
	reconnectsTotal.WithLabelValues(database).Inc()
}
