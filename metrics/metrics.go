// Package metrics exposes Prometheus collectors for the driver.
//
// A nil *Collector is valid and records nothing, so components take one
// unconditionally from their configuration.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "fbdriver"

// Collector groups the driver's counters.
type Collector struct {
	statementsPrepared prometheus.Counter
	executes           *prometheus.CounterVec
	rowsFetched        prometheus.Counter
	blobBytes          *prometheus.CounterVec
	transactions       *prometheus.CounterVec
	eventsDelivered    prometheus.Counter
	infoRegrows        prometheus.Counter
}

// NewCollector creates the driver counters and registers them with reg.
// A nil reg leaves them unregistered.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		statementsPrepared: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "statement",
				Name:      "prepared_total",
				Help:      "Total number of statements prepared.",
			}),
		executes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "statement",
				Name:      "executed_total",
				Help:      "Total number of statement executions by statement type.",
			}, []string{"type"}),
		rowsFetched: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "statement",
				Name:      "rows_fetched_total",
				Help:      "Total number of rows fetched.",
			}),
		blobBytes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "blob",
				Name:      "bytes_total",
				Help:      "Total number of blob bytes transferred by direction.",
			}, []string{"direction"}),
		transactions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "transaction",
				Name:      "resolved_total",
				Help:      "Total number of transactions resolved by outcome.",
			}, []string{"outcome"}),
		eventsDelivered: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "events",
				Name:      "delivered_total",
				Help:      "Total number of event notifications counted.",
			}),
		infoRegrows: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "info",
				Name:      "regrow_total",
				Help:      "Total number of info requests retried with a larger buffer.",
			}),
	}
	if reg != nil {
		for _, m := range c.collectors() {
			if err := reg.Register(m); err != nil {
				return nil, err
			}
		}
	}
	return c, nil
}

func (c *Collector) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		c.statementsPrepared,
		c.executes,
		c.rowsFetched,
		c.blobBytes,
		c.transactions,
		c.eventsDelivered,
		c.infoRegrows,
	}
}

// StatementPrepared counts one prepare.
func (c *Collector) StatementPrepared() {
	if c == nil {
		return
	}
	c.statementsPrepared.Inc()
}

// Executed counts one execution of a statement of the given type.
func (c *Collector) Executed(stmtType string) {
	if c == nil {
		return
	}
	c.executes.WithLabelValues(stmtType).Inc()
}

// RowsFetched counts fetched rows.
func (c *Collector) RowsFetched(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.rowsFetched.Add(float64(n))
}

// BlobRead counts blob bytes read.
func (c *Collector) BlobRead(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.blobBytes.WithLabelValues("read").Add(float64(n))
}

// BlobWritten counts blob bytes written.
func (c *Collector) BlobWritten(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.blobBytes.WithLabelValues("write").Add(float64(n))
}

// TransactionResolved counts a commit, rollback or prepare. Outcomes
// carry a "_retaining" suffix when the transaction stays active.
func (c *Collector) TransactionResolved(outcome string) {
	if c == nil {
		return
	}
	c.transactions.WithLabelValues(outcome).Inc()
}

// EventsDelivered counts event notifications.
func (c *Collector) EventsDelivered(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.eventsDelivered.Add(float64(n))
}

// InfoRegrown counts one info-buffer regrow.
func (c *Collector) InfoRegrown() {
	if c == nil {
		return
	}
	c.infoRegrows.Inc()
}
