package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewCollector(reg)
	require.NoError(t, err)

	c.StatementPrepared()
	c.Executed("select")
	c.Executed("select")
	c.RowsFetched(3)
	c.BlobRead(10)
	c.BlobWritten(4)
	c.TransactionResolved("commit")
	c.EventsDelivered(2)
	c.InfoRegrown()

	assert.Equal(t, 1.0, testutil.ToFloat64(c.statementsPrepared))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.executes.WithLabelValues("select")))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.rowsFetched))
	assert.Equal(t, 10.0, testutil.ToFloat64(c.blobBytes.WithLabelValues("read")))
	assert.Equal(t, 4.0, testutil.ToFloat64(c.blobBytes.WithLabelValues("write")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.transactions.WithLabelValues("commit")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.eventsDelivered))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.infoRegrows))

	_, err = NewCollector(reg)
	assert.Error(t, err, "registering twice must fail")
}

func TestNilCollectorIsNoop(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.StatementPrepared()
		c.Executed("insert")
		c.RowsFetched(1)
		c.BlobRead(1)
		c.BlobWritten(1)
		c.TransactionResolved("rollback")
		c.EventsDelivered(1)
		c.InfoRegrown()
	})
}
