package events

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/lni/goutils/leaktest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomyedwab/fbdriver/dberr"
	"github.com/tomyedwab/fbdriver/native"
)

type registration struct {
	names []string
	seen  []uint32
	cb    native.EventCallback
}

// hub posts events the way the engine does: a registration whose counts
// lag the server's is answered at once, otherwise it waits for a posting.
// Server counts start at 1 so every new registration is primed.
type hub struct {
	native.API
	mu       sync.Mutex
	counts   map[string]uint32
	pending  map[native.EventID]registration
	next     native.EventID
	canceled []native.EventID
	failNext bool
	wg       sync.WaitGroup
}

func newHub() *hub {
	return &hub{counts: map[string]uint32{}, pending: map[native.EventID]registration{}}
}

func (h *hub) Interpret(c *native.StatusCursor) (string, bool) {
	_, _, ok := c.Next()
	return "event failure", ok
}

func (h *hub) SQLCode(native.StatusVector) int32 { return -901 }

func (h *hub) current(name string) uint32 {
	if n, ok := h.counts[name]; ok {
		return n
	}
	return 1
}

// fire answers r asynchronously. h.mu is held.
func (h *hub) fire(r registration) {
	buf, _, err := native.EventBlock(r.names)
	if err != nil {
		panic(err)
	}
	counts := make([]uint32, len(r.names))
	for i, n := range r.names {
		counts[i] = h.current(n)
	}
	if err := native.SetEventCounts(buf, counts); err != nil {
		panic(err)
	}
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		r.cb(buf)
	}()
}

func (h *hub) QueueEvents(db native.DBHandle, eventBuf []byte, cb native.EventCallback) (native.EventID, native.StatusVector) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.failNext {
		h.failNext = false
		return 0, native.NewStatus(native.GDSRandom, "queue full")
	}
	names, seen, err := native.ParseEventBlock(eventBuf)
	if err != nil {
		panic(err)
	}
	r := registration{names: names, seen: seen, cb: cb}
	h.next++
	for i, n := range names {
		if h.current(n) != seen[i] {
			h.fire(r)
			return h.next, native.OK()
		}
	}
	h.pending[h.next] = r
	return h.next, native.OK()
}

func (h *hub) CancelEvents(db native.DBHandle, id native.EventID) native.StatusVector {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.pending, id)
	h.canceled = append(h.canceled, id)
	return native.OK()
}

func (h *hub) post(name string, n uint32) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.counts[name] = h.current(name) + n
	for id, r := range h.pending {
		if slices.Contains(r.names, name) {
			delete(h.pending, id)
			h.fire(r)
		}
	}
}

func (h *hub) pendingCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.pending)
}

func TestWaitReportsPostedCounts(t *testing.T) {
	defer leaktest.AfterTest(t)()
	h := newHub()
	c, err := New(h, 1, []string{"A", "B"}, Options{})
	require.NoError(t, err)
	require.NoError(t, c.Begin())

	h.post("A", 2)
	counts, err := c.Wait(5 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"A": 2, "B": 0}, counts)

	c.Flush()
	counts, err = c.Wait(100 * time.Millisecond)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, map[string]int{"A": 0, "B": 0}, counts)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	h.wg.Wait()
}

func TestWaitZeroPolls(t *testing.T) {
	defer leaktest.AfterTest(t)()
	h := newHub()
	c, err := New(h, 1, []string{"A"}, Options{})
	require.NoError(t, err)
	require.NoError(t, c.Begin())

	start := time.Now()
	counts, err := c.Wait(0)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, map[string]int{"A": 0}, counts)
	assert.Less(t, time.Since(start), time.Second)

	h.post("A", 1)
	require.Eventually(t, func() bool {
		counts, err := c.Wait(0)
		return err == nil && counts["A"] == 1
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, c.Close())
	h.wg.Wait()
}

func TestNamesAreSplitIntoBlocks(t *testing.T) {
	defer leaktest.AfterTest(t)()
	names := make([]string, 20)
	for i := range names {
		names[i] = fmt.Sprintf("EV%02d", i)
	}
	h := newHub()
	c, err := New(h, 1, names, Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, c.Blocks())
	require.NoError(t, c.Begin())

	h.post("EV17", 1)
	counts, err := c.Wait(5 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, counts["EV17"])
	assert.Len(t, counts, 20)

	require.Eventually(t, func() bool { return h.pendingCount() == 2 }, 5*time.Second, 10*time.Millisecond)
	require.NoError(t, c.Close())
	assert.Len(t, h.canceled, 2)
	assert.Equal(t, 0, h.pendingCount())
	h.wg.Wait()
}

func TestWaitContextCancel(t *testing.T) {
	defer leaktest.AfterTest(t)()
	h := newHub()
	c, err := New(h, 1, []string{"A"}, Options{})
	require.NoError(t, err)
	require.NoError(t, c.Begin())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err = c.WaitContext(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	require.NoError(t, c.Close())
	_, err = c.Wait(time.Second)
	assert.True(t, dberr.IsInterfaceError(err))
	assert.True(t, dberr.IsInterfaceError(c.Begin()))
	h.wg.Wait()
}

func TestCloseWakesWaiters(t *testing.T) {
	defer leaktest.AfterTest(t)()
	h := newHub()
	c, err := New(h, 1, []string{"A"}, Options{})
	require.NoError(t, err)
	require.NoError(t, c.Begin())

	errc := make(chan error, 1)
	go func() {
		_, err := c.Wait(-1)
		errc <- err
	}()
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, c.Close())
	select {
	case err := <-errc:
		assert.True(t, dberr.IsInterfaceError(err))
	case <-time.After(5 * time.Second):
		t.Fatal("waiter was not woken by Close")
	}
	h.wg.Wait()
}

func TestRegistrationFailure(t *testing.T) {
	defer leaktest.AfterTest(t)()
	h := newHub()
	h.failNext = true
	c, err := New(h, 1, []string{"A"}, Options{})
	require.NoError(t, err)
	err = c.Begin()
	require.Error(t, err)
	assert.True(t, dberr.IsOperationalError(err))
	assert.True(t, c.Closed())
}

func TestNewValidatesNames(t *testing.T) {
	_, err := New(newHub(), 1, nil, Options{})
	assert.True(t, dberr.IsInterfaceError(err))
	_, err = New(newHub(), 1, []string{"A", "A"}, Options{})
	assert.True(t, dberr.IsInterfaceError(err))

	c, err := New(newHub(), 1, []string{"A"}, Options{})
	require.NoError(t, err)
	_, err = c.Wait(time.Millisecond)
	assert.True(t, dberr.IsInterfaceError(err))
	require.NoError(t, c.Close())
}
