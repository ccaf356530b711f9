package loopback

import (
	"slices"

	"github.com/tomyedwab/fbdriver/native"
)

type registration struct {
	db    native.DBHandle
	file  string
	names []string
	cb    native.EventCallback
}

// current returns the posting counter of name in file. Counters of events
// never posted read as 1 so a fresh registration fires once. e.mu is held.
func (e *Engine) current(file, name string) uint32 {
	if n, ok := e.posted[file][name]; ok {
		return n
	}
	return 1
}

// fire delivers the current counters of r on a fresh goroutine. e.mu is held.
func (e *Engine) fire(r *registration) {
	buf, _, err := native.EventBlock(r.names)
	if err != nil {
		e.logger.Error("Failed to build event block", "error", err)
		return
	}
	counts := make([]uint32, len(r.names))
	for i, n := range r.names {
		counts[i] = e.current(r.file, n)
	}
	if err := native.SetEventCounts(buf, counts); err != nil {
		e.logger.Error("Failed to fill event block", "error", err)
		return
	}
	e.callbacks.Add(1)
	go func() {
		defer e.callbacks.Done()
		r.cb(buf)
	}()
}

// QueueEvents registers interest in the events of eventBuf. The callback
// fires at once when a counter already differs from the one in eventBuf,
// otherwise on the next commit posting one of the names.
func (e *Engine) QueueEvents(db native.DBHandle, eventBuf []byte, callback native.EventCallback) (native.EventID, native.StatusVector) {
	a, sv := e.attachment(db)
	if sv.Failed() {
		return 0, sv
	}
	names, seen, err := native.ParseEventBlock(eventBuf)
	if err != nil {
		return 0, native.NewStatus(native.GDSRandom, err.Error())
	}
	r := &registration{db: db, file: a.file, names: names, cb: callback}

	e.mu.Lock()
	defer e.mu.Unlock()
	id := native.EventID(e.nextHandle())
	for i, n := range names {
		if e.current(a.file, n) != seen[i] {
			e.fire(r)
			return id, native.OK()
		}
	}
	e.events[id] = r
	return id, native.OK()
}

// CancelEvents drops a registration. Unknown or already fired ids are
// ignored.
func (e *Engine) CancelEvents(db native.DBHandle, id native.EventID) native.StatusVector {
	if _, sv := e.attachment(db); sv.Failed() {
		return sv
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.events, id)
	return native.OK()
}

// deliver counts the events committed on file and fires every registration
// waiting for one of them.
func (e *Engine) deliver(file string, names []string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	counters, ok := e.posted[file]
	if !ok {
		counters = make(map[string]uint32)
		e.posted[file] = counters
	}
	for _, n := range names {
		counters[n] = e.current(file, n) + 1
	}
	for id, r := range e.events {
		if r.file != file {
			continue
		}
		if slices.ContainsFunc(r.names, func(n string) bool { return slices.Contains(names, n) }) {
			delete(e.events, id)
			e.fire(r)
		}
	}
}

// PostEvent posts names on the database of db as if a transaction posting
// them had just committed.
func (e *Engine) PostEvent(db native.DBHandle, names ...string) error {
	a, sv := e.attachment(db)
	if sv.Failed() {
		return native.StatusError(e, sv, "Error while posting event:")
	}
	if len(names) > 0 {
		e.deliver(a.file, names)
	}
	return nil
}
