package native

import (
	"encoding/binary"

	"github.com/tomyedwab/fbdriver/dberr"
)

// EventBlock encodes the event parameter block for names. The returned
// event and result buffers have the same layout: a version byte, then for
// each name a length byte, the name and a 4-byte little-endian count.
func EventBlock(names []string) (eventBuf, resultBuf []byte, err error) {
	if len(names) == 0 {
		return nil, nil, dberr.NewInterfaceError("an event block needs at least one event name")
	}
	if len(names) > MaxEventNames {
		return nil, nil, dberr.NewInterfaceError("an event block holds at most %d names, got %d", MaxEventNames, len(names))
	}
	eventBuf = []byte{EPBVersion1}
	for _, name := range names {
		if len(name) == 0 || len(name) > 255 {
			return nil, nil, dberr.NewDataError("event name %q must be 1..255 bytes", name)
		}
		eventBuf = append(eventBuf, byte(len(name)))
		eventBuf = append(eventBuf, name...)
		eventBuf = append(eventBuf, 0, 0, 0, 0)
	}
	return eventBuf, append([]byte(nil), eventBuf...), nil
}

// ParseEventBlock decodes the names and counts of an event parameter block.
func ParseEventBlock(buf []byte) (names []string, counts []uint32, err error) {
	if len(buf) == 0 || buf[0] != EPBVersion1 {
		return nil, nil, dberr.NewInternalError("malformed event parameter block")
	}
	for pos := 1; pos < len(buf); {
		n := int(buf[pos])
		pos++
		if pos+n+4 > len(buf) {
			return nil, nil, dberr.NewInternalError("event parameter block entry overruns the buffer")
		}
		names = append(names, string(buf[pos:pos+n]))
		pos += n
		counts = append(counts, binary.LittleEndian.Uint32(buf[pos:]))
		pos += 4
	}
	return names, counts, nil
}

// SetEventCounts writes counts into the count slots of an event block in place.
func SetEventCounts(buf []byte, counts []uint32) error {
	if len(buf) == 0 || buf[0] != EPBVersion1 {
		return dberr.NewInternalError("malformed event parameter block")
	}
	i := 0
	for pos := 1; pos < len(buf) && i < len(counts); i++ {
		n := int(buf[pos])
		pos += 1 + n
		if pos+4 > len(buf) {
			return dberr.NewInternalError("event parameter block entry overruns the buffer")
		}
		binary.LittleEndian.PutUint32(buf[pos:], counts[i])
		pos += 4
	}
	return nil
}

// EventCounts returns, per name, how far the counts in resultBuf advanced
// past those in eventBuf, then copies resultBuf into eventBuf so the next
// registration waits for newer postings.
func EventCounts(eventBuf, resultBuf []byte) ([]uint32, error) {
	if len(eventBuf) != len(resultBuf) {
		return nil, dberr.NewInternalError("event buffers differ in length: %d and %d", len(eventBuf), len(resultBuf))
	}
	_, before, err := ParseEventBlock(eventBuf)
	if err != nil {
		return nil, err
	}
	_, after, err := ParseEventBlock(resultBuf)
	if err != nil {
		return nil, err
	}
	deltas := make([]uint32, len(before))
	for i := range before {
		if after[i] > before[i] {
			deltas[i] = after[i] - before[i]
		}
	}
	copy(eventBuf, resultBuf)
	return deltas, nil
}
