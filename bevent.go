package reactor

// BevEvent is the set of conditions reported through a buffered
// socket's event callback (spec §4.5, §7 "Error taxonomy").
type BevEvent uint16

const (
	BevEventReading BevEvent = 1 << iota
	BevEventWriting
	BevEventEOF
	BevEventError
	BevEventTimeout
	BevEventConnected
)

func (e BevEvent) String() string {
	s := ""
	for _, p := range []struct {
		bit  BevEvent
		name string
	}{
		{BevEventReading, "reading"}, {BevEventWriting, "writing"},
		{BevEventEOF, "eof"}, {BevEventError, "error"},
		{BevEventTimeout, "timeout"}, {BevEventConnected, "connected"},
	} {
		if e&p.bit != 0 {
			if s != "" {
				s += "|"
			}
			s += p.name
		}
	}
	if s == "" {
		return "none"
	}
	return s
}

// SuspendReason is a 16-bit bitmask of why a direction's demultiplexer
// registration is currently withdrawn (spec §4.5 "Suspension").
type SuspendReason uint16

const (
	SuspendUser      SuspendReason = 1 << iota // caller explicitly disabled this direction
	SuspendWatermark                           // a high watermark is currently exceeded
)

// BevOption configures a BufferedSocket at construction (spec §6
// "Configuration options enumerated").
type BevOption uint32

const (
	BevOptCloseOnFree BevOption = 1 << iota
	BevOptThreadSafe
	BevOptDeferCallbacks
	BevOptUnlockCallbacks
)

type connState int

const (
	connIdle connState = iota
	connConnecting
	connConnected
)

// ReadCallback fires when the input buffer has reached its low
// watermark with new data available.
type ReadCallback func(bs *BufferedSocket, arg any)

// WriteCallback fires when the output buffer has drained to its low
// watermark.
type WriteCallback func(bs *BufferedSocket, arg any)

// EventCallback fires for connection-lifecycle and error conditions.
type EventCallback func(bs *BufferedSocket, what BevEvent, errno error, arg any)
