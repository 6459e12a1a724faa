package trackerlist

import "fmt"

// Event is the announce event a request carries, stable across the wire.
type Event int

const (
	EventNone Event = iota
	EventCompleted
	EventStarted
	EventStopped
	EventScrape
)

func (e Event) String() string {
	switch e {
	case EventNone:
		return "none"
	case EventCompleted:
		return "completed"
	case EventStarted:
		return "started"
	case EventStopped:
		return "stopped"
	case EventScrape:
		return "scrape"
	default:
		return fmt.Sprintf("event(%d)", int(e))
	}
}

// Bit returns the event's bit in an event bitmap, as consumed by
// CloseAllExcluding and DisownAllIncluding.
func (e Event) Bit() uint32 { return 1 << uint(e) }

// Flags is the tracker flag bitset. The only bit this layer defines besides
// FlagExtraTracker is FlagCanScrape, which gates CanScrape(); protocol
// packages set it at construction based on what the variant supports.
type Flags uint32

const (
	FlagExtraTracker Flags = 1 << iota
	FlagCanScrape
)

// EnabledStatus is the tracker enabled tri-state.
type EnabledStatus int8

const (
	StatusOff EnabledStatus = iota
	StatusOn
	StatusUndefined
)

func (s EnabledStatus) String() string {
	switch s {
	case StatusOff:
		return "off"
	case StatusOn:
		return "on"
	default:
		return "undefined"
	}
}

// EnabledStatusFromInt64 decodes the tri-state's int64 serialization:
// 1=on, 0=off, anything else=undefined.
func EnabledStatusFromInt64(v int64) EnabledStatus {
	switch v {
	case 0:
		return StatusOff
	case 1:
		return StatusOn
	default:
		return StatusUndefined
	}
}

// ToInt64 is EnabledStatusFromInt64's inverse for {Off, On, Undefined}.
// Undefined encodes as 2, an arbitrary value outside {0, 1} chosen only so
// the round trip holds; any other raw value still decodes to Undefined.
func (s EnabledStatus) ToInt64() int64 {
	switch s {
	case StatusOff:
		return 0
	case StatusOn:
		return 1
	default:
		return 2
	}
}
