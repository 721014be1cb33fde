package curf

import "fmt"

type EventType int

func (et EventType) String() string {
	switch et {
	case EventTypeError:
		return "ERROR"
	case EventTypeWarning:
		return "WARN"
	case EventTypeInfo:
		return "INFO"
	case EventTypeDebug:
		return "DEBUG"
	default:
		return "UNKNOWN"
	}
}

const (
	EventTypeError EventType = iota
	EventTypeWarning
	EventTypeInfo
	EventTypeDebug
)

type Event struct {
	Type    EventType
	Details string
}

func (e Event) String() string {
	return fmt.Sprintf("[%s] %s", e.Type.String(), e.Details)
}

// BusState is the error state of the CAN controller as far as the adapter knows it
type BusState int

const (
	BusStateUnknown BusState = iota
	BusStateActive
	BusStatePassive
	BusStateError
)

func (s BusState) String() string {
	switch s {
	case BusStateActive:
		return "ACTIVE"
	case BusStatePassive:
		return "PASSIVE"
	case BusStateError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}
