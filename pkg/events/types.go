package events

import (
	"fmt"
	"strings"
)

// EventType identifies the kind of an event emitted on a node's event stream.
// It is used as the routing key for registered handlers.
type EventType int

const (
	// Other is the catch-all for variants this client does not know about
	Other EventType = iota
	ApiVersion
	SidecarVersion
	BlockAdded
	TransactionAccepted
	TransactionProcessed
	TransactionExpired
	Fault
	FinalitySignature
	Step
	Shutdown
)

var typeNames = map[EventType]string{
	Other:                "Other",
	ApiVersion:           "ApiVersion",
	SidecarVersion:       "SidecarVersion",
	BlockAdded:           "BlockAdded",
	TransactionAccepted:  "TransactionAccepted",
	TransactionProcessed: "TransactionProcessed",
	TransactionExpired:   "TransactionExpired",
	Fault:                "Fault",
	FinalitySignature:    "FinalitySignature",
	Step:                 "Step",
	Shutdown:             "Shutdown",
}

// typesByWireName maps the variant tag used on the wire to its event type.
// Other is deliberately absent: it is never a wire tag.
var typesByWireName = map[string]EventType{
	"ApiVersion":           ApiVersion,
	"SidecarVersion":       SidecarVersion,
	"BlockAdded":           BlockAdded,
	"TransactionAccepted":  TransactionAccepted,
	"TransactionProcessed": TransactionProcessed,
	"TransactionExpired":   TransactionExpired,
	"Fault":                Fault,
	"FinalitySignature":    FinalitySignature,
	"Step":                 Step,
	"Shutdown":             Shutdown,
}

// String returns the wire name of the event type
func (t EventType) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("EventType(%d)", int(t))
}

// ParseEventType resolves a name to an EventType. Matching is case-insensitive
// so command line input such as "blockadded" is accepted.
func ParseEventType(name string) (EventType, error) {
	for t, n := range typeNames {
		if strings.EqualFold(n, name) {
			return t, nil
		}
	}
	return Other, fmt.Errorf("unknown event type %q", name)
}

// AllTypes returns every event type in declaration order.
func AllTypes() []EventType {
	types := make([]EventType, 0, len(typeNames))
	for t := Other; t <= Shutdown; t++ {
		types = append(types, t)
	}
	return types
}

// DeliveredTypes returns the types a registered handler can receive. The
// ApiVersion handshake and Shutdown are consumed by the connection itself.
func DeliveredTypes() []EventType {
	types := make([]EventType, 0, len(typeNames)-2)
	for _, t := range AllTypes() {
		if t != ApiVersion && t != Shutdown {
			types = append(types, t)
		}
	}
	return types
}

// Classify derives the routing key for an envelope. It is total: any variant
// name that is not recognised maps to Other.
func Classify(env Envelope) EventType {
	if t, ok := typesByWireName[env.name]; ok {
		return t
	}
	return Other
}
