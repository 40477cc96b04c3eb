package veil

// Veilwallet event types

// bus.Send(PAY_SETTLED, payload)
// bus.Send(RAW_RECOVERED, rawTx)

// Interface for any event
type EventType interface {
	Type() string
}

// slice of all event types for config funcs lookup
var EVENT_TYPES []EventType = []EventType{EVENT_ALL("ALL"),
	EVENT_SYS("SYS"),
	EVENT_PAY("PAY"),
	EVENT_OUT("OUT"),
	EVENT_RAW("RAW")}

// Special category, do not use directly, represents *
type EVENT_ALL string

func (e EVENT_ALL) Type() string {
	return "ALL"
}

// System Events
type EVENT_SYS string

func (e EVENT_SYS) Type() string {
	return "SYS"
}

const (
	SYS_STARTUP EVENT_SYS = "STARTUP"
	SYS_ERR     EVENT_SYS = "ERR"
	SYS_MSG     EVENT_SYS = "MSG"
)

// Payment lifecycle events
type EVENT_PAY string

func (e EVENT_PAY) Type() string {
	return "PAY"
}

const (
	PAY_SIGNED    EVENT_PAY = "SIGNED"    // local durable commit done
	PAY_BROADCAST EVENT_PAY = "BROADCAST" // posted to the Safe service
	PAY_SETTLED   EVENT_PAY = "SETTLED"   // remote acceptance confirmed
	PAY_PARTIAL   EVENT_PAY = "PARTIAL"   // inconsistent broadcast, subset settled
	PAY_FAILED    EVENT_PAY = "FAILED"
)

// Output set events
type EVENT_OUT string

func (e EVENT_OUT) Type() string {
	return "OUT"
}

const (
	OUT_SYNC_REQUESTED EVENT_OUT = "SYNC_REQUESTED"
	OUT_SYNCED         EVENT_OUT = "SYNCED"
	OUT_CONSOLIDATED   EVENT_OUT = "CONSOLIDATED"
)

// Raw-transaction recovery events
type EVENT_RAW string

func (e EVENT_RAW) Type() string {
	return "RAW"
}

const (
	RAW_RECOVERY_REQUESTED EVENT_RAW = "RECOVERY_REQUESTED"
	RAW_RECOVERED          EVENT_RAW = "RECOVERED"
	RAW_RECOVERY_FAILED    EVENT_RAW = "RECOVERY_FAILED"
)
