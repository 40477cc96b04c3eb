// Package receivers holds bus subscribers that push engine events to
// local sinks.
package receivers

import (
	"github.com/tjstebbing/conductor"
	veil "github.com/veilnet/veilwallet/pkg"
)

func SetUpReceivers(cond interface {
	Service(string, conductor.Service)
}, bus veil.MessageBus, conf veil.Config) {
	// loggers are the only built-in receiver kind; new sinks register
	// here the same way.
	SetupLoggers(cond, bus, conf)
}
