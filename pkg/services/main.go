package services

import (
	"github.com/tjstebbing/conductor"
	veil "github.com/veilnet/veilwallet/pkg"
)

func StartServices(cond interface {
	Service(string, conductor.Service)
}, bus veil.MessageBus, conf veil.Config, store veil.Store, safe veil.SafeService) {
	// OutputSync pulls newly confirmed outputs from the Safe service.
	sync := NewOutputSync(store, safe, bus, conf)
	cond.Service("OutputSync", sync)
	bus.Register(sync, veil.EVENT_OUT("OUT"))

	// Recovery re-drives signed transactions whose broadcast was
	// interrupted before settlement was confirmed.
	recovery := NewRecovery(store, safe, bus, conf)
	cond.Service("Recovery", recovery)
	bus.Register(recovery, veil.EVENT_RAW("RAW"))
}
