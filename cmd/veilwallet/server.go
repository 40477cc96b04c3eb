package main

import (
	"github.com/tjstebbing/conductor"
	veil "github.com/veilnet/veilwallet/pkg"
	"github.com/veilnet/veilwallet/pkg/receivers"
	"github.com/veilnet/veilwallet/pkg/safe"
	"github.com/veilnet/veilwallet/pkg/services"
	"github.com/veilnet/veilwallet/pkg/signer"
	"github.com/veilnet/veilwallet/pkg/store"
	"github.com/veilnet/veilwallet/pkg/webapi"
)

func Server(conf veil.Config) {

	c := conductor.New(
		conductor.HookSignals(),
		conductor.Noisy(),
	)

	// Start the MessageBus Service
	bus := veil.NewMessageBus()
	c.Service("MessageBus", bus)

	// Set up all configured receivers
	receivers.SetUpReceivers(c, bus, conf)

	// Remote Safe service client
	safeClient := safe.NewClient(conf)

	// Local signer daemon (kernel build/sign + PIN key derivation)
	signerRPC, err := signer.NewSignerRPC(conf)
	if err != nil {
		panic(err)
	}

	// Setup a Store
	db, err := store.NewSQLiteStore(conf.Store.DBFile)
	if err != nil {
		panic(err)
	}
	defer db.Close()

	// Start internal services
	services.StartServices(c, bus, conf, db, safeClient)

	// The engine serves one wallet owner; the first watched member is
	// the session identity.
	owner := ""
	if len(conf.Veilwallet.Members) > 0 {
		owner = conf.Veilwallet.Members[0]
	}
	session := veil.NewSession(owner)
	engine := veil.NewEngine(db, safeClient, signerRPC, signerRPC, session, &bus, conf)

	// Start the Control API
	p, err := webapi.NewWebAPI(conf, engine)
	if err != nil {
		panic(err)
	}
	c.Service("Control API", p)

	<-c.Start()
}
