package services

import (
	"context"
	"log"
	"strings"
	"time"

	veil "github.com/veilnet/veilwallet/pkg"
)

const (
	SYNC_INTERVAL = 20 * time.Second // time between pulls
	SYNC_PAGE     = 500              // outputs per request
)

// OutputSync pulls the watched members' outputs from the Safe service
// in sequence order and folds them into the local set. Newly confirmed
// deposits arrive this way, and outputs spent by other devices move to
// spent here.
type OutputSync struct {
	store veil.Store
	safe  veil.SafeService
	bus   veil.MessageBus
	conf  veil.Config

	// Rec receives sync-request events from the bus.
	Rec chan veil.Message
}

func NewOutputSync(store veil.Store, safe veil.SafeService, bus veil.MessageBus, conf veil.Config) OutputSync {
	return OutputSync{
		store: store,
		safe:  safe,
		bus:   bus,
		conf:  conf,
		Rec:   make(chan veil.Message, 100),
	}
}

// Implements veil.MessageSubscriber
func (o OutputSync) GetChan() chan veil.Message {
	return o.Rec
}

// Implements conductor.Service
func (o OutputSync) Run(started, stopped chan bool, stop chan context.Context) error {
	go func() {
		started <- true
		ticker := time.NewTicker(SYNC_INTERVAL)
		defer ticker.Stop()
		ctx := context.Background()
		o.pull(ctx)
		for {
			select {
			case <-stop:
				close(stopped)
				return
			case msg, ok := <-o.Rec:
				if ok && msg.EventType == veil.OUT_SYNC_REQUESTED {
					o.pull(ctx)
				}
			case <-ticker.C:
				o.pull(ctx)
			}
		}
	}()
	return nil
}

// pull fetches pages after the highest local sequence until a short
// page arrives.
func (o OutputSync) pull(ctx context.Context) {
	members := strings.Join(o.conf.Veilwallet.Members, ",")
	threshold := o.conf.Veilwallet.Threshold
	for {
		offset, err := o.store.MaxOutputSequence()
		if err != nil {
			log.Println("OutputSync: MaxOutputSequence:", err)
			return
		}
		outputs, err := o.safe.Outputs(ctx, members, threshold, offset+1, SYNC_PAGE)
		if err != nil {
			log.Println("OutputSync: Outputs:", err)
			return
		}
		if len(outputs) == 0 {
			return
		}
		if err := o.apply(outputs); err != nil {
			log.Println("OutputSync: apply:", err)
			return
		}
		o.bus.Send(veil.OUT_SYNCED, len(outputs))
		if len(outputs) < SYNC_PAGE {
			return
		}
	}
}

func (o OutputSync) apply(outputs []veil.Output) error {
	dbtx, err := o.store.Begin()
	if err != nil {
		return err
	}
	defer dbtx.Rollback()
	if err := dbtx.UpsertOutputs(outputs); err != nil {
		return err
	}
	// The feed only carries kernel asset IDs; the balance cache keys
	// by the same ID until a token record maps it.
	assets := map[string]bool{}
	for _, out := range outputs {
		assets[out.KernelAssetID] = true
	}
	for asset := range assets {
		if err := dbtx.UpdateBalance(asset, asset); err != nil {
			return err
		}
	}
	return dbtx.Commit()
}
