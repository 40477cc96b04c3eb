package services

import (
	"context"
	"log"
	"time"

	veil "github.com/veilnet/veilwallet/pkg"
)

const (
	RECOVERY_INTERVAL = 30 * time.Second // time between sweeps
	RECOVERY_BATCH    = 50               // raw transactions per sweep
)

// Recovery sweeps unspent raw transactions: each one was durably
// signed locally, so it must be re-broadcast until the service
// confirms settlement. A transaction the service already knows is
// settled without a re-post.
type Recovery struct {
	store veil.Store
	safe  veil.SafeService
	bus   veil.MessageBus
	conf  veil.Config

	// Rec receives recovery-request events from the bus.
	Rec chan veil.Message
}

func NewRecovery(store veil.Store, safe veil.SafeService, bus veil.MessageBus, conf veil.Config) Recovery {
	return Recovery{
		store: store,
		safe:  safe,
		bus:   bus,
		conf:  conf,
		Rec:   make(chan veil.Message, 100),
	}
}

// Implements veil.MessageSubscriber
func (r Recovery) GetChan() chan veil.Message {
	return r.Rec
}

// Implements conductor.Service
func (r Recovery) Run(started, stopped chan bool, stop chan context.Context) error {
	go func() {
		started <- true
		ticker := time.NewTicker(RECOVERY_INTERVAL)
		defer ticker.Stop()
		ctx := context.Background()
		r.sweep(ctx)
		for {
			select {
			case <-stop:
				close(stopped)
				return
			case msg, ok := <-r.Rec:
				if ok && msg.EventType == veil.RAW_RECOVERY_REQUESTED {
					r.sweep(ctx)
				}
			case <-ticker.C:
				r.sweep(ctx)
			}
		}
	}()
	return nil
}

func (r Recovery) sweep(ctx context.Context) {
	txs, err := r.store.ListUnspentRawTransactions(RECOVERY_BATCH)
	if err != nil {
		log.Println("Recovery: ListUnspentRawTransactions:", err)
		return
	}
	for _, tx := range txs {
		if err := r.recover(ctx, tx); err != nil {
			log.Printf("Recovery: %s: %v\n", tx.RequestID, err)
			r.bus.Send(veil.RAW_RECOVERY_FAILED, veil.CodeOf(err), tx.RequestID)
		}
	}
}

// recover settles one raw transaction, re-posting it first if the
// service has no record of it.
func (r Recovery) recover(ctx context.Context, tx veil.RawTransaction) error {
	response, err := r.safe.Transaction(ctx, tx.RequestID)
	if veil.IsNotFoundError(err) {
		posted, perr := r.safe.PostTransaction(ctx, []veil.TransactionRequest{{ID: tx.RequestID, Raw: tx.RawTransaction}})
		if perr != nil {
			return perr
		}
		if len(posted) == 0 {
			return veil.NewErr(veil.MissingResponse, "empty broadcast response")
		}
		response = posted[0]
	} else if err != nil {
		return err
	}
	dbtx, err := r.store.Begin()
	if err != nil {
		return err
	}
	defer dbtx.Rollback()
	if err := dbtx.SignRawTransactions([]string{tx.RequestID}); err != nil {
		return err
	}
	if err := dbtx.SpendOutputs(tx.Inputs, veil.Now()); err != nil {
		return err
	}
	if response.SnapshotID != "" {
		if err := dbtx.UpdateTraceSnapshot(tx.RequestID, response.SnapshotID); err != nil {
			return err
		}
	}
	if err := dbtx.Commit(); err != nil {
		return err
	}
	r.bus.Send(veil.RAW_RECOVERED, response, tx.RequestID)
	return nil
}
