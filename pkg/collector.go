package veil

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Collector hands out disjoint sets of unspent outputs to concurrent
// payment operations. Reservation is in-memory only; the store state
// changes when a set is finalized inside a payment's transaction.
type Collector struct {
	mu        sync.Mutex
	store     Store
	bus       *MessageBus
	maxInputs int
	reserved  map[string]bool
}

func NewCollector(store Store, bus *MessageBus, maxInputs int) *Collector {
	return &Collector{
		store:     store,
		bus:       bus,
		maxInputs: maxInputs,
		reserved:  map[string]bool{},
	}
}

// Collect reserves the oldest unreserved unspent outputs of one
// kernel asset whose sum covers amount. It fails with
// OutputNotConfirmed when waiting on pending deposits would cover the
// shortfall, or InsufficientBalance when the asset genuinely cannot
// cover it even after every deposit confirms.
func (c *Collector) Collect(kernelAssetID string, amount decimal.Decimal) (*OutputCollection, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	outputs, err := c.store.ListUnspentOutputs(kernelAssetID, c.maxInputs*4)
	if err != nil {
		return nil, err
	}
	col := &OutputCollection{}
	for _, o := range outputs {
		if c.reserved[o.ID] {
			continue
		}
		value, err := o.DecimalAmount()
		if err != nil {
			return nil, err
		}
		col.Outputs = append(col.Outputs, o)
		col.Amount = col.Amount.Add(value)
		if col.Amount.GreaterThanOrEqual(amount) {
			break
		}
		if len(col.Outputs) >= c.maxInputs {
			return nil, NewErr(MaxSpendingCount, "amount %s needs more than %d outputs", amount, c.maxInputs)
		}
	}
	if col.Amount.LessThan(amount) {
		pending, perr := c.store.ListPendingOutputs(kernelAssetID)
		if perr != nil {
			return nil, perr
		}
		confirmable := col.Amount
		for _, o := range pending {
			value, verr := o.DecimalAmount()
			if verr != nil {
				return nil, verr
			}
			confirmable = confirmable.Add(value)
		}
		if len(pending) > 0 && confirmable.GreaterThanOrEqual(amount) {
			return nil, NewErr(OutputNotConfirmed, "%d deposits awaiting confirmation", len(pending))
		}
		return nil, NewErr(InsufficientBalance, "available %s, need %s", col.Amount, amount)
	}
	for _, o := range col.Outputs {
		c.reserved[o.ID] = true
	}
	return col, nil
}

// CollectAll reserves up to maxInputs unreserved unspent outputs for
// consolidation, regardless of amount. An empty asset is not an error;
// the caller checks the collection size.
func (c *Collector) CollectAll(kernelAssetID string) (*OutputCollection, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	outputs, err := c.store.ListUnspentOutputs(kernelAssetID, c.maxInputs)
	if err != nil {
		return nil, err
	}
	col := &OutputCollection{}
	for _, o := range outputs {
		if c.reserved[o.ID] {
			continue
		}
		value, err := o.DecimalAmount()
		if err != nil {
			return nil, err
		}
		col.Outputs = append(col.Outputs, o)
		col.Amount = col.Amount.Add(value)
	}
	for _, o := range col.Outputs {
		c.reserved[o.ID] = true
	}
	return col, nil
}

// Reserve takes one specific output, for flows that spend a known
// output in full rather than collecting by amount.
func (c *Collector) Reserve(output Output) (*OutputCollection, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.reserved[output.ID] {
		return nil, NewErr(NotAvailable, "output %s is reserved by another operation", output.ID)
	}
	value, err := output.DecimalAmount()
	if err != nil {
		return nil, err
	}
	c.reserved[output.ID] = true
	return &OutputCollection{Outputs: []Output{output}, Amount: value}, nil
}

// CollectOrWait retries Collect while outputs are unconfirmed,
// requesting a sync each round, until the context ends or the
// session logs out. Other failures return immediately.
func (c *Collector) CollectOrWait(ctx context.Context, session *Session, kernelAssetID string, amount decimal.Decimal, wait time.Duration) (*OutputCollection, error) {
	for {
		col, err := c.Collect(kernelAssetID, amount)
		if err == nil {
			return col, nil
		}
		if !IsError(err, OutputNotConfirmed) {
			return nil, err
		}
		if c.bus != nil {
			c.bus.Send(OUT_SYNC_REQUESTED, kernelAssetID)
		}
		if lerr := session.RequireLogin(); lerr != nil {
			return nil, lerr
		}
		select {
		case <-ctx.Done():
			return nil, err
		case <-time.After(wait):
		}
	}
}

// Release returns a reserved collection without spending it, after an
// aborted payment.
func (c *Collector) Release(col *OutputCollection) {
	if col == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, o := range col.Outputs {
		delete(c.reserved, o.ID)
	}
}

// Finalize marks a reserved collection signed inside the given store
// transaction and drops the reservation. The state change is guarded
// so a collection spent elsewhere fails the whole transaction.
func (c *Collector) Finalize(dbtx StoreTransaction, col *OutputCollection, signedAt string) error {
	if err := dbtx.SignOutputs(col.IDs(), signedAt); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, o := range col.Outputs {
		delete(c.reserved, o.ID)
	}
	return nil
}
