// Package payment implements Payment Integration: the payment state machine
// fed by authorized processors, and the bridge that turns completed payments
// into entitlements in the Access Registry.
package payment

import (
	"fmt"

	"arkavo.org/accesscore/internal/chain"
	"arkavo.org/accesscore/internal/registry"
	"arkavo.org/accesscore/internal/state"
)

// MaxStringLength bounds providers, transaction ids and failure reasons.
const MaxStringLength = 256

// EntitlementRegistry is the part of the Access Registry payments drive.
type EntitlementRegistry interface {
	GetEntitlement(c *chain.Call, account chain.Address) (registry.Level, error)
	GrantEntitlement(c *chain.Call, account chain.Address, level registry.Level) error
	RevokeEntitlement(c *chain.Call, account chain.Address) error
}

// Integration is the handle on a Payment Integration module at one address.
type Integration struct {
	addr       chain.Address
	failPolicy FailPolicy

	owner      state.Value[chain.Address]
	registry   state.Value[chain.Address]
	nextID     state.Value[uint32]
	processors state.Mapping[chain.Address, bool]
	payments   state.Mapping[uint32, Payment]
	byTx       state.Mapping[string, uint32]
	completed  state.Mapping[chain.Address, []uint32]
}

// Option configures an Integration handle.
type Option func(*Integration)

// WithFailPolicy selects which statuses FailPayment accepts.
func WithFailPolicy(p FailPolicy) Option {
	return func(i *Integration) { i.failPolicy = p }
}

// New returns the handle for the module at addr.
func New(addr chain.Address, opts ...Option) *Integration {
	i := &Integration{
		addr:       addr,
		owner:      state.NewValue[chain.Address](addr, "owner"),
		registry:   state.NewValue[chain.Address](addr, "access_registry"),
		nextID:     state.NewValue[uint32](addr, "next_payment_id"),
		processors: state.NewMapping[chain.Address, bool](addr, "processors", state.AddressKey),
		payments:   state.NewMapping[uint32, Payment](addr, "payments", state.Uint32Key),
		byTx:       state.NewMapping[string, uint32](addr, "payments_by_tx", state.StringKey),
		completed:  state.NewMapping[chain.Address, []uint32](addr, "completed_by_account", state.AddressKey),
	}
	for _, o := range opts {
		o(i)
	}
	return i
}

func (i *Integration) Address() chain.Address { return i.addr }
func (i *Integration) FailPolicy() FailPolicy { return i.failPolicy }

// Init captures the caller as owner; the owner is an authorized processor.
func (i *Integration) Init(c *chain.Call) error {
	if _, ok, err := i.owner.Get(c); err != nil {
		return err
	} else if ok {
		return chain.ErrAlreadyInitialized
	}
	if err := i.owner.Set(c, c.Caller()); err != nil {
		return err
	}
	return i.processors.Set(c, c.Caller(), true)
}

func (i *Integration) Owner(c *chain.Call) (chain.Address, error) {
	return i.owner.GetOr(c, chain.Address{})
}

func (i *Integration) requireOwner(c *chain.Call) error {
	owner, err := i.Owner(c)
	if err != nil {
		return err
	}
	if owner == (chain.Address{}) || c.Caller() != owner {
		return chain.ErrNotOwner
	}
	return nil
}

func (i *Integration) requireProcessor(c *chain.Call) error {
	ok, err := i.IsAuthorizedProcessor(c, c.Caller())
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", chain.ErrNotAuthorizedProcessor, c.Caller().Hex())
	}
	return nil
}

func (i *Integration) IsAuthorizedProcessor(c *chain.Call, addr chain.Address) (bool, error) {
	return i.processors.Has(c, addr)
}

// SetAccessRegistry points completions and refunds at the registry.
func (i *Integration) SetAccessRegistry(c *chain.Call, addr chain.Address) error {
	if err := i.requireOwner(c); err != nil {
		return err
	}
	if err := i.registry.Set(c, addr); err != nil {
		return err
	}
	c.Emit(chain.Event{Module: i.addr, Name: EventRegistrySet, Data: RegistrySet{Registry: addr}})
	return nil
}

func (i *Integration) AuthorizeProcessor(c *chain.Call, processor chain.Address) error {
	if err := i.requireOwner(c); err != nil {
		return err
	}
	if err := i.processors.Set(c, processor, true); err != nil {
		return err
	}
	c.Emit(chain.Event{Module: i.addr, Name: EventProcessorAuthorized, Topics: []chain.Hash{chain.TopicAddress(processor)}, Data: ProcessorChanged{Processor: processor}})
	return nil
}

// RevokeProcessor removes a processor. The owner cannot be revoked.
func (i *Integration) RevokeProcessor(c *chain.Call, processor chain.Address) error {
	if err := i.requireOwner(c); err != nil {
		return err
	}
	if processor == c.Caller() {
		return fmt.Errorf("%w: owner is always a processor", chain.ErrInvalidStatus)
	}
	i.processors.Delete(c, processor)
	c.Emit(chain.Event{Module: i.addr, Name: EventProcessorRevoked, Topics: []chain.Hash{chain.TopicAddress(processor)}, Data: ProcessorChanged{Processor: processor}})
	return nil
}

// RecordPayment stores a Pending payment and indexes its transaction id.
func (i *Integration) RecordPayment(c *chain.Call, account chain.Address, provider, transactionID string, amount uint64, level uint8) (uint32, error) {
	if err := i.requireProcessor(c); err != nil {
		return 0, err
	}
	if len(provider) > MaxStringLength || len(transactionID) > MaxStringLength {
		return 0, fmt.Errorf("%w: provider or transaction id over %d bytes", chain.ErrInputTooLong, MaxStringLength)
	}
	if _, err := registry.LevelFromByte(level); err != nil {
		return 0, err
	}
	if ok, err := i.byTx.Has(c, transactionID); err != nil {
		return 0, err
	} else if ok {
		return 0, fmt.Errorf("%w: %q", chain.ErrPaymentAlreadyExists, transactionID)
	}

	id, err := i.nextID.GetOr(c, 0)
	if err != nil {
		return 0, err
	}
	p := Payment{
		ID:                 id,
		Account:            account,
		Provider:           provider,
		TransactionID:      transactionID,
		Amount:             amount,
		EntitlementGranted: level,
		Status:             StatusPending,
		Timestamp:          c.BlockTimestamp(),
	}
	if err := i.payments.Set(c, id, p); err != nil {
		return 0, err
	}
	if err := i.byTx.Set(c, transactionID, id); err != nil {
		return 0, err
	}
	if err := i.nextID.Set(c, id+1); err != nil {
		return 0, err
	}
	c.Emit(chain.Event{
		Module: i.addr,
		Name:   EventPaymentRecorded,
		Topics: []chain.Hash{chain.TopicUint(uint64(id)), chain.TopicAddress(account)},
		Data: PaymentRecorded{
			PaymentID:       id,
			Account:         account,
			PaymentProvider: provider,
			TransactionID:   transactionID,
			Amount:          amount,
		},
	})
	return id, nil
}

func (i *Integration) load(c *chain.Call, id uint32) (Payment, error) {
	p, ok, err := i.payments.Get(c, id)
	if err != nil {
		return Payment{}, err
	}
	if !ok {
		return Payment{}, fmt.Errorf("%w: %d", chain.ErrPaymentNotFound, id)
	}
	return p, nil
}

func (i *Integration) entitlements(c *chain.Call) (EntitlementRegistry, error) {
	addr, err := i.registry.GetOr(c, chain.Address{})
	if err != nil {
		return nil, err
	}
	mod, ok := c.Module(addr)
	if !ok {
		return nil, fmt.Errorf("%w: access registry", chain.ErrContractNotConfigured)
	}
	reg, ok := mod.(EntitlementRegistry)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not an access registry", chain.ErrContractNotConfigured, addr.Hex())
	}
	return reg, nil
}

// CompletePayment moves a Pending payment to Completed and raises the
// account's entitlement to the payment's level. An account already at or
// above that level keeps its level. A registry failure fails the whole call.
func (i *Integration) CompletePayment(c *chain.Call, id uint32) error {
	if err := i.requireProcessor(c); err != nil {
		return err
	}
	p, err := i.load(c, id)
	if err != nil {
		return err
	}
	if p.Status != StatusPending {
		return fmt.Errorf("%w: payment %d is %s", chain.ErrInvalidStatus, id, p.Status)
	}
	reg, err := i.entitlements(c)
	if err != nil {
		return err
	}
	level, err := registry.LevelFromByte(p.EntitlementGranted)
	if err != nil {
		return err
	}

	p.Status = StatusCompleted
	if err := i.payments.Set(c, id, p); err != nil {
		return err
	}
	if err := i.addCompleted(c, p.Account, id); err != nil {
		return err
	}
	sub, err := c.As(i.addr)
	if err != nil {
		return err
	}
	current, err := reg.GetEntitlement(sub, p.Account)
	if err != nil {
		return err
	}
	if level > current {
		if err := reg.GrantEntitlement(sub, p.Account, level); err != nil {
			return fmt.Errorf("grant entitlement for payment %d: %w", id, err)
		}
	}
	c.Emit(chain.Event{
		Module: i.addr,
		Name:   EventPaymentCompleted,
		Topics: []chain.Hash{chain.TopicUint(uint64(id)), chain.TopicAddress(p.Account)},
		Data:   PaymentCompleted{PaymentID: id, Account: p.Account, EntitlementGranted: p.EntitlementGranted},
	})
	return nil
}

// FailPayment moves a payment to Failed. Under FailStrict only Pending
// payments may fail; FailOverride accepts any status and leaves the
// entitlement of a failed Completed payment in place.
func (i *Integration) FailPayment(c *chain.Call, id uint32, reason string) error {
	if err := i.requireProcessor(c); err != nil {
		return err
	}
	if len(reason) > MaxStringLength {
		return fmt.Errorf("%w: reason is %d bytes (max %d)", chain.ErrInputTooLong, len(reason), MaxStringLength)
	}
	p, err := i.load(c, id)
	if err != nil {
		return err
	}
	if i.failPolicy == FailStrict && p.Status != StatusPending {
		return fmt.Errorf("%w: payment %d is %s", chain.ErrInvalidStatus, id, p.Status)
	}
	if p.Status == StatusCompleted {
		if err := i.removeCompleted(c, p.Account, id); err != nil {
			return err
		}
	}
	p.Status = StatusFailed
	if err := i.payments.Set(c, id, p); err != nil {
		return err
	}
	c.Emit(chain.Event{
		Module: i.addr,
		Name:   EventPaymentFailed,
		Topics: []chain.Hash{chain.TopicUint(uint64(id))},
		Data:   PaymentFailed{PaymentID: id, Reason: reason},
	})
	return nil
}

// RefundPayment moves a Completed payment to Refunded. The account drops to
// the highest level among its remaining Completed payments; with none left
// its entitlement is revoked.
func (i *Integration) RefundPayment(c *chain.Call, id uint32) error {
	if err := i.requireProcessor(c); err != nil {
		return err
	}
	p, err := i.load(c, id)
	if err != nil {
		return err
	}
	if p.Status != StatusCompleted {
		return fmt.Errorf("%w: payment %d is %s", chain.ErrInvalidStatus, id, p.Status)
	}
	reg, err := i.entitlements(c)
	if err != nil {
		return err
	}
	p.Status = StatusRefunded
	if err := i.payments.Set(c, id, p); err != nil {
		return err
	}
	if err := i.removeCompleted(c, p.Account, id); err != nil {
		return err
	}
	keep, err := i.highestCompleted(c, p.Account)
	if err != nil {
		return err
	}
	sub, err := c.As(i.addr)
	if err != nil {
		return err
	}
	if keep == registry.LevelNone {
		if err := reg.RevokeEntitlement(sub, p.Account); err != nil {
			return fmt.Errorf("revoke entitlement for payment %d: %w", id, err)
		}
	} else {
		current, err := reg.GetEntitlement(sub, p.Account)
		if err != nil {
			return err
		}
		if current != keep {
			if err := reg.GrantEntitlement(sub, p.Account, keep); err != nil {
				return fmt.Errorf("regrant entitlement after refund of %d: %w", id, err)
			}
		}
	}
	c.Emit(chain.Event{
		Module: i.addr,
		Name:   EventPaymentRefunded,
		Topics: []chain.Hash{chain.TopicUint(uint64(id))},
		Data:   PaymentRefunded{PaymentID: id},
	})
	return nil
}

func (i *Integration) addCompleted(c *chain.Call, account chain.Address, id uint32) error {
	ids, _, err := i.completed.Get(c, account)
	if err != nil {
		return err
	}
	return i.completed.Set(c, account, append(ids, id))
}

func (i *Integration) removeCompleted(c *chain.Call, account chain.Address, id uint32) error {
	ids, _, err := i.completed.Get(c, account)
	if err != nil {
		return err
	}
	kept := ids[:0]
	for _, v := range ids {
		if v != id {
			kept = append(kept, v)
		}
	}
	if len(kept) == 0 {
		i.completed.Delete(c, account)
		return nil
	}
	return i.completed.Set(c, account, kept)
}

// highestCompleted is the largest level among account's Completed payments.
func (i *Integration) highestCompleted(c *chain.Call, account chain.Address) (registry.Level, error) {
	ids, _, err := i.completed.Get(c, account)
	if err != nil {
		return registry.LevelNone, err
	}
	best := registry.LevelNone
	for _, id := range ids {
		p, err := i.load(c, id)
		if err != nil {
			return registry.LevelNone, err
		}
		if lvl := registry.Level(p.EntitlementGranted); lvl > best {
			best = lvl
		}
	}
	return best, nil
}

// CompletedPayments lists account's payments currently in Completed.
func (i *Integration) CompletedPayments(c *chain.Call, account chain.Address) ([]uint32, error) {
	ids, _, err := i.completed.Get(c, account)
	return ids, err
}

func (i *Integration) GetPayment(c *chain.Call, id uint32) (Payment, bool, error) {
	return i.payments.Get(c, id)
}

func (i *Integration) GetPaymentByTransaction(c *chain.Call, transactionID string) (uint32, bool, error) {
	return i.byTx.Get(c, transactionID)
}

func (i *Integration) NextPaymentID(c *chain.Call) (uint32, error) {
	return i.nextID.GetOr(c, 0)
}
