// Package fsm is a thin wrapper around github.com/qmuntal/stateless that
// gives the transaction and dialog layers a small, typed API surface
// (Configure/Permit/PermitIf/InternalTransition/OnEntry/FireCtx) instead of
// depending on the stateless package's interface{}-based signatures directly.
package fsm

import (
	"context"
	"reflect"

	"github.com/qmuntal/stateless"
)

// State identifies one node of a Machine's state graph. Transaction and
// dialog states are typically small string-based enums.
type State = stateless.State

// Trigger identifies an event that a Machine can fire.
type Trigger = stateless.Trigger

// Action runs when a Machine enters, exits or internally transitions
// through a state. args are the values passed to Fire/FireCtx for the
// trigger, in order, converted per SetTriggerParameters if configured.
type Action func(ctx context.Context, args ...any) error

// Guard decides whether a conditional transition may fire.
type Guard func(ctx context.Context, args ...any) bool

// Machine is a finite-state machine driven by named triggers. It is not
// safe for concurrent Configure calls; Fire/FireCtx are safe to call
// concurrently with each other once configuration is complete, matching
// the underlying stateless.StateMachine's own guarantees.
type Machine struct {
	sm *stateless.StateMachine
}

// New creates a Machine starting in the given state.
func New(initial State) *Machine {
	return &Machine{sm: stateless.NewStateMachine(initial)}
}

// Configure begins or resumes configuration of the given state.
func (m *Machine) Configure(state State) *StateConfig {
	return &StateConfig{cfg: m.sm.Configure(state)}
}

// SetTriggerParameters declares the argument types carried by a trigger,
// letting Action/Guard callbacks receive typed args instead of only
// whatever was passed to Fire/FireCtx.
func (m *Machine) SetTriggerParameters(trigger Trigger, argTypes ...reflect.Type) {
	m.sm.SetTriggerParameters(trigger, argTypes...)
}

// Fire fires trigger against the current state using context.Background.
func (m *Machine) Fire(trigger Trigger, args ...any) error {
	return m.sm.Fire(trigger, args...)
}

// FireCtx fires trigger against the current state.
func (m *Machine) FireCtx(ctx context.Context, trigger Trigger, args ...any) error {
	return m.sm.FireCtx(ctx, trigger, args...)
}

// CanFire reports whether trigger can be fired in the current state.
func (m *Machine) CanFire(trigger Trigger) bool {
	ok, _ := m.sm.CanFire(trigger)
	return ok
}

// State returns the machine's current state.
func (m *Machine) State() State {
	return m.sm.MustState()
}

// IsInState reports whether the machine is in state, or a substate of it.
func (m *Machine) IsInState(state State) bool {
	ok, _ := m.sm.IsInState(state)
	return ok
}

// OnUnhandledTrigger registers a callback invoked whenever a fired trigger
// has no permitted transition from the current state.
func (m *Machine) OnUnhandledTrigger(fn func(ctx context.Context, state State, trigger Trigger, unmetGuards []string)) {
	m.sm.OnUnhandledTrigger(func(_ context.Context, state stateless.State, trigger stateless.Trigger, unmetGuards []string) error {
		fn(context.Background(), state, trigger, unmetGuards)
		return nil
	})
}

// OnTransitioned registers a callback invoked after every completed
// transition, useful for logging state changes uniformly across states.
func (m *Machine) OnTransitioned(fn func(t Transition)) {
	m.sm.OnTransitioned(func(_ context.Context, t stateless.Transition) {
		fn(Transition{Source: t.Source, Destination: t.Destination, Trigger: t.Trigger})
	})
}

// Transition describes a completed state change.
type Transition struct {
	Source      State
	Destination State
	Trigger     Trigger
}

// StateConfig configures the transitions and callbacks of a single state.
type StateConfig struct {
	cfg *stateless.StateConfiguration
}

// Permit allows trigger to move the machine from this state to dest.
func (c *StateConfig) Permit(trigger Trigger, dest State) *StateConfig {
	c.cfg.Permit(trigger, dest)
	return c
}

// PermitIf allows trigger to move the machine from this state to dest only
// when guard returns true; if the guard fails the trigger is unhandled.
func (c *StateConfig) PermitIf(trigger Trigger, dest State, guard Guard) *StateConfig {
	c.cfg.Permit(trigger, dest, wrapGuard(guard))
	return c
}

// PermitReentry allows trigger to re-enter this state, running its
// OnExit/OnEntry callbacks without changing state.
func (c *StateConfig) PermitReentry(trigger Trigger) *StateConfig {
	c.cfg.PermitReentry(trigger)
	return c
}

// Ignore makes trigger a no-op in this state instead of an error.
func (c *StateConfig) Ignore(trigger Trigger) *StateConfig {
	c.cfg.Ignore(trigger)
	return c
}

// InternalTransition runs action for trigger without leaving this state
// and without running OnEntry/OnExit callbacks.
func (c *StateConfig) InternalTransition(trigger Trigger, action Action) *StateConfig {
	c.cfg.InternalTransition(trigger, wrapAction(action))
	return c
}

// OnEntry runs action whenever this state is entered, regardless of the
// trigger that caused the transition.
func (c *StateConfig) OnEntry(action Action) *StateConfig {
	c.cfg.OnEntry(wrapAction(action))
	return c
}

// OnEntryFrom runs action only when this state is entered because of trigger.
func (c *StateConfig) OnEntryFrom(trigger Trigger, action Action) *StateConfig {
	c.cfg.OnEntryFrom(trigger, wrapAction(action))
	return c
}

// OnExit runs action whenever this state is left.
func (c *StateConfig) OnExit(action Action) *StateConfig {
	c.cfg.OnExit(wrapAction(action))
	return c
}

// SubstateOf marks this state as a substate of parent, so triggers
// permitted on parent are also permitted here.
func (c *StateConfig) SubstateOf(parent State) *StateConfig {
	c.cfg.SubstateOf(parent)
	return c
}

func wrapAction(action Action) stateless.ActionFunc {
	return func(ctx context.Context, args ...any) error {
		return action(ctx, args...)
	}
}

func wrapGuard(guard Guard) stateless.GuardFunc {
	return func(ctx context.Context, args ...any) bool {
		return guard(ctx, args...)
	}
}
