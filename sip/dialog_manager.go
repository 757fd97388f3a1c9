package sip

import (
	"iter"
	"log/slog"
	"sync"
	"sync/atomic"

	"braces.dev/errtrace"

	"github.com/sipuastack/uacore/log"
)

// DialogManagerOptions carries the optional parts of a [DialogManager]
// built with [NewDialogManager].
type DialogManagerOptions struct {
	// Logger is the logger used by the manager. If nil, [log.Default] is used.
	Logger *slog.Logger
}

func (o *DialogManagerOptions) log() *slog.Logger {
	if o == nil || o.Logger == nil {
		return log.Default()
	}
	return o.Logger
}

// DialogManager keeps every dialog a process is party to indexed by
// [DialogID], and separately tracks not-yet-established UAC dialogs by
// (Call-ID, local-tag) so that forked responses to the same
// dialog-initiating INVITE can each be promoted into their own dialog
// (RFC 3261 §12.1.2).
type DialogManager struct {
	log *slog.Logger

	mu      sync.RWMutex
	pending map[string]*Dialog
	dialogs map[DialogID]*Dialog
	closed  atomic.Bool
}

// NewDialogManager creates an empty [DialogManager].
func NewDialogManager(opts *DialogManagerOptions) *DialogManager {
	return &DialogManager{
		log:     opts.log(),
		pending: make(map[string]*Dialog),
		dialogs: make(map[DialogID]*Dialog),
	}
}

func pendingDialogKey(callID, localTag string) string { return callID + "\x00" + localTag }

// RegisterPending records a freshly created UAC dialog, [DialogID.RemoteTag]
// not yet known, so that provisional and final responses to its INVITE can
// be matched against it with [DialogManager.Promote].
func (m *DialogManager) RegisterPending(dlg *Dialog) error {
	if m.closed.Load() {
		return errtrace.Wrap(ErrDialogManagerClosed)
	}
	id := dlg.ID()
	if id.CallID == "" || id.LocalTag == "" {
		return errtrace.Wrap(NewInvalidArgumentError("invalid dialog id"))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending[pendingDialogKey(id.CallID, id.LocalTag)] = dlg
	return nil
}

// Register records a dialog whose id is already complete, the normal case
// for a UAS dialog created by [NewUASDialog].
func (m *DialogManager) Register(dlg *Dialog) error {
	if m.closed.Load() {
		return errtrace.Wrap(ErrDialogManagerClosed)
	}
	id := dlg.ID()
	if id.CallID == "" || id.LocalTag == "" || id.RemoteTag == "" {
		return errtrace.Wrap(NewInvalidArgumentError("invalid dialog id"))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.dialogs[id]; ok {
		return errtrace.Wrap(ErrDialogExists)
	}
	m.dialogs[id] = dlg
	return nil
}

// Lookup returns the fully established dialog for id.
func (m *DialogManager) Lookup(id DialogID) (*Dialog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	dlg, ok := m.dialogs[id]
	if !ok {
		return nil, errtrace.Wrap(ErrDialogNotFound)
	}
	return dlg, nil
}

// Promote returns the dialog identified by (callID, localTag, remoteTag),
// registering one the first time this remoteTag is seen for a pending
// dialog registered under (callID, localTag). Every forked 2xx response to
// the same INVITE establishes its own dialog (RFC 3261 §12.1.2): the
// pending template stays available under its (Call-ID, local-tag) key so
// later branches can still find it, while each distinct remote tag gets an
// independent [Dialog] cloned from the template via [Dialog.forkClone].
// created reports whether this call created the dialog.
func (m *DialogManager) Promote(callID, localTag, remoteTag string) (dlg *Dialog, created bool, err error) {
	id := DialogID{CallID: callID, LocalTag: localTag, RemoteTag: remoteTag}

	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.dialogs[id]; ok {
		return existing, false, nil
	}

	tmpl, ok := m.pending[pendingDialogKey(callID, localTag)]
	if !ok {
		return nil, false, errtrace.Wrap(ErrDialogNotFound)
	}

	clone := tmpl.forkClone(remoteTag)
	m.dialogs[id] = clone
	return clone, true, nil
}

// Remove drops the dialog identified by id. If id has no remote tag, it
// also drops the pending template registered under its (Call-ID,
// local-tag) pair.
func (m *DialogManager) Remove(id DialogID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.dialogs, id)
	if id.RemoteTag == "" {
		delete(m.pending, pendingDialogKey(id.CallID, id.LocalTag))
	}
}

// All iterates every fully established dialog currently tracked. It
// snapshots the dialog set before iterating so the caller's loop body may
// freely call back into the manager (e.g. to Remove a terminated dialog).
func (m *DialogManager) All() iter.Seq[*Dialog] {
	return func(yield func(*Dialog) bool) {
		m.mu.RLock()
		dlgs := make([]*Dialog, 0, len(m.dialogs))
		for _, dlg := range m.dialogs {
			dlgs = append(dlgs, dlg)
		}
		m.mu.RUnlock()

		for _, dlg := range dlgs {
			if !yield(dlg) {
				return
			}
		}
	}
}

// Len reports the number of fully established dialogs tracked.
func (m *DialogManager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.dialogs)
}

// PruneTerminated removes every tracked dialog (established or pending)
// that has reached [DialogStateTerminated] or [DialogStateError].
func (m *DialogManager) PruneTerminated() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, dlg := range m.dialogs {
		if st := dlg.State(); st == DialogStateTerminated || st == DialogStateError {
			delete(m.dialogs, id)
		}
	}
	for key, dlg := range m.pending {
		if st := dlg.State(); st == DialogStateTerminated || st == DialogStateError {
			delete(m.pending, key)
		}
	}
}

// Close marks the manager closed. Further calls to
// [DialogManager.RegisterPending] or [DialogManager.Register] fail with
// [ErrDialogManagerClosed]; existing dialogs and lookups are unaffected.
func (m *DialogManager) Close() { m.closed.Store(true) }
