package runtime

import "sync"

// Acknowledgement appended to the output after each executed command.
const ackLine = "\n< ok\n"

// Slot is a queue front that has been checked out for execution but not yet
// removed. Only the holder of the slot can pop it, via CompleteOne.
type Slot struct {
	seq     uint64
	Command string
}

type queued struct {
	seq     uint64
	command string
}

// Snapshot is a point-in-time copy of the Run State flags.
type Snapshot struct {
	Pending         int  `json:"pending"`
	Runnable        bool `json:"runnable"`
	CancelRequested bool `json:"cancel_requested"`
	Executing       bool `json:"executing"`
	Buffered        int  `json:"buffered"`
}

// Idle reports whether nothing is queued, runnable or executing.
func (s Snapshot) Idle() bool {
	return s.Pending == 0 && !s.Runnable && !s.Executing
}

// State is the Run State shared between the producer (terminal session)
// and the single execution loop. Every field, including the output buffer,
// is guarded by mu.
type State struct {
	mu sync.Mutex

	pending         []queued
	nextSeq         uint64
	runnable        bool
	cancelRequested bool
	executing       bool
	checkedOut      *Slot

	// retired is set once a restart has moved this state's output into its
	// successor. Producer writes to a retired state are refused so the
	// caller can retry against the current one.
	retired bool

	out outputBuffer
}

// NewState returns an empty Run State.
func NewState() *State {
	return &State{}
}

// Submit echoes the command to the output, queues it and, when nothing is
// executing, marks the state runnable.
func (s *State) Submit(command string) {
	s.trySubmit(command)
}

// trySubmit is Submit that refuses a retired state.
func (s *State) trySubmit(command string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.retired {
		return false
	}
	s.out.append("> " + command + "\n")
	s.enqueueLocked(command)
	return true
}

// enqueue queues a command without echoing it. Used for the synthetic
// recovery command after a restart.
func (s *State) enqueue(command string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enqueueLocked(command)
}

func (s *State) enqueueLocked(command string) {
	s.nextSeq++
	s.pending = append(s.pending, queued{seq: s.nextSeq, command: command})
	if !s.executing {
		s.runnable = true
	}
}

// TryBeginRun hands drain ownership to the caller when the state is
// runnable. It never blocks.
func (s *State) TryBeginRun() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.runnable {
		return false
	}
	s.runnable = false
	s.executing = true
	return true
}

// DrainOne checks out the queue front. It returns false when a cancel was
// requested, the queue is empty, or a slot is already checked out.
// The returned command must be executed without holding any lock and then
// handed back to CompleteOne.
func (s *State) DrainOne() (*Slot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancelRequested || len(s.pending) == 0 || s.checkedOut != nil {
		return nil, false
	}
	front := s.pending[0]
	s.checkedOut = &Slot{seq: front.seq, Command: front.command}
	return s.checkedOut, true
}

// CompleteOne pops the checked-out front and acknowledges it in the output.
func (s *State) CompleteOne(slot *Slot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if slot == nil || s.checkedOut != slot || len(s.pending) == 0 || s.pending[0].seq != slot.seq {
		return ErrSlotMismatch
	}
	s.pending[0] = queued{}
	s.pending = s.pending[1:]
	s.checkedOut = nil
	s.out.append(ackLine)
	return nil
}

// Reset drops every queued command and clears all flags. Output is kept.
func (s *State) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pending = nil
	s.runnable = false
	s.cancelRequested = false
	s.executing = false
	s.checkedOut = nil
}

// EndRun is the execution loop's reset at the end of a drain. After a
// cancel it behaves like Reset and reports how many commands were dropped.
// Otherwise the queue was empty when DrainOne last looked; a command
// submitted since then is kept and the state is left runnable for it.
func (s *State) EndRun() (dropped int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancelRequested {
		dropped = len(s.pending)
		s.pending = nil
	}
	s.runnable = len(s.pending) > 0
	s.cancelRequested = false
	s.executing = false
	s.checkedOut = nil
	return dropped
}

// RequestCancel stops the execution loop from checking out the next
// command. It does not interrupt the command in flight.
func (s *State) RequestCancel() {
	s.mu.Lock()
	s.cancelRequested = true
	s.mu.Unlock()
}

// AppendOutput adds program output to the buffer.
func (s *State) AppendOutput(text string) {
	s.tryAppend(text)
}

// tryAppend is AppendOutput that refuses a retired state.
func (s *State) tryAppend(text string) bool {
	if text == "" {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.retired {
		return false
	}
	s.out.append(text)
	return true
}

// retireInto moves the undrained output into next and retires s. publish
// runs while s is still locked, so once a producer sees s retired, next is
// already current.
func (s *State) retireInto(next *State, publish func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next.AppendOutput(s.out.take())
	s.retired = true
	publish()
}

// DrainOutput takes the whole output buffer, leaving it empty.
func (s *State) DrainOutput() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.out.take()
}

// HasOutput reports whether the output buffer holds any text.
func (s *State) HasOutput() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.out.len() > 0
}

// IsExecuting reports whether an execution loop owns the drain phase.
func (s *State) IsExecuting() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.executing
}

// Snapshot returns a copy of the current flags and queue length.
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Pending:         len(s.pending),
		Runnable:        s.runnable,
		CancelRequested: s.cancelRequested,
		Executing:       s.executing,
		Buffered:        s.out.len(),
	}
}
