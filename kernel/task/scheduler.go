package task

import (
	"nyxkernel/kernel"
	"nyxkernel/kernel/sync"
)

// Scheduler holds every admitted task in admission order and rotates
// round-robin among them. It is guarded by a spinlock; callers that reach
// it from an interrupt handler must release the lock before re-enabling
// interrupts or acknowledging the interrupt that got them there.
type Scheduler struct {
	lock        sync.Spinlock
	tasks       []*Task
	current     int
	initialized bool
}

// Admit appends t to the rotation. Admission order is rotation order for
// the lifetime of the scheduler; there is no priority or reordering.
func (s *Scheduler) Admit(t *Task) {
	s.lock.Acquire()
	defer s.lock.Release()

	s.tasks = append(s.tasks, t)
}

// TaskCount returns the number of admitted tasks.
func (s *Scheduler) TaskCount() int {
	s.lock.Acquire()
	defer s.lock.Release()

	return len(s.tasks)
}

// Start marks task 0 Running. It must be called exactly once, after at
// least one task has been admitted, before the first dispatch into user
// mode.
func (s *Scheduler) Start() *kernel.Error {
	s.lock.Acquire()
	defer s.lock.Release()

	if len(s.tasks) == 0 {
		return kernel.ErrSchedulerEmpty
	}

	s.tasks[0].State = Running
	s.initialized = true
	return nil
}

// Initialized reports whether Start has run.
func (s *Scheduler) Initialized() bool {
	s.lock.Acquire()
	defer s.lock.Release()

	return s.initialized
}

// Current returns the currently running task, or nil if none is
// admitted.
func (s *Scheduler) Current() *Task {
	s.lock.Acquire()
	defer s.lock.Release()

	if len(s.tasks) == 0 {
		return nil
	}
	return s.tasks[s.current]
}

// Schedule advances the rotation by one slot and reports the outgoing and
// incoming tasks. It returns false when fewer than two tasks are admitted
// (there is nothing to switch to), in which case neither task's state is
// touched.
//
// Callers must hold no other lock that a timer interrupt could need,
// since this acquires the scheduler's own lock for the duration of the
// call.
func (s *Scheduler) Schedule() (outgoing, incoming *Task, ok bool) {
	s.lock.Acquire()
	defer s.lock.Release()

	if len(s.tasks) < 2 {
		return nil, nil, false
	}

	outgoing = s.tasks[s.current]
	outgoing.State = Ready

	s.current = (s.current + 1) % len(s.tasks)

	incoming = s.tasks[s.current]
	incoming.State = Running

	return outgoing, incoming, true
}
