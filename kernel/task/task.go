// Package task owns the unit the scheduler rotates between: a unique ID,
// a run state, the saved architectural register file, and a private
// kernel stack used while an interrupt or syscall is being serviced on
// this task's behalf.
package task

import (
	"sync/atomic"
	"unsafe"

	"nyxkernel/kernel/gate"
	"nyxkernel/kernel/gdt"
)

// State is where a task sits in its (currently two-state-reachable)
// lifecycle. Blocked is reserved for a future scheduler that can suspend
// a task on I/O; nothing in this kernel ever produces it.
type State int

const (
	Ready State = iota
	Running
	Blocked
)

// Context is the full architectural register file needed to resume a
// user thread. It is exactly the struct the interrupt gate's common stub
// already builds on the kernel stack (see gate.Registers), reused here
// rather than duplicated: the timer tick handler can copy a task's saved
// Context directly over the stub's in-flight one, and vice versa, with a
// single assignment.
type Context = gate.Registers

// kernelStackSize is the size of each task's private kernel stack, used
// while an interrupt or fault is serviced on this task's behalf.
const kernelStackSize = 4096

// Task is one schedulable unit of execution.
type Task struct {
	ID      uint64
	State   State
	Context Context

	kernelStack [kernelStackSize]byte
}

var nextTaskID uint64 = 1

// New creates a Ready task whose saved context will, once dispatched,
// resume execution at entryPoint in ring 3 with stackTop as its user
// stack pointer and interrupts enabled.
func New(entryPoint, stackTop uintptr) *Task {
	return &Task{
		ID:    atomic.AddUint64(&nextTaskID, 1) - 1,
		State: Ready,
		Context: Context{
			RIP:    uint64(entryPoint),
			CS:     uint64(gdt.UserCodeSelector),
			RFlags: 0x200, // IF
			RSP:    uint64(stackTop),
			SS:     uint64(gdt.UserDataSelector),
		},
	}
}

// KernelStackTop returns the address one past the end of this task's
// private kernel stack, the value the task-state segment's privileged
// stack pointer must hold while this task is current.
func (t *Task) KernelStackTop() uintptr {
	return uintptr(unsafe.Pointer(&t.kernelStack)) + kernelStackSize
}
