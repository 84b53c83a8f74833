// Package irq wires the timer tick and the fast-syscall pair to the
// scheduler: the timer handler asks the scheduler to rotate and, if it
// did, swaps the on-stack register file for the incoming task's; the
// syscall path switches to a dedicated kernel stack, dispatches through a
// pluggable handler, and returns via sysret.
package irq

import (
	"reflect"

	"nyxkernel/kernel/gate"
	"nyxkernel/kernel/gdt"
	"nyxkernel/kernel/task"
)

// EndOfInterrupt acknowledges the current interrupt to the local APIC.
// Programming the APIC itself is out of scope for this kernel (treated
// as an external collaborator with this one-method interface); wiring it
// to a real driver is the caller's responsibility before the timer is
// ever unmasked.
var EndOfInterrupt = func() {}

var scheduler *task.Scheduler

// InstallTimerHandler registers the round-robin tick handler against the
// timer vector. s must already have at least one admitted task by the
// time the first tick fires.
func InstallTimerHandler(s *task.Scheduler) {
	scheduler = s
	gate.HandleInterrupt(gate.TimerTick, tick)
}

// tick is gate's registered handler for the timer vector. regs is the
// on-stack context the common interrupt stub just built for whichever
// task was interrupted; if the scheduler rotates, that context is saved
// to the outgoing task and overwritten with the incoming task's, so that
// when the stub pops registers and executes iretq the CPU resumes the
// new task instead.
func tick(regs *gate.Registers) {
	if scheduler == nil || !scheduler.Initialized() {
		EndOfInterrupt()
		return
	}

	if outgoing, incoming, ok := scheduler.Schedule(); ok {
		outgoing.Context = *regs
		*regs = incoming.Context
		gdt.SetKernelStack(incoming.KernelStackTop())
	}

	EndOfInterrupt()
}

// SwitchToFirstTask performs the one-time transition from kernel
// initialization into the scheduler's first task. It never returns.
func SwitchToFirstTask(s *task.Scheduler) {
	current := s.Current()
	gdt.SetKernelStack(current.KernelStackTop())
	switchToFirstTask(&current.Context)
}

// switchToFirstTask is backed by irq_amd64.s: it loads ctx's data segment
// selector into DS/ES/FS/GS, builds an iretq frame from ctx's saved
// frame, and executes iretq.
func switchToFirstTask(ctx *task.Context)

// SyscallHandlerFn services one syscall: num is whatever the user put in
// RAX, arg1-arg4 are remapped from the syscall-instruction calling
// convention (which steals RCX and R11 for the return address and flags,
// so the fourth argument travels in R10 instead of RCX) into the order a
// handler would expect. The result becomes the user's RAX after sysret.
type SyscallHandlerFn func(num, arg1, arg2, arg3, arg4 uint64) uint64

// Dispatch is the syscall handler this kernel currently installs. A non-goal
// of this kernel is a POSIX-like system-call surface, so the default simply
// echoes the requested number back, which is enough to observe a correct
// ring-3-to-ring-0-and-back round trip.
var Dispatch SyscallHandlerFn = func(num, _, _, _, _ uint64) uint64 { return num }

// syscallStackSize is the size of the dedicated stack the syscall entry
// point switches to before re-enabling interrupts. Must match the
// constant baked into irq_amd64.s.
const syscallStackSize = 16 * 1024

var syscallStack [syscallStackSize]byte

// syscallFrame is the argument/result block syscallEntry builds on the
// dedicated syscall stack and hands to syscallDispatch by pointer, the
// same one-pointer-argument convention gate's commonStub uses to call
// into dispatchInterrupt.
type syscallFrame struct {
	Num, Arg1, Arg2, Arg3, Arg4, Result uint64
}

//go:nosplit
func syscallDispatch(frame *syscallFrame) {
	frame.Result = Dispatch(frame.Num, frame.Arg1, frame.Arg2, frame.Arg3, frame.Arg4)
}

// syscallEntry is the address programmed into LSTAR; the CPU jumps here
// directly on a syscall instruction from ring 3, with interrupts already
// cleared by the SFMASK programming in kernel/gdt.
func syscallEntry()

// SyscallEntryAddr returns syscallEntry's code address, for gdt.Init to
// program into LSTAR. Uses the same reflect-based address lookup as
// gate's stubAddr, for the same reason: there is no other reliable way to
// turn a Go func value for a no-argument assembly stub into a raw address.
func SyscallEntryAddr() uintptr {
	return reflect.ValueOf(syscallEntry).Pointer()
}
