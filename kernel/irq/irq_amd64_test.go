package irq

import (
	"testing"

	"nyxkernel/kernel/gate"
	"nyxkernel/kernel/task"
)

func TestTickRotatesOnSchedule(t *testing.T) {
	var s task.Scheduler
	a := task.New(0x1000, 0x2000)
	b := task.New(0x1000, 0x2000)
	s.Admit(a)
	s.Admit(b)
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	InstallTimerHandler(&s)
	t.Cleanup(func() { scheduler = nil })

	acked := false
	orig := EndOfInterrupt
	EndOfInterrupt = func() { acked = true }
	t.Cleanup(func() { EndOfInterrupt = orig })

	regs := &gate.Registers{RAX: 0xaaaa}
	tick(regs)

	if !acked {
		t.Fatal("expected EndOfInterrupt to be called")
	}
	if a.State != task.Ready {
		t.Fatalf("expected task A to become Ready; got %v", a.State)
	}
	if b.State != task.Running {
		t.Fatalf("expected task B to become Running; got %v", b.State)
	}
	if a.Context.RAX != 0xaaaa {
		t.Fatalf("expected task A's saved context to capture the interrupted register state; got %#x", a.Context.RAX)
	}
	if *regs != b.Context {
		t.Fatal("expected the on-stack registers to be overwritten with task B's context")
	}
}

func TestTickBeforeStartIsNoop(t *testing.T) {
	var s task.Scheduler
	s.Admit(task.New(0x1000, 0x2000))

	InstallTimerHandler(&s)
	t.Cleanup(func() { scheduler = nil })

	acked := false
	orig := EndOfInterrupt
	EndOfInterrupt = func() { acked = true }
	t.Cleanup(func() { EndOfInterrupt = orig })

	regs := &gate.Registers{RAX: 7}
	tick(regs)

	if !acked {
		t.Fatal("expected EndOfInterrupt to be called even when the scheduler isn't initialized yet")
	}
	if regs.RAX != 7 {
		t.Fatal("expected the registers to be left untouched")
	}
}

func TestSyscallDispatchEchoesNumberByDefault(t *testing.T) {
	frame := &syscallFrame{Num: 42}
	syscallDispatch(frame)

	if frame.Result != 42 {
		t.Fatalf("expected the default handler to echo the syscall number; got %d", frame.Result)
	}
}

func TestSyscallDispatchUsesInstalledHandler(t *testing.T) {
	orig := Dispatch
	t.Cleanup(func() { Dispatch = orig })

	var gotNum, gotArg1, gotArg4 uint64
	Dispatch = func(num, arg1, arg2, arg3, arg4 uint64) uint64 {
		gotNum, gotArg1, gotArg4 = num, arg1, arg4
		return 0xdead
	}

	frame := &syscallFrame{Num: 1, Arg1: 2, Arg2: 3, Arg3: 4, Arg4: 5}
	syscallDispatch(frame)

	if gotNum != 1 || gotArg1 != 2 || gotArg4 != 5 {
		t.Fatalf("expected arguments to reach the handler unchanged; got num=%d arg1=%d arg4=%d", gotNum, gotArg1, gotArg4)
	}
	if frame.Result != 0xdead {
		t.Fatalf("expected the handler's return value in Result; got %#x", frame.Result)
	}
}
