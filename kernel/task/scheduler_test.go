package task

import "testing"

func TestSchedulerRoundRobinRotation(t *testing.T) {
	var s Scheduler

	a := New(0x1000, 0x2000)
	b := New(0x1000, 0x2000)
	c := New(0x1000, 0x2000)
	s.Admit(a)
	s.Admit(b)
	s.Admit(c)

	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if s.Current() != a {
		t.Fatal("expected task A to be current after Start")
	}

	want := []*Task{b, c, a, b, c, a, b}
	for i, expect := range want {
		outgoing, incoming, ok := s.Schedule()
		if !ok {
			t.Fatalf("tick %d: expected Schedule to report a rotation", i)
		}
		if incoming != expect {
			t.Fatalf("tick %d: expected task %d to become current; got %d", i, expect.ID, incoming.ID)
		}
		if outgoing.State != Ready {
			t.Fatalf("tick %d: expected the outgoing task to become Ready", i)
		}
		if incoming.State != Running {
			t.Fatalf("tick %d: expected the incoming task to become Running", i)
		}
	}
}

func TestSchedulerStartRequiresATask(t *testing.T) {
	var s Scheduler
	if err := s.Start(); err == nil {
		t.Fatal("expected Start to fail with no admitted tasks")
	}
}

func TestScheduleWithFewerThanTwoTasksIsNoop(t *testing.T) {
	var s Scheduler
	s.Admit(New(0x1000, 0x2000))
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if _, _, ok := s.Schedule(); ok {
		t.Fatal("expected Schedule to report no rotation with a single task")
	}
}
