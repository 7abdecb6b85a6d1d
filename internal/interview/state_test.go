package interview

import (
	"errors"
	"testing"
)

func TestMachineInteractiveLoop(t *testing.T) {
	m := NewMachine()
	steps := []struct {
		trigger Trigger
		want    State
	}{
		{TriggerInteractive, StateInteractiveWait},
		{TriggerBusy, StateProcessing},
		{TriggerReply, StateProcessing},
		{TriggerIdle, StateInteractiveWait},
		{TriggerBusy, StateProcessing},
		{TriggerDone, StateFinalizing},
		{TriggerIdle, StateFinalizing},
		{TriggerFinalized, StateDone},
		{TriggerIdle, StateDone},
	}
	for i, s := range steps {
		got, err := m.Fire(s.trigger)
		if err != nil {
			t.Fatalf("step %d (%s): %v", i, s.trigger, err)
		}
		if got != s.want {
			t.Fatalf("step %d (%s): state = %s, want %s", i, s.trigger, got, s.want)
		}
	}
}

func TestMachineResumesWaitState(t *testing.T) {
	for _, tc := range []struct {
		start Trigger
		wait  State
	}{
		{TriggerEdit, StateEditWait},
		{TriggerManual, StateManualWait},
		{TriggerAuto, StateAutoRunning},
	} {
		m := NewMachine()
		m.Fire(tc.start)
		m.Fire(TriggerBusy)
		got, err := m.Fire(TriggerIdle)
		if err != nil || got != tc.wait {
			t.Errorf("%s: idle -> %s (%v), want %s", tc.start, got, err, tc.wait)
		}
	}
}

func TestMachineIllegalTransitions(t *testing.T) {
	tests := []struct {
		name  string
		setup []Trigger
		fire  Trigger
	}{
		{"reply before start", nil, TriggerReply},
		{"busy before start", nil, TriggerBusy},
		{"done while waiting", []Trigger{TriggerInteractive}, TriggerDone},
		{"reply after done", []Trigger{TriggerAuto, TriggerBusy, TriggerDone, TriggerFinalized}, TriggerReply},
		{"fail after done", []Trigger{TriggerAuto, TriggerBusy, TriggerDone, TriggerFinalized}, TriggerFail},
		{"start twice", []Trigger{TriggerManual}, TriggerAuto},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMachine()
			for _, tr := range tt.setup {
				if _, err := m.Fire(tr); err != nil {
					t.Fatalf("setup %s: %v", tr, err)
				}
			}
			before := m.State()
			_, err := m.Fire(tt.fire)
			if !errors.Is(err, ErrIllegalTransition) {
				t.Fatalf("err = %v, want ErrIllegalTransition", err)
			}
			if m.State() != before {
				t.Errorf("state moved to %s on illegal trigger", m.State())
			}
		})
	}
}

func TestTerminal(t *testing.T) {
	if !StateDone.Terminal() || !StateFailed.Terminal() || StateFinalizing.Terminal() {
		t.Error("terminal states misreported")
	}
}
