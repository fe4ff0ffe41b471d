package shouter

import (
	"errors"
	"testing"
	"time"

	"github.com/Brosax/ChipShouter/internal/serialmux"
)

// fakeTransport replies to commands from a scripted map and records the
// command sequence.
type fakeTransport struct {
	replies  map[string]string
	err      error
	commands []string
}

func (f *fakeTransport) Exec(command string, timeout time.Duration) (string, error) {
	f.commands = append(f.commands, command)
	if f.err != nil {
		return "", f.err
	}
	if r, ok := f.replies[command]; ok {
		return r, nil
	}
	return "ok", nil
}

func (f *fakeTransport) Close() error { return nil }

func TestFireRequiresArm(t *testing.T) {
	tr := &fakeTransport{}
	c := NewController(tr, time.Second)

	if err := c.Fire(); !errors.Is(err, ErrNotArmed) {
		t.Fatalf("Fire while disarmed = %v, want ErrNotArmed", err)
	}
	if len(tr.commands) != 0 {
		t.Errorf("no command should reach the device, got %v", tr.commands)
	}
}

func TestArmFireDisarm(t *testing.T) {
	tr := &fakeTransport{replies: map[string]string{"faults?": "ok none"}}
	c := NewController(tr, time.Second)

	if err := c.Arm(); err != nil {
		t.Fatalf("Arm: %v", err)
	}
	if !c.Armed() {
		t.Error("Armed() = false after Arm")
	}
	if err := c.Fire(); err != nil {
		t.Fatalf("Fire: %v", err)
	}
	if err := c.Disarm(); err != nil {
		t.Fatalf("Disarm: %v", err)
	}
	if c.Armed() {
		t.Error("Armed() = true after Disarm")
	}

	want := []string{"armed 1", "pulse 1", "faults?", "armed 0"}
	if len(tr.commands) != len(want) {
		t.Fatalf("commands = %v, want %v", tr.commands, want)
	}
	for i := range want {
		if tr.commands[i] != want[i] {
			t.Errorf("command[%d] = %q, want %q", i, tr.commands[i], want[i])
		}
	}
}

func TestFireReportsHardwareFault(t *testing.T) {
	tr := &fakeTransport{replies: map[string]string{"faults?": "ok overvoltage, trigger"}}
	c := NewController(tr, time.Second)

	if err := c.Arm(); err != nil {
		t.Fatalf("Arm: %v", err)
	}
	err := c.Fire()
	var hf *HardwareFaultError
	if !errors.As(err, &hf) {
		t.Fatalf("Fire = %v, want HardwareFaultError", err)
	}
	if len(hf.Flags) != 2 || hf.Flags[0] != "overvoltage" || hf.Flags[1] != "trigger" {
		t.Errorf("fault flags = %v", hf.Flags)
	}
}

func TestConfigureSendsBothParameters(t *testing.T) {
	tr := &fakeTransport{}
	c := NewController(tr, time.Second)

	if err := c.Configure(300, 160); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	if len(tr.commands) != 2 || tr.commands[0] != "voltage 300" || tr.commands[1] != "pulse width 160" {
		t.Errorf("commands = %v", tr.commands)
	}
}

func TestTriggerUnsupported(t *testing.T) {
	tr := &fakeTransport{replies: map[string]string{"trigger offset 10": "err unsupported"}}
	c := NewController(tr, time.Second)

	if err := c.SetTriggerDelay(10); !errors.Is(err, ErrTriggerUnsupported) {
		t.Fatalf("SetTriggerDelay = %v, want ErrTriggerUnsupported", err)
	}
}

func TestDeviceRejection(t *testing.T) {
	tr := &fakeTransport{replies: map[string]string{"voltage 900": "err out of range"}}
	c := NewController(tr, time.Second)

	err := c.Configure(900, 100)
	var de *DeviceError
	if !errors.As(err, &de) {
		t.Fatalf("Configure = %v, want DeviceError", err)
	}
	if de.Message != "out of range" {
		t.Errorf("message = %q", de.Message)
	}
}

func TestReadFaults(t *testing.T) {
	tr := &fakeTransport{replies: map[string]string{"faults?": "ok probe_disconnect"}}
	c := NewController(tr, time.Second)

	faults, err := c.ReadFaults()
	if err != nil {
		t.Fatalf("ReadFaults: %v", err)
	}
	if !faults.Any() || faults.String() != "probe_disconnect" {
		t.Errorf("faults = %+v", faults)
	}
}

func TestSerialTransportTimeout(t *testing.T) {
	port := serialmux.NewScriptedPort()
	link := serialmux.NewLink("generator", port)
	defer link.Close()

	tr := NewSerialTransport(link)
	_, err := tr.Exec("armed 1", 20*time.Millisecond)
	if !errors.Is(err, ErrCommandTimeout) {
		t.Fatalf("Exec = %v, want ErrCommandTimeout", err)
	}
}

func TestSerialTransportRoundTrip(t *testing.T) {
	port := serialmux.NewScriptedPort()
	link := serialmux.NewLink("generator", port)
	defer link.Close()

	// reply only after the command hits the wire; Exec drains stale input
	go func() {
		for port.Written() == "" {
			time.Sleep(time.Millisecond)
		}
		port.PushLine("ok")
	}()

	tr := NewSerialTransport(link)
	reply, err := tr.Exec("mute 1", time.Second)
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if reply != "ok" {
		t.Errorf("reply = %q, want ok", reply)
	}
	if got := port.Written(); got != "mute 1\r\n" {
		t.Errorf("written = %q", got)
	}
}
