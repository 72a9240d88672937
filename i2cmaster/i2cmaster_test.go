package i2cmaster

import (
	"io/ioutil"
	"testing"
	"time"

	"github.com/BertoldVdb/go-i2cmaster/i2cmaster/testutil"
	"github.com/sirupsen/logrus"
)

func quietLogger() *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(ioutil.Discard)
	return logrus.NewEntry(logger)
}

func newTestController(t *testing.T, sim *testutil.Sim) *Controller {
	c, err := New(Config{
		Regs:        sim,
		SCL:         sim.SCL,
		SDA:         sim.SDA,
		Irq:         sim,
		RestorePins: sim.RestorePins,
		ClockRateHz: 40000000,
		SCLDelay:    16,

		CommandTimeout: 25 * time.Millisecond,
		BusyTimeout:    5 * time.Millisecond,
		BitDelay:       20 * time.Microsecond,

		Logger: quietLogger(),
	})
	if err != nil {
		t.Fatal("Could not create controller", err)
	}

	sim.SetHandler(c.Interrupt)

	return c
}

/* arm puts the controller in the awaiting state the way sendCmd does,
 * without issuing a command */
func (c *Controller) arm() chan (struct{}) {
	c.mutex.Lock()
	c.state = stateAwaiting
	wake := make(chan (struct{}))
	c.wake = wake
	c.mutex.Unlock()

	return wake
}

func TestNewInvalidConfig(t *testing.T) {
	_, err := New(Config{})
	if err != ErrorInvalidConfig {
		t.Error("Missing collaborators did not fail", err)
	}
}

func TestNewDefaults(t *testing.T) {
	sim := testutil.New()

	c, err := New(Config{
		Regs:        sim,
		SCL:         sim.SCL,
		SDA:         sim.SDA,
		Irq:         sim,
		ClockRateHz: 40000000,
		Logger:      quietLogger(),
	})
	if err != nil {
		t.Fatal("Could not create controller", err)
	}

	if c.cmdTimeout != 100*time.Millisecond {
		t.Error("Wrong default command timeout", c.cmdTimeout)
	}
	if c.busyTimeout != time.Second {
		t.Error("Wrong default busy timeout", c.busyTimeout)
	}
	if c.bitDelay != time.Millisecond {
		t.Error("Wrong default bit delay", c.bitDelay)
	}
	if c.speed != SpeedStandard {
		t.Error("Wrong default speed", c.speed)
	}

	if !sim.IrqEnabled() {
		t.Error("Interrupt not enabled after init")
	}
	if sim.Read(regConfig)&configIrqDisable != 0 {
		t.Error("Interrupt disable bit still set after init")
	}
}

func TestInterruptCauseMapping(t *testing.T) {
	cases := []struct {
		cause uint32
		state txState
	}{
		{testutil.CauseCmdAck, stateOK},
		{testutil.CauseTxData, stateOK},
		{testutil.CauseRxData, stateOK},
		{testutil.CauseArbitLost, stateRetry},
		{testutil.CauseNoAck, stateAbort},
		{6 << 8, stateError},
		{7 << 8, stateError},
		{0, stateError},
	}

	for _, m := range cases {
		sim := testutil.New()
		c := newTestController(t, sim)

		wake := c.arm()
		sim.Inject(m.cause, 0)

		if state := c.currentState(); state != m.state {
			t.Errorf("Cause 0x%x mapped to state %d, wanted %d", m.cause, state, m.state)
		}

		select {
		case <-wake:
		default:
			t.Errorf("Cause 0x%x did not wake the waiter", m.cause)
		}

		/* A second interrupt after a terminal state is a no-op */
		sim.Inject(testutil.CauseArbitLost, 0)
		if state := c.currentState(); state != m.state {
			t.Errorf("Late interrupt changed state to %d", state)
		}
	}
}

func TestInterruptNoAckSendsStop(t *testing.T) {
	sim := testutil.New()
	c := newTestController(t, sim)

	c.arm()
	sim.Inject(testutil.CauseNoAck, 0)

	cmds := sim.Commands()
	if len(cmds) != 1 || cmds[0] != cmdStop {
		t.Error("No-acknowledge did not issue a stop command", cmds)
	}

	/* The acknowledge of that stop arrives later and must be ignored */
	time.Sleep(5 * time.Millisecond)
	if c.currentState() != stateAbort {
		t.Error("State changed after the late stop acknowledge")
	}
}

func TestInterruptRxDataCursor(t *testing.T) {
	sim := testutil.New()
	c := newTestController(t, sim)

	buf := make([]byte, 2)
	c.setBuffer(buf)

	c.arm()
	sim.Inject(testutil.CauseRxData, 0x5a)
	if buf[0] != 0x5a {
		t.Error("Received byte not stored through the cursor", buf)
	}
	if c.currentState() != stateOK {
		t.Error("Receive data did not complete the command")
	}

	c.advanceBuffer()
	c.arm()
	sim.Inject(testutil.CauseRxData, 0xa5)
	if buf[1] != 0xa5 {
		t.Error("Cursor did not advance", buf)
	}

	/* Cursor at the end of the buffer must not write */
	c.advanceBuffer()
	c.arm()
	sim.Inject(testutil.CauseRxData, 0xff)
	if buf[0] != 0x5a || buf[1] != 0xa5 {
		t.Error("Out of range cursor corrupted the buffer", buf)
	}

	/* No cursor at all is allowed too */
	c.setBuffer(nil)
	c.arm()
	sim.Inject(testutil.CauseRxData, 0x11)
	if c.currentState() != stateOK {
		t.Error("Receive data without cursor did not complete the command")
	}
}

func TestSpuriousInterrupt(t *testing.T) {
	sim := testutil.New()
	c := newTestController(t, sim)

	sim.Inject(testutil.CauseCmdAck, 0)

	if c.currentState() != stateOK {
		t.Error("Spurious interrupt changed the state")
	}
}

func TestSubmitReturnTiming(t *testing.T) {
	sim := testutil.New()
	c := newTestController(t, sim)

	/* Resolution after the simulated latency */
	sim.Latency = 10 * time.Millisecond
	start := time.Now()
	if err := c.sendCmd(cmdNop); err != nil {
		t.Error("Command failed", err)
	}
	if elapsed := time.Since(start); elapsed < sim.Latency {
		t.Error("Returned before the command resolved", elapsed)
	}

	/* No interrupt at all: bounded by the configured timeout */
	sim.SetDropIRQ(true)
	start = time.Now()
	if err := c.sendCmd(cmdNop); err != ErrorTimeout {
		t.Error("Dropped interrupt did not time out", err)
	}
	if elapsed := time.Since(start); elapsed < c.cmdTimeout {
		t.Error("Returned before the timeout elapsed", elapsed)
	}
}

func TestSubmitErrorState(t *testing.T) {
	sim := testutil.New()
	c := newTestController(t, sim)

	sim.ForceCause(testutil.CauseNoAck)
	if err := c.sendCmd(cmdRead); err != ErrorIO {
		t.Error("No-acknowledge did not surface as an IO error", err)
	}
	if c.currentState() != stateAbort {
		t.Error("Wrong state after no-acknowledge", c.currentState())
	}
}

func TestClose(t *testing.T) {
	sim := testutil.New()
	c := newTestController(t, sim)

	sim.SetDropIRQ(true)

	done := make(chan (error), 1)
	go func() {
		done <- c.sendCmd(cmdNop)
	}()

	time.Sleep(5 * time.Millisecond)
	c.Close()

	select {
	case err := <-done:
		if err != ErrorClosed {
			t.Error("Blocked submitter not released with ErrorClosed", err)
		}
	case <-time.After(c.cmdTimeout):
		t.Error("Close did not release the blocked submitter")
	}

	if sim.IrqEnabled() {
		t.Error("Interrupt still enabled after close")
	}
	if sim.Read(regConfig)&configIrqDisable == 0 {
		t.Error("Interrupt disable bit not set after close")
	}

	if _, err := c.Transfer([]Message{{Addr: 0x50, Buf: []byte{1}}}); err != ErrorClosed {
		t.Error("Transfer after close did not fail fast", err)
	}

	/* Closing again is harmless */
	c.Close()
}
