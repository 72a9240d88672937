package i2cmaster

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/BertoldVdb/go-i2cmaster/i2cmaster/testutil"
)

func newBusyTestController(t *testing.T, sim *testutil.Sim, clockCalls *uint32) *Controller {
	c, err := New(Config{
		Regs:        sim,
		SCL:         sim.SCL,
		SDA:         sim.SDA,
		Irq:         sim,
		RestorePins: sim.RestorePins,

		SetClock: func(freq uint32) error {
			atomic.AddUint32(clockCalls, 1)
			return nil
		},

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

func TestWaitWhileBusyIdle(t *testing.T) {
	sim := testutil.New()
	c := newTestController(t, sim)

	start := time.Now()
	if err := c.waitWhileBusy(); err != nil {
		t.Error("Idle module reported busy", err)
	}
	if time.Since(start) > c.busyTimeout {
		t.Error("Idle check took a full poll window")
	}

	if len(sim.Commands()) != 0 {
		t.Error("Idle check issued commands")
	}
}

func TestWaitWhileBusyEscalation(t *testing.T) {
	/* One clock call during init, then one per reinitialisation */
	var clockCalls uint32

	sim := testutil.New()
	c := newBusyTestController(t, sim, &clockCalls)
	atomic.StoreUint32(&clockCalls, 0)

	sim.SetHoldBusy(true)

	start := time.Now()
	err := c.waitWhileBusy()
	elapsed := time.Since(start)

	if err != ErrorTimeout {
		t.Error("Held lock bit did not time out", err)
	}

	/* Ten poll windows, a reinitialisation between each pair of attempts */
	if n := atomic.LoadUint32(&clockCalls); n != busyReleaseAttempts-1 {
		t.Error("Wrong number of reinitialisations", n)
	}
	if elapsed < time.Duration(busyReleaseAttempts)*c.busyTimeout {
		t.Error("Gave up before exhausting all poll windows", elapsed)
	}

	/* Nine bus resets plus the final forced stop all restore the pins */
	if n := sim.RestoreCount(); n != busyReleaseAttempts {
		t.Error("Wrong number of pin restores", n)
	}

	if !sim.IrqEnabled() {
		t.Error("Interrupt left disabled after recovery")
	}
}

func TestWaitWhileBusyReleased(t *testing.T) {
	var clockCalls uint32

	sim := testutil.New()
	c := newBusyTestController(t, sim, &clockCalls)
	atomic.StoreUint32(&clockCalls, 0)

	sim.SetHoldBusy(true)

	go func() {
		time.Sleep(2 * c.busyTimeout)
		sim.SetHoldBusy(false)
	}()

	if err := c.waitWhileBusy(); err != nil {
		t.Error("Released lock bit still timed out", err)
	}

	if n := atomic.LoadUint32(&clockCalls); n > 3 {
		t.Error("Too many reinitialisations for a released bus", n)
	}
}

func TestReinitSkipsReprogramming(t *testing.T) {
	var clockCalls uint32

	sim := testutil.New()
	c := newBusyTestController(t, sim, &clockCalls)
	atomic.StoreUint32(&clockCalls, 0)

	/* Lock released: the bus reset alone is enough */
	c.reinit()

	if n := atomic.LoadUint32(&clockCalls); n != 0 {
		t.Error("Reinit reprogrammed an idle module", n)
	}
	if n := sim.RestoreCount(); n != 1 {
		t.Error("Reinit did not run the bus reset", n)
	}
}
