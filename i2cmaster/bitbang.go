package i2cmaster

import (
	"time"
)

/* The bitbang routines drive the bus pins directly. They run with the
 * controller interrupt masked, since they manipulate the same physical
 * lines the hardware unit is wired to, and they always return the pins to
 * hardware I2C mode before the interrupt is unmasked again.
 *
 * The delays between edges are real-time requirements of the bus, not just
 * sequencing. */

func (c *Controller) delay(n int) {
	time.Sleep(time.Duration(n) * c.bitDelay)
}

/* bitbangAddress sends a bare 7 or 10 bit address, used for messages that
 * carry no payload. Returns ErrorNoDevice when the acknowledge bit was not
 * seen. */
func (c *Controller) bitbangAddress(addr uint16, tenBit bool) error {
	c.irq.Disable()

	c.sda.DirectionOutput(true)
	c.scl.DirectionOutput(true)
	c.delay(10)

	/* Start condition */
	c.sda.Set(false)
	c.delay(1)
	c.scl.Set(false)
	c.delay(1)

	numBits := 7
	if tenBit {
		numBits = 10
	}
	c.logger.Debugf("Sending %d address bits using the bitbang routine", numBits)

	for i := 0; i < numBits; i++ {
		/* Data changes while the clock is low, MSB first */
		c.sda.Set(addr&(1<<uint(numBits-i-1)) != 0)
		c.delay(1)

		c.scl.Set(true)
		c.delay(1)
		c.scl.Set(false)
		c.delay(1)
	}

	/* Release data and clock in the acknowledge bit */
	c.sda.DirectionInput()
	c.scl.Set(true)
	c.delay(1)
	ack := c.sda.Get()

	/* Stop */
	c.sda.DirectionOutput(true)

	c.restorePins()
	c.irq.Enable()

	if !ack {
		return ErrorNoDevice
	}

	return nil
}

/* stopBitbang forces a stop condition without a full reset sequence */
func (c *Controller) stopBitbang() {
	c.irq.Disable()

	c.scl.DirectionOutput(true)
	c.delay(1)
	c.sda.DirectionOutput(true)
	c.delay(1)

	c.restorePins()
	c.irq.Enable()
}

/* resetBitbang releases both lines and pulses the clock to let a stalled
 * slave finish whatever byte it believes it is transferring. Best effort,
 * the outcome is only logged. */
func (c *Controller) resetBitbang() {
	c.irq.Disable()

	c.scl.DirectionInput()
	c.sda.DirectionInput()
	c.delay(1)

	scl := c.scl.Get()
	sda := c.sda.Get()

	if sda && scl {
		c.logger.Debugf("Bus reset requested but the bus seems idle, reset not needed?")
	}
	if !sda {
		c.logger.Debugf("SDA seems to be held low externally")
	}

	prevSda := sda
	effectiveCycles := 0

	/* A stalled byte transfer needs at most eight clocks plus the
	 * acknowledge bit to complete */
	for i := 0; i < 9; i++ {
		if !c.scl.Get() {
			c.logger.Debugf("SCL held low at start of clock cycle %d, continuing anyway", i)
		} else {
			effectiveCycles++
		}

		c.scl.DirectionOutput(false)
		c.delay(1)
		c.scl.DirectionInput()

		sda = c.sda.Get()
		if sda != prevSda {
			c.logger.Debugf("SDA changed from %t to %t after %d clock cycles", prevSda, sda, i)
			prevSda = sda
		}
		if !c.scl.Get() {
			c.logger.Debugf("SCL held low at end of clock cycle %d, waiting", i)
			c.delay(1)
		}
	}

	/* Send a stop */
	c.delay(1)
	c.sda.DirectionInput()
	c.delay(1)

	scl = c.scl.Get()
	sda = c.sda.Get()

	if !scl {
		c.logger.Errorf("SCL seems to be held low externally")
	}
	if !sda {
		c.logger.Errorf("SDA seems to be held low externally")
	}

	if scl && sda {
		c.logger.Debugf("Reset successful, the bus seems to be idle")
	} else {
		c.logger.Debugf("Reset unsuccessful after %d effective clock cycles", effectiveCycles)
	}

	c.restorePins()

	c.logger.Warnf("Status 0x%x, master address 0x%x, config 0x%x, state %d",
		c.regs.Read(regStatus), c.regs.Read(regMasterAddr), c.regs.Read(regConfig), c.currentState())

	c.irq.Enable()
}
