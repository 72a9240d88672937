package i2cmaster

import (
	"time"
)

const busyReleaseAttempts = 10

/* sendCmd issues one hardware command and blocks until the interrupt
 * handler resolved it or the timeout elapsed. The state reset and the
 * command register write share one critical section so an early interrupt
 * cannot be lost. */
func (c *Controller) sendCmd(cmd uint32) error {
	if c.regs.Read(regStatus)&statusCmdLock != 0 {
		/* Wait for the previous command to finish */
		if err := c.waitWhileBusy(); err != nil {
			c.logger.Warnf("Timeout waiting for the master module to unlock")
			return ErrorTimeout
		}
	}

	c.mutex.Lock()
	c.state = stateAwaiting
	wake := make(chan (struct{}))
	c.wake = wake
	c.regs.Write(regCommand, cmd)
	c.mutex.Unlock()

	select {
	case <-wake:

	case <-c.closeChan:
		return ErrorClosed

	case <-time.After(c.cmdTimeout):
		c.logger.Warnf("Timeout waiting for interrupt (cmd 0x%x, timeout %s)", cmd, c.cmdTimeout)

		if c.regs.Read(regStatus)&statusCmdLock == 0 {
			/* Resending could duplicate a command that partially
			 * executed, so the timeout stands */
			c.logger.Warnf("Master module seems free after the timeout, but not resending")
		}

		return ErrorTimeout
	}

	if state := c.currentState(); state != stateOK {
		c.logger.Warnf("Command 0x%x finished with state %d", cmd, state)
		return ErrorIO
	}

	return nil
}

/* waitWhileBusy polls the master command lock until it releases. Each poll
 * window that expires escalates into a full bus reinitialisation, except
 * after the last one. */
func (c *Controller) waitWhileBusy() error {
	if c.regs.Read(regStatus)&statusCmdLock == 0 {
		return nil
	}

	for attempt := 0; attempt < busyReleaseAttempts; attempt++ {
		deadline := time.Now().Add(c.busyTimeout)

		for time.Now().Before(deadline) {
			if c.regs.Read(regStatus)&statusCmdLock == 0 {
				time.Sleep(time.Millisecond)
				c.logger.Debugf("Master module idle (status 0x%x)", c.regs.Read(regStatus))
				return nil
			}

			time.Sleep(time.Millisecond)
		}

		c.logger.Warnf("Timed out waiting for the master module to be free (attempt %d/%d)", attempt+1, busyReleaseAttempts)

		if attempt != busyReleaseAttempts-1 {
			c.reinit()
		}
	}

	c.logger.Errorf("Giving up after %d attempts to free the master module, forcing a stop", busyReleaseAttempts)
	c.stopBitbang()

	return ErrorTimeout
}

/* reinit tries a GPIO bus reset first. Only if the command unit is still
 * locked afterwards is the hardware reprogrammed from scratch. */
func (c *Controller) reinit() {
	c.resetBitbang()

	status := c.regs.Read(regStatus)
	if status&statusCmdLock == 0 {
		c.logger.Debugf("Master module idle (status 0x%x)", status)
		return
	}

	c.logger.Warnf("Master module still locked (status 0x%x), reinitialising the hardware", status)

	c.irq.Disable()

	c.regs.Write(regConfig, configIrqDisable|configSpikeMaxwait)

	if err := c.setClock(c.speed); err != nil {
		c.logger.Errorf("Error setting bus clock: %v", err)
	}

	c.irq.Enable()

	c.regs.Write(regConfig, c.regs.Read(regConfig)&^configIrqDisable)
}
