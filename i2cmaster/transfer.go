package i2cmaster

import (
	"github.com/google/uuid"
)

// Message is one segment of a bus transaction.
type Message struct {
	// Addr is the target address, right aligned
	Addr   uint16
	TenBit bool

	// Read transfers from the device into Buf, otherwise Buf is written
	Read bool

	// NoStart suppresses the address phase, the message continues the
	// previous one
	NoStart bool

	// Buf holds the message payload. A message without payload is sent
	// as a bare address using the bitbang routine.
	Buf []byte
}

const transferRetries = 10

/* readBytes pulls the remaining bytes of a read message. The first byte is
 * produced by the read command itself, every no-op command after it clocks
 * in one more through the buffer cursor. */
func (c *Controller) readBytes(count int) error {
	for ; count > 1; count-- {
		c.advanceBuffer()

		if err := c.sendCmd(cmdNop); err != nil {
			return err
		}
	}

	return nil
}

func (c *Controller) writeBytes(buf []byte) error {
	for _, b := range buf {
		if err := c.sendCmd(cmdNop | cmdTxVal | uint32(b)); err != nil {
			return err
		}
	}

	return nil
}

// Transfer executes a multi-message transaction. Arbitration loss restarts
// the whole sequence from the first message until the retry limit is
// reached. The returned count is the number of messages processed and is only
// meaningful when the error is nil.
func (c *Controller) Transfer(msgs []Message) (int, error) {
	select {
	case <-c.closeChan:
		return 0, ErrorClosed
	default:
	}

	logger := c.logger.WithField("xfer", uuid.New().String()[:8])
	logger.Debugf("Transferring %d messages", len(msgs))

	c.mutex.Lock()
	c.state = stateOK
	c.mutex.Unlock()

	retry := transferRetries
	var err error

	i := 0
	for i = 0; i < len(msgs); i++ {
		if c.currentState() == stateRetry {
			/* Arbitration was lost, terminate the aborted attempt
			 * before starting over */
			err = c.sendCmd(cmdStop)
			retry--
			if err != nil || retry == 0 {
				logger.Warnf("Arbitration retries exhausted")
				c.setBuffer(nil)
				return 0, ErrorIO
			}
		}

		msg := &msgs[i]
		buf := msg.Buf

		c.setBuffer(msg.Buf)

		if len(msg.Buf) == 0 {
			if err = c.bitbangAddress(msg.Addr, msg.TenBit); err != nil {
				break
			}
			continue
		}

		if !msg.NoStart {
			reg := (uint32(msg.Addr) & masterAddrMask) << masterAddrShift
			if msg.TenBit {
				reg |= masterAddr10Bit
			}

			c.mutex.Lock()
			c.regs.Write(regMasterAddr, reg)
			c.mutex.Unlock()

			var cmd uint32
			if msg.Read {
				cmd = cmdRead
			} else {
				/* The first payload byte rides on the write
				 * command itself */
				cmd = cmdWrite | cmdTxVal | uint32(buf[0])
				buf = buf[1:]
			}

			if err = c.sendCmd(cmd); err != nil {
				if c.currentState() == stateRetry {
					i = -1
					err = nil
					continue
				}
				break
			}
		}

		if msg.Read {
			err = c.readBytes(len(msg.Buf))
		} else {
			err = c.writeBytes(buf)
		}
		if err != nil {
			if c.currentState() == stateRetry {
				i = -1
				err = nil
				continue
			}
			break
		}
	}

	/* Always terminate with a stop. A stuck interface at this point is
	 * recovered locally, the message result is already determined. */
	if c.sendCmd(cmdStop) != nil {
		logger.Warnf("Interface seems to be stuck, trying to unlock (state %d)", c.currentState())

		c.sendCmd(cmdNop)
		if c.sendCmd(cmdStop) != nil {
			logger.Warnf("Interface still stuck, forcing a bus reset using GPIO")
			c.resetBitbang()
		}
	}

	c.setBuffer(nil)

	if err != nil {
		return 0, err
	}

	return i, nil
}
