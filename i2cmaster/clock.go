package i2cmaster

import (
	"github.com/sirupsen/logrus"
)

/* divClock programs the clock reference divisor of the configuration
 * register from the rate of the clock feeding the controller. Only the two
 * standard bus frequencies are possible. */
type divClock struct {
	regs     Regs
	rateHz   uint32
	sclDelay uint32
	logger   *logrus.Entry
}

func (d *divClock) set(freq uint32) error {
	config := d.regs.Read(regConfig) &^ configClkRefMask

	switch freq {
	case SpeedStandard:
		config &^= configTimingMode
		config &^= configDivDisable
		config |= ((d.rateHz/(4*freq) - 4 - d.sclDelay) / 2) & configClkRefMask

	case SpeedFast:
		config |= configTimingMode
		config &^= configDivDisable
		config |= ((d.rateHz/(4*freq) - 4 - d.sclDelay) * 2 / 3) & configClkRefMask

	default:
		d.logger.Warnf("Wrong clock configuration, please use a frequency of 100KHz or 400KHz")
		return ErrorInvalidConfig
	}

	d.regs.Write(regConfig, config)

	d.logger.Infof("Bus frequency set to %d (reference clock %d, scl delay %d, config 0x%x)", freq, d.rateHz, d.sclDelay, config)

	return nil
}
