// Package i2cmaster drives a memory-mapped I2C bus-master controller. It
// implements the command/interrupt transaction state machine and the GPIO
// based bus recovery protocol. Access to the hardware (register window,
// interrupt line, clock and data pins) is provided by the caller through
// small interfaces, so the same core works on any platform glue.
package i2cmaster

import (
	"sync"
	"time"

	prefixed "github.com/BertoldVdb/logrus-prefixed-formatter"
	"github.com/sirupsen/logrus"
)

type Error string

func (e Error) Error() string { return string(e) }

const (
	ErrorTimeout       = Error("Command timeout")
	ErrorIO            = Error("Command completed with error")
	ErrorNoDevice      = Error("No device answered")
	ErrorInvalidConfig = Error("Invalid configuration")
	ErrorClosed        = Error("Controller is closed")
)

// Regs provides word-wide access to the controller register window.
type Regs interface {
	Read(offset uint32) uint32
	Write(offset uint32, value uint32)
}

// Pin controls one bus line when it is detached from the hardware unit.
// Get on an output pin returns the driven value.
type Pin interface {
	DirectionOutput(value bool)
	DirectionInput()
	Set(value bool)
	Get() bool
}

// IrqLine masks and unmasks the controller interrupt at the interrupt
// controller. It is used while the pins are driven manually.
type IrqLine interface {
	Enable()
	Disable()
}

type txState int

const (
	stateAwaiting txState = iota
	stateOK
	stateRetry
	stateError
	stateAbort
)

// Config contains the hardware collaborators and tunables of a Controller.
// Regs, SCL, SDA and Irq are required, everything else has a default.
type Config struct {
	Regs Regs
	SCL  Pin
	SDA  Pin
	Irq  IrqLine

	// RestorePins returns the clock and data pins to hardware I2C mode
	// after a manual (bitbang) sequence. Platform specific.
	RestorePins func()

	// SetClock programs the bus clock divisor for the given frequency.
	// When nil the built-in divisor formula is used with ClockRateHz.
	SetClock func(freq uint32) error

	// ClockRateHz is the reference clock rate feeding the divisor.
	ClockRateHz uint32

	// SCLDelay is the platform fudge term of the divisor formula.
	SCLDelay uint32

	// Speed is the bus frequency in Hz, SpeedStandard when zero.
	Speed uint32

	// CommandTimeout bounds the wait for a command interrupt (default 100ms).
	CommandTimeout time.Duration

	// BusyTimeout is the poll window per busy-release attempt (default 1s).
	BusyTimeout time.Duration

	// BitDelay separates edges in the bitbang sequences (default 1ms).
	BitDelay time.Duration

	Logger *logrus.Entry
}

// Controller is the driver state for one physical bus.
type Controller struct {
	mutex sync.Mutex

	regs        Regs
	scl, sda    Pin
	irq         IrqLine
	restorePins func()
	setClock    func(freq uint32) error
	logger      *logrus.Entry

	speed       uint32
	cmdTimeout  time.Duration
	busyTimeout time.Duration
	bitDelay    time.Duration

	/* Guarded by mutex */
	state  txState
	buf    []byte
	bufIdx int
	wake   chan (struct{})

	closeOnce sync.Once
	closeChan chan (struct{})
}

func defaultLogger() *logrus.Entry {
	logger := logrus.New()
	customFormatter := new(prefixed.TextFormatter)
	customFormatter.TimestampFormat = "2006-01-02 15:04:05"
	customFormatter.FullTimestamp = true
	logger.SetFormatter(customFormatter)
	return logrus.NewEntry(logger).WithField("prefix", "i2cmaster")
}

// New creates a Controller and initialises the hardware: the configuration
// register is forced to a known state, the clock divisor is programmed and
// the interrupt is enabled.
func New(config Config) (*Controller, error) {
	if config.Regs == nil || config.SCL == nil || config.SDA == nil || config.Irq == nil {
		return nil, ErrorInvalidConfig
	}

	c := &Controller{
		regs:        config.Regs,
		scl:         config.SCL,
		sda:         config.SDA,
		irq:         config.Irq,
		restorePins: config.RestorePins,
		setClock:    config.SetClock,
		logger:      config.Logger,

		speed:       config.Speed,
		cmdTimeout:  config.CommandTimeout,
		busyTimeout: config.BusyTimeout,
		bitDelay:    config.BitDelay,

		state:     stateOK,
		closeChan: make(chan (struct{})),
	}

	if c.logger == nil {
		c.logger = defaultLogger()
	}
	if c.restorePins == nil {
		c.restorePins = func() {}
	}
	if c.setClock == nil {
		clk := &divClock{regs: c.regs, rateHz: config.ClockRateHz, sclDelay: config.SCLDelay, logger: c.logger}
		c.setClock = clk.set
	}
	if c.speed == 0 {
		c.speed = SpeedStandard
	}
	if c.cmdTimeout == 0 {
		c.cmdTimeout = 100 * time.Millisecond
	}
	if c.busyTimeout == 0 {
		c.busyTimeout = time.Second
	}
	if c.bitDelay == 0 {
		c.bitDelay = time.Millisecond
	}

	/* Disable the interrupt, select standard mode and set the spike
	 * filter width to its maximum value before touching the clock */
	c.regs.Write(regConfig, configIrqDisable|configSpikeMaxwait)

	if err := c.setClock(c.speed); err != nil {
		return nil, err
	}

	c.irq.Enable()
	c.regs.Write(regConfig, c.regs.Read(regConfig)&^configIrqDisable)

	return c, nil
}

// Interrupt handles one controller interrupt. It must be called by the
// platform glue whenever the interrupt line fires. Reading the status
// register is also the hardware interrupt acknowledge, so the read happens
// unconditionally even for spurious interrupts.
func (c *Controller) Interrupt() {
	status := c.regs.Read(regStatus)

	c.mutex.Lock()

	if c.state != stateAwaiting {
		c.mutex.Unlock()
		return
	}

	switch status & statusCauseMask {
	case causeRxData:
		if c.buf != nil && c.bufIdx < len(c.buf) {
			c.buf[c.bufIdx] = byte(status & statusRxDataMask)
		}
		c.state = stateOK
	case causeCmdAck, causeTxData:
		c.state = stateOK
	case causeNoAck:
		/* The active command is converted into a stop right here, the
		 * caller only needs to abort the message */
		c.regs.Write(regCommand, cmdStop)
		c.state = stateAbort
	case causeArbitLost:
		c.state = stateRetry
	default:
		c.state = stateError
	}

	wake := c.wake
	c.wake = nil

	c.mutex.Unlock()

	if wake != nil {
		close(wake)
	}
}

func (c *Controller) currentState() txState {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	return c.state
}

func (c *Controller) setBuffer(buf []byte) {
	c.mutex.Lock()
	c.buf = buf
	c.bufIdx = 0
	c.mutex.Unlock()
}

func (c *Controller) advanceBuffer() {
	c.mutex.Lock()
	c.bufIdx++
	c.mutex.Unlock()
}

// Close shuts the controller down. A submitter blocked on an interrupt is
// released with ErrorClosed and the hardware interrupt is disabled.
func (c *Controller) Close() error {
	c.closeOnce.Do(func() {
		close(c.closeChan)

		c.irq.Disable()
		c.regs.Write(regConfig, c.regs.Read(regConfig)|configIrqDisable)
	})

	return nil
}
