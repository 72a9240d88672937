// Package testutil contains a simulated bus-master controller with a
// single attached memory-style device. It implements the hardware
// interfaces of the i2cmaster package and is only meant for tests.
package testutil

import (
	"sync"
	"time"
)

/* Register offsets and encodings of the simulated controller, matching the
 * hardware the driver programs */
const (
	regCommand    uint32 = 0x00
	regMasterAddr uint32 = 0x04
	regSlaveAddr  uint32 = 0x08
	regConfig     uint32 = 0x0c

	cmdMask  uint32 = 0x7 << 8
	cmdNop   uint32 = 0
	cmdRead  uint32 = 4 << 8
	cmdWrite uint32 = 5 << 8
	cmdStop  uint32 = 6 << 8
	cmdTxVal uint32 = 1 << 13

	StatusCmdLock uint32 = 0x1000

	CauseArbitLost uint32 = 1 << 8
	CauseNoAck     uint32 = 2 << 8
	CauseTxData    uint32 = 3 << 8
	CauseRxData    uint32 = 4 << 8
	CauseCmdAck    uint32 = 5 << 8

	/* Queue marker: complete the command without an interrupt */
	CauseNone uint32 = 0xffffffff
)

type simMode int

const (
	modeIdle simMode = iota
	modeWriting
	modeReading
)

// PinEvent is one recorded manipulation of a simulated pin.
type PinEvent struct {
	Pin   string
	Op    string
	Value bool
}

// Sim emulates the controller registers, the interrupt line and the bus
// pins. Completed commands raise the interrupt by calling Handler from a
// separate goroutine after Latency.
type Sim struct {
	mutex sync.Mutex

	// Handler is the interrupt handler of the driver under test
	Handler func()

	// Latency is the delay between a command write and its interrupt
	Latency time.Duration

	masterAddr uint32
	slaveAddr  uint32
	config     uint32

	lastCause uint32
	lastData  uint32

	holdBusy    bool
	dropIRQ     bool
	arbOnWrite  bool
	forceCauses []uint32

	irqEnabled    bool
	suppressedIRQ int

	mode simMode
	ptr  uint8
	mem  [256]byte

	cmdLog        []uint32
	masterAddrLog []uint32
	events        []PinEvent
	restoreCount  int

	SCL *Pin
	SDA *Pin
}

func New() *Sim {
	s := &Sim{
		Latency: 100 * time.Microsecond,
	}

	s.SCL = &Pin{sim: s, name: "scl"}
	s.SDA = &Pin{sim: s, name: "sda"}

	return s
}

func (s *Sim) Read(offset uint32) uint32 {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	switch offset {
	case regCommand:
		status := s.lastCause | s.lastData
		if s.holdBusy {
			status |= StatusCmdLock
		}
		return status
	case regMasterAddr:
		return s.masterAddr
	case regSlaveAddr:
		return s.slaveAddr
	case regConfig:
		return s.config
	}

	return 0
}

func (s *Sim) Write(offset uint32, value uint32) {
	s.mutex.Lock()

	switch offset {
	case regCommand:
		s.cmdLog = append(s.cmdLog, value)
		cause, data := s.execute(value)
		s.mutex.Unlock()

		if cause != CauseNone {
			go s.raise(cause, data)
		}
		return

	case regMasterAddr:
		s.masterAddr = value
		s.masterAddrLog = append(s.masterAddrLog, value)
	case regSlaveAddr:
		s.slaveAddr = value
	case regConfig:
		s.config = value
	}

	s.mutex.Unlock()
}

/* execute models the device side of one command. Called with the lock
 * held, returns the interrupt cause and received data. */
func (s *Sim) execute(cmd uint32) (uint32, uint32) {
	if len(s.forceCauses) > 0 {
		cause := s.forceCauses[0]
		s.forceCauses = s.forceCauses[1:]
		return cause, 0
	}
	if s.dropIRQ {
		return CauseNone, 0
	}
	if s.arbOnWrite && cmd&cmdMask == cmdWrite {
		return CauseArbitLost, 0
	}

	data := uint32(0)

	switch cmd & cmdMask {
	case cmdStop:
		s.mode = modeIdle
		return CauseCmdAck, 0

	case cmdWrite:
		s.mode = modeWriting
		s.ptr = uint8(cmd)
		return CauseTxData, 0

	case cmdRead:
		s.mode = modeReading
		data = uint32(s.mem[s.ptr])
		s.ptr++
		return CauseRxData, data

	case cmdNop:
		if cmd&cmdTxVal != 0 {
			s.mem[s.ptr] = byte(cmd)
			s.ptr++
			return CauseTxData, 0
		}
		if s.mode == modeReading {
			data = uint32(s.mem[s.ptr])
			s.ptr++
			return CauseRxData, data
		}
		return CauseCmdAck, 0
	}

	return CauseCmdAck, 0
}

func (s *Sim) raise(cause uint32, data uint32) {
	time.Sleep(s.Latency)

	s.mutex.Lock()
	s.lastCause = cause
	s.lastData = data
	enabled := s.irqEnabled
	handler := s.Handler
	if !enabled {
		s.suppressedIRQ++
	}
	s.mutex.Unlock()

	if enabled && handler != nil {
		handler()
	}
}

// SetHandler registers the interrupt handler of the driver under test.
func (s *Sim) SetHandler(handler func()) {
	s.mutex.Lock()
	s.Handler = handler
	s.mutex.Unlock()
}

// Inject delivers one interrupt synchronously, bypassing the command
// model. Used to test the cause mapping directly.
func (s *Sim) Inject(cause uint32, data uint32) {
	s.mutex.Lock()
	s.lastCause = cause
	s.lastData = data
	enabled := s.irqEnabled
	handler := s.Handler
	s.mutex.Unlock()

	if enabled && handler != nil {
		handler()
	}
}

/* IrqLine interface */

func (s *Sim) Enable() {
	s.mutex.Lock()
	s.irqEnabled = true
	s.mutex.Unlock()
}

func (s *Sim) Disable() {
	s.mutex.Lock()
	s.irqEnabled = false
	s.mutex.Unlock()
}

func (s *Sim) IrqEnabled() bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	return s.irqEnabled
}

// RestorePins records the pins being returned to hardware mode.
func (s *Sim) RestorePins() {
	s.mutex.Lock()
	s.restoreCount++
	s.mutex.Unlock()
}

/* Fault injection */

func (s *Sim) SetHoldBusy(hold bool) {
	s.mutex.Lock()
	s.holdBusy = hold
	s.mutex.Unlock()
}

func (s *Sim) SetDropIRQ(drop bool) {
	s.mutex.Lock()
	s.dropIRQ = drop
	s.mutex.Unlock()
}

// SetArbitrationLoss makes every write command lose bus arbitration.
func (s *Sim) SetArbitrationLoss(lose bool) {
	s.mutex.Lock()
	s.arbOnWrite = lose
	s.mutex.Unlock()
}

// ForceCause queues an interrupt cause overriding the next command.
func (s *Sim) ForceCause(cause uint32) {
	s.mutex.Lock()
	s.forceCauses = append(s.forceCauses, cause)
	s.mutex.Unlock()
}

/* Observers */

func (s *Sim) Commands() []uint32 {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	return append([]uint32(nil), s.cmdLog...)
}

func (s *Sim) MasterAddrWrites() []uint32 {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	return append([]uint32(nil), s.masterAddrLog...)
}

func (s *Sim) PinEvents() []PinEvent {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	return append([]PinEvent(nil), s.events...)
}

func (s *Sim) RestoreCount() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	return s.restoreCount
}

// Mem returns a device memory cell.
func (s *Sim) Mem(addr uint8) byte {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	return s.mem[addr]
}

// SetMem sets a device memory cell.
func (s *Sim) SetMem(addr uint8, value byte) {
	s.mutex.Lock()
	s.mem[addr] = value
	s.mutex.Unlock()
}

// Pin is a simulated open-drain bus line with an optional external device
// holding it low. Released lines read high.
type Pin struct {
	sim  *Sim
	name string

	output bool
	driven bool

	/* ExternalLow simulates another bus member holding the line down */
	ExternalLow bool
}

func (p *Pin) record(op string, value bool) {
	p.sim.events = append(p.sim.events, PinEvent{Pin: p.name, Op: op, Value: value})
}

func (p *Pin) DirectionOutput(value bool) {
	p.sim.mutex.Lock()
	p.output = true
	p.driven = value
	p.record("dir-out", value)
	p.sim.mutex.Unlock()
}

func (p *Pin) DirectionInput() {
	p.sim.mutex.Lock()
	p.output = false
	p.record("dir-in", false)
	p.sim.mutex.Unlock()
}

func (p *Pin) Set(value bool) {
	p.sim.mutex.Lock()
	p.driven = value
	p.record("set", value)
	p.sim.mutex.Unlock()
}

func (p *Pin) Get() bool {
	p.sim.mutex.Lock()
	defer p.sim.mutex.Unlock()

	if p.ExternalLow {
		return false
	}
	if p.output {
		return p.driven
	}

	return true
}

// SetExternalLow changes the external drive on the line.
func (p *Pin) SetExternalLow(low bool) {
	p.sim.mutex.Lock()
	p.ExternalLow = low
	p.sim.mutex.Unlock()
}
