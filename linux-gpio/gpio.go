// Package gpio drives single lines of a Linux gpiochip character device.
// It exists to provide the SCL/SDA pins an I2C controller falls back to
// when the bus needs to be recovered by hand, so a Pin can change
// direction at runtime. The kernel handle interface fixes the direction
// per request, so every direction change releases the current handle and
// requests a new one.
package gpio

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"syscall"
	"unsafe"

	"github.com/BertoldVdb/go-i2cmaster/i2cmaster"
)

type Chip struct {
	file  *os.File
	name  string
	label string
	lines uint32
}

func OpenChip(chip int) (*Chip, error) {
	g := &Chip{}

	var err error
	g.file, err = os.OpenFile(fmt.Sprintf("/dev/gpiochip%d", chip), syscall.O_RDWR|syscall.O_NOCTTY, 0600)
	if err != nil {
		return nil, err
	}

	if err = g.readChipInfo(); err != nil {
		g.file.Close()
		return nil, err
	}

	return g, nil
}

func (g *Chip) readChipInfo() error {
	type chipInfoRaw struct {
		Name  [32]byte
		Label [32]byte
		Lines uint32
	}
	var ci chipInfoRaw

	err := ioctlPtr(g.file, gpioGetChipinfoIoctl, unsafe.Pointer(&ci))
	if err != nil {
		return err
	}

	g.name = bytesToString(ci.Name[:])
	g.label = bytesToString(ci.Label[:])
	g.lines = ci.Lines

	return nil
}

func (g *Chip) Name() string {
	return g.name
}

func (g *Chip) Label() string {
	return g.label
}

func (g *Chip) Lines() uint32 {
	return g.lines
}

func (g *Chip) Close() error {
	return g.file.Close()
}

// Pin is a single gpiochip line with a switchable direction. Outputs are
// requested open-drain since the intended use is an I2C bus.
type Pin struct {
	sync.Mutex

	chip  *Chip
	line  uint32
	label string

	file   *os.File
	output bool
	value  bool
	err    error
}

var _ i2cmaster.Pin = (*Pin)(nil)

// OpenPin requests a line from the chip. The pin starts out as an input.
func (g *Chip) OpenPin(label string, line uint32) (*Pin, error) {
	if line >= g.lines {
		return nil, errors.New("Line out of range")
	}

	p := &Pin{
		chip:  g,
		line:  line,
		label: label,
	}

	if err := p.request(false, false); err != nil {
		return nil, err
	}

	return p, nil
}

func (p *Pin) request(output bool, value bool) error {
	type handleRequestRaw struct {
		LineOffsets   [64]uint32
		Flags         uint32
		DefaultValues [64]uint8
		ConsumerLabel [32]byte
		Lines         uint32
		Fd            int
	}

	flags := requestInput
	if output {
		flags = requestOutput | requestOpenDrain
	}

	req := handleRequestRaw{
		Flags: uint32(flags),
		Lines: 1,
	}
	req.LineOffsets[0] = p.line
	if value {
		req.DefaultValues[0] = 1
	}
	stringToBytes(p.label, req.ConsumerLabel[:])

	if p.file != nil {
		p.file.Close()
		p.file = nil
	}

	err := ioctlPtr(p.chip.file, gpioGetLinehandleIoctl, unsafe.Pointer(&req))
	if err != nil {
		return err
	}

	if req.Fd <= 0 {
		return errors.New("Invalid file descriptor returned")
	}

	p.file = os.NewFile(uintptr(req.Fd), p.label)
	p.output = output
	p.value = value

	return nil
}

type handleDataRaw struct {
	values [64]uint8
}

// DirectionOutput makes the pin an output driving the given value.
func (p *Pin) DirectionOutput(value bool) {
	p.Lock()
	defer p.Unlock()

	if p.output {
		p.setLocked(value)
		return
	}

	if err := p.request(true, value); err != nil {
		p.err = err
	}
}

// DirectionInput releases the output driver so the line floats.
func (p *Pin) DirectionInput() {
	p.Lock()
	defer p.Unlock()

	if !p.output {
		return
	}

	if err := p.request(false, false); err != nil {
		p.err = err
	}
}

func (p *Pin) setLocked(value bool) {
	sd := handleDataRaw{}
	if value {
		sd.values[0] = 1
	}

	if err := ioctlPtr(p.file, gpiohandleSetLineValuesIoctl, unsafe.Pointer(&sd)); err != nil {
		p.err = err
		return
	}

	p.value = value
}

// Set drives the output level. The pin must be an output.
func (p *Pin) Set(value bool) {
	p.Lock()
	defer p.Unlock()

	if !p.output {
		p.err = errors.New("Pin is not an output")
		return
	}

	p.setLocked(value)
}

// Get samples the line level.
func (p *Pin) Get() bool {
	p.Lock()
	defer p.Unlock()

	gd := handleDataRaw{}

	if err := ioctlPtr(p.file, gpiohandleGetLineValuesIoctl, unsafe.Pointer(&gd)); err != nil {
		p.err = err
		return false
	}

	return gd.values[0] > 0
}

// Err returns the first error recorded since the last call and clears it.
// The Pin methods themselves cannot report failures to the caller.
func (p *Pin) Err() error {
	p.Lock()
	defer p.Unlock()

	err := p.err
	p.err = nil
	return err
}

func (p *Pin) Close() error {
	p.Lock()
	defer p.Unlock()

	if p.file == nil {
		return nil
	}

	err := p.file.Close()
	p.file = nil
	return err
}
