// Package uio exposes a memory-mapped register window and its interrupt
// through the Linux UIO (userspace I/O) framework. A kernel stub driver
// binds the device and forwards its interrupt, this package maps the
// first memory region and turns the /dev/uioN read loop into handler
// callbacks.
package uio

import (
	"fmt"
	"io/ioutil"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/BertoldVdb/go-i2cmaster/i2cmaster"
)

type Device struct {
	file *os.File
	mem  []byte

	irqMutex   sync.Mutex
	irqEnabled bool
	irqErr     error

	closeOnce sync.Once
	closeChan chan (struct{})
}

var _ i2cmaster.Regs = (*Device)(nil)
var _ i2cmaster.IrqLine = (*Device)(nil)

func mapSize(index int) (int, error) {
	raw, err := ioutil.ReadFile(fmt.Sprintf("/sys/class/uio/uio%d/maps/map0/size", index))
	if err != nil {
		return 0, err
	}

	size, err := strconv.ParseUint(strings.TrimSpace(string(raw)), 0, 32)
	if err != nil {
		return 0, err
	}

	return int(size), nil
}

// Open maps the first memory region of /dev/uio<index>.
func Open(index int) (*Device, error) {
	size, err := mapSize(index)
	if err != nil {
		return nil, err
	}

	file, err := os.OpenFile(fmt.Sprintf("/dev/uio%d", index), syscall.O_RDWR|syscall.O_NOCTTY, 0600)
	if err != nil {
		return nil, err
	}

	mem, err := unix.Mmap(int(file.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		file.Close()
		return nil, err
	}

	return &Device{
		file:      file,
		mem:       mem,
		closeChan: make(chan (struct{})),
	}, nil
}

// Read loads a 32-bit register. The offset is in bytes and must be
// 4-byte aligned and inside the mapped window.
func (d *Device) Read(offset uint32) uint32 {
	return atomic.LoadUint32((*uint32)(unsafe.Pointer(&d.mem[offset])))
}

// Write stores a 32-bit register.
func (d *Device) Write(offset uint32, value uint32) {
	atomic.StoreUint32((*uint32)(unsafe.Pointer(&d.mem[offset])), value)
}

/* The UIO irqcontrol write takes a native-endian s32 */
func (d *Device) irqControl(enable bool) error {
	var value int32
	if enable {
		value = 1
	}

	buf := (*[4]byte)(unsafe.Pointer(&value))
	_, err := d.file.Write(buf[:])
	return err
}

func (d *Device) Enable() {
	d.irqMutex.Lock()
	defer d.irqMutex.Unlock()

	d.irqEnabled = true
	if err := d.irqControl(true); err != nil {
		d.irqErr = err
	}
}

func (d *Device) Disable() {
	d.irqMutex.Lock()
	defer d.irqMutex.Unlock()

	d.irqEnabled = false
	if err := d.irqControl(false); err != nil {
		d.irqErr = err
	}
}

// Err returns the last interrupt control failure and clears it.
func (d *Device) Err() error {
	d.irqMutex.Lock()
	defer d.irqMutex.Unlock()

	err := d.irqErr
	d.irqErr = nil
	return err
}

func (d *Device) rearm() {
	d.irqMutex.Lock()
	defer d.irqMutex.Unlock()

	/* The kernel masks the interrupt before waking us. Only rearm if
	 * nobody called Disable in the meantime. */
	if d.irqEnabled {
		if err := d.irqControl(true); err != nil {
			d.irqErr = err
		}
	}
}

// RunIRQ blocks reading interrupt events from the device and calls
// handler once per event. It returns nil after Close, or the read error
// that ended the loop. Run it on its own goroutine.
func (d *Device) RunIRQ(handler func()) error {
	var buf [4]byte

	for {
		select {
		case <-d.closeChan:
			return nil
		default:
		}

		if _, err := d.file.Read(buf[:]); err != nil {
			select {
			case <-d.closeChan:
				return nil
			default:
			}
			return err
		}

		handler()
		d.rearm()
	}
}

func (d *Device) Close() error {
	var err error

	d.closeOnce.Do(func() {
		close(d.closeChan)
		unix.Munmap(d.mem)
		err = d.file.Close()
	})

	return err
}
