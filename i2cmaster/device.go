package i2cmaster

type Device struct {
	c      *Controller
	addr   uint16
	tenBit bool
}

// GetDevice returns a handle for one 7 bit address on the bus.
func (c *Controller) GetDevice(address uint16) *Device {
	return &Device{
		c:    c,
		addr: address,
	}
}

// GetDevice10 returns a handle for one 10 bit address on the bus.
func (c *Controller) GetDevice10(address uint16) *Device {
	return &Device{
		c:      c,
		addr:   address,
		tenBit: true,
	}
}

// Probe checks if the device answers its address. No payload is moved.
func (d *Device) Probe() error {
	_, err := d.c.Transfer([]Message{{
		Addr:   d.addr,
		TenBit: d.tenBit,
	}})

	return err
}

// Transfer writes writeBuf to the device and then reads readBuf from it.
// Either buffer may be nil.
func (d *Device) Transfer(writeBuf []byte, readBuf []byte) error {
	var msgs []Message

	if writeBuf != nil {
		msgs = append(msgs, Message{
			Addr:   d.addr,
			TenBit: d.tenBit,
			Buf:    writeBuf,
		})
	}
	if readBuf != nil {
		msgs = append(msgs, Message{
			Addr:   d.addr,
			TenBit: d.tenBit,
			Read:   true,
			Buf:    readBuf,
		})
	}

	if len(msgs) == 0 {
		// A succesful, albeit useless, transfer
		return nil
	}

	_, err := d.c.Transfer(msgs)
	return err
}

func (d *Device) WriteReg8(reg uint8, value uint8) error {
	write := []byte{reg, value}
	return d.Transfer(write, nil)
}

func (d *Device) ReadReg8(reg uint8) (uint8, error) {
	write := []byte{reg}
	read := make([]byte, 1)
	err := d.Transfer(write, read)
	if err != nil {
		return 0, err
	}
	return read[0], nil
}

/* 16 bit registers use the SMBus word order, low byte first */

func (d *Device) WriteReg16(reg uint8, value uint16) error {
	write := []byte{reg, byte(value), byte(value >> 8)}
	return d.Transfer(write, nil)
}

func (d *Device) ReadReg16(reg uint8) (uint16, error) {
	write := []byte{reg}
	read := make([]byte, 2)
	err := d.Transfer(write, read)
	if err != nil {
		return 0, err
	}
	return uint16(read[0]) | uint16(read[1])<<8, nil
}
