package i2cmaster

/* Register offsets (word addressed, command and status share offset 0) */
const (
	regCommand    uint32 = 0x00
	regStatus     uint32 = 0x00
	regMasterAddr uint32 = 0x04
	regSlaveAddr  uint32 = 0x08
	regConfig     uint32 = 0x0c
)

/* Command encodings */
const (
	cmdNop   uint32 = 0
	cmdRead  uint32 = 4 << 8
	cmdWrite uint32 = 5 << 8
	cmdStop  uint32 = 6 << 8

	/* Transmit the data byte in the low bits of the command */
	cmdTxVal uint32 = 1 << 13
)

/* Status bits */
const (
	statusBusActive  uint32 = 0x8000
	statusRxReady    uint32 = 0x4000
	statusCmdLock    uint32 = 0x1000
	statusCauseMask  uint32 = 0x0f00
	statusRxDataMask uint32 = 0x00ff
)

/* Interrupt cause codes, read from the status cause field */
const (
	causeArbitLost uint32 = 1 << 8
	causeNoAck     uint32 = 2 << 8
	causeTxData    uint32 = 3 << 8
	causeRxData    uint32 = 4 << 8
	causeCmdAck    uint32 = 5 << 8
)

/* Master address register layout */
const (
	masterAddrMask  uint32 = 0x7ff
	masterAddrShift        = 1
	masterAddr10Bit uint32 = 1
)

/* Configuration register layout */
const (
	configIrqDisable   uint32 = 1 << 15
	configTimingMode   uint32 = 1 << 14
	configDivDisable   uint32 = 1 << 13
	configSpikeShift          = 9
	configClkRefMask   uint32 = 0x1ff
	configSpikeMaxwait uint32 = 0xf << configSpikeShift
)

/* Supported bus frequencies in Hz */
const (
	SpeedStandard uint32 = 100000
	SpeedFast     uint32 = 400000
)
