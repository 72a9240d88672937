package gpio

const gpioGetChipinfoIoctl uintptr = 0x8044b401
const gpioGetLineinfoIoctl uintptr = 0xc048b402
const gpioGetLinehandleIoctl uintptr = 0xc16cb403
const gpiohandleGetLineValuesIoctl uintptr = 0xc040b408
const gpiohandleSetLineValuesIoctl uintptr = 0xc040b409

type requestFlag uint32

const requestInput requestFlag = 0x00000001
const requestOutput requestFlag = 0x00000002
const requestOpenDrain requestFlag = 0x00000008
