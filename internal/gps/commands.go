package gps

import (
	"encoding/binary"
	"fmt"

	gonmea "github.com/adrianmo/go-nmea"

	"gpsdo/internal/nmea"
)

// Baud rates every supported receiver can be switched to.
var SupportedBauds = []int{9600, 19200, 38400, 57600, 115200}

func supportedBaud(b int) bool {
	for _, v := range SupportedBauds {
		if v == b {
			return true
		}
	}
	return false
}

// BaudCommand returns the bytes that switch the receiver's UART to baud.
func BaudCommand(m nmea.Module, baud int) ([]byte, error) {
	if !supportedBaud(baud) {
		return nil, fmt.Errorf("gps: unsupported baud %d", baud)
	}
	switch m {
	case nmea.ModuleATGM336H:
		var code int
		for i, v := range SupportedBauds {
			if v == baud {
				code = i + 1
			}
		}
		return nmeaCommand(fmt.Sprintf("PCAS01,%d", code)), nil
	case nmea.ModuleNEO6M:
		return ubxPacket(ubxClassCFG, ubxIDPrt, cfgPrtPayload(uint32(baud))), nil
	case nmea.ModuleNEOM9N:
		return ubxPacket(ubxClassCFG, ubxIDValSet, valSetU4(ubxKeyUART1Baud, uint32(baud))), nil
	default:
		return nil, fmt.Errorf("gps: no baud command for module %s", m)
	}
}

// SaveCommand returns the bytes that persist the receiver configuration.
func SaveCommand(m nmea.Module) ([]byte, error) {
	switch m {
	case nmea.ModuleATGM336H:
		return nmeaCommand("PCAS00"), nil
	case nmea.ModuleNEO6M, nmea.ModuleNEOM9N:
		return ubxPacket(ubxClassCFG, ubxIDCfg, cfgSavePayload()), nil
	default:
		return nil, fmt.Errorf("gps: no save command for module %s", m)
	}
}

// nmeaCommand frames a proprietary sentence: $body*hh\r\n.
func nmeaCommand(body string) []byte {
	return []byte("$" + body + "*" + gonmea.Checksum(body) + "\r\n")
}

const (
	ubxSync1 = 0xB5
	ubxSync2 = 0x62

	ubxClassCFG = 0x06
	ubxIDPrt    = 0x00
	ubxIDCfg    = 0x09
	ubxIDValSet = 0x8A

	ubxKeyUART1Baud = 0x40520001 // CFG-UART1-BAUDRATE, U4
)

// ubxChecksum is the 8-bit Fletcher sum over class, id, length and payload.
func ubxChecksum(data []byte) (ckA, ckB uint8) {
	for _, b := range data {
		ckA += b
		ckB += ckA
	}
	return ckA, ckB
}

func ubxPacket(class, id uint8, payload []byte) []byte {
	buf := make([]byte, 0, 8+len(payload))
	buf = append(buf, ubxSync1, ubxSync2, class, id)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(payload)))
	buf = append(buf, payload...)
	ckA, ckB := ubxChecksum(buf[2:])
	return append(buf, ckA, ckB)
}

// CFG-PRT for UART1: 8N1, UBX+NMEA in and out.
func cfgPrtPayload(baud uint32) []byte {
	p := make([]byte, 20)
	p[0] = 1 // portID
	binary.LittleEndian.PutUint32(p[4:], 0x000008D0)
	binary.LittleEndian.PutUint32(p[8:], baud)
	binary.LittleEndian.PutUint16(p[12:], 0x0003)
	binary.LittleEndian.PutUint16(p[14:], 0x0003)
	return p
}

// CFG-CFG: save all sections to BBR, flash and EEPROM.
func cfgSavePayload() []byte {
	p := make([]byte, 13)
	binary.LittleEndian.PutUint32(p[4:], 0x0000FFFF)
	p[12] = 0x17
	return p
}

// CFG-VALSET into the RAM layer; the save command makes it persistent.
func valSetU4(key, value uint32) []byte {
	p := make([]byte, 4, 12)
	p[1] = 0x01 // RAM
	p = binary.LittleEndian.AppendUint32(p, key)
	return binary.LittleEndian.AppendUint32(p, value)
}
