package obd

import "fmt"

// Code is a stored diagnostic trouble code in its two byte wire form.
type Code uint16

// String renders the code the way a workshop scanner does, e.g. P0133.
func (c Code) String() string {
	system := "PCBU"[c>>14]
	return fmt.Sprintf("%c%d%03X", system, (c>>12)&0x3, uint16(c)&0x0fff)
}

// Description of a handful of common codes, shown on the codes screen.
var descriptions = map[Code]string{
	0x0100: "MAF circuit",
	0x0101: "MAF range/performance",
	0x0110: "intake air temp circuit",
	0x0115: "coolant temp circuit",
	0x0120: "throttle position circuit",
	0x0130: "O2 sensor circuit B1S1",
	0x0133: "O2 sensor slow response B1S1",
	0x0171: "system too lean B1",
	0x0172: "system too rich B1",
	0x0300: "random misfire",
	0x0301: "misfire cylinder 1",
	0x0302: "misfire cylinder 2",
	0x0303: "misfire cylinder 3",
	0x0304: "misfire cylinder 4",
	0x0420: "catalyst efficiency B1",
	0x0440: "EVAP system",
	0x0500: "vehicle speed sensor",
	0x0505: "idle control system",
}

func (c Code) Description() string {
	return descriptions[c]
}
