package devices

import "fmt"

// Kind is the chipset inside a USB-Ethernet adapter.
type Kind string

const (
	AX88178  Kind = "ax88178"
	AX88179  Kind = "ax88179"
	AX88772  Kind = "ax88772"
	AX88772A Kind = "ax88772a"
	AX88772B Kind = "ax88772b"
	AX88772C Kind = "ax88772c"
	RTL8152  Kind = "rtl8152"
	RTL8153  Kind = "rtl8153"
	Unknown  Kind = ""
)

func (k Kind) String() string {
	switch k {
	case AX88178:
		return "AX88178"
	case AX88179:
		return "AX88179"
	case AX88772:
		return "AX88772"
	case AX88772A:
		return "AX88772A"
	case AX88772B:
		return "AX88772B"
	case AX88772C:
		return "AX88772C"
	case RTL8152:
		return "RTL8152"
	case RTL8153:
		return "RTL8153"
	}
	return "UNKNOWN"
}

// HasEfuse is true for chipsets that keep their identity in one-time
// programmable fuses instead of an external EEPROM.
func (k Kind) HasEfuse() bool {
	return k == AX88772C
}

const (
	VendorASIX    uint16 = 0x0b95
	VendorDLink   uint16 = 0x2001
	VendorRealtek uint16 = 0x0bda
)

type Description struct {
	VID, PID uint16
	Kind     Kind
	Name     string
}

// ID renders the pair as 0xVVVV:0xPPPP.
func (d Description) ID() string {
	return fmt.Sprintf("%s:%s", FormatID(d.VID), FormatID(d.PID))
}

// Descriptions lists every adapter the tool knows how to recognize. The
// D-Link entries carry the chipset found inside that hardware revision.
var Descriptions = []Description{
	{VID: VendorASIX, PID: 0x1780, Kind: AX88178, Name: "ASIX AX88178 Gigabit Ethernet"},
	{VID: VendorASIX, PID: 0x178a, Kind: AX88179, Name: "ASIX AX88179 Gigabit Ethernet"},
	{VID: VendorASIX, PID: 0x7720, Kind: AX88772, Name: "ASIX AX88772 Fast Ethernet"},
	{VID: VendorASIX, PID: 0x772a, Kind: AX88772A, Name: "ASIX AX88772A Fast Ethernet"},
	{VID: VendorASIX, PID: 0x772b, Kind: AX88772B, Name: "ASIX AX88772B Fast Ethernet"},
	{VID: VendorASIX, PID: 0x772c, Kind: AX88772C, Name: "ASIX AX88772C Fast Ethernet (eFuse)"},
	{VID: VendorDLink, PID: 0x1a00, Kind: AX88772, Name: "D-Link DUB-E100 Rev A"},
	{VID: VendorDLink, PID: 0x1a02, Kind: AX88772A, Name: "D-Link DUB-E100 Rev B1"},
	{VID: VendorDLink, PID: 0x3c05, Kind: AX88772B, Name: "D-Link DUB-E100 Rev C1"},
	{VID: VendorRealtek, PID: 0x8152, Kind: RTL8152, Name: "Realtek RTL8152 Fast Ethernet"},
	{VID: VendorRealtek, PID: 0x8153, Kind: RTL8153, Name: "Realtek RTL8153 Gigabit Ethernet"},
}

// Lookup finds the table entry for a VID/PID pair.
func Lookup(vid, pid uint16) (Description, bool) {
	for _, d := range Descriptions {
		if d.VID == vid && d.PID == pid {
			return d, true
		}
	}
	return Description{}, false
}

// FormatID renders a USB vendor or product id the way it is shown to users,
// e.g. 0x0B95.
func FormatID(id uint16) string {
	return fmt.Sprintf("0x%04X", id)
}

// Target is a VID/PID pair to be programmed into an adapter.
type Target struct {
	VendorID  uint16
	ProductID uint16
}

func (t Target) String() string {
	return fmt.Sprintf("%s:%s", FormatID(t.VendorID), FormatID(t.ProductID))
}

// DUBE100C1 is the identity expected by head units that only accept the
// D-Link DUB-E100 hardware revision C1.
var DUBE100C1 = Target{VendorID: VendorDLink, ProductID: 0x3c05}
