package devices

import (
	"fmt"
	"strings"
)

// Identity is what the host sees of an attached adapter.
type Identity struct {
	VendorID   uint16
	ProductID  uint16
	Chipset    string
	DeviceName string
}

// IdentityFor builds an Identity from a VID/PID pair, filling in chipset and
// name from the adapter table. A non-empty name overrides the table name.
func IdentityFor(vid, pid uint16, name string) Identity {
	id := Identity{
		VendorID:  vid,
		ProductID: pid,
		Chipset:   Unknown.String(),
	}
	if d, ok := Lookup(vid, pid); ok {
		id.Chipset = d.Kind.String()
		id.DeviceName = d.Name
	}
	if strings.TrimSpace(name) != "" {
		id.DeviceName = name
	}
	if id.DeviceName == "" {
		id.DeviceName = "Unknown USB device"
	}
	return id
}

// Kind returns the chipset kind named by Chipset.
func (i Identity) Kind() Kind {
	for _, d := range Descriptions {
		if strings.EqualFold(d.Kind.String(), i.Chipset) {
			return d.Kind
		}
	}
	return Unknown
}

func (i Identity) Target() Target {
	return Target{VendorID: i.VendorID, ProductID: i.ProductID}
}

func (i Identity) String() string {
	return fmt.Sprintf("%s:%s (%s, %s)", FormatID(i.VendorID), FormatID(i.ProductID), i.Chipset, i.DeviceName)
}
