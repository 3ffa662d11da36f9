package devices

import (
	"fmt"
	"strings"
)

// Compatibility says how much the EEPROM write path has been exercised on a
// chipset.
type Compatibility int

const (
	CompatibilityUnknown Compatibility = iota
	CompatibilityConfirmed
	CompatibilityExperimental
	CompatibilityIncompatible
)

func (c Compatibility) String() string {
	switch c {
	case CompatibilityConfirmed:
		return "confirmed"
	case CompatibilityExperimental:
		return "experimental"
	case CompatibilityIncompatible:
		return "incompatible"
	}
	return "unknown"
}

// Classify returns the compatibility class of a chipset name such as
// "AX88772A". Matching is case-insensitive.
func Classify(chipset string) Compatibility {
	c := strings.ToUpper(strings.TrimSpace(chipset))
	switch {
	case c == "":
		return CompatibilityUnknown
	case c == "AX88772C":
		return CompatibilityIncompatible
	case c == "AX88772" || c == "AX88772A" || c == "AX88772B":
		return CompatibilityConfirmed
	case c == "AX88178" || c == "AX88179":
		return CompatibilityExperimental
	case strings.HasPrefix(c, "RTL"):
		return CompatibilityIncompatible
	}
	return CompatibilityUnknown
}

type UnsupportedChipsetError struct {
	Chipset       string
	Compatibility Compatibility
}

func (e *UnsupportedChipsetError) Error() string {
	switch e.Compatibility {
	case CompatibilityIncompatible:
		if strings.EqualFold(e.Chipset, AX88772C.String()) {
			return fmt.Sprintf("chipset %s stores its identity in eFuse and cannot be reprogrammed", e.Chipset)
		}
		return fmt.Sprintf("chipset %s is not an ASIX EEPROM part", e.Chipset)
	case CompatibilityExperimental:
		return fmt.Sprintf("chipset %s is experimental, writes are refused unless explicitly allowed", e.Chipset)
	}
	return fmt.Sprintf("chipset %q is not supported", e.Chipset)
}

// CheckSupported returns an *UnsupportedChipsetError unless identity names a
// chipset whose EEPROM may be written. Experimental chipsets pass only when
// allowExperimental is set.
func CheckSupported(identity Identity, allowExperimental bool) error {
	c := Classify(identity.Chipset)
	switch c {
	case CompatibilityConfirmed:
		return nil
	case CompatibilityExperimental:
		if allowExperimental {
			return nil
		}
	}
	return &UnsupportedChipsetError{Chipset: identity.Chipset, Compatibility: c}
}
