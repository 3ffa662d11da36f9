package recovery

import (
	"context"

	"github.com/golang/glog"

	"github.com/mib2ctl/axspoof/pkg/devices"
)

type Health int

const (
	HealthUnknown Health = iota
	HealthHealthy
	HealthDegraded
	HealthBricked
)

func (h Health) String() string {
	switch h {
	case HealthHealthy:
		return "healthy"
	case HealthDegraded:
		return "degraded"
	case HealthBricked:
		return "bricked"
	}
	return "unknown"
}

// writeTestOffset is rewritten with its own value by the write test.
const writeTestOffset = 0xff

type Diagnosis struct {
	Identity            devices.Identity
	DescriptorsReadable bool
	EEPROMReadable      bool
	WriteTested         bool
	EEPROMWritable      bool
	UnexpectedIdentity  bool
	Health              Health
	Issues              []string
	Recommendations     []string
}

// Diagnose probes the adapter. With writeTest set it rewrites the last
// EEPROM byte with the value it already holds.
func (c *Controller) Diagnose(ctx context.Context, identity devices.Identity, writeTest bool) *Diagnosis {
	d := &Diagnosis{
		Identity:            identity,
		DescriptorsReadable: identity.VendorID != 0 || identity.ProductID != 0,
		UnexpectedIdentity:  c.DetectBricked(identity),
	}
	if !d.DescriptorsReadable {
		d.Issues = append(d.Issues, "USB descriptors report 0x0000:0x0000")
	}

	if _, err := c.port.Read(ctx, 0x00, 1); err != nil {
		glog.Warningf("Diagnose: EEPROM read failed: %v", err)
		d.Issues = append(d.Issues, "EEPROM is not readable")
		d.Recommendations = append(d.Recommendations, "EEPROM may be corrupted or disconnected")
	} else {
		d.EEPROMReadable = true
	}

	if writeTest && d.EEPROMReadable {
		d.WriteTested = true
		d.EEPROMWritable = c.writeTest(ctx)
		if !d.EEPROMWritable {
			d.Issues = append(d.Issues, "EEPROM is read-only or write-protected")
			d.Recommendations = append(d.Recommendations, "Check whether the EEPROM write protect pin is tied high")
		}
	}

	switch {
	case !d.DescriptorsReadable:
		d.Health = HealthBricked
		d.Recommendations = append(d.Recommendations, "Restore a backup with force-restore")
	case !d.EEPROMReadable:
		d.Health = HealthBricked
		d.Recommendations = append(d.Recommendations, "Hardware recovery may be required")
	case d.WriteTested && !d.EEPROMWritable:
		d.Health = HealthDegraded
		d.Recommendations = append(d.Recommendations, "Adapter is readable but not writable")
	case d.UnexpectedIdentity:
		d.Health = HealthDegraded
		d.Issues = append(d.Issues, "Adapter reports an identity that is neither ASIX nor the spoof target")
		d.Recommendations = append(d.Recommendations, "Restore the backup taken before the last spoof")
	default:
		d.Health = HealthHealthy
		d.Recommendations = append(d.Recommendations, "Adapter is functional")
		if d.WriteTested {
			d.Recommendations = append(d.Recommendations, "Safe to proceed with spoofing")
		}
	}
	return d
}

func (c *Controller) writeTest(ctx context.Context) bool {
	b, err := c.port.Read(ctx, writeTestOffset, 1)
	if err != nil {
		return false
	}
	if err := c.port.Write(ctx, writeTestOffset, b[0]); err != nil {
		glog.Warningf("Diagnose: EEPROM write test failed: %v", err)
		return false
	}
	v, err := c.port.Read(ctx, writeTestOffset, 1)
	return err == nil && v[0] == b[0]
}
