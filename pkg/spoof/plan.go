package spoof

import (
	"context"
	"fmt"

	"github.com/mib2ctl/axspoof/pkg/devices"
	"github.com/mib2ctl/axspoof/pkg/eeprom"
)

// Change is one byte a spoof would write.
type Change struct {
	Offset      uint16
	Current     byte
	New         byte
	Description string
}

// Plan is the outcome of a dry run: what would be written, without writing.
type Plan struct {
	Identity devices.Identity
	Target   devices.Target
	Changes  []Change
	Warnings []string
}

// NoOp is true when the EEPROM already holds the target identity. A spoof
// towards the same target then writes nothing.
func (p *Plan) NoOp() bool {
	return len(p.Changes) == 0
}

// Plan validates target like Start does and reads the current identity
// bytes. The EEPROM is never written.
func (o *Orchestrator) Plan(ctx context.Context, target devices.Target) (*Plan, error) {
	if err := o.validate(target); err != nil {
		return nil, err
	}
	cur, err := o.port.Read(ctx, eeprom.OffsetVIDLow, uint16(len(eeprom.IdentityOffsets)))
	if err != nil {
		return nil, fmt.Errorf("could not read identity bytes: %w", err)
	}
	if len(cur) != len(eeprom.IdentityOffsets) {
		return nil, &eeprom.TransportError{Op: eeprom.OperationRead, Offset: eeprom.OffsetVIDLow, Length: len(eeprom.IdentityOffsets), Err: fmt.Errorf("short read: %d bytes", len(cur))}
	}

	p := &Plan{
		Identity: o.identity,
		Target:   target,
	}
	if devices.Classify(o.identity.Chipset) == devices.CompatibilityExperimental {
		p.Warnings = append(p.Warnings, fmt.Sprintf("chipset %s is experimental, keep the backup safe", o.identity.Chipset))
	}
	var stored [4]byte
	copy(stored[:], cur)
	if stored != eeprom.IdentityBytes(o.identity.Target()) {
		p.Warnings = append(p.Warnings, "EEPROM identity bytes do not match the USB descriptor, the adapter may keep its identity elsewhere")
	}
	if _, ok := devices.Lookup(target.VendorID, target.ProductID); !ok {
		p.Warnings = append(p.Warnings, fmt.Sprintf("target %s is not a known adapter", target))
	}

	want := eeprom.IdentityBytes(target)
	for i, step := range writeSteps {
		if stored[i] == want[i] {
			continue
		}
		p.Changes = append(p.Changes, Change{
			Offset:      eeprom.IdentityOffsets[i],
			Current:     stored[i],
			New:         want[i],
			Description: step.Description(),
		})
	}
	return p, nil
}
