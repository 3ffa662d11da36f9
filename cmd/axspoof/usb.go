package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/gousb"
	"github.com/hashicorp/go-multierror"

	"github.com/mib2ctl/axspoof/pkg/devices"
)

type desktopUsb struct {
	usb *gousb.Device
}

func (d *desktopUsb) Control(rType, request uint8, val, idx uint16, data []byte) (int, error) {
	v, err := d.usb.Control(rType, request, val, idx, data)
	if err == gousb.ErrorTimeout {
		err = devices.UsbTimeoutError
	}
	return v, err
}

func (d *desktopUsb) SetControlTimeout(dur time.Duration) error {
	d.usb.ControlTimeout = dur
	return nil
}

func (d *desktopUsb) GetStringDescriptor(descIndex int) (string, error) {
	return d.usb.GetStringDescriptor(descIndex)
}

func (d *desktopUsb) Close() error {
	return d.usb.Close()
}

// adapter is an opened USB Ethernet adapter.
type adapter struct {
	ctx      *gousb.Context
	Usb      devices.Usb
	Identity devices.Identity
}

func (a *adapter) Close() error {
	if err := a.Usb.Close(); err != nil {
		return fmt.Errorf("when closing USB device: %w", err)
	}
	if err := a.ctx.Close(); err != nil {
		return fmt.Errorf("when closing context: %w", err)
	}
	return nil
}

func newAdapter(ctx *gousb.Context, usb *gousb.Device) *adapter {
	name, err := usb.Product()
	if err != nil {
		slog.Debug("Could not read product string", "err", err)
	}
	vid, pid := uint16(usb.Desc.Vendor), uint16(usb.Desc.Product)
	return &adapter{
		ctx:      ctx,
		Usb:      &desktopUsb{usb: usb},
		Identity: devices.IdentityFor(vid, pid, name),
	}
}

// openAdapter opens the adapter selected with --device, or else the first
// attached adapter from the known table or carrying target.
func openAdapter(target devices.Target) (*adapter, error) {
	ctx, err := newContext()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize USB: %w", err)
	}

	candidates := make([]devices.Target, 0, len(devices.Descriptions)+1)
	if deviceID != "" {
		vid, pid, err := parseVIDPID(deviceID)
		if err != nil {
			ctx.Close()
			return nil, err
		}
		candidates = append(candidates, devices.Target{VendorID: vid, ProductID: pid})
	} else {
		for _, d := range devices.Descriptions {
			candidates = append(candidates, devices.Target{VendorID: d.VID, ProductID: d.PID})
		}
		candidates = append(candidates, target)
	}

	var errs error
	for _, c := range candidates {
		usb, err := ctx.OpenDeviceWithVIDPID(gousb.ID(c.VendorID), gousb.ID(c.ProductID))
		if err != nil {
			errs = multierror.Append(errs, err)
		}
		if usb == nil {
			continue
		}
		a := newAdapter(ctx, usb)
		slog.Info("Found adapter", "id", devices.FormatID(c.VendorID)+":"+devices.FormatID(c.ProductID), "chipset", a.Identity.Chipset, "name", a.Identity.DeviceName)
		return a, nil
	}
	ctx.Close()
	if errs == nil {
		return nil, fmt.Errorf("no adapter found")
	}
	return nil, errs
}

// attachedDevices lists the descriptors of every USB device on the bus.
func attachedDevices() ([]*gousb.DeviceDesc, error) {
	ctx, err := newContext()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize USB: %w", err)
	}
	defer ctx.Close()

	var res []*gousb.DeviceDesc
	_, err = ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		res = append(res, desc)
		return false
	})
	return res, err
}

func newContext() (*gousb.Context, error) {
	resC := make(chan *gousb.Context)
	errC := make(chan error)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				errC <- fmt.Errorf("%v", r)
			}
		}()

		resC <- gousb.NewContext()
	}()

	select {
	case err := <-errC:
		return nil, err
	case res := <-resC:
		return res, nil
	}
}
