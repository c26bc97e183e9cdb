package otg

import "github.com/embdrv/usbd/usb"

// EndpointAllocator assigns hardware endpoint numbers while the device's
// endpoint set is built, before any register access happens.  It keeps one
// in-use bitmap per direction; bit n set means endpoint number n is taken in
// that direction.
type EndpointAllocator struct {
	in  uint8
	out uint8
}

// Alloc reserves an endpoint number for config in the given direction and
// returns its descriptor.  A specifically requested number fails with
// ErrInvalidEndpoint if it is already taken; the any-free path scans numbers
// 1..3 in ascending order and fails with ErrEndpointOverflow when all are
// taken.  Endpoint 0 must always be requested explicitly, it is reserved
// for control transfers.
func (a *EndpointAllocator) Alloc(config *usb.EndpointConfig, dir usb.Direction) (usb.EndpointDescriptor, error) {
	bitmap := &a.out
	if dir == usb.DirIn {
		bitmap = &a.in
	}
	number, err := allocNumber(bitmap, config)
	if err != nil {
		return usb.EndpointDescriptor{}, err
	}
	return usb.EndpointDescriptor{
		Address:       usb.NewEndpointAddress(number, dir),
		Type:          config.Type,
		MaxPacketSize: config.MaxPacketSize,
		Interval:      config.Interval,
	}, nil
}

func allocNumber(bitmap *uint8, config *usb.EndpointConfig) (uint8, error) {
	if config.Number != usb.AnyEndpoint {
		number := uint8(config.Number)
		if config.Number < 0 || number >= NumEndpoints {
			return 0, usb.ErrInvalidEndpoint
		}
		if *bitmap&(1<<number) != 0 {
			return 0, usb.ErrInvalidEndpoint
		}
		*bitmap |= 1 << number
		return number, nil
	}

	// Skip endpoint 0.
	for number := uint8(1); number < NumEndpoints; number++ {
		if *bitmap&(1<<number) == 0 {
			*bitmap |= 1 << number
			return number, nil
		}
	}
	return 0, usb.ErrEndpointOverflow
}
