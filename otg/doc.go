// Package otg implements the device-mode driver for the USB OTG controller
// core found in many microcontrollers, in its full-speed and high-speed
// variants.
//
// The driver owns the controller's register blocks and the shared packet
// FIFO.  It allocates hardware endpoint numbers and FIFO memory, brings the
// core into a working device configuration and translates raw interrupt and
// status register state into the abstract bus events of the usb package.
// Descriptor parsing, standard request handling and class logic belong to
// the device stack on top.
package otg
