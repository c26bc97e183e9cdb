// Fifoplan computes and validates the shared packet memory partition for a
// device's endpoint set before it ever runs on hardware.  An endpoint set
// that overflows the packet memory panics the driver at bus reset, so the
// partition should be checked here, at build time, instead.
//
// The endpoint set is described in a YAML file:
//
//	speed: full          # full or high
//	depth: 320           # packet memory depth in words (optional)
//	endpoints:
//	  - number: 0        # omit for the first free number
//	    dir: in
//	    type: control
//	    maxPacketSize: 64
//
// Endpoint 0 is implicit in both directions and must not be listed.
package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"
	"gopkg.in/yaml.v3"

	"github.com/embdrv/usbd/otg"
	"github.com/embdrv/usbd/usb"
)

type cli struct {
	Config string `arg:"" help:"Endpoint set description (YAML)." type:"existingfile"`
	Quiet  bool   `short:"q" help:"Only report errors."`
}

type endpointSpec struct {
	Number        *int8  `yaml:"number"`
	Dir           string `yaml:"dir"`
	Type          string `yaml:"type"`
	MaxPacketSize uint16 `yaml:"maxPacketSize"`
	Interval      uint8  `yaml:"interval"`
}

type endpointSet struct {
	Speed     string         `yaml:"speed"`
	Depth     uint32         `yaml:"depth"`
	Endpoints []endpointSpec `yaml:"endpoints"`
}

// Packet memory depths of the common core variants, in words.
const (
	depthFullSpeed = 320
	depthHighSpeed = 1024
)

func main() {
	var cli cli
	ctx := kong.Parse(&cli,
		kong.Name("fifoplan"),
		kong.Description("Validate a USB endpoint set against the OTG packet memory."),
		kong.UsageOnError(),
	)
	ctx.FatalIfErrorf(run(&cli))
}

func run(cli *cli) error {
	data, err := os.ReadFile(cli.Config)
	if err != nil {
		return err
	}
	var set endpointSet
	if err := yaml.Unmarshal(data, &set); err != nil {
		return fmt.Errorf("%s: %w", cli.Config, err)
	}

	highSpeed, err := parseSpeed(set.Speed)
	if err != nil {
		return err
	}
	depth := set.Depth
	if depth == 0 {
		depth = depthFullSpeed
		if highSpeed {
			depth = depthHighSpeed
		}
	}

	plan, err := planSet(&set, highSpeed)
	if err != nil {
		return err
	}

	if !cli.Quiet {
		printPlan(plan)
	}
	if !plan.Fits(depth) {
		return fmt.Errorf("plan needs %d words, packet memory holds %d",
			plan.Top, depth)
	}
	if !cli.Quiet {
		fmt.Printf("fits: %d of %d words used\n", plan.Top, depth)
	}
	return nil
}

// planSet allocates endpoint numbers and accumulates the RX and per-endpoint
// TX demand the same way the driver does at runtime.
func planSet(set *endpointSet, highSpeed bool) (*otg.FIFOPlan, error) {
	var (
		alloc    otg.EndpointAllocator
		rxWords  uint32
		txWords  [otg.NumEndpoints]uint32
		implicit = endpointSpec{Number: new(int8), Type: "control", MaxPacketSize: 64}
	)

	specs := make([]endpointSpec, 0, len(set.Endpoints)+2)
	implicit.Dir = "out"
	specs = append(specs, implicit)
	implicit.Dir = "in"
	specs = append(specs, implicit)
	specs = append(specs, set.Endpoints...)

	for i := range specs {
		spec := &specs[i]
		config, dir, err := spec.config()
		if err != nil {
			return nil, err
		}
		desc, err := alloc.Alloc(config, dir)
		if err != nil {
			return nil, fmt.Errorf("endpoint %d %s: %w",
				config.Number, spec.Dir, err)
		}
		words := (uint32(desc.MaxPacketSize) + 3) / 4
		if dir == usb.DirIn {
			txWords[desc.Address.Number()] = words
		} else {
			rxWords += words
		}
	}

	plan := otg.PlanFIFO(rxWords, txWords, highSpeed)
	return &plan, nil
}

func (s *endpointSpec) config() (*usb.EndpointConfig, usb.Direction, error) {
	config := &usb.EndpointConfig{
		Number:        usb.AnyEndpoint,
		MaxPacketSize: s.MaxPacketSize,
		Interval:      s.Interval,
	}
	if s.Number != nil {
		config.Number = *s.Number
	}
	if config.MaxPacketSize == 0 {
		return nil, 0, fmt.Errorf("endpoint %s: maxPacketSize missing", s.Dir)
	}

	switch s.Type {
	case "control":
		config.Type = usb.EndpointControl
	case "isochronous":
		config.Type = usb.EndpointIsochronous
	case "bulk":
		config.Type = usb.EndpointBulk
	case "interrupt":
		config.Type = usb.EndpointInterrupt
	default:
		return nil, 0, fmt.Errorf("unknown endpoint type %q", s.Type)
	}

	var dir usb.Direction
	switch s.Dir {
	case "in":
		dir = usb.DirIn
	case "out":
		dir = usb.DirOut
	default:
		return nil, 0, fmt.Errorf("unknown endpoint direction %q", s.Dir)
	}
	return config, dir, nil
}

func parseSpeed(s string) (highSpeed bool, err error) {
	switch s {
	case "", "full":
		return false, nil
	case "high":
		return true, nil
	}
	return false, fmt.Errorf("unknown speed %q", s)
}

func printPlan(plan *otg.FIFOPlan) {
	fmt.Printf("rx:  %4d words at %4d\n", plan.RxWords, 0)
	for i, seg := range plan.Tx {
		fmt.Printf("tx%d: %4d words at %4d\n", i, seg.Words, seg.Start)
	}
}
