// Command scopebus-scan identifies a bench instrument over a serial or
// USB-TMC-style line transport and prints its catalog descriptor.
package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/pflag"

	"github.com/benchdrv/scopebus"
)

func main() {
	var (
		device  = pflag.StringP("device", "d", "/dev/ttyUSB0", "Serial device path")
		baud    = pflag.IntP("baud", "b", 115200, "Serial baud rate")
		verbose = pflag.BoolP("verbose", "v", false, "Enable debug logging")
		help    = pflag.Bool("help", false, "Display help text")
	)

	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "%s - Identify a bench instrument and print its catalog entry.\n\n", os.Args[0])
		pflag.PrintDefaults()
	}
	pflag.Parse()

	if *help {
		pflag.Usage()
		os.Exit(0)
	}
	if *verbose {
		scopebus.SetLogLevel(log.DebugLevel)
	}

	t, err := scopebus.OpenSerial(*device, *baud)
	if err != nil {
		fmt.Fprintf(os.Stderr, "opening %s: %v\n", *device, err)
		os.Exit(1)
	}
	defer t.Close()

	if err := t.Send("*IDN?"); err != nil {
		fmt.Fprintf(os.Stderr, "sending *IDN?: %v\n", err)
		os.Exit(1)
	}
	line, err := t.ReceiveLine(2 * time.Second)
	if err != nil {
		fmt.Fprintf(os.Stderr, "reading identity: %v\n", err)
		os.Exit(1)
	}

	fields := strings.SplitN(line, ",", 4)
	if len(fields) < 2 {
		fmt.Fprintf(os.Stderr, "unexpected *IDN? reply: %q\n", line)
		os.Exit(1)
	}
	vendor, model := fields[0], fields[1]

	catalog := scopebus.NewCatalog()
	descriptor, err := catalog.Lookup(vendor, model)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s / %s: %v\n", vendor, model, err)
		os.Exit(1)
	}

	fmt.Printf("vendor:          %s\n", descriptor.Vendor)
	fmt.Printf("model:           %s\n", descriptor.Model)
	fmt.Printf("series:          %s\n", descriptor.Series)
	fmt.Printf("flavor:          %s\n", descriptor.Flavor)
	fmt.Printf("analog channels: %d\n", descriptor.AnalogChannels)
	fmt.Printf("logic channels:  %d (%d pod(s))\n", descriptor.LogicChannels, descriptor.PodCount())
	fmt.Printf("memory depth:    %d\n", descriptor.MemoryDepth)
}
