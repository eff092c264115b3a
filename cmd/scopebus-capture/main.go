// Command scopebus-capture runs a bounded acquisition against a
// line-transport instrument and prints a summary of every packet
// received on the session sink.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/pflag"

	"github.com/benchdrv/scopebus"
)

func main() {
	var (
		device  = pflag.StringP("device", "d", "/dev/ttyUSB0", "Serial device path")
		baud    = pflag.IntP("baud", "b", 115200, "Serial baud rate")
		channel = pflag.IntP("channel", "c", 0, "Analog channel to enable (0-based)")
		frames  = pflag.IntP("frames", "f", 1, "Number of frames to capture")
		verbose = pflag.BoolP("verbose", "v", false, "Enable debug logging")
		help    = pflag.Bool("help", false, "Display help text")
	)

	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "%s - Run a bounded capture and print packet summaries.\n\n", os.Args[0])
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

	catalog := scopebus.NewCatalog()
	descriptor, err := catalog.Lookup(fields[0], fields[1])
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s / %s: %v\n", fields[0], fields[1], err)
		os.Exit(1)
	}
	serial := ""
	if len(fields) > 2 {
		serial = fields[2]
	}

	inst := scopebus.OpenScope(t, descriptor, serial)
	if err := inst.SetAnalogEnable(*channel, true); err != nil {
		fmt.Fprintf(os.Stderr, "enabling channel %d: %v\n", *channel, err)
		os.Exit(1)
	}
	inst.SetFrameLimit(*frames)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	count := 0
	finished := make(chan struct{})
	sink := scopebus.SinkFunc(func(p scopebus.Packet) {
		count++
		switch p.Kind {
		case scopebus.PacketAnalog:
			fmt.Printf("Analog   ch=%d samples=%d\n", p.Analog.Source.Index, len(p.Analog.Samples))
		case scopebus.PacketLogic:
			fmt.Printf("Logic    unitsize=%d bytes=%d\n", p.Logic.UnitSize, len(p.Logic.Data))
		default:
			fmt.Printf("%s\n", p.Kind)
		}
		if p.Kind == scopebus.PacketEnd {
			close(finished)
		}
	})

	if err := inst.Start(ctx, sink); err != nil {
		fmt.Fprintf(os.Stderr, "starting acquisition: %v\n", err)
		os.Exit(1)
	}
	select {
	case <-ctx.Done():
	case <-finished:
	}
	inst.Stop()
	fmt.Printf("%d packets received\n", count)
}
