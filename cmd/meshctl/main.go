// Command meshctl is a bench-test harness for a single mesh node: it
// loads a bring-up config, wires an in-process Node aggregate exactly
// as a caller in internal/node's own tests would, and exposes the
// management operations of spec.md 6 as CLI flags. It speaks to no
// network transport of its own -- mirrors the teacher's cmd/direwolf
// flag handling (cmd/direwolf/main.go), trimmed to this core's surface.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/uwbmesh/tschcore/internal/config"
	"github.com/uwbmesh/tschcore/internal/node"
	"github.com/uwbmesh/tschcore/internal/radio"
)

func main() {
	var (
		configFile    = pflag.StringP("config", "c", "meshctl.yaml", "Bring-up config file (YAML).")
		device        = pflag.StringP("device", "d", "", "Serial device for the radio MCU front-end. Empty runs against an isolated in-memory simulator.")
		baud          = pflag.IntP("baud", "b", 115200, "Serial baud rate, used only with -device.")
		start         = pflag.Bool("start", false, "Bring the node's TSCH and location engines up.")
		stop          = pflag.Bool("stop", false, "Tear the node down after any requested ticks and dumps.")
		scan          = pflag.Bool("scan", false, "Join an existing network by scanning, rather than starting as the root anchor.")
		forceBeacon   = pflag.Int("force-beacon", -1, "Force this node's lattice beacon index, overriding the config file and the normal selection state machine.")
		ticks         = pflag.Int("ticks", 0, "Number of scheduler ticks to run after -start.")
		dumpNeighbors = pflag.Bool("dump-neighbors", false, "Print the current neighbor table.")
		dumpCounters  = pflag.Bool("dump-counters", false, "Print the current TSCH/location engine counters.")
		help          = pflag.BoolP("help", "h", false, "Display help text.")
	)

	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "%s - bench management CLI for one mesh-core node.\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Usage: meshctl [options]\n")
		pflag.PrintDefaults()
	}
	pflag.Parse()

	if *help {
		pflag.Usage()
		os.Exit(0)
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, "meshctl:", err)
		os.Exit(1)
	}
	if *forceBeacon >= 0 {
		cfg.ForcedBeaconIndex = *forceBeacon
	}

	var r radio.Capability
	if *device != "" {
		sr, err := radio.OpenSerialRadio(*device, *baud)
		if err != nil {
			fmt.Fprintln(os.Stderr, "meshctl:", err)
			os.Exit(1)
		}
		defer sr.Close()
		r = sr
	} else {
		r = radio.NewSim()
	}

	n, err := node.New(cfg, r)
	if err != nil {
		fmt.Fprintln(os.Stderr, "meshctl:", err)
		os.Exit(1)
	}

	if *start {
		n.Start(!*scan)
	}
	for i := 0; i < *ticks; i++ {
		n.Tick()
	}

	if *dumpNeighbors {
		for _, row := range n.DumpNeighbors() {
			fmt.Printf("%2d  %s  pos=%-24s class=%d drop=%d local=%t\n",
				row.Index, row.Addr, row.Position, row.Class, row.DropCnt, row.Local)
		}
	}
	if *dumpCounters {
		c := n.DumpCounters()
		fmt.Printf("tsch=%s location=%s bayes_v=%.3f position_known=%t\n",
			c.TschState, c.LocationState, c.BayesV, c.PositionKnown)
	}

	if *stop {
		n.Stop()
	}
}
