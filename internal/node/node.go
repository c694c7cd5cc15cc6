// Package node wires a radio, scheduler, TSCH engine, and location
// engine together into one owned aggregate (spec.md 9: "globally
// mutable singletons become fields of an owned Node struct, not
// package-level globals"), the way a bring-up caller in the teacher's
// cmd/direwolf/main.go assembles its audio/modem/ax25 pieces into one
// run rather than reaching for global state.
package node

import (
	"fmt"
	"math/rand"

	"github.com/charmbracelet/log"

	"github.com/uwbmesh/tschcore/internal/addr"
	"github.com/uwbmesh/tschcore/internal/bridge"
	"github.com/uwbmesh/tschcore/internal/config"
	"github.com/uwbmesh/tschcore/internal/diag"
	"github.com/uwbmesh/tschcore/internal/discovery"
	"github.com/uwbmesh/tschcore/internal/location"
	"github.com/uwbmesh/tschcore/internal/radio"
	"github.com/uwbmesh/tschcore/internal/sched"
	"github.com/uwbmesh/tschcore/internal/tsch"
)

// mainPriority is the slotframe priority used to host the advertising,
// shared, and location search slots installed by New.
const mainPriority = 0

// Node owns every per-node engine: the scheduler, the TSCH link-layer
// state machine, and the location engine, plus whichever optional
// operator-facing pieces a bring-up config turns on.
type Node struct {
	Self addr.Addr
	Cfg  config.Config

	Radio    radio.Capability
	Sched    *sched.Scheduler
	Tsch     *tsch.Engine
	Location *location.Engine

	Snapshot  *diag.SnapshotWriter
	Bridge    *bridge.Bridge
	Discovery *discovery.Responder

	Log *log.Logger
}

// New assembles a Node from a bring-up config and a radio backend. It
// installs every slotframe named in cfg, plus a default slot layout
// (advertising, shared, and the location engine's four loc-slot
// cells) on the slotframe with priority mainPriority.
func New(cfg config.Config, r radio.Capability) (*Node, error) {
	self, err := cfg.SelfAddr()
	if err != nil {
		return nil, err
	}

	s := sched.New()
	var main *sched.Slotframe
	for _, sfCfg := range cfg.Slotframes {
		sf, err := s.SlotframeAdd(sfCfg.Priority, sfCfg.Length)
		if err != nil {
			return nil, fmt.Errorf("node: install slotframe priority %d: %w", sfCfg.Priority, err)
		}
		if sfCfg.Priority == mainPriority {
			main = sf
		}
	}
	if main == nil {
		return nil, fmt.Errorf("node: no slotframe with priority %d configured", mainPriority)
	}

	n := &Node{
		Self:     self,
		Cfg:      cfg,
		Radio:    r,
		Sched:    s,
		Tsch:     tsch.NewEngine(self, r, s),
		Location: location.NewEngine(self, s),
		Log:      log.Default().With("component", "node", "addr", self.String()),
	}
	n.Tsch.Distance = n.Location
	n.Tsch.Filter = func(ssid string) bool { return ssid == cfg.SSID }
	if cfg.ForcedBeaconIndex >= 0 {
		n.Location.IsBeacon = true
		n.Location.BeaconIndex = cfg.ForcedBeaconIndex
	}

	if err := n.installSlots(main); err != nil {
		return nil, err
	}
	if err := n.installOptional(); err != nil {
		return nil, err
	}
	return n, nil
}

func (n *Node) installSlots(main *sched.Slotframe) error {
	if _, err := sched.SlotAdd(main, sched.OptTX, 0, func(asn uint64, slot *sched.Slot) {
		isPrime := (asn/uint64(main.Length))%4 == 0
		n.Tsch.AdvertisingSlot(asn, slot, isPrime, n.Cfg.SSID)
	}); err != nil {
		return fmt.Errorf("node: install advertising slot: %w", err)
	}
	if _, err := sched.SlotAdd(main, sched.OptShared, 1, func(asn uint64, slot *sched.Slot) {
		n.Tsch.SharedSlot(slot, rand.Float64())
	}); err != nil {
		return fmt.Errorf("node: install shared slot: %w", err)
	}
	n.Location.InstallSearchSlots(main, func(asn uint64, slot *sched.Slot) {
		n.Location.CellSlot(n.Radio, asn, 128, n.Cfg.SSID)
	})
	return nil
}

func (n *Node) installOptional() error {
	if n.Cfg.SnapshotPath != "" {
		w, err := diag.NewSnapshotWriter(n.Cfg.SnapshotPath)
		if err != nil {
			return fmt.Errorf("node: open snapshot writer: %w", err)
		}
		n.Snapshot = w
	}
	if n.Cfg.BridgeEnabled {
		b, err := bridge.Open(n.Log.With("component", "bridge"))
		if err != nil {
			return fmt.Errorf("node: open bridge: %w", err)
		}
		n.Bridge = b
		if n.Cfg.DiscoveryEnabled {
			resp, err := discovery.Announce(discovery.DefaultName(), 0, n.Log.With("component", "discovery"))
			if err != nil {
				n.Log.Warn("discovery announce failed", "err", err)
			} else {
				n.Discovery = resp
			}
		}
	}
	return nil
}

// Start brings the TSCH and location engines up. asRoot designates
// this node as the network's initial anchor, skipping the scan phase
// the way a root node never scans for an existing network to join.
func (n *Node) Start(asRoot bool) {
	if asRoot {
		n.Tsch.Handle(tsch.EventStartNetwork)
		n.Location.Handle(location.EventStartRoot)
		return
	}
	n.Tsch.Handle(tsch.EventStartScan)
	n.Location.Handle(location.EventStart)
}

// Stop tears the node down, releasing any optional operator surfaces.
func (n *Node) Stop() {
	n.Tsch.Handle(tsch.EventDisconnect)
	n.Location.Handle(location.EventStop)
	if n.Snapshot != nil {
		n.Snapshot.Close()
	}
	if n.Discovery != nil {
		n.Discovery.Stop()
	}
	if n.Bridge != nil {
		n.Bridge.Close()
	}
}

// Tick advances the scheduler by one slot, firing whichever slot
// callback is registered at the new ASN in each installed slotframe.
func (n *Node) Tick() {
	n.Sched.Tick()
}

// NeighborSnapshot returns one row per present neighbor-table entry,
// used by cmd/meshctl's -dump-neighbors.
type NeighborSnapshot struct {
	Index    int
	Addr     addr.Addr
	Position string
	Class    uint8
	DropCnt  int
	Local    bool
}

// DumpNeighbors reports this node's current neighbor table.
func (n *Node) DumpNeighbors() []NeighborSnapshot {
	var out []NeighborSnapshot
	for idx := 0; idx < location.NumLatticeIndices; idx++ {
		nbr := n.Location.Neighbors.At(idx)
		if !nbr.Present {
			continue
		}
		out = append(out, NeighborSnapshot{
			Index:    idx,
			Addr:     nbr.Addr,
			Position: fmt.Sprintf("%.3f,%.3f,%.3f", nbr.Position.X, nbr.Position.Y, nbr.Position.Z),
			Class:    nbr.Class,
			DropCnt:  nbr.DropCount,
			Local:    nbr.LocalNbrhood,
		})
	}
	return out
}

// Counters reports the contention and state counters operators use to
// diagnose a stuck node, used by cmd/meshctl's -dump-counters.
type Counters struct {
	TschState     string
	LocationState string
	BayesV        float64
	PositionKnown bool
}

// DumpCounters reports this node's current engine counters.
func (n *Node) DumpCounters() Counters {
	return Counters{
		TschState:     n.Tsch.State().String(),
		LocationState: n.Location.State().String(),
		BayesV:        n.Tsch.Bayes.V(),
		PositionKnown: n.Location.PositionKnown,
	}
}
