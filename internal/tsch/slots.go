package tsch

import (
	"encoding/binary"

	"github.com/uwbmesh/tschcore/internal/addr"
	"github.com/uwbmesh/tschcore/internal/clock"
	"github.com/uwbmesh/tschcore/internal/frame"
	"github.com/uwbmesh/tschcore/internal/radio"
	"github.com/uwbmesh/tschcore/internal/sched"
)

// ScanSlot implements spec.md 4.5's scan-slot behavior: listen for the
// whole slot, and on any beacon carrying a SYNC-IE whose network the
// filter accepts, synchronize and stop. Returns true if it synced.
func (e *Engine) ScanSlot(asn uint64, slotOffset uint64) bool {
	e.Radio.SetRXTimeout(RXTimeout)
	if err := e.Radio.ScheduleRX(0); err != nil {
		return false
	}
	status, err := e.Radio.WaitEvent(RXTimeout)
	if err != nil || status != radio.StatusRxOK {
		return false
	}

	buf := make([]byte, frame.MaxPHYFrame)
	n, err := e.Radio.ReadRX(buf, 0, e.Radio.ReadRXFinfo())
	if err != nil {
		return false
	}
	f, err := frame.Parse(buf[:n])
	if err != nil || f.Type != frame.TypeBeacon {
		return false
	}

	syncIE, ok := f.FindIE(frame.SyncIE)
	if !ok || len(syncIE.Content) < 8 {
		return false
	}
	if ssidIE, ok := f.FindIE(frame.SSIDIE); ok && e.Filter != nil {
		if !e.Filter(string(ssidIE.Content)) {
			return false
		}
	}

	peerASN := binary.LittleEndian.Uint64(syncIE.Content[:8])
	timeOffset := int64(slotOffset) - int64(TXOffset)
	e.Sched.Sync(peerASN, timeOffset)
	e.Handle(EventSync)
	return true
}

// AdvertisingSlot implements spec.md 4.5's advertising-slot behavior.
// isPrime is true when this node's beacon index (0..3) is the one
// chosen for this slot by (asn/sf.length) mod 4.
func (e *Engine) AdvertisingSlot(asn uint64, slot *sched.Slot, isPrime bool, ssid string) {
	if isPrime {
		f, err := e.Pool.Alloc(frame.TypeBeacon, slot)
		if err != nil {
			return
		}
		f.SetAddresses(0, addr.Broadcast[:], addr.Len, 0, e.Self[:], addr.Len)
		f.AppendIE(true, frame.SSIDIE, []byte(ssid))
		var asnBuf [8]byte
		binary.LittleEndian.PutUint64(asnBuf[:], asn)
		f.AppendIE(true, frame.SyncIE, asnBuf[:])

		wire, err := f.Encode()
		if err != nil {
			e.Pool.Release()
			return
		}
		_ = e.Radio.WriteTX(wire, 0, len(wire))
		_ = e.Radio.WriteTXFctrl(0, len(wire))
		_, _ = e.Radio.ScheduleTX(0)
		_, _ = e.Radio.WaitEvent(RXTimeout)
		e.Pool.Release()
		return
	}

	e.Radio.SetRXTimeout(RXTimeout)
	if err := e.Radio.ScheduleRX(0); err != nil {
		return
	}
	status, err := e.Radio.WaitEvent(RXTimeout)
	if err != nil || status != radio.StatusRxOK {
		return
	}
	local := e.Radio.ReadSysTimestamp()
	e.Sched.Offset((int64(local) - int64(TXOffset)) / 2)
}

// SharedSlot implements spec.md 4.5's shared (contention) slot state
// machine, including the flood/ack-expect tx branch and the
// address-gated rx-and-ack branch. draw is a caller-supplied uniform
// random value in [0,1) used by the Bayesian try.
func (e *Engine) SharedSlot(slot *sched.Slot, draw float64) {
	e.mu.Lock()
	state := e.sharedState
	if state == sharedCoolOff {
		e.coolOff--
		if e.coolOff <= 0 {
			e.sharedState = sharedIdle
		}
		e.mu.Unlock()
		return
	}
	if state == sharedIdle {
		if e.IsBeacon && draw <= 0.25 {
			state = sharedAdv
		} else if slot.QueueLen() > 0 {
			state = sharedTx
		}
	}
	e.sharedState = state
	e.mu.Unlock()

	if state != sharedAdv && state != sharedTx {
		e.sharedRx(slot)
		return
	}

	if !e.Bayes.Try(draw) {
		e.Bayes.Hole()
		e.sharedRx(slot)
		return
	}

	// adv with an empty queue still counts as a transmit attempt against
	// the Bayesian state even though sharedTx has nothing queued to send.
	success := e.sharedTx(slot)
	e.mu.Lock()
	if success {
		e.Bayes.Success()
		e.sharedState = sharedIdle
	} else {
		e.Bayes.Fail()
		e.sharedState = sharedCoolOff
		e.coolOff = CoolOffSlots
	}
	e.mu.Unlock()
}

func (e *Engine) sharedTx(slot *sched.Slot) bool {
	f := slot.Peek()
	if f == nil {
		return true
	}

	wire, err := f.Encode()
	if err != nil {
		slot.Drop()
		return false
	}
	_ = e.Radio.WriteTX(wire, 0, len(wire))
	_ = e.Radio.WriteTXFctrl(0, len(wire))
	txTick, _ := e.Radio.ScheduleTX(0)
	e.Radio.WaitEvent(RXAckTimeout)

	broadcast := len(f.DestAddr) == addr.Len && addr.FromBytes(f.DestAddr).IsBroadcast()
	if broadcast {
		for try := 0; try < FloodRetries; try++ {
			e.Radio.WriteTX(wire, 0, len(wire))
			e.Radio.WriteTXFctrl(0, len(wire))
			e.Radio.ScheduleTX(0)
			e.Radio.WaitEvent(RXAckTimeout)
		}
		slot.Pop()
		return true
	}

	e.Radio.SetRXTimeout(RXAckTimeout)
	if err := e.Radio.ScheduleRX(0); err != nil {
		return e.dropOrRetry(slot)
	}
	status, err := e.Radio.WaitEvent(RXAckTimeout)
	if err != nil || status != radio.StatusRxOK {
		return e.dropOrRetry(slot)
	}

	buf := make([]byte, frame.MaxPHYFrame)
	n, err := e.Radio.ReadRX(buf, 0, e.Radio.ReadRXFinfo())
	if err != nil {
		return e.dropOrRetry(slot)
	}
	ack, err := frame.Parse(buf[:n])
	if err != nil || !ValidAck(ack, e.Self, f.Seq) {
		return e.dropOrRetry(slot)
	}

	if tr, ok := ack.FindIE(frame.TRespIE); ok && len(tr.Content) >= 4 {
		duration := binary.LittleEndian.Uint32(tr.Content[:4])
		rxTick := e.Radio.ReadRXTimestamp()
		dist := TurnaroundDistance(txTick, rxTick, duration, e.Radio.RXClockOffset())
		if e.Distance != nil && len(f.DestAddr) == addr.Len {
			e.Distance.ReportDistance(addr.FromBytes(f.DestAddr), dist)
		}
	}
	slot.Pop()
	return true
}

// dropOrRetry counts a collision against the queue head's drop
// counter, releasing it after DropThreshold attempts (spec.md 4.5).
func (e *Engine) dropOrRetry(slot *sched.Slot) bool {
	slot.DropCount++
	if slot.DropCount >= DropThreshold {
		slot.Drop()
		slot.DropCount = 0
	}
	return false
}

func (e *Engine) sharedRx(slot *sched.Slot) {
	e.Radio.SetRXTimeout(RXTimeout)
	if err := e.Radio.ScheduleRX(0); err != nil {
		return
	}
	status, err := e.Radio.WaitEvent(RXTimeout)
	if err != nil || status != radio.StatusRxOK {
		if err == nil && status.Transient() {
			return
		}
		return
	}

	local := e.Radio.ReadSysTimestamp()
	e.Sched.Offset((int64(local) - int64(TXOffset)) / 2)

	buf := make([]byte, frame.MaxPHYFrame)
	n, rerr := e.Radio.ReadRX(buf, 0, e.Radio.ReadRXFinfo())
	if rerr != nil {
		return
	}
	f, perr := frame.Parse(buf[:n])
	if perr != nil {
		return
	}
	if f.Type == frame.TypeBeacon {
		return
	}
	broadcast := len(f.DestAddr) == addr.Len && addr.FromBytes(f.DestAddr).IsBroadcast()
	if !AcceptAddress(f.DestAddr, e.Self, nil) || broadcast {
		return
	}

	e.sendAck(f)
}

// sendAck builds and transmits an ack for rxFrame at slot_start +
// TX_ACK_OFFSET, carrying a TRESP_IE with the measured rx-to-ack-tx
// duration in radio ticks (spec.md 4.5). The tx deadline is fixed
// relative to the slot, so the turnaround duration is known before the
// frame is encoded rather than measured after the fact.
func (e *Engine) sendAck(rxFrame *frame.Frame) {
	ack, err := e.Pool.Alloc(frame.TypeAck, nil)
	if err != nil {
		return
	}
	defer e.Pool.Release()

	var src, dst [addr.Len]byte
	copy(src[:], e.Self[:])
	if len(rxFrame.SrcAddr) == addr.Len {
		copy(dst[:], rxFrame.SrcAddr)
	}
	ack.SetAddresses(0, dst[:], addr.Len, 0, src[:], addr.Len)
	ack.SetSequenceNumber(rxFrame.Seq)

	duration := uint32(clock.FromMicroseconds(float64(TXAckOffset.Microseconds())))
	var durBuf [4]byte
	binary.LittleEndian.PutUint32(durBuf[:], duration)
	ack.AppendIE(true, frame.TRespIE, durBuf[:])

	wire, err := ack.Encode()
	if err != nil {
		return
	}
	e.Radio.WriteTX(wire, 0, len(wire))
	e.Radio.WriteTXFctrl(0, len(wire))
	e.Radio.ScheduleTX(0)
	e.Radio.WaitEvent(RXAckTimeout)
}
