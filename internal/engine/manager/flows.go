package manager

import (
	"errors"
	"fmt"
	"sync"

	"ZoomSpectra/internal/config"
	core "ZoomSpectra/internal/core/model"
	"ZoomSpectra/internal/engine/flowtracker"
	"ZoomSpectra/internal/engine/maccounter"
	"ZoomSpectra/internal/engine/protocol"
	"ZoomSpectra/internal/model"
	"ZoomSpectra/internal/probe/persistent"
	"ZoomSpectra/pkg/pcap"

	log "github.com/sirupsen/logrus"
)

// Sink receives packets that passed the flow filter.
type Sink interface {
	Enqueue(c *persistent.Container)
}

// Sinks lists the consumers of the flows pass. Records get every dissected packet of a
// tracked UDP flow; Packets get every tracked packet.
type Sinks struct {
	Records []Sink
	Packets []Sink
}

type volume struct {
	pkts, bytes uint64
}

// FlowManager runs the flow classifier and the dissector over captured frames on a
// single worker.
type FlowManager struct {
	tracker *flowtracker.Tracker
	macs    *maccounter.Counter
	p2pOnly bool
	out     model.Writer
	sinks   Sinks

	packetChannel chan *pcap.Packet
	workerWg      sync.WaitGroup

	p2pInner, srvInner, srvOuter [256]volume

	rateStarted bool
	rateSecond  uint32
	lastTotal   uint64
	lastZoom    uint64
	lastBytes   uint64

	processed uint64
	skipped   uint64
	malformed uint64
	records   uint64
	err       error
}

// NewFlowManager creates a flows pass writing its report rows to out. The manager
// closes out on Stop; the sinks are left to the caller.
func NewFlowManager(cfg *config.Config, out model.Writer, sinks Sinks) (*FlowManager, error) {
	nets, err := core.NewServerNets(cfg.Zoom.ServerNets)
	if err != nil {
		return nil, fmt.Errorf("failed to load server networks: %w", err)
	}
	window, err := cfg.StunWindowSeconds()
	if err != nil {
		return nil, err
	}
	log.Printf("Loaded %d server networks, STUN window %ds", nets.Len(), window)

	return &FlowManager{
		tracker:       flowtracker.New(nets, window),
		macs:          maccounter.New(cfg.Flows.RateTolerance),
		p2pOnly:       cfg.Flows.P2POnly,
		out:           out,
		sinks:         sinks,
		packetChannel: make(chan *pcap.Packet, cfg.Flows.SizeOfPacketChannel),
	}, nil
}

// Start launches the worker.
func (m *FlowManager) Start() {
	m.workerWg.Add(1)
	go func() {
		defer m.workerWg.Done()
		for pkt := range m.packetChannel {
			if m.err != nil {
				continue
			}
			if err := m.Process(pkt); err != nil {
				m.err = err
				log.Errorf("Stopping packet processing: %v", err)
			}
		}
	}()
	log.Println("Flow manager started.")
}

// InputChannel returns the channel frames are sent to.
func (m *FlowManager) InputChannel() chan<- *pcap.Packet {
	return m.packetChannel
}

// Process classifies one frame. It is called by the worker; tests may call it directly
// instead of Start.
func (m *FlowManager) Process(pkt *pcap.Packet) error {
	m.processed++
	ts := pkt.Timeval()

	// 1. Rate accounting on every frame, before the frame is tracked.
	if len(pkt.Data) >= 12 {
		m.macs.AddMAC(pkt.Data[6:12])
	}
	if err := m.rate(ts.Sec); err != nil {
		return err
	}

	// 2. Flow classification.
	ft, err := protocol.DecodeTuple(pkt.Data, true)
	if err != nil {
		return m.skip(err)
	}
	flow, ok := m.tracker.Track(ft, ts, pkt.Info.Length)
	if !ok {
		return nil
	}
	if m.p2pOnly && flow.Type != flowtracker.UDPP2P && flow.Type != flowtracker.UDPStun {
		return nil
	}

	// 3. Dissection and type volumes. Malformed frames still reach the packet sinks.
	if flow.Type.IsUDP() {
		if err := m.dissect(pkt, ft, ts, flow.Type); err != nil {
			return err
		}
	}

	if len(m.sinks.Packets) > 0 {
		c := &persistent.Container{Packet: pkt}
		for _, s := range m.sinks.Packets {
			s.Enqueue(c)
		}
	}

	if m.processed%progressEvery == 0 {
		log.Printf("Processed %d packets", m.processed)
	}
	return nil
}

func (m *FlowManager) dissect(pkt *pcap.Packet, ft core.FiveTuple, ts core.Timeval, typ flowtracker.FlowType) error {
	p2p := typ == flowtracker.UDPP2P
	view, err := protocol.Dissect(pkt.Data, true, p2p)
	if err != nil {
		return m.skip(err)
	}
	m.countTypes(typ, view)
	if typ == flowtracker.UDPStun {
		m.tracker.ObserveStun(ft, view.PayloadBytes())
	}

	rec := protocol.NewRecord(view, ts, p2p)
	if len(m.sinks.Records) > 0 {
		c := &persistent.Container{Packet: pkt, Record: rec}
		for _, s := range m.sinks.Records {
			s.Enqueue(c)
		}
	}
	m.records++
	return nil
}

func (m *FlowManager) skip(err error) error {
	switch {
	case protocol.IsSkippable(err):
		m.skipped++
	case errors.Is(err, protocol.ErrMalformedPacket):
		m.malformed++
		log.Debugf("Skipping packet %d: %v", m.processed, err)
	default:
		return err
	}
	return nil
}

// rate emits the deltas of the previous second when sec moves past it.
func (m *FlowManager) rate(sec uint32) error {
	if !m.rateStarted {
		m.rateStarted = true
		m.rateSecond = sec
		m.lastTotal = m.macs.Count()
		return nil
	}
	if sec <= m.rateSecond {
		return nil
	}

	total, zoom, bytes := m.macs.Count(), m.tracker.ZoomPackets(), m.tracker.ZoomBytes()
	row := model.RateSample{
		Second:       m.rateSecond,
		TotalPackets: total - m.lastTotal,
		ZoomPackets:  zoom - m.lastZoom,
		ZoomBytes:    bytes - m.lastBytes,
	}
	m.rateSecond = sec
	m.lastTotal, m.lastZoom, m.lastBytes = total, zoom, bytes
	if err := m.out.Write(row); err != nil {
		return fmt.Errorf("failed to write rate sample: %w", err)
	}
	return nil
}

func (m *FlowManager) countTypes(typ flowtracker.FlowType, v *protocol.HeaderView) {
	size := uint64(v.UDPLength)
	switch typ {
	case flowtracker.UDPP2P:
		if inner, ok := v.InnerTag(); ok {
			m.p2pInner[inner].add(size)
		}
	case flowtracker.UDPServer:
		pl := v.PayloadBytes()
		if len(pl) == 0 {
			return
		}
		m.srvOuter[pl[0]].add(size)
		if pl[0] == protocol.TagServerMedia {
			if inner, ok := v.InnerTag(); ok {
				m.srvInner[inner].add(size)
			}
		}
	}
}

func (v *volume) add(bytes uint64) {
	v.pkts++
	v.bytes += bytes
}

// Stop drains the queue, writes the flow and type summaries and closes the writers.
func (m *FlowManager) Stop() error {
	log.Println("Flow manager stopping...")
	// 1. Stop accepting new frames.
	close(m.packetChannel)

	// 2. Wait for the worker.
	m.workerWg.Wait()

	// 3. Summaries.
	errs := []error{m.err}
	if m.err == nil {
		errs = append(errs, m.writeSummaries())
	}

	// 4. Close the writers.
	errs = append(errs, m.out.Close())

	log.WithFields(log.Fields{
		"total_pkts":  m.tracker.TotalPackets(),
		"zoom_pkts":   m.tracker.ZoomPackets(),
		"zoom_flows":  m.tracker.FlowCount(),
		"records":     m.records,
		"non_ipv4":    m.skipped,
		"malformed":   m.malformed,
		"mac_wraps":   m.macs.Wraps(),
		"mac_discard": m.macs.Discarded(),
	}).Info("Flow manager stopped")
	return errors.Join(errs...)
}

func (m *FlowManager) writeSummaries() error {
	for _, f := range m.tracker.Flows() {
		row := model.FlowSummary{
			ID:      f.ID,
			Tuple:   f.Tuple,
			Type:    f.Type.String(),
			Packets: f.Packets,
			Bytes:   f.Bytes,
			Start:   f.Start,
			End:     f.Last,
		}
		if err := m.out.Write(row); err != nil {
			return fmt.Errorf("failed to write flow summary: %w", err)
		}
	}

	var rows []model.TypeVolume
	for t, v := range m.p2pInner {
		if v.pkts > 0 {
			rows = append(rows, model.TypeVolume{Mode: "p2p", Outer: model.NA, Inner: t, Packets: v.pkts, Bytes: v.bytes})
		}
	}
	for t, v := range m.srvInner {
		if v.pkts > 0 {
			rows = append(rows, model.TypeVolume{Mode: "srv", Outer: int(protocol.TagServerMedia), Inner: t, Packets: v.pkts, Bytes: v.bytes})
		}
	}
	for t, v := range m.srvOuter {
		if t != int(protocol.TagServerMedia) && v.pkts > 0 {
			rows = append(rows, model.TypeVolume{Mode: "srv", Outer: t, Inner: model.NA, Packets: v.pkts, Bytes: v.bytes})
		}
	}
	for _, row := range rows {
		if err := m.out.Write(row); err != nil {
			return fmt.Errorf("failed to write type volume: %w", err)
		}
	}
	return nil
}

// Tracker returns the flow classifier. Only safe to use after Stop or without Start.
func (m *FlowManager) Tracker() *flowtracker.Tracker { return m.tracker }

// Records returns the number of packet records produced.
func (m *FlowManager) Records() uint64 { return m.records }

// Malformed returns the number of frames skipped as malformed.
func (m *FlowManager) Malformed() uint64 { return m.malformed }
