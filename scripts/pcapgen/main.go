package main

import (
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"sort"
	"time"

	"ZoomSpectra/pkg/zoomgen"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

const (
	serverIP    = "3.7.35.10"
	stunIP      = "3.7.35.20"
	serverPort  = 8801
	audioPT     = 112
	videoPT     = 98
	audioPerSec = 50
	videoFPS    = 15
	videoPkts   = 3
)

type frame struct {
	ts      time.Time
	ep      zoomgen.Endpoints
	payload []byte
}

// generator builds the frames of one synthetic meeting. Every client sends audio and
// video to the server, which relays each stream to all other clients.
type generator struct {
	start   time.Time
	clients int
	frames  []frame
}

func (g *generator) client(i int) zoomgen.Endpoints {
	return zoomgen.Endpoints{
		SrcIP:   fmt.Sprintf("192.168.1.%d", 10+i),
		SrcPort: uint16(50000 + i),
		DstIP:   serverIP,
		DstPort: serverPort,
	}
}

func (g *generator) add(at time.Duration, ep zoomgen.Endpoints, payload []byte) {
	g.frames = append(g.frames, frame{ts: g.start.Add(at), ep: ep, payload: payload})
}

// relay sends inner from client i to the server and back out to every other client.
func (g *generator) relay(at time.Duration, i int, inner []byte) {
	g.add(at, g.client(i), zoomgen.Server(zoomgen.ToServer, inner))
	for j := 0; j < g.clients; j++ {
		if j != i {
			g.add(at+2*time.Millisecond, g.client(j).Reverse(), zoomgen.Server(zoomgen.FromServer, inner))
		}
	}
}

func (g *generator) meeting(seconds int) {
	for i := 0; i < g.clients; i++ {
		audioSSRC := uint32(0x1000 + i)
		videoSSRC := uint32(0x2000 + i)
		offset := time.Duration(i) * time.Millisecond

		var seq uint16
		for n := 0; n < seconds*audioPerSec; n++ {
			pkt, err := zoomgen.RTP(seq, uint32(n*960), audioSSRC, audioPT, nil)
			if err != nil {
				log.Fatal(err)
			}
			seq++
			g.relay(offset+time.Duration(n)*20*time.Millisecond, i, zoomgen.Audio(pkt))
		}

		seq = 0
		for n := 0; n < seconds*videoFPS; n++ {
			at := offset + time.Duration(n)*time.Second/videoFPS
			for k := 0; k < videoPkts; k++ {
				ext := []byte{byte(n >> 8), byte(n), byte(k)}
				pkt, err := zoomgen.RTP(seq, uint32(n*90000/videoFPS), videoSSRC, videoPT, ext)
				if err != nil {
					log.Fatal(err)
				}
				seq++
				g.relay(at+time.Duration(k)*time.Millisecond, i, zoomgen.Video(pkt, videoPkts))
			}
		}
	}
}

// p2p adds a STUN exchange of the first two clients followed by a direct video stream.
func (g *generator) p2p(seconds int) {
	a := zoomgen.Endpoints{SrcIP: "192.168.1.10", SrcPort: 60000, DstIP: stunIP, DstPort: 3478}
	req, err := zoomgen.StunBindingRequest()
	if err != nil {
		log.Fatal(err)
	}
	g.add(0, a, req)

	peer := zoomgen.Endpoints{SrcIP: "192.168.1.10", SrcPort: 60000, DstIP: "192.168.1.11", DstPort: 60001}
	var seq uint16
	for n := 0; n < seconds*videoFPS; n++ {
		pkt, err := zoomgen.RTP(seq, uint32(n*90000/videoFPS), 0x3000, videoPT, []byte{byte(n >> 8), byte(n), 0})
		if err != nil {
			log.Fatal(err)
		}
		seq++
		g.add(time.Second+time.Duration(n)*time.Second/videoFPS, peer, zoomgen.Video(pkt, 1))
	}
}

func main() {
	outputFile := flag.String("o", "zoom.pcap", "Output pcap file path")
	clients := flag.Int("clients", 3, "Number of meeting participants")
	seconds := flag.Int("seconds", 10, "Meeting duration in seconds")
	p2p := flag.Bool("p2p", true, "Add a STUN-initiated p2p video stream")
	flag.Parse()

	g := &generator{start: time.Unix(1600000000, 0), clients: *clients}
	g.meeting(*seconds)
	if *p2p {
		g.p2p(*seconds)
	}
	sort.SliceStable(g.frames, func(a, b int) bool { return g.frames[a].ts.Before(g.frames[b].ts) })

	f, err := os.Create(*outputFile)
	if err != nil {
		log.Fatalf("Failed to create output file: %v", err)
	}
	defer f.Close()

	pcapWriter := pcapgo.NewWriter(f)
	if err := pcapWriter.WriteFileHeader(65536, layers.LinkTypeEthernet); err != nil {
		log.Fatalf("Failed to write pcap header: %v", err)
	}
	for i, fr := range g.frames {
		// The capture appliance numbers frames in bytes 2..5 of the source MAC.
		n := uint32(i + 1)
		fr.ep.SrcMAC = net.HardwareAddr{0x02, 0x00, byte(n >> 24), byte(n >> 16), byte(n >> 8), byte(n)}
		data, err := zoomgen.UDPFrame(fr.ep, fr.payload)
		if err != nil {
			log.Fatalf("Failed to build frame: %v", err)
		}
		ci := gopacket.CaptureInfo{Timestamp: fr.ts, CaptureLength: len(data), Length: len(data)}
		if err := pcapWriter.WritePacket(ci, data); err != nil {
			log.Fatalf("Failed to write packet: %v", err)
		}
	}
	log.Printf("Wrote %d frames of a %d-client meeting to %s", len(g.frames), *clients, *outputFile)
}
