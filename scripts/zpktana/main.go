package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	core "ZoomSpectra/internal/core/model"
	"ZoomSpectra/internal/engine/protocol"
)

func main() {
	head := flag.Int("n", 5, "Number of records to print")
	flag.Parse()
	if flag.NArg() < 1 {
		fmt.Println("Usage: go run ./scripts/zpktana/main.go [-n count] <path_to_zpkt_file>")
		os.Exit(1)
	}

	f, err := os.Open(flag.Arg(0))
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()

	rr := protocol.NewRecordReader(f)
	var total, p2p, rtp, rtcp uint64
	ssrcs := make(map[uint32]uint64)
	for {
		var rec protocol.Record
		err := rr.Next(&rec)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			log.Fatalf("Record %d: %v", total, err)
		}
		if total < uint64(*head) {
			fmt.Printf("[%d.%06d] %s:%d -> %s:%d flags=0x%02x media=0x%02x ssrc=0x%08x seq=%d len=%d\n",
				rec.TS.Sec, rec.TS.Usec,
				core.IPv4ToString(rec.Tuple.SrcIP), rec.Tuple.SrcPort,
				core.IPv4ToString(rec.Tuple.DstIP), rec.Tuple.DstPort,
				rec.Flags, rec.MediaType, rec.RTP.SSRC, rec.RTP.Sequence, rec.UDPPayloadLen,
			)
		}
		total++
		if rec.IsP2P() {
			p2p++
		}
		switch {
		case rec.IsRTP():
			rtp++
			ssrcs[rec.RTP.SSRC]++
		case rec.IsRTCP():
			rtcp++
		}
	}
	fmt.Printf("records=%d p2p=%d rtp=%d rtcp=%d ssrcs=%d\n", total, p2p, rtp, rtcp, len(ssrcs))
}
