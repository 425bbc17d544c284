package main

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"

	core "ZoomSpectra/internal/core/model"
	"ZoomSpectra/internal/snapshot"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: go run ./scripts/gobana/main.go <snapshot_root_or_dir>")
		os.Exit(1)
	}
	dir := os.Args[1]

	// A root directory resolves to its newest snapshot.
	if _, err := os.Stat(filepath.Join(dir, "summary.json")); err != nil {
		latest, err := snapshot.Latest(dir)
		if errors.Is(err, snapshot.ErrNoSnapshot) {
			log.Fatalf("No snapshot below %s", dir)
		}
		if err != nil {
			log.Fatal(err)
		}
		dir = latest
	}

	s, err := snapshot.Load(dir)
	if err != nil {
		log.Fatalf("Failed to load snapshot: %v", err)
	}

	fmt.Printf("Snapshot %s\n%+v\n\n", s.Dir, s.Summary)
	for _, m := range s.Meetings {
		fmt.Printf("Meeting %d (%d streams)\n", m.ID, len(m.Streams))
		for _, st := range m.Streams {
			fmt.Printf("  #%d %s ssrc=0x%08x %s:%d -> %s:%d pkts=%d [%d, %d]\n",
				st.StreamID, st.ConnType(), st.SSRC,
				core.IPv4ToString(st.Tuple.SrcIP), st.Tuple.SrcPort,
				core.IPv4ToString(st.Tuple.DstIP), st.Tuple.DstPort,
				st.Packets, st.StartSec, st.EndSec)
		}
	}
	failed := 0
	for _, q := range s.Streams {
		if q.Failed {
			failed++
		}
	}
	fmt.Printf("\n%d stream quality rows, %d failed\n", len(s.Streams), failed)
}
