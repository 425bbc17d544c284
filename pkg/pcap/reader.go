// Package pcap reads Ethernet captures from a single file or from a directory of
// rotated capture files.
package pcap

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"ZoomSpectra/internal/core/model"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	log "github.com/sirupsen/logrus"
)

// ErrUnsupportedLinkType is returned for captures that are not Ethernet.
var ErrUnsupportedLinkType = errors.New("unsupported link type")

const pcapngMagic = 0x0a0d0d0a

// Packet is one captured frame.
type Packet struct {
	Data []byte
	Info gopacket.CaptureInfo
}

// Timeval returns the capture timestamp.
func (p *Packet) Timeval() model.Timeval {
	return model.TimevalFromTime(p.Info.Timestamp)
}

type packetSource interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
	LinkType() layers.LinkType
}

// Reader reads packets from one or more capture files in order.
type Reader struct {
	files []string
	next  int

	file   *os.File
	source packetSource
	count  uint64
}

// NewReader creates a reader for path, which may be a capture file or a directory.
func NewReader(path string) (*Reader, error) {
	files, err := Files(path)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no capture files in %s", path)
	}
	return &Reader{files: files}, nil
}

// Files lists the capture files of path. Directory entries are ordered by the
// numeric suffix of their names (trace.pcap0, trace.pcap1, ..., trace.pcap10) and
// then by name.
func Files(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat capture path: %w", err)
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read capture directory: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() {
			names = append(names, e.Name())
		}
	}
	slices.SortFunc(names, compareNames)

	files := make([]string, len(names))
	for i, name := range names {
		files[i] = filepath.Join(path, name)
	}
	return files, nil
}

// splitNumber splits a trailing decimal number off name.
func splitNumber(name string) (string, int, bool) {
	stem := strings.TrimRightFunc(name, func(r rune) bool { return r >= '0' && r <= '9' })
	if stem == name {
		return name, 0, false
	}
	n, err := strconv.Atoi(name[len(stem):])
	if err != nil {
		return name, 0, false
	}
	return stem, n, true
}

func compareNames(a, b string) int {
	sa, na, oka := splitNumber(a)
	sb, nb, okb := splitNumber(b)
	if oka && okb && sa == sb && na != nb {
		if na < nb {
			return -1
		}
		return 1
	}
	return strings.Compare(a, b)
}

// Files returns the capture files in read order.
func (r *Reader) Files() []string { return r.files }

// Count returns the number of packets read so far.
func (r *Reader) Count() uint64 { return r.count }

func (r *Reader) open(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open capture file: %w", err)
	}
	br := bufio.NewReader(f)
	magic, err := br.Peek(4)
	if err != nil {
		f.Close()
		return fmt.Errorf("failed to read capture header of %s: %w", path, err)
	}

	var src packetSource
	if binary.LittleEndian.Uint32(magic) == pcapngMagic {
		src, err = pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
	} else {
		src, err = pcapgo.NewReader(br)
	}
	if err != nil {
		f.Close()
		return fmt.Errorf("failed to open capture %s: %w", path, err)
	}
	if src.LinkType() != layers.LinkTypeEthernet {
		f.Close()
		return fmt.Errorf("%s: %w: %s", path, ErrUnsupportedLinkType, src.LinkType())
	}

	log.Printf("Reading packets from '%s'", path)
	r.file, r.source = f, src
	return nil
}

// Next returns the next packet. It returns io.EOF after the last packet of the last file.
func (r *Reader) Next() (*Packet, error) {
	for {
		if r.source == nil {
			if r.next == len(r.files) {
				return nil, io.EOF
			}
			if err := r.open(r.files[r.next]); err != nil {
				return nil, err
			}
			r.next++
		}

		data, ci, err := r.source.ReadPacketData()
		if err == nil {
			r.count++
			return &Packet{Data: data, Info: ci}, nil
		}
		if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("failed to read packet: %w", err)
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			log.Warnf("Truncated capture file '%s'", r.file.Name())
		}
		r.file.Close()
		r.file, r.source = nil, nil
	}
}

// ReadPackets reads all packets and sends them to out. The channel is not closed.
func (r *Reader) ReadPackets(out chan<- *Packet) error {
	for {
		pkt, err := r.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		out <- pkt
	}
}

// Close closes the current capture file.
func (r *Reader) Close() {
	if r.file != nil {
		r.file.Close()
		r.file, r.source = nil, nil
	}
}
