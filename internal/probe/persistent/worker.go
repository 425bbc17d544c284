// Package persistent writes the output of the flows pass to disk on a dedicated
// goroutine per sink, preserving packet order.
package persistent

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"ZoomSpectra/internal/engine/protocol"
	"ZoomSpectra/pkg/pcap"

	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	log "github.com/sirupsen/logrus"
)

// Supported encodings.
const (
	EncodingZpkt = "zpkt"
	EncodingPcap = "pcap"
	EncodingText = "text"
)

const (
	defaultBufferSize = 10000
	pcapSnapLen       = 65536
)

// Container holds both the raw packet and its record.
type Container struct {
	Packet *pcap.Packet
	Record protocol.Record
}

// Options configures a Worker.
type Options struct {
	Path       string
	Encoding   string
	BufferSize int
}

// Worker owns one output file and a goroutine draining its queue.
type Worker struct {
	path     string
	encoding string
	queue    chan *Container
	wg       sync.WaitGroup
	file     *os.File
	buf      *bufio.Writer
	err      error
	written  uint64
	stopOnce sync.Once
}

// NewWorker creates the output file and starts the writer goroutine.
func NewWorker(opts Options) (*Worker, error) {
	if dir := filepath.Dir(opts.Path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create persistence directory: %w", err)
		}
	}

	bufferSize := opts.BufferSize
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}

	file, err := os.Create(opts.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to create output file: %w", err)
	}

	w := &Worker{
		path:     opts.Path,
		encoding: opts.Encoding,
		queue:    make(chan *Container, bufferSize),
		file:     file,
		buf:      bufio.NewWriter(file),
	}

	var run func() error
	switch opts.Encoding {
	case EncodingZpkt:
		run = w.runZpktWorker
	case EncodingText:
		run = w.runTextWorker
	case EncodingPcap:
		pcapWriter := pcapgo.NewWriter(w.buf)
		if err := pcapWriter.WriteFileHeader(pcapSnapLen, layers.LinkTypeEthernet); err != nil {
			file.Close()
			return nil, fmt.Errorf("failed to write pcap file header: %w", err)
		}
		run = w.runPcapWorker(pcapWriter)
	default:
		file.Close()
		return nil, fmt.Errorf("unknown persistence encoding '%s'", opts.Encoding)
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		if err := run(); err != nil {
			w.err = err
			// Keep draining so producers never block on a dead sink.
			for range w.queue {
			}
		}
	}()

	log.Printf("Persistent worker started, encoding: %s, writing to: %s", opts.Encoding, opts.Path)
	return w, nil
}

func (w *Worker) runZpktWorker() error {
	rw := protocol.NewRecordWriter(w.buf)
	for c := range w.queue {
		if err := rw.Write(&c.Record); err != nil {
			return fmt.Errorf("failed to write record: %w", err)
		}
		w.written++
	}
	return rw.Flush()
}

func (w *Worker) runTextWorker() error {
	for c := range w.queue {
		r := &c.Record
		line := fmt.Sprintf("%d.%06d %s flags=0x%02x media=0x%02x len=%d ssrc=%d seq=%d ts=%d\n",
			r.TS.Sec, r.TS.Usec, r.Tuple, uint8(r.Flags), r.MediaType, r.UDPPayloadLen,
			r.RTP.SSRC, r.RTP.Sequence, r.RTP.Timestamp)
		if _, err := w.buf.WriteString(line); err != nil {
			return fmt.Errorf("failed to write text record: %w", err)
		}
		w.written++
	}
	return nil
}

func (w *Worker) runPcapWorker(pcapWriter *pcapgo.Writer) func() error {
	return func() error {
		for c := range w.queue {
			if c.Packet == nil {
				continue
			}
			if err := pcapWriter.WritePacket(c.Packet.Info, c.Packet.Data); err != nil {
				return fmt.Errorf("failed to write packet: %w", err)
			}
			w.written++
		}
		return nil
	}
}

// Enqueue hands a container to the writer goroutine. It blocks while the queue is full.
func (w *Worker) Enqueue(c *Container) {
	w.queue <- c
}

// Stop drains the queue, flushes and closes the file. It is safe to call twice.
func (w *Worker) Stop() error {
	w.stopOnce.Do(func() {
		close(w.queue)
		w.wg.Wait()
		if err := w.buf.Flush(); err != nil && w.err == nil {
			w.err = fmt.Errorf("failed to flush %s: %w", w.path, err)
		}
		if err := w.file.Close(); err != nil && w.err == nil {
			w.err = fmt.Errorf("failed to close %s: %w", w.path, err)
		}
		log.Printf("Persistent worker stopped, wrote %d entries to %s", w.written, w.path)
	})
	return w.err
}

// Written returns the number of entries written. Only valid after Stop.
func (w *Worker) Written() uint64 { return w.written }
