package protocol

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"ZoomSpectra/internal/core/model"
)

// RecordSize is the encoded size of a Record.
const RecordSize = 56

// Flags describe how a packet was classified.
type Flags uint8

const (
	FlagP2P Flags = 1 << iota
	FlagSrv
	FlagRTP
	FlagRTCP
	FlagToSrv
	FlagFromSrv
)

// Record is the fixed-size summary of one Zoom packet written by the flows pass and
// consumed by the rtp and meetings passes.
type Record struct {
	TS            model.Timeval
	Tuple         model.FiveTuple
	Flags         Flags
	SrvType       uint8
	MediaType     uint8
	PktsInFrame   uint16
	UDPPayloadLen uint16
	RTP           RTPFields
	RTCP          RTCPFields
	Ext1          [3]byte
}

// IsP2P reports whether the packet belongs to a p2p flow.
func (r *Record) IsP2P() bool { return r.Flags&FlagP2P != 0 }

// IsRTP reports whether the packet carries RTP.
func (r *Record) IsRTP() bool { return r.Flags&FlagRTP != 0 }

// IsRTCP reports whether the packet carries RTCP.
func (r *Record) IsRTCP() bool { return r.Flags&FlagRTCP != 0 }

// NewRecord summarises a dissected frame captured at ts.
func NewRecord(v *HeaderView, ts model.Timeval, p2p bool) Record {
	r := Record{
		TS:            ts,
		Tuple:         v.Tuple,
		UDPPayloadLen: v.UDPLength,
	}
	if p2p {
		r.Flags |= FlagP2P
	} else {
		r.Flags |= FlagSrv
	}

	pl := v.PayloadBytes()
	if !p2p && len(pl) >= outerHeaderLen {
		r.SrvType = pl[0]
		switch pl[7] {
		case DirToServer:
			r.Flags |= FlagToSrv
		case DirFromServer:
			r.Flags |= FlagFromSrv
		}
	}
	if tag, ok := v.InnerTag(); ok {
		r.MediaType = tag
		if tag == TagVideo {
			if i := v.Inner + videoPktsInFrameByte; i < len(v.frame) {
				r.PktsInFrame = uint16(v.frame[i])
			}
		}
	}

	switch {
	case v.IsRTP():
		r.Flags |= FlagRTP
		r.RTP = v.RTPHeader
		if v.HasExt1 {
			r.Ext1 = v.Ext1
		}
	case v.IsRTCP():
		r.Flags |= FlagRTCP
		r.RTCP = v.RTCPHeader
	}
	return r
}

// MarshalBinary encodes the record in its 56-byte little-endian layout.
func (r *Record) MarshalBinary() ([]byte, error) {
	buf := make([]byte, RecordSize)
	r.encode(buf)
	return buf, nil
}

func (r *Record) encode(b []byte) {
	le := binary.LittleEndian
	clear(b[:RecordSize])
	le.PutUint32(b[0:], r.TS.Sec)
	le.PutUint32(b[4:], r.TS.Usec)
	le.PutUint32(b[8:], r.Tuple.SrcIP)
	le.PutUint32(b[12:], r.Tuple.DstIP)
	le.PutUint16(b[16:], r.Tuple.SrcPort)
	le.PutUint16(b[18:], r.Tuple.DstPort)
	b[20] = r.Tuple.Protocol
	b[24] = uint8(r.Flags)
	b[25] = r.SrvType
	b[26] = r.MediaType
	le.PutUint16(b[28:], r.PktsInFrame)
	le.PutUint16(b[30:], r.UDPPayloadLen)
	switch {
	case r.IsRTP():
		le.PutUint32(b[32:], r.RTP.SSRC)
		le.PutUint32(b[36:], r.RTP.Timestamp)
		le.PutUint16(b[40:], r.RTP.Sequence)
		b[42] = r.RTP.PayloadType
	case r.IsRTCP():
		le.PutUint32(b[32:], r.RTCP.SSRC)
		b[36] = r.RTCP.PacketType
		le.PutUint32(b[40:], r.RTCP.RTPTimestamp)
		le.PutUint32(b[44:], r.RTCP.NTPMSW)
		le.PutUint32(b[48:], r.RTCP.NTPLSW)
	}
	copy(b[52:55], r.Ext1[:])
}

// UnmarshalBinary decodes a 56-byte record.
func (r *Record) UnmarshalBinary(b []byte) error {
	if len(b) != RecordSize {
		return fmt.Errorf("%w: record of %d bytes, want %d", ErrMalformedPacket, len(b), RecordSize)
	}
	le := binary.LittleEndian
	*r = Record{
		TS: model.Timeval{Sec: le.Uint32(b[0:]), Usec: le.Uint32(b[4:])},
		Tuple: model.FiveTuple{
			SrcIP:    le.Uint32(b[8:]),
			DstIP:    le.Uint32(b[12:]),
			SrcPort:  le.Uint16(b[16:]),
			DstPort:  le.Uint16(b[18:]),
			Protocol: b[20],
		},
		Flags:         Flags(b[24]),
		SrvType:       b[25],
		MediaType:     b[26],
		PktsInFrame:   le.Uint16(b[28:]),
		UDPPayloadLen: le.Uint16(b[30:]),
	}
	switch {
	case r.IsRTP():
		r.RTP = RTPFields{
			SSRC:        le.Uint32(b[32:]),
			Timestamp:   le.Uint32(b[36:]),
			Sequence:    le.Uint16(b[40:]),
			PayloadType: b[42],
		}
	case r.IsRTCP():
		r.RTCP = RTCPFields{
			SSRC:         le.Uint32(b[32:]),
			PacketType:   b[36],
			RTPTimestamp: le.Uint32(b[40:]),
			NTPMSW:       le.Uint32(b[44:]),
			NTPLSW:       le.Uint32(b[48:]),
		}
	}
	copy(r.Ext1[:], b[52:55])
	return nil
}

// RecordWriter writes records back to back to an underlying writer.
type RecordWriter struct {
	w     *bufio.Writer
	buf   [RecordSize]byte
	count uint64
}

// NewRecordWriter returns a buffered RecordWriter. Call Flush when done.
func NewRecordWriter(w io.Writer) *RecordWriter {
	return &RecordWriter{w: bufio.NewWriterSize(w, 64*1024)}
}

// Write appends one record.
func (rw *RecordWriter) Write(r *Record) error {
	r.encode(rw.buf[:])
	if _, err := rw.w.Write(rw.buf[:]); err != nil {
		return fmt.Errorf("failed to write record: %w", err)
	}
	rw.count++
	return nil
}

// Flush writes any buffered data to the underlying writer.
func (rw *RecordWriter) Flush() error { return rw.w.Flush() }

// Count returns the number of records written.
func (rw *RecordWriter) Count() uint64 { return rw.count }

// RecordReader reads records written by a RecordWriter.
type RecordReader struct {
	r   *bufio.Reader
	buf [RecordSize]byte
}

// NewRecordReader returns a buffered RecordReader.
func NewRecordReader(r io.Reader) *RecordReader {
	return &RecordReader{r: bufio.NewReaderSize(r, 64*1024)}
}

// Next decodes the next record into rec. It returns io.EOF at a clean end of input and
// io.ErrUnexpectedEOF when the input ends inside a record.
func (rr *RecordReader) Next(rec *Record) error {
	if _, err := io.ReadFull(rr.r, rr.buf[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return io.EOF
		}
		return err
	}
	return rec.UnmarshalBinary(rr.buf[:])
}
