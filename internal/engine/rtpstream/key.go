package rtpstream

import (
	"fmt"

	"ZoomSpectra/internal/core/model"
	"ZoomSpectra/internal/engine/protocol"
)

// FECPayloadType is the RTP payload type of forward error correction streams.
const FECPayloadType uint8 = 110

// MediaClass groups the Zoom media tags.
type MediaClass uint8

const (
	MediaUnknown MediaClass = iota
	MediaAudio
	MediaVideo
	MediaScreen
)

func (m MediaClass) String() string {
	switch m {
	case MediaAudio:
		return "audio"
	case MediaVideo:
		return "video"
	case MediaScreen:
		return "screen"
	}
	return "unknown"
}

// MediaClassOf maps a media tag to its class.
func MediaClassOf(tag uint8) MediaClass {
	switch tag {
	case protocol.TagAudio:
		return MediaAudio
	case protocol.TagVideo:
		return MediaVideo
	case protocol.TagServerScreenShare, protocol.TagP2PScreenShare:
		return MediaScreen
	}
	return MediaUnknown
}

// StreamKind separates media from FEC streams sharing an SSRC.
type StreamKind uint8

const (
	KindMedia StreamKind = iota
	KindFEC
)

func (k StreamKind) String() string {
	if k == KindFEC {
		return "fec"
	}
	return "media"
}

// StreamKey identifies one directional media stream. Both screen-share tags map to
// MediaScreen, so a stream switching between them stays one stream.
type StreamKey struct {
	Tuple model.FiveTuple
	SSRC  uint32
	Media MediaClass
	Kind  StreamKind
}

// KeyFromRecord derives the stream key of an RTP record.
func KeyFromRecord(r *protocol.Record) StreamKey {
	kind := KindMedia
	if r.RTP.PayloadType == FECPayloadType {
		kind = KindFEC
	}
	return StreamKey{
		Tuple: r.Tuple,
		SSRC:  r.RTP.SSRC,
		Media: MediaClassOf(r.MediaType),
		Kind:  kind,
	}
}

func (k StreamKey) String() string {
	return fmt.Sprintf("%s ssrc=0x%08x %s/%s", k.Tuple, k.SSRC, k.Media, k.Kind)
}
