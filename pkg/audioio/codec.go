package audioio

import (
	"fmt"

	"gopkg.in/hraban/opus.v2"
)

// maxOpusPacket bounds one encoded opus packet. Recommended size for a
// single frame per packet is well under this.
const maxOpusPacket = 4000

// maxFrameMillis is the largest opus frame duration.
const maxFrameMillis = 120

// Encoder compresses PCM chunks into opus packets for the wire.
// Chunks must match the configured rate and channel count, and their
// duration must be a valid opus frame size (2.5, 5, 10, 20, 40 or 60ms);
// the default 20ms capture buffer satisfies this.
type Encoder struct {
	enc *opus.Encoder
	cfg Config
}

// NewEncoder creates an opus encoder for the given capture configuration.
func NewEncoder(cfg Config) (*Encoder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("audioio: encoder config: %w", err)
	}
	enc, err := opus.NewEncoder(cfg.SampleRate, cfg.Channels, opus.AppVoIP)
	if err != nil {
		return nil, fmt.Errorf("audioio: create opus encoder: %w", err)
	}
	return &Encoder{enc: enc, cfg: cfg}, nil
}

// Encode compresses one chunk into a single opus packet.
func (e *Encoder) Encode(chunk AudioChunk) ([]byte, error) {
	if chunk.SampleRate != e.cfg.SampleRate || chunk.Channels != e.cfg.Channels {
		return nil, fmt.Errorf("audioio: chunk format %dHz/%dch does not match encoder %dHz/%dch",
			chunk.SampleRate, chunk.Channels, e.cfg.SampleRate, e.cfg.Channels)
	}

	buf := make([]byte, maxOpusPacket)
	n, err := e.enc.Encode(chunk.Samples, buf)
	if err != nil {
		return nil, fmt.Errorf("audioio: opus encode: %w", err)
	}
	return buf[:n], nil
}

// Decoder expands opus packets back into PCM chunks.
type Decoder struct {
	dec *opus.Decoder
	cfg Config
	pcm []int16
}

// NewDecoder creates an opus decoder producing chunks in the given format.
func NewDecoder(cfg Config) (*Decoder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("audioio: decoder config: %w", err)
	}
	dec, err := opus.NewDecoder(cfg.SampleRate, cfg.Channels)
	if err != nil {
		return nil, fmt.Errorf("audioio: create opus decoder: %w", err)
	}
	maxSamples := cfg.SampleRate * maxFrameMillis / 1000 * cfg.Channels
	return &Decoder{dec: dec, cfg: cfg, pcm: make([]int16, maxSamples)}, nil
}

// Decode expands one opus packet into a PCM chunk.
func (d *Decoder) Decode(packet []byte) (AudioChunk, error) {
	n, err := d.dec.Decode(packet, d.pcm)
	if err != nil {
		return AudioChunk{}, fmt.Errorf("audioio: opus decode: %w", err)
	}

	samples := make([]int16, n*d.cfg.Channels)
	copy(samples, d.pcm[:n*d.cfg.Channels])

	return AudioChunk{
		Samples:    samples,
		SampleRate: d.cfg.SampleRate,
		Channels:   d.cfg.Channels,
	}, nil
}
