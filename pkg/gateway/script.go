package gateway

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/voxhollow/voicecall/pkg/audioio"
	"github.com/voxhollow/voicecall/pkg/wire"
)

// turnStep is one scripted emission: either a control message or a
// binary speech chunk.
type turnStep struct {
	msg   wire.Inbound
	audio []byte
}

// scriptTurn builds the full message sequence answering one uploaded
// segment. Segments below the speech threshold get a single
// unsuccessful recognition result; everything else gets the complete
// turn: recognition, thinking, then per sentence a text chunk, a chunk
// announcement and a synthesized speech chunk, closed by
// stream_complete carrying the new round count.
func scriptTurn(round, segmentBytes int, cfg Config) ([]turnStep, bool) {
	if segmentBytes < cfg.MinSegment {
		return []turnStep{
			{msg: wire.Inbound{Type: wire.TypeRecognition, Success: false}},
		}, false
	}

	reply := cfg.Replies[(round-1)%len(cfg.Replies)]
	sentences := splitSentences(reply)

	steps := []turnStep{
		{msg: wire.Inbound{
			Type:           wire.TypeRecognition,
			Success:        true,
			RecognizedText: fmt.Sprintf("测试语句%d", round),
		}},
		{msg: wire.Inbound{Type: wire.TypeThinking}},
	}

	for i, sentence := range sentences {
		steps = append(steps,
			turnStep{msg: wire.Inbound{Type: wire.TypeTextChunk, Content: sentence}},
			turnStep{msg: wire.Inbound{Type: wire.TypeChunkInfo, ChunkID: i + 1, Text: sentence}},
			turnStep{audio: tonePCM(440+40*float64(i), cfg.ChunkDuration, cfg.SampleRate)},
		)
	}

	steps = append(steps, turnStep{msg: wire.Inbound{
		Type:       wire.TypeStreamComplete,
		RoundCount: round,
	}})
	return steps, true
}

// sentenceEnders close a sentence and stay attached to it.
const sentenceEnders = "。！？!?."

// splitSentences cuts a reply at sentence-ending punctuation, keeping
// the punctuation. Text without enders comes back whole.
func splitSentences(text string) []string {
	var out []string
	var b strings.Builder

	for _, r := range text {
		b.WriteRune(r)
		if strings.ContainsRune(sentenceEnders, r) {
			if s := strings.TrimSpace(b.String()); s != "" {
				out = append(out, s)
			}
			b.Reset()
		}
	}
	if s := strings.TrimSpace(b.String()); s != "" {
		out = append(out, s)
	}

	if len(out) == 0 {
		return []string{text}
	}
	return out
}

// tonePCM synthesizes a sine tone as s16le mono samples. Each chunk
// gets a slightly different pitch so ordered playback is audible.
func tonePCM(frequency float64, d time.Duration, sampleRate int) []byte {
	n := int(float64(sampleRate) * d.Seconds())
	if n <= 0 {
		n = 1
	}

	samples := make([]int16, n)
	for i := range samples {
		v := math.Sin(2 * math.Pi * frequency * float64(i) / float64(sampleRate))
		samples[i] = int16(v * 0.3 * math.MaxInt16)
	}
	return audioio.SamplesToBytes(samples)
}
