package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	gws "github.com/gorilla/websocket"

	"github.com/voxhollow/voicecall/pkg/transport"
	"github.com/voxhollow/voicecall/pkg/wire"
)

func TestScriptTurnShortSegment(t *testing.T) {
	cfg := DefaultConfig()

	steps, accepted := scriptTurn(1, cfg.MinSegment-1, cfg)
	if accepted {
		t.Fatal("short segment accepted as speech")
	}
	if len(steps) != 1 {
		t.Fatalf("got %d steps, want 1", len(steps))
	}
	msg := steps[0].msg
	if msg.Type != wire.TypeRecognition || msg.Success {
		t.Errorf("step = %+v, want unsuccessful recognition", msg)
	}
}

func TestScriptTurnFullTurn(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Replies = []string{"第一句。第二句！", "只有一句"}

	steps, accepted := scriptTurn(1, cfg.MinSegment, cfg)
	if !accepted {
		t.Fatal("full segment not accepted")
	}

	// recognition + thinking + 2 sentences x (text, info, audio) + complete
	if len(steps) != 9 {
		t.Fatalf("got %d steps, want 9", len(steps))
	}

	if m := steps[0].msg; m.Type != wire.TypeRecognition || !m.Success || m.RecognizedText == "" {
		t.Errorf("first step = %+v, want successful recognition", m)
	}
	if m := steps[1].msg; m.Type != wire.TypeThinking {
		t.Errorf("second step = %+v, want thinking", m)
	}

	wantSentences := []string{"第一句。", "第二句！"}
	for i, want := range wantSentences {
		base := 2 + i*3
		if m := steps[base].msg; m.Type != wire.TypeTextChunk || m.Content != want {
			t.Errorf("step %d = %+v, want text chunk %q", base, m, want)
		}
		if m := steps[base+1].msg; m.Type != wire.TypeChunkInfo || m.ChunkID != i+1 || m.Text != want {
			t.Errorf("step %d = %+v, want chunk info %d %q", base+1, m, i+1, want)
		}
		if a := steps[base+2].audio; len(a) == 0 {
			t.Errorf("step %d has no audio", base+2)
		}
	}

	if m := steps[len(steps)-1].msg; m.Type != wire.TypeStreamComplete || m.RoundCount != 1 {
		t.Errorf("last step = %+v, want stream_complete round 1", m)
	}
}

func TestScriptTurnRepliesCycle(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Replies = []string{"甲", "乙"}

	for _, tt := range []struct {
		round int
		want  string
	}{
		{1, "甲"}, {2, "乙"}, {3, "甲"}, {4, "乙"},
	} {
		steps, _ := scriptTurn(tt.round, cfg.MinSegment, cfg)
		if m := steps[2].msg; m.Content != tt.want {
			t.Errorf("round %d reply = %q, want %q", tt.round, m.Content, tt.want)
		}
		if m := steps[len(steps)-1].msg; m.RoundCount != tt.round {
			t.Errorf("round %d completion carries %d", tt.round, m.RoundCount)
		}
	}
}

func TestSplitSentences(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"你好呀，我在听。有什么想聊的？", []string{"你好呀，我在听。", "有什么想聊的？"}},
		{"没有结尾标点", []string{"没有结尾标点"}},
		{"One. Two!", []string{"One.", "Two!"}},
		{"单句。", []string{"单句。"}},
	}

	for _, tt := range tests {
		got := splitSentences(tt.in)
		if len(got) != len(tt.want) {
			t.Errorf("splitSentences(%q) = %v, want %v", tt.in, got, tt.want)
			continue
		}
		for i := range tt.want {
			if got[i] != tt.want[i] {
				t.Errorf("splitSentences(%q)[%d] = %q, want %q", tt.in, i, got[i], tt.want[i])
			}
		}
	}
}

func TestTonePCM(t *testing.T) {
	pcm := tonePCM(440, 100*time.Millisecond, 16000)

	if want := 1600 * 2; len(pcm) != want {
		t.Fatalf("tone is %d bytes, want %d", len(pcm), want)
	}

	silent := true
	for _, b := range pcm {
		if b != 0 {
			silent = false
			break
		}
	}
	if silent {
		t.Error("tone is silent")
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c Config) Config
		wantErr bool
	}{
		{"default", func(c Config) Config { return c }, false},
		{"no addr", func(c Config) Config { c.Addr = ""; return c }, true},
		{"negative delay", func(c Config) Config { c.StepDelay = -1; return c }, true},
		{"zero chunk", func(c Config) Config { c.ChunkDuration = 0; return c }, true},
		{"zero rate", func(c Config) Config { c.SampleRate = 0; return c }, true},
		{"no replies", func(c Config) Config { c.Replies = nil; return c }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.mutate(DefaultConfig()).Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

// startServer boots a gateway on an ephemeral port and returns its
// address.
func startServer(t *testing.T, cfg Config) (*Server, string) {
	t.Helper()

	cfg.Addr = "127.0.0.1:0"
	srv, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	go func() {
		if err := srv.Start(); err != nil {
			t.Logf("gateway stopped: %v", err)
		}
	}()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if addr := srv.Addr(); addr != "" {
			return srv, addr
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("gateway never bound its listener")
	return nil, ""
}

// entry is one ordered delivery observed by the test client.
type entry struct {
	msg   wire.Inbound
	audio int
}

type recorder struct {
	mu      sync.Mutex
	entries []entry
}

func (r *recorder) add(e entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
}

func (r *recorder) snapshot() []entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]entry(nil), r.entries...)
}

func (r *recorder) waitLen(t *testing.T, n int) []entry {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if got := r.snapshot(); len(got) >= n {
			return got
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out at %d entries waiting for %d", len(r.snapshot()), n)
	return nil
}

func TestGatewayFullConversation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StepDelay = 0
	cfg.ChunkDuration = 10 * time.Millisecond
	cfg.Replies = []string{"你好。再见！"}
	_, addr := startServer(t, cfg)

	tr, err := transport.NewWebSocket("ws://" + addr + "/ws/call")
	if err != nil {
		t.Fatalf("NewWebSocket failed: %v", err)
	}

	rec := &recorder{}
	tr.OnMessage(func(msg wire.Inbound) { rec.add(entry{msg: msg}) })
	tr.OnAudio(func(frame []byte) { rec.add(entry{audio: len(frame)}) })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := tr.Open(ctx, "sess-e2e", "zh-CN"); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer tr.Close()

	// The config handshake earns a readiness status.
	got := rec.waitLen(t, 1)
	if got[0].msg.Type != wire.TypeStatus || got[0].msg.Status != "ready" {
		t.Fatalf("first message = %+v, want status ready", got[0].msg)
	}

	// A tiny segment is rejected as silence.
	if err := tr.SendAudio(make([]byte, 16)); err != nil {
		t.Fatalf("SendAudio failed: %v", err)
	}
	got = rec.waitLen(t, 2)
	if got[1].msg.Type != wire.TypeRecognition || got[1].msg.Success {
		t.Fatalf("second message = %+v, want unsuccessful recognition", got[1].msg)
	}

	// A real segment gets the whole scripted turn, in order.
	if err := tr.SendAudio(make([]byte, 8000)); err != nil {
		t.Fatalf("SendAudio failed: %v", err)
	}
	got = rec.waitLen(t, 11)

	turn := got[2:]
	wantKinds := []string{
		"recognition_result", "ai_thinking",
		"ai_text_chunk", "audio_chunk_info", "audio",
		"ai_text_chunk", "audio_chunk_info", "audio",
		"stream_complete",
	}
	for i, want := range wantKinds {
		var kind string
		if turn[i].audio > 0 {
			kind = "audio"
		} else {
			kind = string(turn[i].msg.Type)
		}
		if kind != want {
			t.Fatalf("turn position %d is %s, want %s (entries: %+v)", i, kind, want, turn)
		}
	}

	if !turn[0].msg.Success {
		t.Error("recognition not successful")
	}
	if turn[3].msg.ChunkID != 1 || turn[6].msg.ChunkID != 2 {
		t.Errorf("chunk ids = %d,%d, want 1,2", turn[3].msg.ChunkID, turn[6].msg.ChunkID)
	}
	if turn[8].msg.RoundCount != 1 {
		t.Errorf("round = %d, want 1", turn[8].msg.RoundCount)
	}

	wantAudio := 2 * int(float64(cfg.SampleRate)*cfg.ChunkDuration.Seconds())
	if turn[4].audio != wantAudio {
		t.Errorf("chunk bytes = %d, want %d", turn[4].audio, wantAudio)
	}
}

func TestGatewayRoundsAccumulate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StepDelay = 0
	cfg.ChunkDuration = 5 * time.Millisecond
	cfg.Replies = []string{"好。"}
	srv, addr := startServer(t, cfg)

	tr, err := transport.NewWebSocket("ws://" + addr + "/ws/call")
	if err != nil {
		t.Fatalf("NewWebSocket failed: %v", err)
	}

	rec := &recorder{}
	tr.OnMessage(func(msg wire.Inbound) { rec.add(entry{msg: msg}) })
	tr.OnAudio(func(frame []byte) { rec.add(entry{audio: len(frame)}) })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := tr.Open(ctx, "sess-rounds", "zh-CN"); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer tr.Close()

	// Two full turns: status + 2 x (recognition, thinking, text, info,
	// audio, complete).
	for i := 0; i < 2; i++ {
		if err := tr.SendAudio(make([]byte, 8000)); err != nil {
			t.Fatalf("SendAudio failed: %v", err)
		}
	}
	got := rec.waitLen(t, 13)

	var rounds []int
	for _, e := range got {
		if e.msg.Type == wire.TypeStreamComplete {
			rounds = append(rounds, e.msg.RoundCount)
		}
	}
	if len(rounds) != 2 || rounds[0] != 1 || rounds[1] != 2 {
		t.Errorf("rounds = %v, want [1 2]", rounds)
	}

	if turns := srv.turns.Load(); turns != 2 {
		t.Errorf("server turn counter = %d, want 2", turns)
	}
}

func TestGatewayRequiresConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StepDelay = 0
	_, addr := startServer(t, cfg)

	conn, _, err := gws.DefaultDialer.Dial("ws://"+addr+"/ws/call", nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteMessage(gws.BinaryMessage, make([]byte, 8000)); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}

	msg, err := wire.ParseInbound(data)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if msg.Type != wire.TypeError || msg.Error == "" {
		t.Errorf("got %+v, want an error message", msg)
	}
}

func TestGatewayStatusEndpoint(t *testing.T) {
	cfg := DefaultConfig()
	_, addr := startServer(t, cfg)

	resp, err := http.Get(fmt.Sprintf("http://%s/api/status", addr))
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var body struct {
		Status   string `json:"status"`
		Sessions int64  `json:"sessions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if body.Status != "ok" {
		t.Errorf("status = %q, want ok", body.Status)
	}
}
