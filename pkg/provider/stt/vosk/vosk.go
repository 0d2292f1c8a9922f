// Package vosk provides an STT provider backed by a vosk-server instance
// speaking its WebSocket protocol. It implements the stt.Provider interface.
//
// The protocol is simple: the client sends a JSON configuration message,
// then binary PCM chunks; the server answers with JSON objects carrying a
// "partial" field for interim results and a "text" field once an utterance
// is finalised. Sending the literal string {"eof" : 1} asks the server to
// flush and finalise.
package vosk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/aizuchi-dev/aizuchi/pkg/provider/stt"
)

const defaultSampleRate = 16000

// Option is a functional option for configuring the Vosk Provider.
type Option func(*Provider)

// WithSampleRate sets the provider-level default sample rate in Hz.
func WithSampleRate(rate int) Option {
	return func(p *Provider) { p.sampleRate = rate }
}

// Provider implements stt.Provider against a vosk-server WebSocket endpoint.
type Provider struct {
	serverURL  string
	sampleRate int
}

// New creates a Vosk Provider for the given server URL
// (e.g., "ws://localhost:2700").
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("vosk: serverURL must not be empty")
	}
	p := &Provider{serverURL: serverURL, sampleRate: defaultSampleRate}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// StartStream dials the server and sends the recognition configuration.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	sr := cfg.SampleRate
	if sr == 0 {
		sr = p.sampleRate
	}

	dialer := websocket.Dialer{}
	conn, _, err := dialer.DialContext(ctx, p.serverURL, nil)
	if err != nil {
		return nil, fmt.Errorf("vosk: dial %s: %w", p.serverURL, err)
	}

	confMsg, err := json.Marshal(map[string]any{
		"config": map[string]any{"sample_rate": sr},
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("vosk: marshal config: %w", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, confMsg); err != nil {
		conn.Close()
		return nil, fmt.Errorf("vosk: send config: %w", err)
	}

	sess := &session{
		conn:    conn,
		results: make(chan stt.Transcript, 64),
		done:    make(chan struct{}),
	}
	sess.wg.Add(1)
	go sess.readLoop()
	return sess, nil
}

// voskResponse is the JSON structure returned by vosk-server.
type voskResponse struct {
	Partial string `json:"partial"`
	Text    string `json:"text"`
}

// session is a live vosk-server session. It implements stt.SessionHandle.
type session struct {
	conn    *websocket.Conn
	results chan stt.Transcript
	done    chan struct{}

	writeMu sync.Mutex
	once    sync.Once
	wg      sync.WaitGroup
}

// SendAudio writes a PCM chunk to the server.
func (s *session) SendAudio(chunk []byte) error {
	select {
	case <-s.done:
		return errors.New("vosk: session is closed")
	default:
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
		return fmt.Errorf("vosk: write audio: %w", err)
	}
	return nil
}

// Results returns the channel of transcription results.
func (s *session) Results() <-chan stt.Transcript { return s.results }

// Close sends the EOF marker, waits for the reader to drain, and closes the
// connection.
func (s *session) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.writeMu.Lock()
		_ = s.conn.WriteMessage(websocket.TextMessage, []byte(`{"eof" : 1}`))
		s.writeMu.Unlock()
		_ = s.conn.Close()
		s.wg.Wait()
	})
	return nil
}

// readLoop receives JSON responses and dispatches them as Transcripts.
func (s *session) readLoop() {
	defer s.wg.Done()
	defer close(s.results)

	for {
		_, msg, err := s.conn.ReadMessage()
		if err != nil {
			return
		}

		t, ok := parseVoskResponse(msg)
		if !ok {
			continue
		}
		select {
		case s.results <- t:
		case <-s.done:
		}
	}
}

// parseVoskResponse converts a server message into a Transcript. Empty
// partials (the server's keepalive) are ignored.
func parseVoskResponse(data []byte) (stt.Transcript, bool) {
	var resp voskResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return stt.Transcript{}, false
	}
	if resp.Text != "" {
		return stt.Transcript{Text: resp.Text, IsFinal: true}, true
	}
	if resp.Partial != "" {
		return stt.Transcript{Text: resp.Partial, IsFinal: false}, true
	}
	return stt.Transcript{}, false
}
