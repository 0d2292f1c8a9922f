package voicevox

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aizuchi-dev/aizuchi/pkg/audio"
	"github.com/aizuchi-dev/aizuchi/pkg/provider/tts"
)

// newEngineStub returns a test server that mimics the VOICEVOX HTTP API.
// The synthesis step returns a short valid WAV clip.
func newEngineStub(t *testing.T, onSynthesisQuery func(query map[string]any)) *httptest.Server {
	t.Helper()

	wav := audio.EncodeWAV(make([]byte, 640), audio.Format{SampleRate: 24000, Channels: 1})

	mux := http.NewServeMux()
	mux.HandleFunc("/audio_query", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if r.URL.Query().Get("text") == "" {
			http.Error(w, "missing text", http.StatusUnprocessableEntity)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"speedScale":1.0,"pitchScale":0.0}`))
	})
	mux.HandleFunc("/synthesis", func(w http.ResponseWriter, r *http.Request) {
		if onSynthesisQuery != nil {
			var m map[string]any
			if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
				http.Error(w, "bad query", http.StatusBadRequest)
				return
			}
			onSynthesisQuery(m)
		}
		w.Header().Set("Content-Type", "audio/wav")
		_, _ = w.Write(wav)
	})
	return httptest.NewServer(mux)
}

func TestSynthesize_ReturnsDecodedPCM(t *testing.T) {
	srv := newEngineStub(t, nil)
	defer srv.Close()

	s, err := New(srv.URL)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	out, err := s.Synthesize(context.Background(), "こんにちは", tts.Voice{Speaker: 3})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if len(out.PCM) != 640 {
		t.Errorf("expected 640 PCM bytes, got %d", len(out.PCM))
	}
	if out.Format.SampleRate != 24000 || out.Format.Channels != 1 {
		t.Errorf("unexpected format: %+v", out.Format)
	}
}

func TestSynthesize_EmptyText(t *testing.T) {
	s, err := New("")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := s.Synthesize(context.Background(), "", tts.Voice{}); err == nil {
		t.Error("expected error for empty text")
	}
}

func TestSynthesize_PatchesSpeedScale(t *testing.T) {
	var gotSpeed float64
	srv := newEngineStub(t, func(query map[string]any) {
		if v, ok := query["speedScale"].(float64); ok {
			gotSpeed = v
		}
	})
	defer srv.Close()

	s, err := New(srv.URL)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, err = s.Synthesize(context.Background(), "テスト", tts.Voice{SpeedFactor: 1.3})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if gotSpeed != 1.3 {
		t.Errorf("expected speedScale 1.3, got %v", gotSpeed)
	}
}

func TestSynthesize_EngineError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "engine down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	s, err := New(srv.URL)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := s.Synthesize(context.Background(), "テスト", tts.Voice{}); err == nil {
		t.Error("expected error when the engine reports a failure")
	}
}

func TestPatchSpeedScale_InvalidJSON(t *testing.T) {
	if _, err := patchSpeedScale([]byte(`{broken`), 1.2); err == nil {
		t.Error("expected error for invalid query JSON")
	}
}
