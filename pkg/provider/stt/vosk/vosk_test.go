package vosk

import (
	"testing"
)

func TestNew_EmptyURL(t *testing.T) {
	t.Parallel()

	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty server URL")
	}
}

func TestNew_Defaults(t *testing.T) {
	t.Parallel()

	p, err := New("ws://localhost:2700")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.sampleRate != defaultSampleRate {
		t.Errorf("sampleRate = %d, want %d", p.sampleRate, defaultSampleRate)
	}
}

func TestNew_WithSampleRate(t *testing.T) {
	t.Parallel()

	p, err := New("ws://localhost:2700", WithSampleRate(8000))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.sampleRate != 8000 {
		t.Errorf("sampleRate = %d, want 8000", p.sampleRate)
	}
}

func TestParseVoskResponse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		msg       string
		wantText  string
		wantFinal bool
		wantOK    bool
	}{
		{
			name:      "partial result",
			msg:       `{"partial": "こんにち"}`,
			wantText:  "こんにち",
			wantFinal: false,
			wantOK:    true,
		},
		{
			name:      "final result",
			msg:       `{"text": "こんにちは"}`,
			wantText:  "こんにちは",
			wantFinal: true,
			wantOK:    true,
		},
		{
			name:   "empty partial keepalive is dropped",
			msg:    `{"partial": ""}`,
			wantOK: false,
		},
		{
			name:   "empty object is dropped",
			msg:    `{}`,
			wantOK: false,
		},
		{
			name:   "malformed JSON is dropped",
			msg:    `{"partial": `,
			wantOK: false,
		},
		{
			name:      "text wins over partial",
			msg:       `{"text": "done", "partial": "do"}`,
			wantText:  "done",
			wantFinal: true,
			wantOK:    true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			tr, ok := parseVoskResponse([]byte(tc.msg))
			if ok != tc.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tc.wantOK)
			}
			if !ok {
				return
			}
			if tr.Text != tc.wantText {
				t.Errorf("Text = %q, want %q", tr.Text, tc.wantText)
			}
			if tr.IsFinal != tc.wantFinal {
				t.Errorf("IsFinal = %v, want %v", tr.IsFinal, tc.wantFinal)
			}
		})
	}
}
