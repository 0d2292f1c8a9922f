package tts

// Voice describes a TTS voice configuration.
type Voice struct {
	// ID is the provider-specific voice identifier (e.g., an Edge neural
	// voice name such as "ja-JP-NanamiNeural").
	ID string

	// Speaker is a numeric speaker/style index for providers that address
	// voices by number (VOICEVOX).
	Speaker int

	// SpeedFactor adjusts speaking rate (0.5–2.0, 0 or 1.0 = default).
	SpeedFactor float64

	// Metadata holds provider-specific voice attributes (gender, language,
	// style, etc.).
	Metadata map[string]string
}
