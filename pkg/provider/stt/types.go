package stt

// Transcript represents a speech-to-text result from an STT provider.
// Both partial (interim) and final results use this type.
type Transcript struct {
	// Text is the transcribed speech content of the current utterance
	// segment. Partial results replace the previous partial; final results
	// are authoritative for their segment.
	Text string

	// IsFinal indicates whether this is a final (authoritative) or partial
	// (interim) result.
	IsFinal bool

	// Confidence is the overall confidence score (0.0–1.0). Zero if the
	// provider does not report confidence.
	Confidence float64
}
