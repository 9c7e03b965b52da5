package stt

// Transcript is a speech-to-text result. Both partial and final transcripts
// use this type.
type Transcript struct {
	// Text is the transcribed speech content.
	Text string

	// IsFinal reports whether the provider has committed to this result.
	IsFinal bool

	// Confidence is the overall confidence score (0.0–1.0), zero if unknown.
	Confidence float64
}
