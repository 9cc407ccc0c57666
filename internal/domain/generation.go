package domain

// GenerationOptions tune the answer generation provider. Zero values fall
// back to provider defaults. Extra carries unrecognized options through to
// the provider untouched.
type GenerationOptions struct {
	Temperature   float32
	MaxTokens     int
	SystemMessage string
	Jurisdiction  string
	DocumentType  string
	Extra         map[string]string
}
