package domain

import (
	"errors"
	"testing"
)

func TestSettingsValidate(t *testing.T) {
	tests := []struct {
		name    string
		s       Settings
		wantErr bool
	}{
		{"valid", Settings{TopK: 5, ScoreThreshold: 0.7}, false},
		{"zero top_k", Settings{TopK: 0, ScoreThreshold: 0.7}, true},
		{"negative top_k", Settings{TopK: -1}, true},
		{"zero threshold is fine", Settings{TopK: 1}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.s.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrValidation) {
				t.Fatalf("expected ErrValidation, got %v", err)
			}
		})
	}
}

func TestFragmentEmpty(t *testing.T) {
	if !(Fragment{}).Empty() {
		t.Fatal("zero fragment should be empty")
	}
	if !(Fragment{Content: PageContent{Text: "  \n\t "}}).Empty() {
		t.Fatal("whitespace-only fragment should be empty")
	}
	if (Fragment{Content: PageContent{Text: "art. 42"}}).Empty() {
		t.Fatal("fragment with text should not be empty")
	}
}

func TestProviderErrorUnwrap(t *testing.T) {
	err := NewProviderError("redis", 503, errors.New("connection refused"))
	if !errors.Is(err, ErrProviderUnavailable) {
		t.Fatalf("ProviderError should unwrap to ErrProviderUnavailable, got %v", err)
	}
	var pe *ProviderError
	if !errors.As(err, &pe) {
		t.Fatal("errors.As should find *ProviderError")
	}
	if pe.Provider != "redis" || pe.Status != 503 {
		t.Fatalf("unexpected fields: %+v", pe)
	}
}
