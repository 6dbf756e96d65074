package nonce

import (
	"errors"
	"testing"
	"time"
)

func TestValidateTTL(t *testing.T) {
	tests := []struct {
		name     string
		ttl      time.Duration
		maxAge   time.Duration
		skew     time.Duration
		wantErr  bool
		tooShort bool
	}{
		{name: "ttl covers max age", ttl: 10 * time.Minute, maxAge: 5 * time.Minute},
		{name: "ttl covers max age plus skew", ttl: 10 * time.Minute, maxAge: 5 * time.Minute, skew: time.Minute},
		{name: "ttl equal to window", ttl: 6 * time.Minute, maxAge: 5 * time.Minute, skew: time.Minute, wantErr: true, tooShort: true},
		{name: "ttl shorter than max age", ttl: time.Minute, maxAge: 5 * time.Minute, wantErr: true, tooShort: true},
		{name: "zero ttl", ttl: 0, maxAge: time.Minute, wantErr: true},
		{name: "zero max age", ttl: time.Minute, maxAge: 0, wantErr: true},
		{name: "negative skew", ttl: time.Hour, maxAge: time.Minute, skew: -time.Second, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTTL(tt.ttl, tt.maxAge, tt.skew)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateTTL() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.tooShort && !errors.Is(err, ErrTTLTooShort) {
				t.Errorf("ValidateTTL() error = %v, want ErrTTLTooShort", err)
			}
		})
	}
}
