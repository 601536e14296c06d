package validation

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestValidatePresetName(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		want        string
		wantErr     bool
		errContains string
	}{
		{
			name:  "known preset",
			input: "mock",
			want:  "mock",
		},
		{
			name:  "hyphenated preset",
			input: "social-distancing",
			want:  "social-distancing",
		},
		{
			name:  "normalized case and spaces",
			input: "  Lethality-Paradox ",
			want:  "lethality-paradox",
		},
		{
			name:  "empty keeps current",
			input: "",
			want:  "",
		},
		{
			name:  "whitespace keeps current",
			input: "   ",
			want:  "",
		},
		{
			name:        "unknown preset",
			input:       "zombies",
			wantErr:     true,
			errContains: "unknown preset",
		},
		{
			name:        "invalid characters",
			input:       "lab; rm -rf",
			wantErr:     true,
			errContains: "invalid characters",
		},
		{
			name:        "too long",
			input:       strings.Repeat("a", MaxPresetNameLen+1),
			wantErr:     true,
			errContains: "too long",
		},
		{
			name:        "invalid UTF-8",
			input:       "lab\xff",
			wantErr:     true,
			errContains: "invalid UTF-8",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ValidatePresetName(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidatePresetName() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if err != nil && tt.errContains != "" && !strings.Contains(err.Error(), tt.errContains) {
				t.Errorf("ValidatePresetName() error = %v, should contain %q", err, tt.errContains)
			}
			if got != tt.want {
				t.Errorf("ValidatePresetName() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestValidateMessageType(t *testing.T) {
	tests := []struct {
		input   string
		wantErr bool
	}{
		{MessageTypeRestart, false},
		{"", true},
		{"fire", true},
		{"RESTART", true},
	}

	for _, tt := range tests {
		if err := ValidateMessageType(tt.input); (err != nil) != tt.wantErr {
			t.Errorf("ValidateMessageType(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
		}
	}
}

func TestControlValidator_ValidateMessage(t *testing.T) {
	validator := NewControlValidator(1, 10)
	defer validator.Close()

	tests := []struct {
		name        string
		data        []byte
		clientID    string
		wantErr     bool
		errContains string
	}{
		{
			name:     "valid JSON message",
			data:     []byte(`{"type":"restart","preset":"lab"}`),
			clientID: "client1",
			wantErr:  false,
		},
		{
			name:        "too large message",
			data:        make([]byte, MaxMessageSize+1),
			clientID:    "client1",
			wantErr:     true,
			errContains: "too large",
		},
		{
			name:        "invalid JSON",
			data:        []byte(`{"invalid": json`),
			clientID:    "client1",
			wantErr:     true,
			errContains: "invalid JSON",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validator.ValidateMessage(tt.data, tt.clientID)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateMessage() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if err != nil && tt.errContains != "" && !strings.Contains(err.Error(), tt.errContains) {
				t.Errorf("ValidateMessage() error = %v, should contain %q", err, tt.errContains)
			}
		})
	}
}

func TestControlValidator_RateLimited(t *testing.T) {
	validator := NewControlValidator(0.001, 2)
	defer validator.Close()

	msg := []byte(`{"type":"restart"}`)
	for i := 0; i < 2; i++ {
		if err := validator.ValidateMessage(msg, "client1"); err != nil {
			t.Fatalf("Message %d should be allowed: %v", i+1, err)
		}
	}

	err := validator.ValidateMessage(msg, "client1")
	if !errors.Is(err, ErrRateLimited) {
		t.Errorf("Expected ErrRateLimited, got %v", err)
	}

	validator.Forget("client1")
	if err := validator.ValidateMessage(msg, "client1"); err != nil {
		t.Errorf("Forgotten client should start with a full bucket: %v", err)
	}
}

func TestRateLimiter_Allow(t *testing.T) {
	rl := NewRateLimiter(0.01, 5)
	defer rl.Close()

	clientID := "test-client"

	// Should allow the first 5 requests
	for i := 0; i < 5; i++ {
		if !rl.Allow(clientID) {
			t.Errorf("Request %d should be allowed", i+1)
		}
	}

	// 6th request should be denied
	if rl.Allow(clientID) {
		t.Error("6th request should be denied")
	}

	// Different client should still be allowed
	if !rl.Allow("other-client") {
		t.Error("Different client should be allowed")
	}

	if rl.Clients() != 2 {
		t.Errorf("Expected 2 tracked clients, got %d", rl.Clients())
	}
}

func TestRateLimiter_TokenRefill(t *testing.T) {
	// 20 tokens per second refill one token every 50ms
	rl := NewRateLimiter(20, 2)
	defer rl.Close()

	clientID := "test-client"

	rl.Allow(clientID)
	rl.Allow(clientID)

	if rl.Allow(clientID) {
		t.Error("Request should be denied after consuming all tokens")
	}

	time.Sleep(150 * time.Millisecond)

	if !rl.Allow(clientID) {
		t.Error("Request should be allowed after token refill")
	}
}

func TestRateLimiter_Defaults(t *testing.T) {
	rl := NewRateLimiter(0, 0)
	defer rl.Close()

	if rl.rate != 1 || rl.burst != 1 {
		t.Errorf("Expected fallback rate 1 and burst 1, got %v and %d", rl.rate, rl.burst)
	}

	rl.Close()
}

func TestRateLimiter_RemoveIdleClients(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	defer rl.Close()

	rl.Allow("idle")
	rl.removeIdleClients(time.Now().Add(time.Minute))

	if rl.Clients() != 0 {
		t.Errorf("Expected idle client to be removed, %d left", rl.Clients())
	}
}
