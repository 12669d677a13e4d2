package swap

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/crosslock-exchange/crosslock/internal/config"
)

func TestTransitionTo(t *testing.T) {
	tests := []struct {
		name    string
		from    Status
		to      Status
		wantErr bool
	}{
		{"initiated to src_escrowed", StatusInitiated, StatusSrcEscrowed, false},
		{"initiated to cancelled", StatusInitiated, StatusCancelled, false},
		{"initiated to ready skips escrow", StatusInitiated, StatusReady, true},
		{"src_escrowed to dst_escrowed", StatusSrcEscrowed, StatusDstEscrowed, false},
		{"src_escrowed to refunded", StatusSrcEscrowed, StatusRefunded, false},
		{"src_escrowed to cancelled", StatusSrcEscrowed, StatusCancelled, true},
		{"dst_escrowed to ready", StatusDstEscrowed, StatusReady, false},
		{"ready to completed", StatusReady, StatusCompleted, false},
		{"ready to refunded", StatusReady, StatusRefunded, false},
		{"completed is terminal", StatusCompleted, StatusRefunded, true},
		{"refunded is terminal", StatusRefunded, StatusCompleted, true},
		{"cancelled is terminal", StatusCancelled, StatusSrcEscrowed, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &Swap{Status: tt.from}
			err := s.TransitionTo(tt.to)
			if (err != nil) != tt.wantErr {
				t.Errorf("TransitionTo(%s -> %s) error = %v, wantErr %v", tt.from, tt.to, err, tt.wantErr)
			}
			if !tt.wantErr && s.Status != tt.to {
				t.Errorf("status = %s, want %s", s.Status, tt.to)
			}
			if tt.wantErr && s.Status != tt.from {
				t.Errorf("failed transition changed status to %s", s.Status)
			}
		})
	}
}

func TestGenerateSecret(t *testing.T) {
	secret, hash, err := GenerateSecret(32)
	if err != nil {
		t.Fatalf("GenerateSecret() error = %v", err)
	}
	if len(secret) != 32 {
		t.Errorf("secret length = %d, want 32", len(secret))
	}
	if !bytes.Equal(HashSecret(secret), hash) {
		t.Error("hash does not match secret")
	}

	secret2, _, err := GenerateSecret(32)
	if err != nil {
		t.Fatalf("GenerateSecret() error = %v", err)
	}
	if bytes.Equal(secret, secret2) {
		t.Error("two secrets should not collide")
	}
}

func TestVerifySecret(t *testing.T) {
	secret, hash, err := GenerateSecret(32)
	if err != nil {
		t.Fatalf("GenerateSecret() error = %v", err)
	}

	if !VerifySecret(secret, hash) {
		t.Error("VerifySecret() should accept the matching secret")
	}

	flipped := append([]byte(nil), secret...)
	flipped[0] ^= 0x01
	if VerifySecret(flipped, hash) {
		t.Error("VerifySecret() should reject a single flipped bit")
	}
}

func TestParamsValidate(t *testing.T) {
	cfg := config.NewProtocolConfig()

	valid := Params{
		SourceChain:  "SIMA",
		DestChain:    "SIMB",
		Initiator:    "alice",
		Counterparty: "bob",
		SourceAmount: 100000,
		DestAmount:   95000,
	}

	tests := []struct {
		name    string
		mutate  func(p *Params)
		wantErr error
	}{
		{"valid", func(p *Params) {}, nil},
		{"unsupported source", func(p *Params) { p.SourceChain = "DOGE" }, ErrUnsupportedChain},
		{"unsupported dest", func(p *Params) { p.DestChain = "DOGE" }, ErrUnsupportedChain},
		{"same chain", func(p *Params) { p.DestChain = "SIMA" }, ErrUnsupportedChain},
		{"source amount too small", func(p *Params) { p.SourceAmount = 1 }, ErrAmountOutOfRange},
		{"dest amount too small", func(p *Params) { p.DestAmount = 1 }, ErrAmountOutOfRange},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := valid
			tt.mutate(&p)
			err := p.Validate(cfg)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	t.Run("missing party", func(t *testing.T) {
		p := valid
		p.Counterparty = ""
		if err := p.Validate(cfg); err == nil {
			t.Error("Validate() should reject a missing party")
		}
	})
}

func TestValidateTimelock(t *testing.T) {
	chain := config.Chain{
		Symbol:      "SIMA",
		MinTimelock: time.Minute,
		MaxTimelock: 72 * time.Hour,
	}

	if err := validateTimelock(chain, 12*time.Hour); err != nil {
		t.Errorf("12h window rejected: %v", err)
	}
	if err := validateTimelock(chain, 30*time.Second); !errors.Is(err, ErrTimelockTooShort) {
		t.Errorf("30s window: error = %v, want ErrTimelockTooShort", err)
	}
	if err := validateTimelock(chain, 100*time.Hour); !errors.Is(err, ErrTimelockTooLong) {
		t.Errorf("100h window: error = %v, want ErrTimelockTooLong", err)
	}
}

func TestNextRetryDelay(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 1 * time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{10, 30 * time.Second},
	}
	for _, tt := range tests {
		if got := nextRetryDelay(tt.attempt); got != tt.want {
			t.Errorf("nextRetryDelay(%d) = %s, want %s", tt.attempt, got, tt.want)
		}
	}
}
