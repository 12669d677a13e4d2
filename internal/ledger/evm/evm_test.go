package evm

import (
	"crypto/sha256"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/crosslock-exchange/crosslock/internal/ledger"
)

func TestDeriveLockID(t *testing.T) {
	sender := common.HexToAddress("0x1111111111111111111111111111111111111111")
	receiver := common.HexToAddress("0x2222222222222222222222222222222222222222")
	hashlock := sha256.Sum256([]byte("secret"))
	deadline := time.Unix(1700000000, 0)

	a := DeriveLockID(sender, receiver, hashlock, deadline)
	b := DeriveLockID(sender, receiver, hashlock, deadline)
	if a != b {
		t.Error("same params should derive the same lock id")
	}

	c := DeriveLockID(sender, receiver, hashlock, deadline.Add(time.Second))
	if c == a {
		t.Error("different deadline should derive a different lock id")
	}

	d := DeriveLockID(receiver, sender, hashlock, deadline)
	if d == a {
		t.Error("swapped parties should derive a different lock id")
	}
}

func TestClassify(t *testing.T) {
	a := &Adapter{chain: "ETH"}

	tests := []struct {
		name string
		err  error
		want func(error) bool
	}{
		{"revert is conflict", errors.New("execution reverted: lock already withdrawn"), ledger.IsConflict},
		{"connection failure is transient", errors.New("connection refused"), ledger.IsTransient},
		{"timeout is transient", errors.New("context deadline exceeded"), ledger.IsTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := a.classify("op", tt.err)
			if !tt.want(got) {
				t.Errorf("classify(%v) = %v, wrong kind", tt.err, got)
			}
		})
	}
}
