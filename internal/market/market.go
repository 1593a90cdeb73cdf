package market

import (
	"fmt"
	"time"
)

// Address is an opaque comparable participant identity. The ledger never
// inspects it; it only compares it against the owner and uses it as part of
// the bet key.
type Address string

// Side identifies one of the two outcomes of a binary market.
type Side int32

const (
	SideNone Side = 0
	SideA    Side = 1
	SideB    Side = 2
)

func (s Side) Valid() bool {
	return s == SideA || s == SideB
}

func (s Side) String() string {
	switch s {
	case SideA:
		return "A"
	case SideB:
		return "B"
	default:
		return "none"
	}
}

// Status is the market lifecycle state.
type Status int32

const (
	StatusOpen Status = iota
	StatusClosed
	StatusResolved
)

func (st Status) String() string {
	switch st {
	case StatusOpen:
		return "open"
	case StatusClosed:
		return "closed"
	case StatusResolved:
		return "resolved"
	default:
		return "unknown"
	}
}

// CanTransitionTo enforces the one-way lifecycle Open → Closed → Resolved.
// No transition skips a state and none reverses.
func (st Status) CanTransitionTo(next Status) bool {
	switch st {
	case StatusOpen:
		return next == StatusClosed
	case StatusClosed:
		return next == StatusResolved
	default:
		return false
	}
}

// Market is a single binary proposition. Description and the two outcome
// labels are opaque byte payloads; the ledger never interprets them.
type Market struct {
	ID          int64
	Description []byte
	LabelA      []byte
	LabelB      []byte
	EndTime     time.Time // New stakes rejected at or after this instant
	Status      Status
	PoolA       uint64
	PoolB       uint64
	TotalPool   uint64
	WinningSide Side // SideNone until Status == StatusResolved
	CreatedAt   time.Time
	Version     int64
}

// Clone returns a deep copy. The engine mutates clones and replaces the
// stored value wholesale, so no partial write is ever observable.
func (m *Market) Clone() *Market {
	c := *m
	c.Description = append([]byte(nil), m.Description...)
	c.LabelA = append([]byte(nil), m.LabelA...)
	c.LabelB = append([]byte(nil), m.LabelB...)
	return &c
}

// Pool returns the staked total on one side.
func (m *Market) Pool(s Side) uint64 {
	switch s {
	case SideA:
		return m.PoolA
	case SideB:
		return m.PoolB
	default:
		return 0
	}
}

// CheckPools validates the pool-sum invariant and the resolution invariant
// (winning side set if and only if the market is resolved).
func (m *Market) CheckPools() error {
	if m.PoolA+m.PoolB != m.TotalPool {
		return fmt.Errorf("market %d pools unbalanced: poolA=%d poolB=%d total=%d",
			m.ID, m.PoolA, m.PoolB, m.TotalPool)
	}
	resolved := m.Status == StatusResolved
	if resolved != m.WinningSide.Valid() {
		return fmt.Errorf("market %d resolution mismatch: status=%s winning_side=%s",
			m.ID, m.Status, m.WinningSide)
	}
	return nil
}
