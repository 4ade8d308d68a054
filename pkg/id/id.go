// Package id mints session identifiers. Every journal row carries the
// session that wrote it, and sessions are ULIDs so sorting identifiers
// sorts runs chronologically.
package id

import (
	cryptoRand "crypto/rand"
	"encoding/binary"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// generator serializes access to a monotonic entropy source seeded
// from crypto/rand, so identifiers are unpredictable yet stay
// lexicographically increasing within the same millisecond.
type generator struct {
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

var sessions = newGenerator()

func newGenerator() *generator {
	var seed int64
	_ = binary.Read(cryptoRand.Reader, binary.LittleEndian, &seed)
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &generator{
		entropy: ulid.Monotonic(rand.New(rand.NewSource(seed)), 0),
	}
}

func (g *generator) next(at time.Time) string {
	g.mu.Lock()
	defer g.mu.Unlock()

	u, err := ulid.New(ulid.Timestamp(at), g.entropy)
	if err != nil {
		// Only possible if time runs backwards past the epoch or
		// entropy is exhausted.
		panic(err)
	}
	return u.String()
}

// NewSession returns the identifier for one engine run. Two runs
// started back to back never collide, and their journal rows group
// correctly when sorted by session.
func NewSession() string {
	return sessions.next(time.Now().UTC())
}

// SessionStart extracts the start time embedded in a session
// identifier, at millisecond precision.
func SessionStart(session string) (time.Time, error) {
	u, err := ulid.ParseStrict(session)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse session id %q: %w", session, err)
	}
	return ulid.Time(u.Time()).UTC(), nil
}
