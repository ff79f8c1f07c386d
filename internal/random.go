package internal

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// SessionID is the 128-bit opaque session handle.
type SessionID [16]byte

const (
	codeDigits = 6
	codeSpace  = 1_000_000
	// codeRejectAbove is the largest multiple of codeSpace that fits in a uint32.
	// Draws at or above it are discarded so every code is equally likely.
	codeRejectAbove = (1 << 32) / codeSpace * codeSpace
)

var randReader io.Reader = rand.Reader

func NewSessionID() (SessionID, error) {
	var sid SessionID
	_, err := io.ReadFull(randReader, sid[:])
	return sid, err
}

func (s SessionID) String() string {
	return base64.RawURLEncoding.EncodeToString(s[:])
}

func ParseSessionID(sessionID string) (SessionID, error) {
	var sid SessionID

	raw, err := base64.RawURLEncoding.DecodeString(sessionID)
	if err != nil {
		return sid, err
	}
	if len(raw) != len(sid) {
		return sid, errors.New("invalid session id size")
	}

	copy(sid[:], raw)
	return sid, nil
}

// NewVerificationCode returns a zero-padded 6-digit code drawn uniformly from
// 000000-999999.
func NewVerificationCode() (string, error) {
	var buf [4]byte
	for {
		if _, err := io.ReadFull(randReader, buf[:]); err != nil {
			return "", err
		}
		n := binary.BigEndian.Uint32(buf[:])
		if uint64(n) >= codeRejectAbove {
			continue
		}
		return fmt.Sprintf("%0*d", codeDigits, n%codeSpace), nil
	}
}

var (
	ulidMu      sync.Mutex
	ulidEntropy = ulid.Monotonic(rand.Reader, 0)
)

// NewULID returns a lexicographically time-ordered id. Ids minted within the same
// millisecond still sort in creation order.
func NewULID(now time.Time) string {
	ulidMu.Lock()
	defer ulidMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(now), ulidEntropy).String()
}
