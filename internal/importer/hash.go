package importer

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ernie/raceledger/internal/snapshot"
)

// ContentHash digests a session's mutable-but-observable fields: end time,
// finished flag, per-stage end times and result counts in stage order, and
// member/participant counts. It is a pure function of session content, so
// two imports of byte-identical session content always hash identically.
func ContentHash(s *snapshot.Session) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d|%t|", s.End, s.Finished)
	for _, st := range s.Stages {
		fmt.Fprintf(&b, "%s,%d,%d|", st.Name, st.End, len(st.Results))
	}
	fmt.Fprintf(&b, "%d|%d", len(s.Members), len(s.Participants))

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
