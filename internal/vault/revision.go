package vault

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"st-go/internal/st"
)

// newRevisionID returns an id that sorts by creation time.
func newRevisionID(now time.Time) string {
	return fmt.Sprintf("%020d-%s", now.UnixNano(), uuid.New().String())
}

// revisionIDs hands out strictly increasing revision ids even when the
// clock stands still.
type revisionIDs struct {
	mu    sync.Mutex
	clock st.Clock
	last  int64
}

func newRevisionIDs(clock st.Clock) *revisionIDs {
	if clock == nil {
		clock = st.RealClock{}
	}
	return &revisionIDs{clock: clock}
}

func (g *revisionIDs) next() (string, time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()

	n := g.clock.Now().UnixNano()
	if n <= g.last {
		n = g.last + 1
	}
	g.last = n
	now := time.Unix(0, n).UTC()
	return newRevisionID(now), now
}

// revisionTime recovers the creation time encoded in a revision id.
func revisionTime(id string) (time.Time, error) {
	ts, _, ok := strings.Cut(id, "-")
	if !ok {
		return time.Time{}, fmt.Errorf("invalid revision id %q", id)
	}
	n, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid revision id %q: %w", id, err)
	}
	return time.Unix(0, n).UTC(), nil
}

// escapePath turns a logical path into a single path segment.
func escapePath(p string) string {
	return url.PathEscape(p)
}
