package api

import (
	"net/http"
	"strconv"
	"sync"

	"github.com/gin-gonic/gin"

	"market-analysis-engine/internal/events"
)

// eventLogCapacity bounds how many bus events the API retains.
const eventLogCapacity = 100

// eventLog is a bounded in-memory record of recent bus events, newest
// last. Subscribers run on bus goroutines, so access is mutex-guarded.
type eventLog struct {
	mu      sync.Mutex
	entries []events.Event
}

func newEventLog() *eventLog {
	return &eventLog{entries: make([]events.Event, 0, eventLogCapacity)}
}

// Record appends one event, evicting the oldest once at capacity.
func (l *eventLog) Record(e events.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.entries) >= eventLogCapacity {
		l.entries = l.entries[1:]
	}
	l.entries = append(l.entries, e)
}

// Recent returns up to n events, newest first.
func (l *eventLog) Recent(n int) []events.Event {
	l.mu.Lock()
	defer l.mu.Unlock()

	if n <= 0 || n > len(l.entries) {
		n = len(l.entries)
	}
	out := make([]events.Event, n)
	for i := 0; i < n; i++ {
		out[i] = l.entries[len(l.entries)-1-i]
	}
	return out
}

// handleRecentEvents lists the latest engine events, newest first.
// GET /api/events?limit=50
func (s *Server) handleRecentEvents(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > eventLogCapacity {
			errorResponse(c, http.StatusBadRequest, "limit must be an integer between 1 and 100")
			return
		}
		limit = parsed
	}

	successResponse(c, gin.H{
		"events": s.events.Recent(limit),
	})
}
