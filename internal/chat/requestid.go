package chat

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Request ids look like "1717000000000-6f1c...": the submission time in unix
// milliseconds joined to the caller's message id (or a generated UUID). The
// prefix makes ids roughly sortable and recoverable to a submission time for
// latency accounting; the suffix makes them collision-resistant.

func NewRequestID(messageID string) string {
	messageID = strings.TrimSpace(messageID)
	if messageID == "" {
		messageID = uuid.NewString()
	}
	return fmt.Sprintf("%d-%s", time.Now().UnixMilli(), messageID)
}

// RequestSubmittedAt recovers the approximate submission time. ok is false
// for ids that did not come out of NewRequestID.
func RequestSubmittedAt(requestID string) (time.Time, bool) {
	head, _, found := strings.Cut(requestID, "-")
	if !found {
		return time.Time{}, false
	}
	ms, err := strconv.ParseInt(head, 10, 64)
	if err != nil || ms <= 0 {
		return time.Time{}, false
	}
	return time.UnixMilli(ms), true
}

// RequestLatencyMS computes elapsed milliseconds since submission, clamped at
// zero. Unparseable ids yield 0 rather than garbage.
func RequestLatencyMS(requestID string, now time.Time) int64 {
	at, ok := RequestSubmittedAt(requestID)
	if !ok {
		return 0
	}
	ms := now.Sub(at).Milliseconds()
	if ms < 0 {
		return 0
	}
	return ms
}
