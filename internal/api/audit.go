package api

import (
	"context"
	"net/http"

	"github.com/nerrad567/relayhub/internal/activity"
)

// activityChanSize is the buffer size for the async activity writer.
// Entries beyond this are dropped (best-effort) to avoid back-pressure on requests.
const activityChanSize = 256

// recordActivity enqueues an administrative activity for asynchronous write.
// If the channel is full the entry is dropped and a warning is logged.
func (s *Server) recordActivity(a *activity.Activity) {
	select {
	case s.activityCh <- a:
	default:
		s.logger.Warn("activity channel full, dropping entry", "type", a.ActivityType)
	}
}

// drainActivities writes queued entries serially, which suits SQLite's
// single-writer model. It runs until ctx is cancelled, then drains what
// is left.
func (s *Server) drainActivities(ctx context.Context) {
	for {
		select {
		case a := <-s.activityCh:
			s.writeActivity(a)
		case <-ctx.Done():
			for {
				select {
				case a := <-s.activityCh:
					s.writeActivity(a)
				default:
					return
				}
			}
		}
	}
}

func (s *Server) writeActivity(a *activity.Activity) {
	if err := s.activities.Create(context.Background(), a); err != nil {
		s.logger.Error("activity write failed", "type", a.ActivityType, "error", err)
	}
}

// actorDetails adds the calling user and request id to details.
func actorDetails(r *http.Request, details map[string]any) map[string]any {
	if details == nil {
		details = map[string]any{}
	}
	if id := callerID(r.Context()); id != nil {
		details["user_id"] = *id
	}
	if rid, ok := r.Context().Value(ctxKeyRequestID).(string); ok {
		details["request_id"] = rid
	}
	return details
}
