package api

import (
	"net/http"

	"github.com/nerrad567/relayhub/internal/activity"
)

// handleListActivities returns one page of the activity log, newest first.
//
// Query parameters:
//   - device_id: filter by device
//   - type: filter by activity type
//   - limit, offset: paging (default 50, max 200)
func (s *Server) handleListActivities(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := activity.Filter{
		DeviceID:     q.Get("device_id"),
		ActivityType: q.Get("type"),
	}

	var ok bool
	if filter.Limit, filter.Offset, ok = parsePaging(w, r); !ok {
		return
	}

	result, err := s.activities.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("list activities failed", "error", err)
		writeInternalError(w, "failed to list activities")
		return
	}
	writeJSON(w, http.StatusOK, result)
}
