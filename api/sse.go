package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/poiesic/ragcore/core"
	"github.com/poiesic/ragcore/progress"
)

// handleProgress streams progress messages via Server-Sent Events.
//
// Without a session query parameter every session of the project is
// streamed until the client disconnects. With ?session=<id> only that
// session is streamed and the response ends after its terminal message.
// An unknown session is a 404; a session that already finished yields one
// message built from its record.
//
//	GET /api/v1/projects/{project}/progress?session=abc
//
//	event: progress_update
//	data: {"type":"progress_update","session_id":"abc",...}
//
// Messages published before the client connected are not replayed.
func (s *Server) handleProgress(c echo.Context) error {
	projectID := c.Param("project")
	if err := core.ValidateScope(core.TenantScope{ProjectID: projectID}); err != nil {
		return err
	}
	sessionID := c.QueryParam("session")

	var (
		sub      *progress.Subscription
		snapshot *core.ProgressMessage
	)
	if sessionID != "" {
		// Subscribe before reading the record so a session finishing in
		// between is seen as terminal rather than missed.
		sub = s.engine.Broker().Subscribe(sessionID)
		session, err := s.engine.Pipeline().ProjectSession(c.Request().Context(), projectID, sessionID)
		if err != nil {
			sub.Close()
			return err
		}
		if session.Status.Terminal() {
			msg := sessionMessage(session)
			snapshot = &msg
		}
	} else {
		sub = s.engine.Broker().SubscribeProject(projectID)
	}
	defer sub.Close()

	w := c.Response()
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering
	w.WriteHeader(http.StatusOK)
	w.Flush()

	if snapshot != nil {
		s.writeEvent(w, *snapshot)
		return nil
	}

	// Heartbeat ticker to prevent proxy timeouts
	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-sub.C():
			if !ok {
				return nil
			}
			if msg.ProjectID != projectID {
				continue
			}
			s.writeEvent(w, msg)

		case <-ticker.C:
			fmt.Fprintf(w, ": heartbeat\n\n")
			w.Flush()

		case <-c.Request().Context().Done():
			// Client disconnected
			return nil
		}
	}
}

func (s *Server) writeEvent(w *echo.Response, msg core.ProgressMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		s.logger.Error("error encoding progress message", "session_id", msg.SessionID, "err", err)
		return
	}
	fmt.Fprintf(w, "event: %s\n", msg.Type)
	fmt.Fprintf(w, "data: %s\n\n", data)
	w.Flush()
}

// sessionMessage rebuilds the last progress message of a finished session.
func sessionMessage(session *core.IngestionSession) core.ProgressMessage {
	tracker := progress.NewTracker(session.ID, session.Scope.ProjectID, nil)
	_ = tracker.SetTotal(session.TotalChunks)
	tracker.Update(session.CurrentChunk)
	return tracker.Message(session.Status, session.Message)
}
