package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"rythmo/internal/events"
	"rythmo/internal/logging"
)

const (
	defaultEventLimit = 200
	longPollTimeout   = 25 * time.Second

	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
)

// eventQuery holds the filters shared by the long-poll and websocket routes.
type eventQuery struct {
	since     uint64
	hasSince  bool
	limit     int
	wait      bool
	projectID int64
}

func parseEventQuery(r *http.Request) eventQuery {
	query := r.URL.Query()
	q := eventQuery{limit: defaultEventLimit}
	if value := strings.TrimSpace(query.Get("since")); value != "" {
		if parsed, err := strconv.ParseUint(value, 10, 64); err == nil {
			q.since = parsed
			q.hasSince = true
		}
	}
	if limit, err := strconv.Atoi(query.Get("limit")); err == nil && limit > 0 {
		q.limit = limit
	}
	wait := strings.TrimSpace(query.Get("wait"))
	q.wait = wait == "1" || strings.EqualFold(wait, "true")
	if value := strings.TrimSpace(query.Get("project")); value != "" {
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
			q.projectID = parsed
		}
	}
	return q
}

// match applies the project filter. Project ids are local to each daemon's
// store, so events relayed from another node never match a project filter.
func (q eventQuery) match(evt events.Event) bool {
	if q.projectID == 0 {
		return true
	}
	return evt.Origin == "" && evt.ProjectID == q.projectID
}

func (q eventQuery) filter(batch []events.Event) []events.Event {
	out := make([]events.Event, 0, len(batch))
	for _, evt := range batch {
		if q.match(evt) {
			out = append(out, evt)
		}
	}
	return out
}

// handleEvents serves one batch of events after since. With wait=1 it holds
// the request until an event arrives or the long-poll window closes, in which
// case it answers with an empty batch and the unchanged cursor.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	q := parseEventQuery(r)
	ctx := r.Context()
	if q.wait {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, longPollTimeout)
		defer cancel()
	}

	batch, next, err := s.hub.Fetch(ctx, q.since, q.limit, q.wait)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		s.writeFailure(w, r, err)
		return
	}
	if r.Context().Err() != nil {
		return
	}
	s.writeJSON(w, http.StatusOK, EventsResponse{Events: q.filter(batch), Next: next})
}

// handleEventStream upgrades to a websocket and pushes every new event as a
// JSON text frame. When since is given, buffered events after it are replayed
// first. A slow client may miss events; gaps show in the sequence numbers.
func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	q := parseEventQuery(r)
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", logging.Error(err))
		return
	}
	defer conn.Close()

	feed, unsubscribe := s.hub.Subscribe(128)
	defer unsubscribe()

	logger := logging.WithContext(r.Context(), s.logger)
	logger.Debug("event stream opened", logging.String("remote", r.RemoteAddr))

	var last uint64
	if q.hasSince {
		backlog, _, _ := s.hub.Fetch(r.Context(), q.since, 0, false)
		for _, evt := range backlog {
			if !q.match(evt) {
				last = evt.Sequence
				continue
			}
			if err := writeEvent(conn, evt); err != nil {
				return
			}
			last = evt.Sequence
		}
	}

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-closed:
			logger.Debug("event stream closed by client")
			return
		case <-s.done:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server stopping"),
				time.Now().Add(wsWriteWait))
			return
		case evt, ok := <-feed:
			if !ok {
				return
			}
			if evt.Sequence <= last || !q.match(evt) {
				continue
			}
			if err := writeEvent(conn, evt); err != nil {
				logger.Debug("event stream write failed", logging.Error(err))
				return
			}
			last = evt.Sequence
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}

func writeEvent(conn *websocket.Conn, evt events.Event) error {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return conn.WriteJSON(evt)
}
