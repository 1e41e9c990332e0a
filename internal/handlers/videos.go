package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/snappy-loop/podcaststudio/internal/models"
)

const (
	videoWSReadLimit    = 4 << 10
	videoWSPongWait     = 60 * time.Second
	videoWSPingInterval = 45 * time.Second
	videoWSWriteWait    = 10 * time.Second
)

var videoWSUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// videoWSMessage is the JSON shape pushed to websocket clients.
type videoWSMessage struct {
	State     string `json:"state"`
	Progress  string `json:"progress,omitempty"`
	ResultURL string `json:"result_url,omitempty"`
	Error     string `json:"error,omitempty"`
}

func newVideoWSMessage(s *models.VideoStatusResponse) videoWSMessage {
	msg := videoWSMessage{State: s.Status, Progress: s.Progress}
	if s.Result != nil {
		msg.ResultURL = s.Result.MediaURL
		msg.Error = s.Result.Error
	}
	return msg
}

// CreateVideo handles POST /v1/videos
func (h *Handler) CreateVideo(w http.ResponseWriter, r *http.Request) {
	var req models.CreateVideoRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	resp, err := h.videos.CreateVideo(r.Context(), &req)
	if err != nil {
		writeServiceError(w, err, "Failed to create video")
		return
	}

	writeJSON(w, http.StatusAccepted, resp)
}

// GetVideo handles GET /v1/videos/{id}
func (h *Handler) GetVideo(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "video job")
	if !ok {
		return
	}

	status, err := h.videos.GetVideoStatus(r.Context(), id)
	if err != nil {
		writeServiceError(w, err, "Failed to get video status")
		return
	}

	writeJSON(w, http.StatusOK, status)
}

// VideoWS handles GET /v1/videos/{id}/ws. It pushes the job state on every
// change and closes after a terminal state. Closing the socket ends the
// subscription.
func (h *Handler) VideoWS(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "video job")
	if !ok {
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	current, updates, err := h.videos.WatchVideo(ctx, id)
	if err != nil {
		writeServiceError(w, err, "Failed to watch video")
		return
	}

	conn, err := videoWSUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("video ws upgrade failed")
		return
	}
	defer conn.Close()

	// Reader: handles pongs and notices the client going away.
	conn.SetReadLimit(videoWSReadLimit)
	conn.SetReadDeadline(time.Now().Add(videoWSPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(videoWSPongWait))
	})
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(videoWSPingInterval)
	defer ping.Stop()

	last := newVideoWSMessage(current)
	if err := writeWSJSON(conn, last); err != nil || current.Result != nil {
		closeWS(conn)
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(videoWSWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case status, ok := <-updates:
			if !ok {
				return
			}
			msg := newVideoWSMessage(status)
			if msg == last {
				continue
			}
			last = msg
			if err := writeWSJSON(conn, msg); err != nil {
				log.Debug().Err(err).Msg("video ws write")
				return
			}
			if status.Result != nil {
				closeWS(conn)
				return
			}
		}
	}
}

func writeWSJSON(conn *websocket.Conn, v any) error {
	conn.SetWriteDeadline(time.Now().Add(videoWSWriteWait))
	return conn.WriteJSON(v)
}

func closeWS(conn *websocket.Conn) {
	conn.SetWriteDeadline(time.Now().Add(videoWSWriteWait))
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done"))
}
