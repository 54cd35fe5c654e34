package v1

import (
	"encoding/json"
	"net/http"

	"nhooyr.io/websocket"

	"github.com/tinoosan/ferry/internal/event"
)

// StreamEvents upgrades to a WebSocket and relays the ordered event stream.
// Query parameters narrow the view: ?group=<g> routes one callback group,
// repeated ?id=<taskId> restricts to a task set. Events for one task arrive
// in transition order; a slow client only stalls its own subscription.
func (h *TaskHandler) StreamEvents(w http.ResponseWriter, r *http.Request) {
	filter := event.Filter{
		Group:   r.URL.Query().Get("group"),
		TaskIDs: r.URL.Query()["id"],
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.l.Error("websocket accept", "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "done") }()

	sub := h.disp.Subscribe(filter)
	defer sub.Close()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-sub.Events():
			if !ok {
				return
			}
			payload, err := json.Marshal(e)
			if err != nil {
				h.l.Error("marshal event", "task_id", e.TaskID, "err", err)
				continue
			}
			if err := conn.Write(ctx, websocket.MessageText, payload); err != nil {
				return
			}
		}
	}
}
