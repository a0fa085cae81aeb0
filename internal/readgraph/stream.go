package readgraph

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/coder/websocket"
)

// StreamFrame is one JSON object sent over the streaming read transport:
// either an intermediate event, or, as the final frame, {done:true, answer}.
type StreamFrame struct {
	IntermediateOutput
	Done   bool   `json:"done,omitempty"`
	Answer string `json:"answer,omitempty"`
}

// Stream runs the same dataflow as [Runtime.ReadMemory], but pushes every
// intermediate event to the returned channel as it is produced instead of
// collecting them, finishing with a {done:true, answer} frame before the
// channel closes.
func (r *Runtime) Stream(ctx context.Context, req Request) <-chan StreamFrame {
	frames := make(chan StreamFrame)
	go func() {
		defer close(frames)

		st, err := r.run(ctx, req, func(ev IntermediateOutput) {
			select {
			case frames <- StreamFrame{IntermediateOutput: ev}:
			case <-ctx.Done():
			}
		})
		if err != nil {
			select {
			case frames <- StreamFrame{
				IntermediateOutput: IntermediateOutput{Type: "error", Title: "Read failed", Error: err.Error()},
				Done:               true,
			}:
			case <-ctx.Done():
			}
			return
		}

		select {
		case frames <- StreamFrame{Done: true, Answer: st.answer}:
		case <-ctx.Done():
		}
	}()
	return frames
}

// wsReadRequest is the inbound JSON payload for the streaming endpoint.
type wsReadRequest struct {
	EndUserID       string `json:"end_user_id"`
	ApplyID         string `json:"apply_id"`
	Query           string `json:"query"`
	SearchSwitch    int    `json:"search_switch"`
	ConfigID        string `json:"config_id"`
	StorageType     string `json:"storage_type"`
	UserRAGMemoryID string `json:"user_rag_memory_id"`
}

// ServeHTTP upgrades the connection to a websocket, reads one JSON read
// request, and streams the read-graph dataflow's events back as JSON
// frames, reusing the reference s2s provider's websocket idiom
// (pkg/provider/s2s/openai). One request per connection.
func (r *Runtime) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	conn, err := websocket.Accept(w, req, nil)
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusInternalError, "read graph runtime closing")

	ctx := req.Context()

	_, raw, err := conn.Read(ctx)
	if err != nil {
		return
	}

	var wsReq wsReadRequest
	if err := json.Unmarshal(raw, &wsReq); err != nil {
		conn.Close(websocket.StatusUnsupportedData, "invalid read request")
		return
	}

	frames := r.Stream(ctx, Request{
		EndUserID:       wsReq.EndUserID,
		ApplyID:         wsReq.ApplyID,
		Query:           wsReq.Query,
		SearchSwitch:    SearchSwitch(wsReq.SearchSwitch),
		ConfigID:        wsReq.ConfigID,
		StorageType:     wsReq.StorageType,
		UserRAGMemoryID: wsReq.UserRAGMemoryID,
	})

	for frame := range frames {
		data, err := json.Marshal(frame)
		if err != nil {
			continue
		}
		if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
			return
		}
	}

	conn.Close(websocket.StatusNormalClosure, "")
}
