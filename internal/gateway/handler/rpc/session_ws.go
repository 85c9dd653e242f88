package rpc

import (
	"context"
	"log"
	"net/http"
	"strings"
	"time"

	"connectrpc.com/connect"
	"github.com/gorilla/websocket"

	"respec/internal/gateway/service/session"
)

const (
	sessionWSWriteWait = 10 * time.Second
	sessionWSPongWait  = 60 * time.Second
	sessionWSPingEvery = (sessionWSPongWait * 9) / 10
)

var sessionWSUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

type sessionWSInbound struct {
	Type         string `json:"type"`
	SessionID    string `json:"sessionId,omitempty"`
	Field        string `json:"field,omitempty"`
	Value        string `json:"value,omitempty"`
	Text         string `json:"text,omitempty"`
	ConflictID   string `json:"conflictId,omitempty"`
	ResolutionID string `json:"resolutionId,omitempty"`
}

type sessionWSOutbound struct {
	Type      string         `json:"type"`
	SessionID string         `json:"sessionId,omitempty"`
	Request   string         `json:"request,omitempty"`
	Event     *session.Event `json:"event,omitempty"`
	Code      string         `json:"code,omitempty"`
	Message   string         `json:"message,omitempty"`
}

// HandleSessionWS streams session events and accepts mutations over one
// websocket. Mutation results arrive as regular events; the direct reply is
// only an ack or an error.
func (h *SessionHandler) HandleSessionWS(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if sessionID == "" {
		http.Error(w, "session_id is required", http.StatusBadRequest)
		return
	}

	conn, err := sessionWSUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	if err := conn.SetReadDeadline(time.Now().Add(sessionWSPongWait)); err != nil {
		log.Printf("session ws set read deadline failed: %v", err)
		return
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(sessionWSPongWait))
	})

	subCh, subErr := h.svc.Subscribe(ctx, sessionID)
	if subErr != nil {
		_ = conn.SetWriteDeadline(time.Now().Add(sessionWSWriteWait))
		_ = conn.WriteJSON(sessionWSOutbound{
			Type:    "error",
			Code:    connect.CodeOf(toSessionError(subErr)).String(),
			Message: subErr.Error(),
		})
		return
	}

	writeCh := make(chan sessionWSOutbound, 32)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		ticker := time.NewTicker(sessionWSPingEvery)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case out := <-writeCh:
				if err := conn.SetWriteDeadline(time.Now().Add(sessionWSWriteWait)); err != nil {
					return
				}
				if err := conn.WriteJSON(out); err != nil {
					return
				}
			case <-ticker.C:
				if err := conn.SetWriteDeadline(time.Now().Add(sessionWSWriteWait)); err != nil {
					return
				}
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	pushSessionWS(writeCh, sessionWSOutbound{
		Type:      "subscribed",
		SessionID: sessionID,
	})

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-subCh:
				if !ok {
					pushSessionWS(writeCh, sessionWSOutbound{Type: "closed", SessionID: sessionID})
					return
				}
				pushSessionWS(writeCh, sessionWSOutbound{
					Type:      "event",
					SessionID: sessionID,
					Event:     &ev,
				})
			}
		}
	}()

	for {
		var in sessionWSInbound
		if err := conn.ReadJSON(&in); err != nil {
			cancel()
			<-writerDone
			return
		}
		msgType := strings.ToLower(strings.TrimSpace(in.Type))
		if msgType == "" {
			pushSessionWS(writeCh, sessionWSOutbound{
				Type:    "error",
				Code:    "invalid_argument",
				Message: "type is required",
			})
			continue
		}
		if v := strings.TrimSpace(in.SessionID); v != "" && v != sessionID {
			pushSessionWS(writeCh, sessionWSOutbound{
				Type:    "error",
				Code:    "invalid_argument",
				Message: "sessionId mismatch",
			})
			continue
		}

		var opErr error
		switch msgType {
		case "ping":
			pushSessionWS(writeCh, sessionWSOutbound{Type: "pong"})
			continue
		case "propose_field":
			_, _, opErr = h.svc.ProposeField(ctx, sessionID, in.Field, in.Value)
		case "propose_text":
			_, opErr = h.svc.ProposeText(ctx, sessionID, in.Text)
		case "resolve":
			_, _, opErr = h.svc.ResolveConflict(ctx, sessionID, in.ConflictID, in.ResolutionID)
		case "clear":
			_, _, opErr = h.svc.ClearField(ctx, sessionID, in.Field)
		default:
			pushSessionWS(writeCh, sessionWSOutbound{
				Type:    "error",
				Code:    "invalid_argument",
				Message: "unsupported type: " + msgType,
			})
			continue
		}
		if opErr != nil {
			pushSessionWS(writeCh, sessionWSOutbound{
				Type:    "error",
				Request: msgType,
				Code:    connect.CodeOf(toSessionError(opErr)).String(),
				Message: opErr.Error(),
			})
			continue
		}
		pushSessionWS(writeCh, sessionWSOutbound{
			Type:      "ack",
			SessionID: sessionID,
			Request:   msgType,
		})
	}
}

func pushSessionWS(writeCh chan sessionWSOutbound, out sessionWSOutbound) {
	if writeCh == nil {
		return
	}
	select {
	case writeCh <- out:
		return
	default:
	}
	select {
	case <-writeCh:
	default:
	}
	select {
	case writeCh <- out:
	default:
	}
}
