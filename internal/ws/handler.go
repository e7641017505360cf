package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DoyleJ11/defrag-spectator/internal/hub"
	"github.com/DoyleJ11/defrag-spectator/internal/session"
	"github.com/DoyleJ11/defrag-spectator/internal/types"
	"github.com/DoyleJ11/defrag-spectator/internal/vote"
	ptypes "github.com/DoyleJ11/defrag-spectator/pkg/types"
)

var ErrUnknownType = errors.New("unknown type")
var ErrBadChoice = errors.New("choice must be f1 or f2")

const replyTimeout = 5 * time.Second

// Handler streams projection snapshots and notices to one viewer and feeds
// its commands into the session.
func Handler(sess *session.Session, h *hub.Hub, log *zap.Logger) http.HandlerFunc {
	log = log.Named("ws")
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			// In dev ONLY, you can loosen origin checks:
			// OriginPatterns: []string{"http://localhost:*", "http://127.0.0.1:*"},
		})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		clientID := uuid.NewString()
		out := make(chan session.Snapshot, 8)
		notices := make(chan types.ServerMessage, 16)
		noticeIn := make(chan ptypes.Notice, 16)

		if err := sess.Send(r.Context(), session.Join{ClientID: clientID, Outbox: out}); err != nil {
			return
		}
		defer func() { _ = sess.Send(context.Background(), session.Leave{ClientID: clientID}) }()

		h.Inbox() <- hub.Subscribe{ClientID: clientID, Outbox: noticeIn}
		defer func() { h.Inbox() <- hub.Unsubscribe{ClientID: clientID} }()
		log.Debug("viewer connected", zap.String("client", clientID))

		// Writer goroutine
		writeCtx, writeCancel := context.WithCancel(r.Context())
		defer writeCancel()
		go func() {
			for {
				var msg types.ServerMessage
				select {
				case <-writeCtx.Done():
					return
				case snap, ok := <-out:
					if !ok {
						// dropped by the session for being slow
						conn.Close(websocket.StatusTryAgainLater, "fell behind")
						return
					}
					msg = types.ServerMessage{Type: "StateSnapshot", Version: snap.Version, State: &snap.State}
				case n, ok := <-noticeIn:
					if !ok {
						noticeIn = nil
						continue
					}
					msg = types.ServerMessage{Type: "Notice", Notice: &n}
				case msg = <-notices:
				}
				payload, _ := json.Marshal(msg)
				ctx, cancel := context.WithTimeout(writeCtx, 3*time.Second)
				_ = conn.Write(ctx, websocket.MessageText, payload)
				cancel()
			}
		}()

		// Reader loop
		for {
			ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
			_, data, err := conn.Read(ctx)
			cancel()
			if err != nil {
				// Treat clean close/going-away as normal:
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
					return
				}
				log.Debug("viewer read failed", zap.String("client", clientID), zap.Error(err))
				return
			}

			var cm types.ClientMessage
			if err := json.Unmarshal(data, &cm); err != nil {
				sendError(notices, errors.New("bad json"))
				continue
			}
			if err := Dispatch(r.Context(), sess, clientID, cm); err != nil {
				sendError(notices, err)
			}
		}
	}
}

func sendError(ch chan<- types.ServerMessage, err error) {
	select {
	case ch <- types.ServerMessage{Type: "Error", Error: err.Error()}:
	default:
	}
}

// Dispatch turns a client message into a session request and waits for the
// answer. Votes without an explicit voter are counted per connection.
func Dispatch(ctx context.Context, sess *session.Session, clientID string, cm types.ClientMessage) error {
	reply := make(chan error, 1)
	var m session.Msg
	switch cm.Type {
	case "Next":
		m = session.Next{Reply: reply}
	case "Prev":
		m = session.Prev{Reply: reply}
	case "Spectate":
		m = session.Spectate{ID: cm.PlayerID, Reply: reply}
	case "AFK":
		m = session.AFKControl{Action: session.AFKAction(cm.Action), Reply: reply}
	case "Connect":
		m = session.Connect{Addr: cm.Addr, Caller: cm.Caller, Reply: reply}
	case "Vote":
		yes, ok := vote.ParseChoice(cm.Choice)
		if !ok {
			return ErrBadChoice
		}
		voter := cm.Voter
		if voter == "" {
			voter = "ws:" + clientID
		}
		m = session.VoteCast{Voter: voter, Yes: yes, Reply: reply}
	default:
		return ErrUnknownType
	}

	if err := sess.Send(ctx, m); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, replyTimeout)
	defer cancel()
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
