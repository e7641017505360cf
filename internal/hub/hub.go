package hub

import (
	"context"

	"github.com/DoyleJ11/defrag-spectator/pkg/types"
)

type HubMsg interface{ isHubMsg() }

type Publish struct {
	Notice types.Notice
}

type Subscribe struct {
	ClientID string
	Outbox   chan types.Notice
}

type Unsubscribe struct {
	ClientID string
}

type GetRecent struct {
	Reply chan []types.Notice
}

type ShutdownHub struct{}

func (Publish) isHubMsg()     {}
func (Subscribe) isHubMsg()   {}
func (Unsubscribe) isHubMsg() {}
func (GetRecent) isHubMsg()   {}
func (ShutdownHub) isHubMsg() {}

// Hub fans notices out to subscribers and remembers the last few for late
// joiners.
type Hub struct {
	inbox  chan HubMsg
	subs   map[string]chan types.Notice
	recent []types.Notice
	keep   int
	ctx    context.Context
	cancel context.CancelFunc
}

func NewHub(parent context.Context, keep int) *Hub {
	ctx, cancel := context.WithCancel(parent)
	h := &Hub{
		inbox:  make(chan HubMsg, 256),
		subs:   make(map[string]chan types.Notice),
		keep:   keep,
		ctx:    ctx,
		cancel: cancel,
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

// Publish never blocks. A notice that does not fit in the inbox is lost.
func (h *Hub) Publish(n types.Notice) {
	select {
	case h.inbox <- Publish{Notice: n}:
	default:
	}
}

func (h *Hub) loop() {
	for {
		select {
		case <-h.ctx.Done():
			h.shutdown()
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case Publish:
				h.remember(msg.Notice)
				h.broadcast(msg.Notice)

			case Subscribe:
				h.subs[msg.ClientID] = msg.Outbox

			case Unsubscribe:
				if ch, ok := h.subs[msg.ClientID]; ok {
					close(ch)
					delete(h.subs, msg.ClientID)
				}

			case GetRecent:
				out := make([]types.Notice, len(h.recent))
				copy(out, h.recent)
				msg.Reply <- out

			case ShutdownHub:
				h.shutdown()
				return
			}
		}
	}
}

func (h *Hub) remember(n types.Notice) {
	if h.keep <= 0 {
		return
	}
	h.recent = append(h.recent, n)
	if len(h.recent) > h.keep {
		h.recent = h.recent[len(h.recent)-h.keep:]
	}
}

func (h *Hub) broadcast(n types.Notice) {
	for id, ch := range h.subs {
		select {
		case ch <- n:
		default:
			// Subscriber is slow - drop them.
			close(ch)
			delete(h.subs, id)
		}
	}
}

func (h *Hub) shutdown() {
	for id, ch := range h.subs {
		close(ch)
		delete(h.subs, id)
	}
	h.cancel()
}
