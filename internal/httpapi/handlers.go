package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/DoyleJ11/defrag-spectator/internal/directory"
	"github.com/DoyleJ11/defrag-spectator/internal/engine"
	"github.com/DoyleJ11/defrag-spectator/internal/hub"
	"github.com/DoyleJ11/defrag-spectator/internal/recovery"
	"github.com/DoyleJ11/defrag-spectator/internal/session"
	"github.com/DoyleJ11/defrag-spectator/internal/types"
	"github.com/DoyleJ11/defrag-spectator/internal/ws"
	ptypes "github.com/DoyleJ11/defrag-spectator/pkg/types"
)

const probeTimeout = 5 * time.Second

// Servers is the part of the server directory the API exposes.
type Servers interface {
	IsValid(ctx context.Context, addr string) error
	Ranking(ctx context.Context) ([]directory.Ranked, error)
}

type stateResponse struct {
	Version int                `json:"version"`
	Clients int                `json:"clients"`
	Phase   recovery.Phase     `json:"phase"`
	Target  int                `json:"target"`
	Attempt int                `json:"attempt"`
	Ignored []string           `json:"ignored"`
	Voting  bool               `json:"voting"`
	State   ptypes.ServerState `json:"state"`
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func GetState(sess *session.Session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reply := make(chan session.View, 1)
		if err := sess.Send(r.Context(), session.GetState{Reply: reply}); err != nil {
			writeError(w, err)
			return
		}
		select {
		case v := <-reply:
			writeJSON(w, http.StatusOK, stateResponse{
				Version: v.Version,
				Clients: v.NumClients,
				Phase:   v.Phase,
				Target:  v.Target,
				Attempt: v.Attempt,
				Ignored: v.Ignored,
				Voting:  v.Voting,
				State:   v.State,
			})
		case <-r.Context().Done():
		}
	}
}

// Connect probes the address before handing it to the session so a typo
// never costs the bot its current server.
func Connect(sess *session.Session, servers Servers) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Addr   string `json:"addr"`
			Caller string `json:"caller"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		addr := directory.NormalizeAddr(body.Addr)
		if addr == "" {
			writeError(w, session.ErrEmptyAddress)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
		err := servers.IsValid(ctx, addr)
		cancel()
		if err != nil {
			writeJSON(w, http.StatusUnprocessableEntity, types.ServerMessage{Type: "Error", Error: err.Error()})
			return
		}

		dispatch(w, r, sess, types.ClientMessage{Type: "Connect", Addr: addr, Caller: body.Caller})
	}
}

func Restart(sess *session.Session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reply := make(chan error, 1)
		if err := sess.Send(r.Context(), session.Restart{Reply: reply}); err != nil {
			writeError(w, err)
			return
		}
		if err := <-reply; err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}
}

func Command(sess *session.Session, typ string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		dispatch(w, r, sess, types.ClientMessage{Type: typ})
	}
}

func Spectate(sess *session.Session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.Atoi(chi.URLParam(r, "id"))
		if err != nil {
			http.Error(w, "bad player id", http.StatusBadRequest)
			return
		}
		dispatch(w, r, sess, types.ClientMessage{Type: "Spectate", PlayerID: id})
	}
}

func AFK(sess *session.Session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		dispatch(w, r, sess, types.ClientMessage{Type: "AFK", Action: chi.URLParam(r, "action")})
	}
}

func Vote(sess *session.Session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Voter  string `json:"voter"`
			Choice string `json:"choice"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		if body.Voter == "" {
			http.Error(w, "missing voter", http.StatusBadRequest)
			return
		}
		dispatch(w, r, sess, types.ClientMessage{Type: "Vote", Voter: body.Voter, Choice: body.Choice})
	}
}

func ListServers(servers Servers) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ranked, err := servers.Ranking(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, ranked)
	}
}

func Notices(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reply := make(chan []ptypes.Notice, 1)
		h.Inbox() <- hub.GetRecent{Reply: reply}
		select {
		case recent := <-reply:
			writeJSON(w, http.StatusOK, recent)
		case <-r.Context().Done():
		}
	}
}

func dispatch(w http.ResponseWriter, r *http.Request, sess *session.Session, cm types.ClientMessage) {
	if err := ws.Dispatch(r.Context(), sess, "http", cm); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusOf(err), types.ServerMessage{Type: "Error", Error: err.Error()})
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, ws.ErrUnknownType),
		errors.Is(err, ws.ErrBadChoice),
		errors.Is(err, session.ErrUnknownAction),
		errors.Is(err, session.ErrEmptyAddress):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrNotActive),
		errors.Is(err, session.ErrNoVote),
		errors.Is(err, session.ErrDuplicateVote),
		errors.Is(err, engine.ErrNoTargets),
		errors.Is(err, engine.ErrNoOtherTargets),
		errors.Is(err, engine.ErrTargetUnavailable):
		return http.StatusConflict
	case errors.Is(err, session.ErrClosed),
		errors.Is(err, directory.ErrUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}
