package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/DoyleJ11/defrag-spectator/internal/hub"
	"github.com/DoyleJ11/defrag-spectator/internal/session"
	"github.com/DoyleJ11/defrag-spectator/internal/ws"
)

func SetupRoutes(sess *session.Session, h *hub.Hub, servers Servers, log *zap.Logger) http.Handler {
	r := chi.NewRouter()

	// Public routes
	r.Get("/healthz", Healthz)
	r.Get("/state", GetState(sess))
	r.Get("/servers", ListServers(servers))
	r.Get("/notices", Notices(h))
	r.Get("/ws", ws.Handler(sess, h, log))

	// Control routes
	r.Post("/connect", Connect(sess, servers))
	r.Post("/restart", Restart(sess))
	r.Post("/next", Command(sess, "Next"))
	r.Post("/prev", Command(sess, "Prev"))
	r.Post("/spectate/{id}", Spectate(sess))
	r.Post("/afk/{action}", AFK(sess))
	r.Post("/vote", Vote(sess))
	return r
}
