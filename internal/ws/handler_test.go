package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/DoyleJ11/defrag-spectator/internal/gameclient"
	"github.com/DoyleJ11/defrag-spectator/internal/hub"
	"github.com/DoyleJ11/defrag-spectator/internal/report"
	"github.com/DoyleJ11/defrag-spectator/internal/session"
	"github.com/DoyleJ11/defrag-spectator/internal/types"
	ptypes "github.com/DoyleJ11/defrag-spectator/pkg/types"
)

type staleReports struct{}

func (staleReports) Latest() (*report.Report, error) { return nil, report.ErrStale }

type emptyDirectory struct{}

func (emptyDirectory) MostPopular(context.Context) (string, error)           { return "", nil }
func (emptyDirectory) NextActive(context.Context, []string) (string, error) { return "", nil }
func (emptyDirectory) IsValid(context.Context, string) error                { return nil }

func dial(t *testing.T) (*websocket.Conn, *hub.Hub, *session.Session) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	h := hub.NewHub(ctx, 8)
	sess := session.New(ctx, session.DefaultConfig(), session.Deps{
		Clock:     clockwork.NewFakeClock(),
		Log:       zap.NewNop(),
		Game:      gameclient.NewRecorder(),
		Reports:   staleReports{},
		Directory: emptyDirectory{},
		Sink:      h,
	})
	srv := httptest.NewServer(Handler(sess, h, zap.NewNop()))
	t.Cleanup(srv.Close)

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn, h, sess
}

func write(t *testing.T, conn *websocket.Conn, v string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(v)))
}

// recv returns the next message of the wanted type, skipping others.
func recv(t *testing.T, conn *websocket.Conn, typ string) types.ServerMessage {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for {
		_, data, err := conn.Read(ctx)
		require.NoError(t, err, "waiting for %s", typ)
		var msg types.ServerMessage
		require.NoError(t, json.Unmarshal(data, &msg))
		if msg.Type == typ {
			return msg
		}
	}
}

func TestHandler_SendsSnapshotOnJoin(t *testing.T) {
	conn, _, sess := dial(t)

	msg := recv(t, conn, "StateSnapshot")
	require.NotNil(t, msg.State)
	assert.Equal(t, "idle", msg.State.Phase)
	assert.Equal(t, sess.ID().String(), msg.State.SessionID)
}

func TestHandler_ReportsCommandErrors(t *testing.T) {
	conn, _, _ := dial(t)
	recv(t, conn, "StateSnapshot")

	write(t, conn, `{"type":"Next"}`)
	assert.Equal(t, session.ErrNotActive.Error(), recv(t, conn, "Error").Error)

	write(t, conn, `{"type":"Vote","choice":"maybe"}`)
	assert.Equal(t, ErrBadChoice.Error(), recv(t, conn, "Error").Error)

	write(t, conn, `{"type":"Dance"}`)
	assert.Equal(t, ErrUnknownType.Error(), recv(t, conn, "Error").Error)

	write(t, conn, `{`)
	assert.Equal(t, "bad json", recv(t, conn, "Error").Error)
}

func TestHandler_ForwardsNotices(t *testing.T) {
	conn, h, _ := dial(t)
	recv(t, conn, "StateSnapshot")

	// The error proves the reader loop is running, so the hub subscription
	// is queued ahead of the publish below.
	write(t, conn, `{"type":"Next"}`)
	recv(t, conn, "Error")

	h.Publish(ptypes.Notice{Kind: "standby", Message: "nothing to watch"})
	msg := recv(t, conn, "Notice")
	require.NotNil(t, msg.Notice)
	assert.Equal(t, "nothing to watch", msg.Notice.Message)
}
