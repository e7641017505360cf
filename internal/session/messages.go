package session

import (
	"github.com/DoyleJ11/defrag-spectator/internal/console"
	"github.com/DoyleJ11/defrag-spectator/internal/recovery"
	"github.com/DoyleJ11/defrag-spectator/pkg/types"
)

type Msg interface{ isSessionMsg() }

// Connect moves the bot to Addr. Caller is credited in chat when set.
type Connect struct {
	Addr   string
	Caller string
	Reply  chan error
}

// Restart clears the ignore list and joins the busiest server.
type Restart struct {
	Reply chan error
}

type Next struct{ Reply chan error }
type Prev struct{ Reply chan error }

type Spectate struct {
	ID    int
	Reply chan error
}

type AFKAction string

const (
	AFKReset  AFKAction = "reset"
	AFKExtend AFKAction = "extend"
)

type AFKControl struct {
	Action AFKAction
	Reply  chan error
}

type VoteCast struct {
	Voter string
	Yes   bool
	Reply chan error
}

// Console delivers one classified console line.
type Console struct {
	Event console.Event
}

type Join struct {
	ClientID string
	Outbox   chan Snapshot // where this client wants to receive snapshots
}

type Leave struct{ ClientID string }

type GetState struct {
	Reply chan View
}

type Shutdown struct{}

type timerFired struct {
	kind timerKind
	gen  uint64
}

type tierDone struct {
	res recovery.Result
}

type lookup int

const (
	lookupNext lookup = iota
	lookupPopular
	lookupStandby
)

type dirResult struct {
	kind  lookup
	epoch uint64
	addr  string
	err   error
}

func (Connect) isSessionMsg()    {}
func (Restart) isSessionMsg()    {}
func (Next) isSessionMsg()       {}
func (Prev) isSessionMsg()       {}
func (Spectate) isSessionMsg()   {}
func (AFKControl) isSessionMsg() {}
func (VoteCast) isSessionMsg()   {}
func (Console) isSessionMsg()    {}
func (Join) isSessionMsg()       {}
func (Leave) isSessionMsg()      {}
func (GetState) isSessionMsg()   {}
func (Shutdown) isSessionMsg()   {}
func (timerFired) isSessionMsg() {}
func (tierDone) isSessionMsg()   {}
func (dirResult) isSessionMsg()  {}

// Snapshot is what subscribers receive after every visible change.
type Snapshot struct {
	Version int
	State   types.ServerState
}

type View struct {
	Version    int
	NumClients int
	Phase      recovery.Phase
	Target     int
	Attempt    int
	Ignored    []string
	Voting     bool
	State      types.ServerState
}
