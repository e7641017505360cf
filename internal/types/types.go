package types

import "github.com/DoyleJ11/defrag-spectator/pkg/types"

type ClientMessage struct {
	Type     string `json:"type"` // "Next" | "Prev" | "Spectate" | "Vote" | "AFK" | "Connect"
	PlayerID int    `json:"player_id,omitempty"`
	Voter    string `json:"voter,omitempty"`
	Choice   string `json:"choice,omitempty"` // "f1" | "f2"
	Action   string `json:"action,omitempty"` // "reset" | "extend"
	Addr     string `json:"addr,omitempty"`
	Caller   string `json:"caller,omitempty"`
}

type ServerMessage struct {
	Type    string             `json:"type"` // "StateSnapshot" | "Notice" | "Error"
	Version int                `json:"version,omitempty"`
	State   *types.ServerState `json:"state,omitempty"`
	Notice  *types.Notice      `json:"notice,omitempty"`
	Error   string             `json:"error,omitempty"`
}
