package types

// ServerState is the point-in-time projection of the spectator session that
// viewer-facing surfaces consume. It is rewritten on every accepted refresh.
type ServerState struct {
	SessionID       string            `json:"session_id"`
	BotID           int               `json:"bot_id"`
	BotSecret       string            `json:"bot_secret"`
	CurrentPlayerID int               `json:"current_player_id"`
	CurrentPlayer   *Player           `json:"current_player,omitempty"`
	MapName         string            `json:"mapname"`
	Promode         string            `json:"df_promode"`
	GameType        string            `json:"defrag_gametype"`
	Physics         string            `json:"physics"`
	NumPlayers      int               `json:"num_players"`
	IP              string            `json:"ip"`
	Hostname        string            `json:"hostname"`
	Phase           string            `json:"phase"`
	RecoveryAttempt int               `json:"recovery_attempt"`
	Players         map[string]Player `json:"players"`
	UpdatedAt       int64             `json:"updated_at"`
}

// Player mirrors one "Client Info" block.
type Player struct {
	ID        int    `json:"id"`
	Name      string `json:"n"`
	Team      string `json:"t"`
	Color1    string `json:"c1"`
	DFN       string `json:"dfn"`
	Nospec    bool   `json:"nospec"`
	NoPM      bool   `json:"nopm"`
	AFK       bool   `json:"afk"`
	Spectated bool   `json:"spectated"`
}

// Notice is one operator/viewer visible status line.
type Notice struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	At      int64  `json:"at"`
}
