// Package fourinarow is a complete game module for the match engine: two
// players drop pieces into a 7x6 grid, four in a line wins. Filling a column
// grants the opponent an optional bonus drop, which exercises the
// interaction and response-window machinery end to end.
package fourinarow

import (
	"encoding/json"

	"github.com/boardforge/arena-server/internal/engine"
)

const (
	Columns = 7
	Rows    = 6

	CmdDropPiece = "DROP_PIECE"
	CmdBonusDrop = "BONUS_DROP"
	CmdConcede   = "CONCEDE"

	EventPieceDropped      = "PIECE_DROPPED"
	EventBonusPieceDropped = "BONUS_PIECE_DROPPED"
	EventPlayerConceded    = "PLAYER_CONCEDED"

	interactionBonusDrop = "bonus_drop"
)

// Core is the full game state. Board columns are stacks growing bottom-up,
// holding the ids of the players who dropped each piece.
type Core struct {
	Players  []string   `json:"players"`
	Board    [][]string `json:"board"`
	Turn     string     `json:"turn"`
	Moves    int        `json:"moves"`
	Winner   string     `json:"winner,omitempty"`
	Draw     bool       `json:"draw,omitempty"`
	Conceded string     `json:"conceded,omitempty"`
}

func (c Core) clone() Core {
	board := make([][]string, len(c.Board))
	for i, column := range c.Board {
		board[i] = append([]string(nil), column...)
	}
	c.Board = board
	c.Players = append([]string(nil), c.Players...)
	return c
}

func (c Core) opponent(playerID string) string {
	for _, id := range c.Players {
		if id != playerID {
			return id
		}
	}
	return ""
}

func (c Core) cell(col, row int) string {
	if col < 0 || col >= Columns || row < 0 || row >= len(c.Board[col]) {
		return ""
	}
	return c.Board[col][row]
}

// hasWinFrom reports whether the piece at (col, row) completes a line of
// four in any direction.
func (c Core) hasWinFrom(col, row int) bool {
	playerID := c.cell(col, row)
	if playerID == "" {
		return false
	}
	directions := [][2]int{{1, 0}, {0, 1}, {1, 1}, {1, -1}}
	for _, d := range directions {
		count := 1
		for _, sign := range []int{1, -1} {
			for step := 1; step < 4; step++ {
				if c.cell(col+sign*step*d[0], row+sign*step*d[1]) != playerID {
					break
				}
				count++
			}
		}
		if count >= 4 {
			return true
		}
	}
	return false
}

type dropPayload struct {
	Column int `json:"column"`
}

func parseColumn(payload any) (int, bool) {
	switch p := payload.(type) {
	case dropPayload:
		return p.Column, true
	case map[string]any:
		// Payloads arriving over the wire are generic JSON.
		col, ok := p["column"].(float64)
		return int(col), ok
	case float64:
		return int(p), true
	case int:
		return p, true
	}
	return 0, false
}

// Domain implements engine.Domain.
type Domain struct{}

func New() Domain { return Domain{} }

func (Domain) GameID() string { return "fourinarow" }

func (Domain) Setup(playerIDs []string) any {
	board := make([][]string, Columns)
	for i := range board {
		board[i] = []string{}
	}
	core := Core{
		Players: append([]string(nil), playerIDs...),
		Board:   board,
	}
	if len(playerIDs) > 0 {
		core.Turn = playerIDs[0]
	}
	return core
}

func (Domain) CommandTypes() []string {
	return []string{CmdDropPiece, CmdBonusDrop, CmdConcede}
}

func (Domain) Categories() map[string]engine.Category {
	return map[string]engine.Category{
		CmdDropPiece: engine.CategoryStrategic,
		CmdBonusDrop: engine.CategoryUIInteraction,
		CmdConcede:   engine.CategoryStateManagement,
	}
}

func (Domain) Validate(state *engine.MatchState, cmd engine.Command) engine.ValidationResult {
	core := state.Core.(Core)
	known := false
	for _, id := range core.Players {
		if id == cmd.PlayerID {
			known = true
		}
	}
	if !known {
		return engine.Reject(engine.RejectPlayerMismatch)
	}

	switch cmd.Type {
	case CmdDropPiece:
		if core.Turn != cmd.PlayerID {
			return engine.Reject(engine.RejectPlayerMismatch)
		}
		col, ok := parseColumn(cmd.Payload)
		if !ok || col < 0 || col >= Columns {
			return engine.Reject(engine.RejectPlayerMismatch)
		}
		if len(core.Board[col]) >= Rows {
			return engine.Reject(engine.RejectPlayerMismatch)
		}
	case CmdBonusDrop:
		current := state.Sys.Interaction.Current
		if current == nil {
			return engine.Reject(engine.RejectNoPendingInteraction)
		}
		if current.PlayerID != cmd.PlayerID || current.Kind != interactionBonusDrop {
			return engine.Reject(engine.RejectNotInteractionOwner)
		}
		col, ok := parseColumn(cmd.Payload)
		if !ok || col < 0 || col >= Columns {
			return engine.Reject(engine.RejectPlayerMismatch)
		}
		if len(core.Board[col]) >= Rows {
			return engine.Reject(engine.RejectPlayerMismatch)
		}
	case CmdConcede:
		// Always legal for a seated player.
	}
	return engine.Valid()
}

func (Domain) Execute(state *engine.MatchState, cmd engine.Command) []engine.Event {
	core := state.Core.(Core)
	switch cmd.Type {
	case CmdDropPiece:
		col, _ := parseColumn(cmd.Payload)
		events := []engine.Event{{
			Type:              EventPieceDropped,
			Payload:           map[string]any{"playerId": cmd.PlayerID, "column": col},
			SourceCommandType: cmd.Type,
		}}
		// Topping off a column earns the opponent an optional extra drop.
		if len(core.Board[col])+1 == Rows {
			events = append(events, engine.Event{
				Type: engine.EventInteractionRequested,
				Payload: engine.NewInteraction(core.opponent(cmd.PlayerID), interactionBonusDrop,
					map[string]any{"filledColumn": col}),
				SourceCommandType: cmd.Type,
			})
		}
		return events
	case CmdBonusDrop:
		col, _ := parseColumn(cmd.Payload)
		return []engine.Event{
			{
				Type:              EventBonusPieceDropped,
				Payload:           map[string]any{"playerId": cmd.PlayerID, "column": col},
				SourceCommandType: cmd.Type,
			},
			{Type: engine.EventInteractionResolved, SourceCommandType: cmd.Type},
		}
	case CmdConcede:
		return []engine.Event{{
			Type:              EventPlayerConceded,
			Payload:           map[string]any{"playerId": cmd.PlayerID},
			SourceCommandType: cmd.Type,
		}}
	}
	return nil
}

func (Domain) Reduce(core any, ev engine.Event) any {
	c := core.(Core).clone()
	payload, _ := ev.Payload.(map[string]any)

	switch ev.Type {
	case EventPieceDropped, EventBonusPieceDropped:
		playerID, _ := payload["playerId"].(string)
		col, _ := parseColumn(payload["column"])
		c.Board[col] = append(c.Board[col], playerID)
		c.Moves++
		if c.hasWinFrom(col, len(c.Board[col])-1) {
			c.Winner = playerID
		} else if c.Moves >= Columns*Rows {
			c.Draw = true
		}
		// The regular drop passes the turn; a bonus drop does not.
		if ev.Type == EventPieceDropped {
			c.Turn = c.opponent(playerID)
		}
	case EventPlayerConceded:
		playerID, _ := payload["playerId"].(string)
		c.Conceded = playerID
		c.Winner = c.opponent(playerID)
	}
	return c
}

func (Domain) IsGameOver(core any) *engine.GameOverResult {
	c := core.(Core)
	if c.Winner != "" {
		return &engine.GameOverResult{Winner: c.Winner}
	}
	if c.Draw {
		return &engine.GameOverResult{Draw: true}
	}
	return nil
}

func (Domain) DecodeCore(raw json.RawMessage) (any, error) {
	var core Core
	if err := json.Unmarshal(raw, &core); err != nil {
		return nil, err
	}
	return core, nil
}
