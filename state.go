package main

import (
	"maps"
	"slices"
)

// SeatAssignment is the finalized seat → role mapping handed over by the lobby.
type SeatAssignment struct {
	Seat   int    `json:"seat"`
	Name   string `json:"name"`
	RoleID string `json:"role"`
}

// StepStatus is the resolver's state within the current step.
type StepStatus string

const (
	StepAwaiting    StepStatus = "awaiting"
	StepAwaitingAck StepStatus = "awaitingAck"
	StepResolved    StepStatus = "resolved"
	NightComplete   StepStatus = "complete"
)

// RecordedAction is one applied action. The night's list of these is the
// whole input of ComputeDeaths.
type RecordedAction struct {
	Night     int    `json:"night" db:"night"`
	StepIndex int    `json:"stepIndex" db:"step_index"`
	SchemaID  string `json:"schemaId" db:"schema_id"`
	Sub       string `json:"sub,omitempty" db:"sub_step"`
	Seat      int    `json:"seat" db:"seat"`
	Effect    Effect `json:"effect" db:"effect"`
	Targets   []int  `json:"targets,omitempty" db:"-"`
	Skipped   bool   `json:"skipped,omitempty" db:"skipped"`
	Nonce     uint64 `json:"nonce" db:"nonce"`
}

// NightRecord is everything recorded for one night.
type NightRecord struct {
	Night   int              `json:"night"`
	Actions []RecordedAction `json:"actions"`
}

type Player struct {
	Seat   int    `json:"seat"`
	Name   string `json:"name"`
	RoleID string `json:"role,omitempty"`
	Alive  bool   `json:"alive"`
}

// GameState is the host's authoritative copy. Values returned by
// Resolver.State are deep copies; mutating them has no effect.
type GameState struct {
	Night        int                 `json:"night"`
	Players      []Player            `json:"players"`
	StepIndex    int                 `json:"stepIndex"`
	Status       StepStatus          `json:"status"`
	Actions      []RecordedAction    `json:"actions"`
	Ballots      map[int]*int        `json:"ballots"`
	Deaths       []int               `json:"deaths"`
	BlockedSeats []int               `json:"blockedSeats"`
	Contexts     map[int]StepContext `json:"contexts"`
}

// Snapshot is one seat's read-only view of the game, used for broadcasts
// and for resynchronizing after a reconnect.
type Snapshot struct {
	Room      string     `json:"room"`
	Seat      int        `json:"seat"`
	Night     int        `json:"night"`
	StepIndex int        `json:"stepIndex"`
	Step      *NightStep `json:"step,omitempty"`
	StepKey   string     `json:"stepKey,omitempty"`
	Status    StepStatus `json:"status"`
	Players   []Player   `json:"players"`
	// Actions lists, per step key, the seats that completed it. Only the
	// viewer's own entries are visible.
	Actions map[string][]int `json:"actions"`
	// Ballots holds the viewer's ballot, or the whole pack's when the
	// viewer may see the pack.
	Ballots       map[int]*int `json:"ballots"`
	Deaths        []int        `json:"deaths"`
	BlockedSeats  []int        `json:"blockedSeats"`
	Context       *StepContext `json:"context,omitempty"`
	PendingReveal *RevealEvent `json:"pendingReveal,omitempty"`
	Report        *NightReport `json:"report,omitempty"`
}

func copyBallots(in map[int]*int) map[int]*int {
	out := make(map[int]*int, len(in))
	for k, v := range in {
		if v != nil {
			t := *v
			out[k] = &t
		} else {
			out[k] = nil
		}
	}
	return out
}

func (g GameState) clone() GameState {
	g.Players = slices.Clone(g.Players)
	actions := make([]RecordedAction, len(g.Actions))
	for i, a := range g.Actions {
		a.Targets = slices.Clone(a.Targets)
		actions[i] = a
	}
	g.Actions = actions
	g.Ballots = copyBallots(g.Ballots)
	g.Deaths = slices.Clone(g.Deaths)
	g.BlockedSeats = slices.Clone(g.BlockedSeats)
	g.Contexts = maps.Clone(g.Contexts)
	return g
}
