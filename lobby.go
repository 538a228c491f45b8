package main

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math/big"
	"net/http"
	"slices"
	"strings"
	"time"
)

// createRoomRequest either names the seat → role mapping directly, or
// gives a board and player names and lets the host deal the roles.
type createRoomRequest struct {
	Board string           `json:"board"`
	Names []string         `json:"names,omitempty"`
	Seats []SeatAssignment `json:"seats,omitempty"`
}

type seatTicket struct {
	Seat  int    `json:"seat"`
	Name  string `json:"name"`
	Token string `json:"token"`
}

type createRoomResponse struct {
	Room      string       `json:"room"`
	HostToken string       `json:"hostToken"`
	Seats     []seatTicket `json:"seats"`
	Plan      []NightStep  `json:"plan"`
}

var errBadLobby = errors.New("invalid room request")

// assignSeats turns a room request into the finalized seat assignment.
func assignSeats(reg *Registry, req createRoomRequest) ([]SeatAssignment, error) {
	var board *Board
	if req.Board != "" {
		b, err := reg.Board(req.Board)
		if err != nil {
			return nil, err
		}
		board = &b
	}

	if len(req.Seats) > 0 {
		if board != nil {
			dealt := make([]string, len(req.Seats))
			for i, s := range req.Seats {
				dealt[i] = s.RoleID
			}
			want := slices.Clone(board.Roles)
			slices.Sort(dealt)
			slices.Sort(want)
			if !slices.Equal(dealt, want) {
				return nil, fmt.Errorf("%w: roles do not match board %s", errBadLobby, board.ID)
			}
		}
		for _, s := range req.Seats {
			if strings.TrimSpace(s.Name) == "" {
				return nil, fmt.Errorf("%w: seat %d has no name", errBadLobby, s.Seat)
			}
		}
		return req.Seats, nil
	}

	if board == nil {
		return nil, fmt.Errorf("%w: give either seats or a board with names", errBadLobby)
	}
	if len(req.Names) != board.PlayerCount() {
		return nil, fmt.Errorf("%w: board %s needs %d players, got %d", errBadLobby, board.ID, board.PlayerCount(), len(req.Names))
	}
	rolePool := slices.Clone(board.Roles)
	shuffleRoles(rolePool)
	seats := make([]SeatAssignment, len(req.Names))
	for i, name := range req.Names {
		if strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("%w: player %d has no name", errBadLobby, i+1)
		}
		seats[i] = SeatAssignment{Seat: i + 1, Name: name, RoleID: rolePool[i]}
	}
	return seats, nil
}

// createRoom validates the seats, persists the room and issues tokens.
func createRoom(reg *Registry, req createRoomRequest, h *Hub, stepTimeout time.Duration) (createRoomResponse, error) {
	seats, err := assignSeats(reg, req)
	if err != nil {
		return createRoomResponse{}, err
	}

	id := newToken()
	rm, err := newRoom(id, req.Board, reg, seats, h, stepTimeout)
	if err != nil {
		return createRoomResponse{}, fmt.Errorf("%w: %w", errBadLobby, err)
	}

	resp := createRoomResponse{Room: id, HostToken: newToken(), Plan: rm.resolver.Plan().Steps()}
	if err := createRoomRecord(RoomRecord{ID: id, Board: req.Board, HostToken: resp.HostToken}, seats); err != nil {
		return createRoomResponse{}, err
	}
	for _, s := range rm.seats {
		token, err := issueSeatToken(id, s.Seat)
		if err != nil {
			return createRoomResponse{}, err
		}
		resp.Seats = append(resp.Seats, seatTicket{Seat: s.Seat, Name: s.Name, Token: token})
	}

	rooms.add(rm)
	log.Printf("Room %s created: %d seats, %d night steps", id, len(seats), len(resp.Plan))
	LogDBState("after room created: " + id)
	return resp, nil
}

func handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	var req createRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "request body is not valid JSON")
		return
	}

	resp, err := createRoom(registry, req, hub, appConfig.StepTimeout)
	switch {
	case errors.Is(err, ErrUnknownID), errors.Is(err, errBadLobby):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		logError("handleCreateRoom: createRoom", err)
		writeError(w, http.StatusInternalServerError, "Something went wrong")
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

// shuffleRoles shuffles the role pool using crypto/rand
func shuffleRoles(roles []string) {
	for i := len(roles) - 1; i > 0; i-- {
		jBig, err := rand.Int(rand.Reader, big.NewInt(int64(i+1)))
		if err != nil {
			// Fallback: just swap with previous element
			roles[i], roles[i-1] = roles[i-1], roles[i]
			continue
		}
		j := int(jBig.Int64())
		roles[i], roles[j] = roles[j], roles[i]
	}
}
