package main

import (
	"errors"
	"net/http"
	"slices"
	"testing"
	"testing/quick"
)

func TestAssignSeats(t *testing.T) {
	reg := testRegistry(t)

	names := []string{"Ann", "Bo", "Cy", "Di", "Ed", "Flo"}
	seats, err := assignSeats(reg, createRoomRequest{Board: "basic6", Names: names})
	if err != nil {
		t.Fatalf("assignSeats failed: %v", err)
	}
	board, _ := reg.Board("basic6")
	dealt := make([]string, len(seats))
	for i, s := range seats {
		if s.Seat != i+1 || s.Name != names[i] {
			t.Errorf("Expected seat %d for %s, got %+v", i+1, names[i], s)
		}
		dealt[i] = s.RoleID
	}
	want := slices.Clone(board.Roles)
	slices.Sort(want)
	slices.Sort(dealt)
	if !slices.Equal(dealt, want) {
		t.Errorf("Expected the board's roles %v, got %v", want, dealt)
	}

	tests := []struct {
		name string
		req  createRoomRequest
	}{
		{"nothing given", createRoomRequest{}},
		{"wrong player count", createRoomRequest{Board: "basic6", Names: names[:5]}},
		{"blank name", createRoomRequest{Board: "basic6", Names: []string{"Ann", "Bo", " ", "Di", "Ed", "Flo"}}},
		{"seats against board", createRoomRequest{Board: "basic6", Seats: seatsFor("werewolf", "seer")}},
		{"unnamed seat", createRoomRequest{Seats: []SeatAssignment{{Seat: 1, RoleID: "werewolf"}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := assignSeats(reg, tt.req); !errors.Is(err, errBadLobby) {
				t.Errorf("Expected errBadLobby, got %v", err)
			}
		})
	}

	if _, err := assignSeats(reg, createRoomRequest{Board: "nope", Names: names}); !errors.Is(err, ErrUnknownID) {
		t.Errorf("Expected ErrUnknownID for an unknown board, got %v", err)
	}
}

func TestShuffleRolesKeepsPool(t *testing.T) {
	f := func(picks []uint8) bool {
		pool := make([]string, len(picks))
		for i, p := range picks {
			pool[i] = []string{"werewolf", "seer", "witch", "villager"}[p%4]
		}
		shuffled := slices.Clone(pool)
		shuffleRoles(shuffled)
		slices.Sort(pool)
		slices.Sort(shuffled)
		return slices.Equal(pool, shuffled)
	}
	if err := quick.Check(f, &quick.Config{MaxCount: 5}); err != nil {
		t.Error(err)
	}
}

func TestCreateRoomHTTP(t *testing.T) {
	tc := newTestContext(t)
	defer tc.cleanup()

	tc.logger.Debug("=== Creating room from a board ===")
	resp := tc.createRoom(createRoomRequest{Board: "standard12", Names: []string{
		"Ann", "Bo", "Cy", "Di", "Ed", "Flo", "Gus", "Hal", "Ivy", "Jo", "Kai", "Lu",
	}})
	if len(resp.Seats) != 12 {
		t.Fatalf("Expected 12 seat tickets, got %d", len(resp.Seats))
	}
	if resp.HostToken == "" || resp.HostToken == resp.Seats[0].Token {
		t.Errorf("Expected a distinct host token")
	}
	if got := len(resp.Plan); got != 4 {
		t.Errorf("Expected 4 night steps, got %d", got)
	}
	if _, ok := rooms.get(resp.Room); !ok {
		t.Errorf("Expected room %s to be live", resp.Room)
	}

	tc.logger.Debug("=== Rejecting bad requests ===")
	if status := tc.do(http.MethodPost, "/rooms", "", createRoomRequest{Board: "standard12", Names: []string{"Ann"}}, nil); status != http.StatusBadRequest {
		t.Errorf("Expected 400 for a short player list, got %d", status)
	}
	if status := tc.do(http.MethodPost, "/rooms", "", createRoomRequest{Seats: seatsFor("werewolf", "vampire")}, nil); status != http.StatusBadRequest {
		t.Errorf("Expected 400 for an unknown role, got %d", status)
	}

	tc.logger.Debug("=== Host and seat views of the room ===")
	var status roomStatusResponse
	if code := tc.do(http.MethodGet, "/rooms/"+resp.Room, resp.HostToken, nil, &status); code != http.StatusOK {
		t.Fatalf("Expected 200 for the host, got %d", code)
	}
	if status.Room.ID != resp.Room || len(status.Seats) != 12 || !status.Live {
		t.Errorf("Unexpected room status: %+v", status)
	}
	if code := tc.do(http.MethodGet, "/rooms/"+resp.Room, resp.Seats[0].Token, nil, nil); code != http.StatusForbidden {
		t.Errorf("Expected 403 for a seat token, got %d", code)
	}
	if code := tc.do(http.MethodGet, "/rooms/missing", resp.HostToken, nil, nil); code != http.StatusNotFound {
		t.Errorf("Expected 404 for an unknown room, got %d", code)
	}

	var join joinResponse
	if code := tc.do(http.MethodGet, "/join?token="+resp.Seats[2].Token, "", nil, &join); code != http.StatusOK {
		t.Fatalf("Expected 200 joining, got %d", code)
	}
	if join.Room != resp.Room || join.Seat != 3 || join.Name != "Cy" {
		t.Errorf("Unexpected join response: %+v", join)
	}
	if code := tc.do(http.MethodGet, "/join?token=not-a-token", "", nil, nil); code != http.StatusUnauthorized {
		t.Errorf("Expected 401 for a bad token, got %d", code)
	}
}

func TestRegistryEndpoint(t *testing.T) {
	tc := newTestContext(t)
	defer tc.cleanup()

	var resp registryResponse
	if code := tc.do(http.MethodGet, "/registry", "", nil, &resp); code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", code)
	}
	if len(resp.Roles) == 0 || len(resp.Schemas) != 9 || len(resp.Boards) == 0 {
		t.Errorf("Unexpected registry: %d roles, %d schemas, %d boards", len(resp.Roles), len(resp.Schemas), len(resp.Boards))
	}
}
