package main

import (
	"errors"
	"fmt"
	"log"
)

var errGameOver = errors.New("the game is over")

// checkWinConditions reports the winning team once one side is wiped out.
// Third-camp seats count with the good side.
func checkWinConditions(players []Player, roles map[int]RoleDescriptor) (Team, bool) {
	var wolves, good int
	for _, p := range players {
		if !p.Alive {
			continue
		}
		if roles[p.Seat].Team.RevealTeam() == TeamWolf {
			wolves++
		} else {
			good++
		}
	}

	log.Printf("Win check: %d wolves, %d others alive", wolves, good)

	switch {
	case wolves == 0:
		log.Printf("VILLAGERS WIN - all wolves eliminated")
		return TeamGood, true
	case good == 0:
		log.Printf("WEREWOLVES WIN - all villagers eliminated")
		return TeamWolf, true
	}
	return "", false
}

// endGame marks the room as finished with a winner
func (rm *Room) endGame(winner Team) {
	rm.winner = winner
	if rm.timer != nil {
		rm.timer.Stop()
		rm.timer = nil
	}
	if err := setRoomWinner(rm.ID, winner); err != nil {
		logError("endGame: setRoomWinner", err)
	}

	log.Printf("Room %s finished, winner: %s", rm.ID, winner)
	LogDBState("after game end")

	rm.hub.broadcastRoom(rm.ID, Envelope{Type: MsgNotice, Text: fmt.Sprintf("The game is over: %s wins.", winner)})
}
