package main

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

const sessionCookieName = "werewolf_seat"

var errNoSession = errors.New("no seat token")

// SeatSession is what a seat token resolves to.
type SeatSession struct {
	Token  string `db:"token"`
	RoomID string `db:"room_id"`
	Seat   int    `db:"seat"`
}

func newToken() string {
	return uuid.New().String()
}

// issueSeatToken creates the session a device uses to join its seat.
func issueSeatToken(roomID string, seat int) (string, error) {
	token := newToken()
	if _, err := db.Exec("INSERT INTO session (token, room_id, seat) VALUES (?, ?, ?)", token, roomID, seat); err != nil {
		return "", fmt.Errorf("seat %d session: %w", seat, err)
	}
	return token, nil
}

func setSessionCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// requestToken reads a token from the Authorization header, the token
// query parameter, or the session cookie, in that order.
func requestToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	if t := r.URL.Query().Get("token"); t != "" {
		return t
	}
	if cookie, err := r.Cookie(sessionCookieName); err == nil {
		return cookie.Value
	}
	return ""
}

// getSeatFromSession identifies the seat making a request. The seat is
// always taken from here, never from a message payload.
func getSeatFromSession(r *http.Request) (SeatSession, error) {
	token := requestToken(r)
	if token == "" {
		return SeatSession{}, errNoSession
	}
	if _, err := uuid.Parse(token); err != nil {
		return SeatSession{}, fmt.Errorf("malformed seat token: %w", err)
	}
	var s SeatSession
	if err := db.Get(&s, "SELECT token, room_id, seat FROM session WHERE token = ?", token); err != nil {
		return SeatSession{}, err
	}
	return s, nil
}

// isHost reports whether the request carries the room's host token.
func isHost(r *http.Request, room RoomRecord) bool {
	token := requestToken(r)
	return token != "" && token == room.HostToken
}
