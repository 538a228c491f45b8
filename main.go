package main

import (
	"database/sql"
	"errors"
	"flag"
	"io"
	"log"
	"net/http"
	"os"
	"slices"
	"strconv"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

var db *sqlx.DB
var devMode bool
var registry *Registry
var appConfig AppConfig

// roomForHost loads a room and checks the request carries its host token.
func roomForHost(w http.ResponseWriter, r *http.Request) (RoomRecord, bool) {
	rec, err := getRoom(r.PathValue("id"))
	if errors.Is(err, sql.ErrNoRows) {
		writeError(w, http.StatusNotFound, "room not found")
		return RoomRecord{}, false
	}
	if err != nil {
		logError("roomForHost: getRoom", err)
		writeError(w, http.StatusInternalServerError, "Something went wrong")
		return RoomRecord{}, false
	}
	if !isHost(r, rec) {
		writeError(w, http.StatusForbidden, "host token required")
		return RoomRecord{}, false
	}
	return rec, true
}

func liveRoom(w http.ResponseWriter, id string) (*Room, bool) {
	rm, ok := rooms.get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "room is not running on this host")
	}
	return rm, ok
}

func nightParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	night, err := strconv.Atoi(r.PathValue("night"))
	if err != nil || night < 1 {
		writeError(w, http.StatusBadRequest, "night must be a positive number")
		return 0, false
	}
	return night, true
}

func handleStartNight(w http.ResponseWriter, r *http.Request) {
	rec, ok := roomForHost(w, r)
	if !ok {
		return
	}
	rm, ok := liveRoom(w, rec.ID)
	if !ok {
		return
	}
	night, err := rm.StartNight()
	switch {
	case errors.Is(err, errNightInProgress), errors.Is(err, errGameOver):
		writeError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		logError("handleStartNight: StartNight", err)
		writeError(w, http.StatusInternalServerError, "Something went wrong")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"night": night})
}

func handleSkipStep(w http.ResponseWriter, r *http.Request) {
	rec, ok := roomForHost(w, r)
	if !ok {
		return
	}
	rm, ok := liveRoom(w, rec.ID)
	if !ok {
		return
	}
	if err := rm.SkipStep(); err != nil {
		logError("handleSkipStep: SkipStep", err)
		writeError(w, http.StatusInternalServerError, "Something went wrong")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleSnapshot serves a seat its own view, for devices that poll or
// resync over plain HTTP.
func handleSnapshot(w http.ResponseWriter, r *http.Request) {
	session, err := getSeatFromSession(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "seat token required")
		return
	}
	if session.RoomID != r.PathValue("id") {
		writeError(w, http.StatusForbidden, "token belongs to another room")
		return
	}
	rm, ok := liveRoom(w, session.RoomID)
	if !ok {
		return
	}
	sn, err := rm.Snapshot(session.Seat)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sn)
}

type joinResponse struct {
	Room string `json:"room"`
	Seat int    `json:"seat"`
	Name string `json:"name"`
}

// handleJoin turns a seat token into a session cookie, for browsers that
// open the join link once and reconnect later without the query string.
func handleJoin(w http.ResponseWriter, r *http.Request) {
	session, err := getSeatFromSession(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unknown seat token")
		return
	}
	seats, err := getSeats(session.RoomID)
	if err != nil {
		logError("handleJoin: getSeats", err)
		writeError(w, http.StatusInternalServerError, "Something went wrong")
		return
	}
	resp := joinResponse{Room: session.RoomID, Seat: session.Seat}
	for _, s := range seats {
		if s.Seat == session.Seat {
			resp.Name = s.Name
		}
	}
	setSessionCookie(w, session.Token)
	writeJSON(w, http.StatusOK, resp)
}

type roomStatusResponse struct {
	Room      RoomRecord `json:"room"`
	Seats     []SeatRow  `json:"seats"`
	Connected []int      `json:"connected"`
	Live      bool       `json:"live"`
}

// handleRoomStatus shows the host the stored room and which seats are
// currently connected.
func handleRoomStatus(w http.ResponseWriter, r *http.Request) {
	rec, ok := roomForHost(w, r)
	if !ok {
		return
	}
	seats, err := getSeats(rec.ID)
	if err != nil {
		logError("handleRoomStatus: getSeats", err)
		writeError(w, http.StatusInternalServerError, "Something went wrong")
		return
	}
	connected := hub.connectedSeats(rec.ID)
	slices.Sort(connected)
	if connected == nil {
		connected = []int{}
	}
	_, live := rooms.get(rec.ID)
	writeJSON(w, http.StatusOK, roomStatusResponse{Room: rec, Seats: seats, Connected: connected, Live: live})
}

type reportResponse struct {
	Report    NightReport `json:"report"`
	Narration string      `json:"narration,omitempty"`
}

func handleNightReport(w http.ResponseWriter, r *http.Request) {
	night, ok := nightParam(w, r)
	if !ok {
		return
	}
	rep, narration, err := loadNightReport(r.PathValue("id"), night)
	if errors.Is(err, sql.ErrNoRows) {
		writeError(w, http.StatusNotFound, "night not finished")
		return
	}
	if err != nil {
		logError("handleNightReport: loadNightReport", err)
		writeError(w, http.StatusInternalServerError, "Something went wrong")
		return
	}
	writeJSON(w, http.StatusOK, reportResponse{Report: rep, Narration: narration})
}

type auditResponse struct {
	Record     NightRecord `json:"record"`
	Report     NightReport `json:"report"`
	Replayed   NightReport `json:"replayed"`
	Consistent bool        `json:"consistent"`
}

// handleNightAudit replays the stored action log through ComputeDeaths and
// compares the result with the report announced at dawn.
func handleNightAudit(w http.ResponseWriter, r *http.Request) {
	rec, ok := roomForHost(w, r)
	if !ok {
		return
	}
	night, ok := nightParam(w, r)
	if !ok {
		return
	}
	stored, _, err := loadNightReport(rec.ID, night)
	if errors.Is(err, sql.ErrNoRows) {
		writeError(w, http.StatusNotFound, "night not finished")
		return
	}
	if err != nil {
		logError("handleNightAudit: loadNightReport", err)
		writeError(w, http.StatusInternalServerError, "Something went wrong")
		return
	}
	actions, err := loadNightRecord(rec.ID, night)
	if err != nil {
		logError("handleNightAudit: loadNightRecord", err)
		writeError(w, http.StatusInternalServerError, "Something went wrong")
		return
	}
	seats, err := getSeats(rec.ID)
	if err != nil {
		logError("handleNightAudit: getSeats", err)
		writeError(w, http.StatusInternalServerError, "Something went wrong")
		return
	}
	roles := make(map[int]RoleDescriptor, len(seats))
	for _, s := range seats {
		role, err := registry.Role(s.RoleID)
		if err != nil {
			logError("handleNightAudit: registry.Role", err)
			writeError(w, http.StatusInternalServerError, "Something went wrong")
			return
		}
		roles[s.Seat] = role
	}

	replayed := ComputeDeaths(actions, roles)
	writeJSON(w, http.StatusOK, auditResponse{
		Record:   actions,
		Report:   stored,
		Replayed: replayed,
		Consistent: slices.Equal(stored.Deaths, replayed.Deaths) &&
			slices.Equal(stored.BlockedSeats, replayed.BlockedSeats),
	})
}

type registryResponse struct {
	Roles   []RoleDescriptor `json:"roles"`
	Schemas []ActionSchema   `json:"schemas"`
	Boards  []Board          `json:"boards"`
}

func handleRegistry(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, registryResponse{
		Roles:   registry.Roles(),
		Schemas: registry.Schemas(),
		Boards:  registry.Boards(),
	})
}

// routes builds the host's handler tree. Every handler except /ws gets
// compression and cache control; logging wraps all of them when enabled.
func routes(logger *AppLogger) *http.ServeMux {
	mux := http.NewServeMux()
	withLogging := func(h http.Handler) http.Handler {
		if logger != nil && logger.logRequests {
			return &LoggingHandler{Handler: h, Logger: logger}
		}
		return h
	}
	wrapHandler := func(pattern string, handler http.HandlerFunc) {
		mux.Handle(pattern, withLogging(disableCaching(compress(handler))))
	}

	wrapHandler("POST /rooms", handleCreateRoom)
	wrapHandler("GET /join", handleJoin)
	wrapHandler("GET /rooms/{id}", handleRoomStatus)
	wrapHandler("POST /rooms/{id}/nights", handleStartNight)
	wrapHandler("POST /rooms/{id}/skip", handleSkipStep)
	wrapHandler("GET /rooms/{id}/snapshot", handleSnapshot)
	wrapHandler("GET /rooms/{id}/nights/{night}/report", handleNightReport)
	wrapHandler("GET /rooms/{id}/nights/{night}/audit", handleNightAudit)
	wrapHandler("GET /registry", handleRegistry)
	mux.Handle("GET /ws", withLogging(http.HandlerFunc(handleWebSocket)))
	return mux
}

func main() {
	fs := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	fv := registerFlags(fs)
	fs.Parse(os.Args[1:])

	cfg, err := loadConfig(*fv.configPath)
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}
	fv.applyTo(fs, &cfg)
	appConfig = cfg
	devMode = cfg.Dev

	if err := InitAppLogger(cfg.toLogConfig()); err != nil {
		log.Fatal("Failed to initialize logger:", err)
	}
	defer CloseAppLogger()
	if appLogger.IsEnabled() {
		log.Println("Extended logging enabled")
	}

	registry, err = loadRegistryFrom(cfg.RegistryDir)
	if err != nil {
		log.Fatal("Failed to load registry:", err)
	}

	if cfg.Device != "" {
		if err := runDevice(cfg, registry, os.Stdin, os.Stdout); err != nil {
			log.Fatal("Device:", err)
		}
		return
	}

	// Set up logging to both stdout and file
	logFile, err := os.OpenFile("werewolfnight.log", os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		log.Fatal("Failed to open log file:", err)
	}
	defer logFile.Close()
	log.SetOutput(io.MultiWriter(os.Stdout, logFile))

	db, err = sqlx.Connect("sqlite3", cfg.DB)
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}
	defer db.Close()

	if err := initDB(); err != nil {
		log.Fatal("Failed to initialize database:", err)
	}
	LogDBState("after initDB")

	initStoryteller(cfg)

	go hub.run()
	defer rooms.stopAll()

	log.Printf("Host starting on %s", cfg.Addr)
	log.Fatal(http.ListenAndServe(cfg.Addr, routes(appLogger)))
}
