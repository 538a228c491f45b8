package main

import (
	"errors"
	"log"
	"slices"
	"sync"
	"time"
)

var errRoomClosed = errors.New("room is closed")

type roomCmdKind int

const (
	cmdSubmit roomCmdKind = iota
	cmdAck
	cmdSnapshot
	cmdStartNight
	cmdSkipStep
	cmdTimeout
)

type roomCmd struct {
	kind  roomCmdKind
	seat  int
	sub   Submission
	ack   Ack
	night int
	step  int
	reply chan roomReply
}

type roomReply struct {
	snapshot Snapshot
	night    int
	err      error
}

// Room owns one game's Resolver. Every call into the resolver happens on
// the room's goroutine, in the order the commands arrived, so concurrent
// submissions from many devices are serialized here.
type Room struct {
	ID    string
	Board string

	resolver    *Resolver
	hub         *Hub
	seats       []SeatAssignment
	stepTimeout time.Duration
	timer       *time.Timer
	winner      Team

	inbox chan roomCmd
	done  chan struct{}
	once  sync.Once
	wg    sync.WaitGroup
}

func newRoom(id, board string, reg *Registry, seats []SeatAssignment, h *Hub, stepTimeout time.Duration) (*Room, error) {
	roleIDs := make([]string, len(seats))
	for i, s := range seats {
		roleIDs[i] = s.RoleID
	}
	plan, err := BuildNightPlan(reg, roleIDs)
	if err != nil {
		return nil, err
	}
	res, err := NewResolver(reg, plan, seats)
	if err != nil {
		return nil, err
	}
	seats = slices.Clone(seats)
	slices.SortFunc(seats, func(a, b SeatAssignment) int { return a.Seat - b.Seat })
	return &Room{
		ID:          id,
		Board:       board,
		resolver:    res,
		hub:         h,
		seats:       seats,
		stepTimeout: stepTimeout,
		inbox:       make(chan roomCmd, 64),
		done:        make(chan struct{}),
	}, nil
}

func (rm *Room) start() {
	rm.wg.Add(1)
	go rm.run()
}

func (rm *Room) stop() {
	rm.once.Do(func() { close(rm.done) })
	rm.wg.Wait()
}

func (rm *Room) run() {
	defer rm.wg.Done()
	for {
		select {
		case <-rm.done:
			if rm.timer != nil {
				rm.timer.Stop()
			}
			return
		case cmd := <-rm.inbox:
			rm.handle(cmd)
		}
	}
}

func (rm *Room) post(cmd roomCmd) bool {
	select {
	case rm.inbox <- cmd:
		return true
	case <-rm.done:
		return false
	}
}

func (rm *Room) call(cmd roomCmd) (roomReply, error) {
	cmd.reply = make(chan roomReply, 1)
	if !rm.post(cmd) {
		return roomReply{}, errRoomClosed
	}
	select {
	case r := <-cmd.reply:
		return r, r.err
	case <-rm.done:
		return roomReply{}, errRoomClosed
	}
}

// Submit queues a submission. seat is the authenticated seat and replaces
// whatever the payload claims.
func (rm *Room) Submit(seat int, sub Submission) {
	rm.post(roomCmd{kind: cmdSubmit, seat: seat, sub: sub})
}

func (rm *Room) Acknowledge(seat int, ack Ack) {
	rm.post(roomCmd{kind: cmdAck, seat: seat, ack: ack})
}

// RequestSnapshot sends the seat a fresh snapshot over its connection.
func (rm *Room) RequestSnapshot(seat int) {
	rm.post(roomCmd{kind: cmdSnapshot, seat: seat})
}

// Snapshot returns the seat's view.
func (rm *Room) Snapshot(seat int) (Snapshot, error) {
	r, err := rm.call(roomCmd{kind: cmdSnapshot, seat: seat})
	return r.snapshot, err
}

// StartNight begins the next night and returns its number.
func (rm *Room) StartNight() (int, error) {
	r, err := rm.call(roomCmd{kind: cmdStartNight})
	return r.night, err
}

// SkipStep force-resolves the current step as skipped.
func (rm *Room) SkipStep() error {
	_, err := rm.call(roomCmd{kind: cmdSkipStep})
	return err
}

func (rm *Room) handle(cmd roomCmd) {
	var reply roomReply
	switch cmd.kind {
	case cmdSubmit:
		cmd.sub.Seat = cmd.seat
		rm.dispatch(cmd.seat, rm.resolver.Submit(cmd.sub))

	case cmdAck:
		cmd.ack.Seat = cmd.seat
		out := rm.resolver.Acknowledge(cmd.ack)
		if out.Rejection != nil {
			out.Rejection.SubmissionID = cmd.ack.SubmissionID
			out.Rejection.Seat = cmd.seat
			out.Rejection.StepKey = cmd.ack.StepKey
		}
		rm.dispatch(cmd.seat, out)

	case cmdSnapshot:
		reply.snapshot = rm.view(cmd.seat)
		if cmd.reply == nil {
			sendSnapshot(rm.hub, rm.ID, reply.snapshot)
		}

	case cmdStartNight:
		if rm.winner != "" {
			reply.err = errGameOver
			break
		}
		out, err := rm.resolver.StartNight()
		if err != nil {
			reply.err = err
			break
		}
		reply.night = rm.resolver.Night()
		if err := setRoomStatus(rm.ID, RoomStatusNight, reply.night); err != nil {
			logError("Room.StartNight: setRoomStatus", err)
		}
		rm.dispatch(0, out)

	case cmdSkipStep:
		rm.dispatch(0, rm.resolver.SkipCurrent())

	case cmdTimeout:
		if rm.resolver.Night() != cmd.night || rm.resolver.Complete() || rm.resolver.State().StepIndex != cmd.step {
			return
		}
		log.Printf("Room %s: night %d step %d timed out", rm.ID, cmd.night, cmd.step)
		rm.dispatch(0, rm.resolver.SkipCurrent())
	}
	if cmd.reply != nil {
		cmd.reply <- reply
	}
}

// dispatch persists what the resolver applied and turns the outcome into
// messages. Private results go to the acting seat only.
func (rm *Room) dispatch(seat int, out Outcome) {
	if err := saveNightActions(rm.ID, out.Applied); err != nil {
		logError("Room.dispatch: saveNightActions", err)
	}

	switch {
	case out.Rejection != nil:
		sendRejection(rm.hub, rm.ID, *out.Rejection)
	case out.Accepted && out.SubmissionID != "":
		sendResult(rm.hub, rm.ID, seat, SubmitResult{SubmissionID: out.SubmissionID, Duplicate: out.Duplicate || out.Replayed})
	}
	if out.Reveal != nil {
		sendReveal(rm.hub, rm.ID, *out.Reveal)
	}
	if out.Context != nil {
		sendContext(rm.hub, rm.ID, seat, *out.Context)
	}
	for _, op := range out.Opened {
		for s, ctx := range op.Contexts {
			sendContext(rm.hub, rm.ID, s, ctx)
		}
		rm.armTimer(op.Step.Index)
	}
	if out.Report != nil {
		rm.finishNight(*out.Report)
	}
	if out.Changed() || len(out.Opened) > 0 || out.Report != nil {
		rm.broadcastViews()
	}
}

func (rm *Room) view(seat int) Snapshot {
	sn := rm.resolver.View(seat)
	sn.Room = rm.ID
	return sn
}

// broadcastViews sends each seat its own redacted snapshot.
func (rm *Room) broadcastViews() {
	for _, s := range rm.seats {
		sendSnapshot(rm.hub, rm.ID, rm.view(s.Seat))
	}
}

func (rm *Room) armTimer(step int) {
	if rm.timer != nil {
		rm.timer.Stop()
		rm.timer = nil
	}
	if rm.stepTimeout <= 0 {
		return
	}
	night := rm.resolver.Night()
	rm.timer = time.AfterFunc(rm.stepTimeout, func() {
		rm.post(roomCmd{kind: cmdTimeout, night: night, step: step})
	})
}

func (rm *Room) finishNight(rep NightReport) {
	if rm.timer != nil {
		rm.timer.Stop()
		rm.timer = nil
	}
	if err := saveNightReport(rm.ID, rep); err != nil {
		logError("Room.finishNight: saveNightReport", err)
	}
	if err := markSeatsDead(rm.ID, rep.Deaths); err != nil {
		logError("Room.finishNight: markSeatsDead", err)
	}
	if err := setRoomStatus(rm.ID, RoomStatusDay, rep.Night); err != nil {
		logError("Room.finishNight: setRoomStatus", err)
	}
	LogDBState("after night " + rm.ID)
	rm.hub.broadcastRoom(rm.ID, Envelope{Type: MsgReport, Report: &rep})

	names := make(map[int]string, len(rm.seats))
	for _, s := range rm.seats {
		names[s.Seat] = s.Name
	}
	var reports []NightReport
	for n := 1; n <= rep.Night; n++ {
		if r, ok := rm.resolver.Report(n); ok {
			reports = append(reports, r)
		}
	}
	narrateDawn(rm.hub, rm.ID, rep.Night, dawnHistory(reports, names))

	if winner, over := checkWinConditions(rm.resolver.State().Players, rm.resolver.Roles()); over {
		rm.endGame(winner)
	}
}

// RoomManager holds the live rooms of this host.
type RoomManager struct {
	mu    sync.RWMutex
	rooms map[string]*Room
}

func newRoomManager() *RoomManager {
	return &RoomManager{rooms: make(map[string]*Room)}
}

var rooms = newRoomManager()

func (m *RoomManager) add(rm *Room) {
	m.mu.Lock()
	m.rooms[rm.ID] = rm
	m.mu.Unlock()
	rm.start()
}

func (m *RoomManager) get(id string) (*Room, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rm, ok := m.rooms[id]
	return rm, ok
}

func (m *RoomManager) stopAll() {
	m.mu.Lock()
	all := m.rooms
	m.rooms = make(map[string]*Room)
	m.mu.Unlock()
	for _, rm := range all {
		rm.stop()
	}
}
