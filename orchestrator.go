package main

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"
)

var (
	ErrInFlight       = errors.New("a submission is already waiting for the host")
	ErrAwaitingReveal = errors.New("acknowledge the reveal before acting again")
	ErrNoSnapshot     = errors.New("no snapshot from the host yet")
	ErrNothingToAck   = errors.New("no reveal to acknowledge")
)

// Sender delivers an envelope to the host.
type Sender interface {
	Send(env Envelope) error
}

// isMyTurn derives whether a seat should be offered the current step. It
// depends only on authoritative snapshot data and never on local guesses.
func isMyTurn(night int, step NightStep, schema ActionSchema, mySeat int, myRole RoleDescriptor, submitted map[string][]int, ballots map[int]*int) bool {
	if step.Kind == KindWolfVote {
		if !myRole.ParticipatesInWolfVote {
			return false
		}
		_, voted := ballots[mySeat]
		return !voted
	}
	if myRole.ID != step.RoleID {
		return false
	}
	if schema.Kind == KindCompound {
		for _, sub := range schema.Steps {
			if !slices.Contains(submitted[stepKey(night, step.Index, step.SchemaID, sub.Key)], mySeat) {
				return true
			}
		}
		return false
	}
	return !slices.Contains(submitted[stepKey(night, step.Index, step.SchemaID, "")], mySeat)
}

// shouldSeeWolves reports whether the wolf meeting shows teammates to a seat.
func shouldSeeWolves(step NightStep, schema ActionSchema, myRole RoleDescriptor) bool {
	if step.Kind != KindWolfVote || schema.Meeting == nil {
		return false
	}
	return myRole.CanSeeWolves && schema.Meeting.CanSeeEachOther
}

// Orchestrator is the device side of the night. It sends intents, never
// applies them locally, and waits for the host to answer.
type Orchestrator struct {
	mu   sync.Mutex
	reg  *Registry
	send Sender

	snap      *Snapshot
	nonce     uint64
	inFlight  string
	pending   map[string]Submission
	reveal    *RevealEvent
	acking    bool
	rejection *Rejection

	// OnChange, when set, is called after every handled message.
	OnChange func()
}

func NewOrchestrator(reg *Registry, send Sender) *Orchestrator {
	return &Orchestrator{
		reg:     reg,
		send:    send,
		pending: make(map[string]Submission),
		// Nonces only need to grow per seat; a clock seed keeps them growing
		// across device restarts.
		nonce: uint64(time.Now().UnixNano()),
	}
}

// HandleEnvelope routes one message from the host.
func (o *Orchestrator) HandleEnvelope(env Envelope) {
	switch env.Type {
	case MsgSnapshot:
		if env.Snapshot != nil {
			o.HandleSnapshot(*env.Snapshot)
		}
	case MsgStepContext:
		if env.Context != nil {
			o.handleContext(*env.Context)
		}
	case MsgResult:
		if env.Result != nil {
			o.HandleResult(*env.Result)
		}
	case MsgRejection:
		if env.Rejection != nil {
			o.HandleRejection(*env.Rejection)
		}
	case MsgReveal:
		if env.Reveal != nil {
			o.HandleReveal(*env.Reveal)
		}
	default:
		DebugLog("Orchestrator: ignoring %s message", env.Type)
		return
	}
	o.changed()
}

// HandleSnapshot replaces the local view with the host's.
func (o *Orchestrator) HandleSnapshot(sn Snapshot) {
	o.mu.Lock()
	defer o.mu.Unlock()

	prev := o.snap
	o.snap = &sn
	if sn.PendingReveal != nil {
		rv := *sn.PendingReveal
		o.reveal = &rv
	} else if o.acking || (prev != nil && (prev.Night != sn.Night || prev.StepIndex != sn.StepIndex)) {
		o.reveal = nil
		o.acking = false
	}

	// Anything pending for a step the host has moved past is settled.
	for id, sub := range o.pending {
		night, idx, _, _, err := parseStepKey(sub.StepKey)
		if err != nil || night < sn.Night || sn.Status == NightComplete || idx < sn.StepIndex {
			o.settle(id)
		}
	}
}

func (o *Orchestrator) handleContext(ctx StepContext) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.snap != nil {
		o.snap.Context = &ctx
	}
}

// HandleResult settles an accepted submission.
func (o *Orchestrator) HandleResult(res SubmitResult) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.settle(res.SubmissionID)
	o.rejection = nil
}

// HandleRejection settles a rejected submission and keeps the reason for
// display.
func (o *Orchestrator) HandleRejection(rej Rejection) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.settle(rej.SubmissionID)
	o.rejection = &rej
}

// HandleReveal stores the result of this seat's check until acknowledged.
func (o *Orchestrator) HandleReveal(rv RevealEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.snap != nil && rv.Seat != o.snap.Seat {
		return
	}
	o.settle(rv.SubmissionID)
	o.reveal = &rv
}

func (o *Orchestrator) settle(id string) {
	delete(o.pending, id)
	if o.inFlight == id {
		o.inFlight = ""
	}
}

// Submit sends an intent for the current step. The step key includes the
// next sub-step for compound steps. Nothing is checked locally beyond the
// in-flight lock and reveal gating.
func (o *Orchestrator) Submit(target Target, skip bool) (string, error) {
	o.mu.Lock()
	if o.snap == nil || o.snap.Step == nil {
		o.mu.Unlock()
		return "", ErrNoSnapshot
	}
	if o.reveal != nil {
		o.mu.Unlock()
		return "", ErrAwaitingReveal
	}
	if o.inFlight != "" {
		o.mu.Unlock()
		return "", ErrInFlight
	}

	key := o.snap.StepKey
	if o.snap.Context != nil && o.snap.Context.StepKey != "" {
		key = o.snap.Context.StepKey
	}
	o.nonce++
	sub := Submission{
		Seat:    o.snap.Seat,
		StepKey: key,
		Target:  target,
		Skip:    skip,
		Nonce:   o.nonce,
	}
	id := sub.ID()
	o.pending[id] = sub
	o.inFlight = id
	o.rejection = nil
	o.mu.Unlock()

	if err := o.send.Send(Envelope{Type: MsgSubmit, Submission: &sub}); err != nil {
		// Kept pending: Resync resends it with the same nonce.
		return id, fmt.Errorf("send submission %s: %w", id, err)
	}
	return id, nil
}

// Acknowledge confirms the outstanding reveal. Further actions stay
// blocked until the host's next snapshot.
func (o *Orchestrator) Acknowledge() error {
	o.mu.Lock()
	if o.reveal == nil {
		o.mu.Unlock()
		return ErrNothingToAck
	}
	ack := Ack{Seat: o.reveal.Seat, StepKey: o.reveal.StepKey, SubmissionID: o.reveal.SubmissionID}
	o.acking = true
	o.mu.Unlock()

	if err := o.send.Send(Envelope{Type: MsgAck, Ack: &ack}); err != nil {
		return fmt.Errorf("send acknowledgement: %w", err)
	}
	return nil
}

// Resync asks for a full snapshot and resends every pending submission
// and acknowledgement. The host answers resends from its nonce cache.
func (o *Orchestrator) Resync() error {
	o.mu.Lock()
	subs := make([]Submission, 0, len(o.pending))
	for _, sub := range o.pending {
		subs = append(subs, sub)
	}
	var ack *Ack
	if o.acking && o.reveal != nil {
		ack = &Ack{Seat: o.reveal.Seat, StepKey: o.reveal.StepKey, SubmissionID: o.reveal.SubmissionID}
	}
	o.mu.Unlock()

	if err := o.send.Send(Envelope{Type: MsgSnapshotRequest}); err != nil {
		return fmt.Errorf("request snapshot: %w", err)
	}
	for i := range subs {
		if err := o.send.Send(Envelope{Type: MsgSubmit, Submission: &subs[i]}); err != nil {
			return fmt.Errorf("resend submission %s: %w", subs[i].ID(), err)
		}
	}
	if ack != nil {
		if err := o.send.Send(Envelope{Type: MsgAck, Ack: ack}); err != nil {
			return fmt.Errorf("resend acknowledgement: %w", err)
		}
	}
	return nil
}

// IsMyTurn reports whether the current step is waiting on this seat.
func (o *Orchestrator) IsMyTurn() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	me, step, schema, ok := o.current()
	if !ok || o.snap.Status == NightComplete {
		return false
	}
	for _, p := range o.snap.Players {
		if p.Seat == o.snap.Seat && !p.Alive {
			return false
		}
	}
	return isMyTurn(o.snap.Night, step, schema, o.snap.Seat, me, o.snap.Actions, o.snap.Ballots)
}

// ShouldSeeWolves reports whether teammates are shown during this step.
func (o *Orchestrator) ShouldSeeWolves() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	me, step, schema, ok := o.current()
	if !ok {
		return false
	}
	return shouldSeeWolves(step, schema, me)
}

func (o *Orchestrator) current() (RoleDescriptor, NightStep, ActionSchema, bool) {
	if o.snap == nil || o.snap.Step == nil {
		return RoleDescriptor{}, NightStep{}, ActionSchema{}, false
	}
	var roleID string
	for _, p := range o.snap.Players {
		if p.Seat == o.snap.Seat {
			roleID = p.RoleID
		}
	}
	me, err := o.reg.Role(roleID)
	if err != nil {
		return RoleDescriptor{}, NightStep{}, ActionSchema{}, false
	}
	schema, err := o.reg.Schema(o.snap.Step.SchemaID)
	if err != nil {
		return RoleDescriptor{}, NightStep{}, ActionSchema{}, false
	}
	return me, *o.snap.Step, schema, true
}

// Snapshot returns a copy of the latest host snapshot.
func (o *Orchestrator) Snapshot() (Snapshot, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.snap == nil {
		return Snapshot{}, false
	}
	return *o.snap, true
}

func (o *Orchestrator) PendingReveal() *RevealEvent {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.reveal == nil {
		return nil
	}
	rv := *o.reveal
	return &rv
}

func (o *Orchestrator) LastRejection() *Rejection {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.rejection == nil {
		return nil
	}
	rej := *o.rejection
	return &rej
}

func (o *Orchestrator) InFlight() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.inFlight
}

func (o *Orchestrator) changed() {
	if o.OnChange != nil {
		o.OnChange()
	}
}
