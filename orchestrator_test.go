package main

import (
	"errors"
	"sync"
	"testing"
)

// fakeSender records every envelope the orchestrator hands to the host.
type fakeSender struct {
	mu   sync.Mutex
	sent []Envelope
	fail error
}

func (f *fakeSender) Send(env Envelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.sent = append(f.sent, env)
	return nil
}

func (f *fakeSender) types() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, env := range f.sent {
		out = append(out, env.Type)
	}
	return out
}

func (f *fakeSender) reset() {
	f.mu.Lock()
	f.sent = nil
	f.mu.Unlock()
}

// seerSnapshot is seat 3's view with the seer check open at step 2.
func seerSnapshot() Snapshot {
	step := NightStep{Index: 2, RoleID: "seer", SchemaID: "seerCheck", Kind: KindChooseSeat}
	return Snapshot{
		Seat:      3,
		Night:     1,
		StepIndex: 2,
		Step:      &step,
		StepKey:   stepKey(1, 2, "seerCheck", ""),
		Status:    StepAwaiting,
		Players: []Player{
			{Seat: 1, Alive: true},
			{Seat: 2, Alive: true},
			{Seat: 3, RoleID: "seer", Alive: true},
		},
		Actions: map[string][]int{},
		Ballots: map[int]*int{},
	}
}

func newTestOrchestrator(t *testing.T) (*Orchestrator, *fakeSender) {
	t.Helper()
	send := &fakeSender{}
	return NewOrchestrator(testRegistry(t), send), send
}

func TestIsMyTurn(t *testing.T) {
	reg := testRegistry(t)
	wolf, _ := reg.Role("werewolf")
	hidden, _ := reg.Role("hiddenWolf")
	seer, _ := reg.Role("seer")
	witch, _ := reg.Role("witch")
	wolfKill, _ := reg.Schema("wolfKill")
	seerCheck, _ := reg.Schema("seerCheck")
	potions, _ := reg.Schema("witchPotions")

	vote := NightStep{Index: 0, RoleID: "werewolf", SchemaID: "wolfKill", Kind: KindWolfVote}
	check := NightStep{Index: 2, RoleID: "seer", SchemaID: "seerCheck", Kind: KindChooseSeat}
	brew := NightStep{Index: 1, RoleID: "witch", SchemaID: "witchPotions", Kind: KindCompound}
	five := 5

	tests := []struct {
		name      string
		step      NightStep
		schema    ActionSchema
		role      RoleDescriptor
		submitted map[string][]int
		ballots   map[int]*int
		want      bool
	}{
		{"wolf before voting", vote, wolfKill, wolf, nil, nil, true},
		{"hidden wolf votes too", vote, wolfKill, hidden, nil, nil, true},
		{"wolf after voting", vote, wolfKill, wolf, nil, map[int]*int{1: &five}, false},
		{"wolf after empty ballot", vote, wolfKill, wolf, nil, map[int]*int{1: nil}, false},
		{"seer during wolf vote", vote, wolfKill, seer, nil, nil, false},
		{"seer on own step", check, seerCheck, seer, nil, nil, true},
		{"seer after checking", check, seerCheck, seer, map[string][]int{stepKey(1, 2, "seerCheck", ""): {1}}, nil, false},
		{"wolf on seer step", check, seerCheck, wolf, nil, nil, false},
		{"witch with both potions open", brew, potions, witch, nil, nil, true},
		{"witch after save", brew, potions, witch, map[string][]int{stepKey(1, 1, "witchPotions", "save"): {1}}, nil, true},
		{"witch after both", brew, potions, witch, map[string][]int{
			stepKey(1, 1, "witchPotions", "save"):   {1},
			stepKey(1, 1, "witchPotions", "poison"): {1},
		}, nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isMyTurn(1, tt.step, tt.schema, 1, tt.role, tt.submitted, tt.ballots); got != tt.want {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
		})
	}

	lastNight := map[string][]int{stepKey(1, 2, "seerCheck", ""): {1}}
	if !isMyTurn(2, check, seerCheck, 1, seer, lastNight, nil) {
		t.Errorf("Expected last night's check not to use up tonight's turn")
	}
}

func TestShouldSeeWolves(t *testing.T) {
	reg := testRegistry(t)
	wolf, _ := reg.Role("werewolf")
	hidden, _ := reg.Role("hiddenWolf")
	wolfKill, _ := reg.Schema("wolfKill")
	seerCheck, _ := reg.Schema("seerCheck")
	vote := NightStep{Index: 0, RoleID: "werewolf", SchemaID: "wolfKill", Kind: KindWolfVote}
	check := NightStep{Index: 1, RoleID: "seer", SchemaID: "seerCheck", Kind: KindChooseSeat}

	if !shouldSeeWolves(vote, wolfKill, wolf) {
		t.Errorf("Expected a werewolf to see the pack")
	}
	if shouldSeeWolves(vote, wolfKill, hidden) {
		t.Errorf("Expected the hidden wolf not to see the pack")
	}
	if shouldSeeWolves(check, seerCheck, wolf) {
		t.Errorf("Expected no pack outside the meeting")
	}
	blind := wolfKill
	blind.Meeting = &Meeting{Resolution: ResolutionFirstVote}
	if shouldSeeWolves(vote, blind, wolf) {
		t.Errorf("Expected a blind meeting to hide the pack")
	}
}

func TestOrchestratorInFlightLock(t *testing.T) {
	o, send := newTestOrchestrator(t)
	if _, err := o.Submit(Target{1}, false); !errors.Is(err, ErrNoSnapshot) {
		t.Errorf("Expected ErrNoSnapshot before any snapshot, got %v", err)
	}

	o.HandleSnapshot(seerSnapshot())
	if !o.IsMyTurn() {
		t.Fatalf("Expected the seer's turn")
	}
	id, err := o.Submit(Target{1}, false)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if _, err := o.Submit(Target{2}, false); !errors.Is(err, ErrInFlight) {
		t.Errorf("Expected ErrInFlight on a second submit, got %v", err)
	}
	if got := send.types(); len(got) != 1 || got[0] != MsgSubmit {
		t.Errorf("Expected one submit sent, got %v", got)
	}
	if send.sent[0].Submission.StepKey != stepKey(1, 2, "seerCheck", "") {
		t.Errorf("Expected the snapshot's step key, got %s", send.sent[0].Submission.StepKey)
	}

	o.HandleRejection(Rejection{SubmissionID: id, Seat: 3, Reason: ReasonConstraintViolation, Message: "no"})
	if o.InFlight() != "" {
		t.Errorf("Expected a rejection to clear the in-flight lock")
	}
	if rej := o.LastRejection(); rej == nil || rej.Reason != ReasonConstraintViolation {
		t.Errorf("Expected the rejection to be kept, got %+v", rej)
	}
	if _, err := o.Submit(Target{2}, false); err != nil {
		t.Errorf("Expected a new submit after rejection, got %v", err)
	}
	if o.LastRejection() != nil {
		t.Errorf("Expected a new submit to clear the last rejection")
	}
}

func TestOrchestratorNoncesGrow(t *testing.T) {
	o, send := newTestOrchestrator(t)
	o.HandleSnapshot(seerSnapshot())

	first, _ := o.Submit(Target{1}, false)
	o.HandleResult(SubmitResult{SubmissionID: first})
	o.Submit(Target{2}, false)

	if a, b := send.sent[0].Submission.Nonce, send.sent[1].Submission.Nonce; b <= a {
		t.Errorf("Expected growing nonces, got %d then %d", a, b)
	}
}

func TestOrchestratorRevealGating(t *testing.T) {
	o, send := newTestOrchestrator(t)
	o.HandleSnapshot(seerSnapshot())
	id, _ := o.Submit(Target{1}, false)

	o.HandleReveal(RevealEvent{SubmissionID: id, Seat: 3, StepKey: stepKey(1, 2, "seerCheck", ""), TargetSeat: 1, Result: TeamWolf})
	if o.InFlight() != "" {
		t.Errorf("Expected the reveal to settle the submission")
	}
	if rv := o.PendingReveal(); rv == nil || rv.Result != TeamWolf {
		t.Fatalf("Expected a pending wolf reveal, got %+v", rv)
	}
	if _, err := o.Submit(Target{2}, false); !errors.Is(err, ErrAwaitingReveal) {
		t.Errorf("Expected ErrAwaitingReveal, got %v", err)
	}

	// Reveals for other seats are ignored.
	o.HandleReveal(RevealEvent{SubmissionID: "9:1", Seat: 9, Result: TeamGood})
	if rv := o.PendingReveal(); rv == nil || rv.Seat != 3 {
		t.Errorf("Expected the seer's own reveal to stay, got %+v", rv)
	}

	send.reset()
	if err := o.Acknowledge(); err != nil {
		t.Fatalf("Acknowledge failed: %v", err)
	}
	if got := send.types(); len(got) != 1 || got[0] != MsgAck {
		t.Errorf("Expected one ack sent, got %v", got)
	}
	if send.sent[0].Ack.SubmissionID != id {
		t.Errorf("Expected the ack to name %s, got %s", id, send.sent[0].Ack.SubmissionID)
	}
	if o.PendingReveal() == nil {
		t.Errorf("Expected the reveal to stay until the host answers")
	}

	done := seerSnapshot()
	done.Status = NightComplete
	done.Step = nil
	done.StepIndex = 3
	o.HandleSnapshot(done)
	if o.PendingReveal() != nil {
		t.Errorf("Expected the host snapshot to clear the acknowledged reveal")
	}
	if err := o.Acknowledge(); !errors.Is(err, ErrNothingToAck) {
		t.Errorf("Expected ErrNothingToAck, got %v", err)
	}
}

func TestOrchestratorSnapshotRestoresReveal(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	sn := seerSnapshot()
	sn.Status = StepAwaitingAck
	sn.PendingReveal = &RevealEvent{SubmissionID: "3:7", Seat: 3, StepKey: sn.StepKey, TargetSeat: 2, Result: TeamGood}
	o.HandleSnapshot(sn)

	if rv := o.PendingReveal(); rv == nil || rv.SubmissionID != "3:7" {
		t.Errorf("Expected the snapshot's pending reveal, got %+v", rv)
	}
}

func TestOrchestratorResync(t *testing.T) {
	o, send := newTestOrchestrator(t)
	o.HandleSnapshot(seerSnapshot())

	send.fail = errors.New("connection lost")
	id, err := o.Submit(Target{1}, false)
	if err == nil {
		t.Fatalf("Expected the send failure to surface")
	}
	if o.InFlight() != id {
		t.Errorf("Expected the unsent submission to stay in flight")
	}

	send.fail = nil
	if err := o.Resync(); err != nil {
		t.Fatalf("Resync failed: %v", err)
	}
	got := send.types()
	if len(got) != 2 || got[0] != MsgSnapshotRequest || got[1] != MsgSubmit {
		t.Fatalf("Expected snapshot request then resend, got %v", got)
	}
	if send.sent[1].Submission.ID() != id {
		t.Errorf("Expected the resend to keep id %s, got %s", id, send.sent[1].Submission.ID())
	}

	// A snapshot past the step settles whatever was pending.
	next := seerSnapshot()
	next.StepIndex = 3
	next.Step = &NightStep{Index: 3, RoleID: "hunter", SchemaID: "hunterStatus", Kind: KindConfirm}
	next.StepKey = stepKey(1, 3, "hunterStatus", "")
	o.HandleSnapshot(next)
	if o.InFlight() != "" {
		t.Errorf("Expected the pending submission to settle once the host moved on")
	}

	send.reset()
	o.Resync()
	if got := send.types(); len(got) != 1 {
		t.Errorf("Expected only a snapshot request, got %v", got)
	}
}

func TestOrchestratorCompoundUsesContextKey(t *testing.T) {
	o, send := newTestOrchestrator(t)
	step := NightStep{Index: 1, RoleID: "witch", SchemaID: "witchPotions", Kind: KindCompound}
	sn := Snapshot{
		Seat:      4,
		Night:     1,
		StepIndex: 1,
		Step:      &step,
		StepKey:   stepKey(1, 1, "witchPotions", ""),
		Status:    StepAwaiting,
		Players:   []Player{{Seat: 4, RoleID: "witch", Alive: true}},
		Actions:   map[string][]int{},
		Ballots:   map[int]*int{},
	}
	o.HandleSnapshot(sn)
	o.HandleEnvelope(Envelope{Type: MsgStepContext, Context: &StepContext{StepKey: stepKey(1, 1, "witchPotions", "poison"), NextSubStep: "poison", HasPoison: true}})

	if _, err := o.Submit(Target{2}, false); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if got := send.sent[0].Submission.StepKey; got != "1:witchPotions/poison" {
		t.Errorf("Expected the sub-step key from the context, got %s", got)
	}
}

func TestOrchestratorDeadSeatHasNoTurn(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	sn := seerSnapshot()
	sn.Players[2].Alive = false
	o.HandleSnapshot(sn)
	if o.IsMyTurn() {
		t.Errorf("Expected a dead seer to have no turn")
	}
}

func TestOrchestratorOnChange(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	calls := 0
	o.OnChange = func() { calls++ }

	sn := seerSnapshot()
	o.HandleEnvelope(Envelope{Type: MsgSnapshot, Snapshot: &sn})
	o.HandleEnvelope(Envelope{Type: MsgNarration, Text: "ignored"})
	if calls != 1 {
		t.Errorf("Expected one change notification, got %d", calls)
	}
	if _, ok := o.Snapshot(); !ok {
		t.Errorf("Expected the snapshot to be stored")
	}
}
