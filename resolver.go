package main

import (
	"errors"
	"fmt"
	"log"
	"maps"
	"slices"
)

type seatState struct {
	seat  int
	name  string
	role  RoleDescriptor
	alive bool
}

// seatProgress tracks one eligible seat inside the current step.
type seatProgress struct {
	done        bool
	sub         int
	pendingSwap *int
	reveal      *RevealEvent
}

type potionState struct {
	antidote bool
	poison   bool
}

// Outcome is everything a single call into the resolver produced. The room
// turns it into messages; the resolver itself never does I/O.
type Outcome struct {
	SubmissionID string
	Accepted     bool
	// Duplicate marks an accepted no-op (already resolved vote, already
	// completed seat). Not an error for the submitter.
	Duplicate bool
	// Replayed is set when the same (seat, nonce) was seen before; the
	// original outcome is returned and nothing is applied again.
	Replayed  bool
	Rejection *Rejection
	Reveal    *RevealEvent
	Context   *StepContext
	Applied   []RecordedAction
	Opened    []StepOpened
	Report    *NightReport
}

// Changed reports whether authoritative state moved and a broadcast is due.
func (o Outcome) Changed() bool {
	return o.Accepted && !o.Duplicate && !o.Replayed
}

func reject(reason Reason, format string, args ...any) Outcome {
	return Outcome{Rejection: &Rejection{Reason: reason, Message: fmt.Sprintf(format, args...)}}
}

func duplicate() Outcome {
	return Outcome{Accepted: true, Duplicate: true}
}

// Resolver is the host-side night state machine for one room. It is not
// safe for concurrent use: the room actor is its only caller.
type Resolver struct {
	reg   *Registry
	plan  NightPlan
	seats map[int]*seatState
	order []int

	night    int
	step     int
	status   StepStatus
	progress map[int]*seatProgress
	contexts map[int]StepContext
	actions  []RecordedAction
	blocked  map[int]bool

	ballots     []Ballot
	voteDecided bool
	killTarget  *int

	potions        map[int]*potionState
	lastProtect    map[int]int
	tonightProtect map[int]int

	deaths   []int
	reports  []NightReport
	outcomes map[string]cachedOutcome
}

type cachedOutcome struct {
	night int
	out   Outcome
}

var errNightInProgress = errors.New("night still in progress")

// NewResolver seats the players. The first night starts with StartNight.
func NewResolver(reg *Registry, plan NightPlan, seats []SeatAssignment) (*Resolver, error) {
	r := &Resolver{
		reg:            reg,
		plan:           plan,
		seats:          make(map[int]*seatState),
		status:         NightComplete,
		potions:        make(map[int]*potionState),
		lastProtect:    make(map[int]int),
		tonightProtect: make(map[int]int),
		outcomes:       make(map[string]cachedOutcome),
	}
	for _, a := range seats {
		if a.Seat <= 0 {
			return nil, fmt.Errorf("seat numbers start at 1, got %d", a.Seat)
		}
		if _, dup := r.seats[a.Seat]; dup {
			return nil, fmt.Errorf("seat %d assigned twice", a.Seat)
		}
		role, err := reg.Role(a.RoleID)
		if err != nil {
			return nil, fmt.Errorf("seat %d: %w", a.Seat, err)
		}
		r.seats[a.Seat] = &seatState{seat: a.Seat, name: a.Name, role: role, alive: true}
		r.order = append(r.order, a.Seat)
	}
	slices.Sort(r.order)
	for _, st := range plan.Steps() {
		if _, err := reg.Schema(st.SchemaID); err != nil {
			return nil, fmt.Errorf("step %d: %w", st.Index, err)
		}
	}
	return r, nil
}

// StartNight opens the first step of the next night.
func (r *Resolver) StartNight() (Outcome, error) {
	if r.status != NightComplete {
		return Outcome{}, errNightInProgress
	}
	r.night++
	r.step = 0
	r.actions = nil
	r.blocked = make(map[int]bool)
	r.ballots = nil
	r.voteDecided = false
	r.killTarget = nil
	r.lastProtect = r.tonightProtect
	r.tonightProtect = make(map[int]int)
	// Submissions from earlier nights are stale now; their cached answers go.
	maps.DeleteFunc(r.outcomes, func(_ string, c cachedOutcome) bool {
		return c.night < r.night
	})

	log.Printf("Night %d begins (%d steps)", r.night, r.plan.Len())
	out := Outcome{Accepted: true}
	r.openStep(&out)
	return out, nil
}

func (r *Resolver) Night() int {
	return r.night
}

func (r *Resolver) Plan() NightPlan {
	return r.plan
}

func (r *Resolver) Complete() bool {
	return r.status == NightComplete
}

// Submit validates and applies one submission. Resubmitting a (seat, nonce)
// pair returns the first outcome without touching state again.
func (r *Resolver) Submit(sub Submission) Outcome {
	id := sub.ID()
	if cached, ok := r.outcomes[id]; ok {
		prev := cached.out
		prev.Replayed = true
		prev.Applied = nil
		prev.Opened = nil
		prev.Report = nil
		DebugLog("Resolver.Submit: replayed submission %s", id)
		return prev
	}

	out := r.submit(sub)
	out.SubmissionID = id
	if out.Rejection != nil {
		out.Rejection.SubmissionID = id
		out.Rejection.Seat = sub.Seat
		out.Rejection.StepKey = sub.StepKey
		DebugLog("Resolver.Submit: %s rejected (%s): %s", id, out.Rejection.Reason, out.Rejection.Message)
	}
	r.outcomes[id] = cachedOutcome{night: r.night, out: out}
	return out
}

func (r *Resolver) submit(sub Submission) Outcome {
	s, ok := r.seats[sub.Seat]
	if !ok {
		return reject(ReasonNotEligible, "seat %d is not in this game", sub.Seat)
	}
	night, idx, schemaID, subKey, err := parseStepKey(sub.StepKey)
	if err != nil {
		return reject(ReasonMalformed, "%v", err)
	}
	if night > r.night {
		return reject(ReasonNotEligible, "night %d has not started", night)
	}
	if night < r.night || r.status == NightComplete || idx < r.step {
		// Slow ballots for a settled meeting are no-ops, not errors.
		if r.settledBallot(s, night, idx) {
			return duplicate()
		}
		if night < r.night || r.status == NightComplete {
			return reject(ReasonStaleSubmission, "night %d is over", night)
		}
		return reject(ReasonStaleSubmission, "step %d is already resolved", idx)
	}
	if idx > r.step {
		return reject(ReasonNotEligible, "step %d is not open yet", idx)
	}
	st, _ := r.plan.Step(idx)
	if schemaID != st.SchemaID {
		return reject(ReasonMalformed, "step %d runs %s, not %s", idx, st.SchemaID, schemaID)
	}
	schema, err := r.reg.Schema(st.SchemaID)
	if err != nil {
		return reject(ReasonUnknownID, "%v", err)
	}
	handle, ok := kindHandlers[schema.Kind]
	if !ok {
		return reject(ReasonUnknownID, "no handler for %s", schema.Kind)
	}
	return handle(r, s, st, schema, subKey, sub)
}

// settledBallot reports whether a pack member's ballot targets a wolf
// meeting that has already been decided.
func (r *Resolver) settledBallot(s *seatState, night, idx int) bool {
	st, ok := r.plan.Step(idx)
	if !ok || st.Kind != KindWolfVote || !s.role.ParticipatesInWolfVote {
		return false
	}
	// A new night only starts once the previous one is complete.
	return night < r.night || r.voteDecided
}

// Acknowledge closes a pending reveal so the step can advance.
func (r *Resolver) Acknowledge(ack Ack) Outcome {
	if r.night == 0 {
		return duplicate()
	}
	night, idx, _, _, err := parseStepKey(ack.StepKey)
	if err != nil {
		return reject(ReasonMalformed, "%v", err)
	}
	if night < r.night {
		return reject(ReasonStaleSubmission, "night %d is over", night)
	}
	if night > r.night {
		return reject(ReasonNotEligible, "night %d has not started", night)
	}
	if r.status == NightComplete || idx < r.step {
		return duplicate()
	}
	if idx > r.step {
		return reject(ReasonNotEligible, "step %d is not open yet", idx)
	}
	p := r.progress[ack.Seat]
	if p == nil {
		return reject(ReasonNotEligible, "seat %d does not act in this step", ack.Seat)
	}
	if p.reveal == nil {
		if p.done {
			return duplicate()
		}
		return reject(ReasonNotEligible, "nothing to acknowledge")
	}
	if ack.SubmissionID != "" && ack.SubmissionID != p.reveal.SubmissionID {
		return reject(ReasonStaleSubmission, "acknowledgement does not match the pending reveal")
	}

	p.reveal = nil
	p.done = true
	r.refreshStatus()
	out := Outcome{Accepted: true}
	r.advanceIfSettled(&out)
	return out
}

// SkipCurrent resolves whatever is left of the current step as skipped.
// Used by the host when a step times out.
func (r *Resolver) SkipCurrent() Outcome {
	if r.night == 0 || r.status == NightComplete {
		return duplicate()
	}
	st, _ := r.plan.Step(r.step)
	schema, _ := r.reg.Schema(st.SchemaID)
	out := Outcome{Accepted: true}

	if schema.Kind == KindWolfVote {
		if !r.voteDecided {
			target, _ := votePolicyFor(schema.Meeting.Resolution).Resolve(r.ballots, len(r.ballots))
			r.decideVote(st, 0, 0, target, &out)
		}
	} else {
		for _, seat := range r.order {
			p := r.progress[seat]
			if p == nil || p.done {
				continue
			}
			p.pendingSwap = nil
			if p.reveal == nil {
				out.Applied = append(out.Applied, r.record(st, "", seat, schema.Effect, nil, true, 0))
			}
			p.reveal = nil
			p.done = true
		}
		r.refreshStatus()
	}
	log.Printf("Night %d: step %d (%s) force-skipped by host", r.night, st.Index, st.RoleID)
	r.advanceIfSettled(&out)
	return out
}

func (r *Resolver) openStep(out *Outcome) {
	for {
		if r.step >= r.plan.Len() {
			r.finishNight(out)
			return
		}
		st, _ := r.plan.Step(r.step)
		schema, _ := r.reg.Schema(st.SchemaID)
		r.status = StepAwaiting
		r.progress = make(map[int]*seatProgress)
		r.contexts = make(map[int]StepContext)

		eligible := r.eligibleSeats(st)
		if len(eligible) == 0 {
			DebugLog("openStep: night %d step %d (%s) has no eligible seat, skipping", r.night, st.Index, st.RoleID)
			if schema.Kind == KindWolfVote {
				r.voteDecided = true
			}
			r.step++
			continue
		}
		for _, seat := range eligible {
			r.progress[seat] = &seatProgress{}
		}
		for _, seat := range eligible {
			r.contexts[seat] = r.contextFor(st, schema, seat)
		}
		out.Opened = append(out.Opened, StepOpened{
			Step:          st,
			StepKey:       stepKey(r.night, st.Index, st.SchemaID, ""),
			EligibleSeats: eligible,
			Contexts:      maps.Clone(r.contexts),
		})
		DebugLog("openStep: night %d step %d (%s/%s) open for seats %v", r.night, st.Index, st.RoleID, st.SchemaID, eligible)
		return
	}
}

func (r *Resolver) eligibleSeats(st NightStep) []int {
	var seats []int
	for _, seat := range r.order {
		s := r.seats[seat]
		if !s.alive {
			continue
		}
		if st.Kind == KindWolfVote {
			if s.role.ParticipatesInWolfVote {
				seats = append(seats, seat)
			}
		} else if s.role.ID == st.RoleID {
			seats = append(seats, seat)
		}
	}
	return seats
}

// contextFor computes the host-side context handed to one acting seat.
func (r *Resolver) contextFor(st NightStep, schema ActionSchema, seat int) StepContext {
	ctx := StepContext{
		StepKey: stepKey(r.night, st.Index, st.SchemaID, ""),
		Blocked: r.blocked[seat],
	}
	p := r.progress[seat]
	switch schema.Kind {
	case KindWolfVote:
		if r.seats[seat].role.CanSeeWolves && schema.Meeting.CanSeeEachOther {
			ctx.Pack = r.visiblePack()
		}
	case KindCompound:
		if p != nil && p.sub < len(schema.Steps) {
			ctx.NextSubStep = schema.Steps[p.sub].Key
			ctx.StepKey = stepKey(r.night, st.Index, st.SchemaID, ctx.NextSubStep)
		}
		for _, sub := range schema.Steps {
			switch sub.Effect {
			case EffectSave:
				pot := r.potionsFor(seat)
				ctx.HasAntidote = pot.antidote
				ctx.SelfSaveAllowed = r.selfSaveAllowed(sub)
				if k := r.visibleKill(seat); k != nil {
					ctx.KilledSeat = k
				}
			case EffectPoison:
				ctx.HasPoison = r.potionsFor(seat).poison
			}
		}
	case KindConfirm:
		if schema.Effect == EffectStatus {
			canShoot := !r.poisonedTonight(seat)
			ctx.CanShoot = &canShoot
		}
	case KindSkip:
		ctx.Fellows = r.fellowsOf(seat)
	case KindSwap:
		if p != nil && p.pendingSwap != nil {
			first := *p.pendingSwap
			ctx.PendingSwap = &first
		}
	}
	return ctx
}

func (r *Resolver) refreshContext(seat int) *StepContext {
	st, _ := r.plan.Step(r.step)
	schema, _ := r.reg.Schema(st.SchemaID)
	ctx := r.contextFor(st, schema, seat)
	r.contexts[seat] = ctx
	return &ctx
}

// visiblePack lists the seats that see each other during the wolf meeting.
func (r *Resolver) visiblePack() []int {
	var pack []int
	for _, seat := range r.order {
		if r.seats[seat].role.CanSeeWolves {
			pack = append(pack, seat)
		}
	}
	return pack
}

// fellowsOf lists the other live seats holding the same role, so seats that
// only wake together know who they are.
func (r *Resolver) fellowsOf(seat int) []int {
	var fellows []int
	role := r.seats[seat].role.ID
	for _, other := range r.order {
		s := r.seats[other]
		if other != seat && s.alive && s.role.ID == role {
			fellows = append(fellows, other)
		}
	}
	return fellows
}

func (r *Resolver) potionsFor(seat int) *potionState {
	p, ok := r.potions[seat]
	if !ok {
		p = &potionState{antidote: true, poison: true}
		r.potions[seat] = p
	}
	return p
}

// visibleKill is the wolves' target as told to a saver: hidden once the
// antidote is spent.
func (r *Resolver) visibleKill(seat int) *int {
	if r.killTarget == nil || !r.potionsFor(seat).antidote {
		return nil
	}
	k := *r.killTarget
	return &k
}

func (r *Resolver) selfSaveAllowed(sub ActionSchema) bool {
	switch sub.SelfSave {
	case SelfSaveAlways:
		return true
	case SelfSaveFirstNight:
		return r.night == 1
	default:
		return false
	}
}

func (r *Resolver) poisonedTonight(seat int) bool {
	remap := swapRemap(r.actions)
	for _, a := range r.actions {
		if a.Effect == EffectPoison && !a.Skipped && len(a.Targets) == 1 && remap(a.Targets[0]) == seat {
			return true
		}
	}
	return false
}

func (r *Resolver) revealFor(target int) Team {
	remap := swapRemap(r.actions)
	return r.seats[remap(target)].role.Team.RevealTeam()
}

func (r *Resolver) record(st NightStep, sub string, seat int, effect Effect, targets []int, skipped bool, nonce uint64) RecordedAction {
	if effect == "" {
		effect = EffectNone
	}
	a := RecordedAction{
		Night:     r.night,
		StepIndex: st.Index,
		SchemaID:  st.SchemaID,
		Sub:       sub,
		Seat:      seat,
		Effect:    effect,
		Targets:   slices.Clone(targets),
		Skipped:   skipped,
		Nonce:     nonce,
	}
	r.actions = append(r.actions, a)
	return a
}

func (r *Resolver) refreshStatus() {
	for _, p := range r.progress {
		if p.reveal != nil {
			r.status = StepAwaitingAck
			return
		}
	}
	r.status = StepAwaiting
}

func (r *Resolver) stepSettled() bool {
	st, _ := r.plan.Step(r.step)
	if st.Kind == KindWolfVote {
		return r.voteDecided
	}
	for _, p := range r.progress {
		if !p.done {
			return false
		}
	}
	return true
}

// advanceIfSettled commits the current step and opens the next one. Step
// i+1 is never opened before step i is settled.
func (r *Resolver) advanceIfSettled(out *Outcome) {
	if !r.stepSettled() {
		return
	}
	st, _ := r.plan.Step(r.step)
	r.status = StepResolved
	DebugLog("advanceIfSettled: night %d step %d (%s) resolved", r.night, st.Index, st.RoleID)
	r.step++
	r.openStep(out)
}

func (r *Resolver) finishNight(out *Outcome) {
	roles := make(map[int]RoleDescriptor, len(r.seats))
	for seat, s := range r.seats {
		roles[seat] = s.role
	}
	report := ComputeDeaths(r.Record(), roles)
	for _, d := range report.Deaths {
		r.seats[d].alive = false
	}
	r.deaths = append(r.deaths, report.Deaths...)
	r.reports = append(r.reports, report)
	r.status = NightComplete
	r.progress = nil
	r.contexts = nil
	out.Report = &report
	if report.Peaceful {
		log.Printf("Night %d complete: peaceful night", r.night)
	} else {
		log.Printf("Night %d complete: deaths %v", r.night, report.Deaths)
	}
}

// Record returns the actions applied so far in the current night.
func (r *Resolver) Record() NightRecord {
	rec := NightRecord{Night: r.night, Actions: make([]RecordedAction, len(r.actions))}
	for i, a := range r.actions {
		a.Targets = slices.Clone(a.Targets)
		rec.Actions[i] = a
	}
	return rec
}

// Report returns the report of a finished night.
func (r *Resolver) Report(night int) (NightReport, bool) {
	if night < 1 || night > len(r.reports) {
		return NightReport{}, false
	}
	return r.reports[night-1], true
}

// Roles returns seat → role for every seat, dead or alive.
func (r *Resolver) Roles() map[int]RoleDescriptor {
	roles := make(map[int]RoleDescriptor, len(r.seats))
	for seat, s := range r.seats {
		roles[seat] = s.role
	}
	return roles
}

func (r *Resolver) players(withRoles bool) []Player {
	players := make([]Player, 0, len(r.order))
	for _, seat := range r.order {
		s := r.seats[seat]
		p := Player{Seat: seat, Name: s.name, Alive: s.alive}
		if withRoles {
			p.RoleID = s.role.ID
		}
		players = append(players, p)
	}
	return players
}

// State returns a deep copy of the authoritative state.
func (r *Resolver) State() GameState {
	g := GameState{
		Night:     r.night,
		Players:   r.players(true),
		StepIndex: r.step,
		Status:    r.status,
		Actions:   r.actions,
		Ballots:   make(map[int]*int),
		Deaths:    r.deaths,
		Contexts:  r.contexts,
	}
	for _, b := range r.ballots {
		g.Ballots[b.VoterSeat] = b.TargetSeat
	}
	for seat := range r.blocked {
		g.BlockedSeats = append(g.BlockedSeats, seat)
	}
	slices.Sort(g.BlockedSeats)
	return g.clone()
}
