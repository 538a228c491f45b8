package main

type kindHandler func(r *Resolver, s *seatState, st NightStep, schema ActionSchema, subKey string, sub Submission) Outcome

// kindHandlers dispatches a submission on the schema's kind.
var kindHandlers = map[ActionKind]kindHandler{
	KindChooseSeat: (*Resolver).handleChooseSeat,
	KindWolfVote:   (*Resolver).handleWolfVote,
	KindCompound:   (*Resolver).handleCompound,
	KindSwap:       (*Resolver).handleSwap,
	KindConfirm:    (*Resolver).handleConfirm,
	KindSkip:       (*Resolver).handleSkip,
}

// actorCheck applies the checks shared by every single-role step. A nil
// progress means the returned outcome must be sent as is.
func (r *Resolver) actorCheck(s *seatState, st NightStep, sub Submission) (*seatProgress, Outcome) {
	if !s.alive {
		return nil, reject(ReasonNotEligible, "dead seats cannot act")
	}
	p := r.progress[s.seat]
	if s.role.ID != st.RoleID || p == nil {
		return nil, reject(ReasonNotEligible, "seat %d does not act in this step", s.seat)
	}
	if p.done {
		return nil, duplicate()
	}
	if p.reveal != nil {
		out := duplicate()
		out.Reveal = p.reveal
		return nil, out
	}
	// Blocking is always re-checked here: the client's view may be stale.
	if r.blocked[s.seat] && !sub.Skip {
		return nil, reject(ReasonBlocked, "your skill is blocked tonight")
	}
	return p, Outcome{}
}

// checkTarget validates one target seat against a schema's constraints.
func (r *Resolver) checkTarget(s *seatState, schema ActionSchema, target int) *Outcome {
	t, ok := r.seats[target]
	if !ok {
		out := reject(ReasonConstraintViolation, "seat %d does not exist", target)
		return &out
	}
	for _, c := range schema.Constraints {
		var out Outcome
		switch c {
		case ConstraintNotSelf:
			if target == s.seat {
				out = reject(ReasonConstraintViolation, "you cannot target yourself")
			}
		case ConstraintAlive:
			if !t.alive {
				out = reject(ReasonConstraintViolation, "seat %d is dead", target)
			}
		case ConstraintNotRepeatTarget:
			if last, ok := r.lastProtect[s.seat]; ok && last == target {
				out = reject(ReasonConstraintViolation, "seat %d was chosen last night", target)
			}
		case ConstraintKilledSeatOnly:
			if k := r.visibleKill(s.seat); k == nil || *k != target {
				out = reject(ReasonConstraintViolation, "only the seat attacked tonight can be saved")
			}
		}
		if out.Rejection != nil {
			return &out
		}
	}
	// Self-save legality comes from the host, whatever the client believes.
	if schema.Effect == EffectSave && target == s.seat && !r.selfSaveAllowed(schema) {
		out := reject(ReasonConstraintViolation, "you cannot save yourself tonight")
		return &out
	}
	return nil
}

func (r *Resolver) applyEffect(s *seatState, effect Effect, target int) {
	switch effect {
	case EffectBlock:
		r.blocked[target] = true
	case EffectProtect:
		r.tonightProtect[s.seat] = target
	case EffectSave:
		r.potionsFor(s.seat).antidote = false
	case EffectPoison:
		r.potionsFor(s.seat).poison = false
	}
}

func (r *Resolver) skipAllowed(s *seatState, schema ActionSchema) bool {
	return schema.CanSkip || r.blocked[s.seat]
}

func (r *Resolver) complete(p *seatProgress, out *Outcome) {
	p.done = true
	r.advanceIfSettled(out)
}

func (r *Resolver) handleChooseSeat(s *seatState, st NightStep, schema ActionSchema, _ string, sub Submission) Outcome {
	p, early := r.actorCheck(s, st, sub)
	if p == nil {
		return early
	}
	if sub.Skip {
		if !r.skipAllowed(s, schema) {
			return reject(ReasonConstraintViolation, "this action cannot be skipped")
		}
		out := Outcome{Accepted: true}
		out.Applied = append(out.Applied, r.record(st, "", s.seat, schema.Effect, nil, true, sub.Nonce))
		r.complete(p, &out)
		return out
	}
	if len(sub.Target) != 1 {
		return reject(ReasonMalformed, "choose exactly one seat")
	}
	target := sub.Target[0]
	if rej := r.checkTarget(s, schema, target); rej != nil {
		return *rej
	}

	out := Outcome{Accepted: true}
	out.Applied = append(out.Applied, r.record(st, "", s.seat, schema.Effect, []int{target}, false, sub.Nonce))
	r.applyEffect(s, schema.Effect, target)

	if schema.Reveal {
		p.reveal = &RevealEvent{
			SubmissionID: sub.ID(),
			Seat:         s.seat,
			StepKey:      sub.StepKey,
			TargetSeat:   target,
			Result:       r.revealFor(target),
		}
		r.status = StepAwaitingAck
		out.Reveal = p.reveal
		return out
	}
	r.complete(p, &out)
	return out
}

func (r *Resolver) handleWolfVote(s *seatState, st NightStep, schema ActionSchema, _ string, sub Submission) Outcome {
	if !s.alive {
		return reject(ReasonNotEligible, "dead seats cannot vote")
	}
	if !s.role.ParticipatesInWolfVote || r.progress[s.seat] == nil {
		return reject(ReasonNotEligible, "only the pack votes in this step")
	}
	if r.voteDecided {
		return duplicate()
	}
	for _, b := range r.ballots {
		if b.VoterSeat == s.seat {
			return duplicate()
		}
	}

	var target *int
	switch {
	case sub.Skip || len(sub.Target) == 0:
		if !schema.Meeting.AllowEmptyVote {
			return reject(ReasonConstraintViolation, "an empty vote is not allowed")
		}
	case len(sub.Target) == 1:
		if rej := r.checkTarget(s, schema, sub.Target[0]); rej != nil {
			return *rej
		}
		t := sub.Target[0]
		target = &t
	default:
		return reject(ReasonMalformed, "vote for exactly one seat")
	}

	r.ballots = append(r.ballots, Ballot{VoterSeat: s.seat, TargetSeat: target})
	r.progress[s.seat].done = true
	out := Outcome{Accepted: true}
	decided, ok := votePolicyFor(schema.Meeting.Resolution).Resolve(r.ballots, len(r.progress))
	if ok {
		r.decideVote(st, s.seat, sub.Nonce, decided, &out)
		r.advanceIfSettled(&out)
	}
	return out
}

func (r *Resolver) decideVote(st NightStep, seat int, nonce uint64, target *int, out *Outcome) {
	r.voteDecided = true
	var targets []int
	if target != nil {
		t := *target
		r.killTarget = &t
		targets = []int{t}
	}
	out.Applied = append(out.Applied, r.record(st, "", seat, EffectKill, targets, target == nil, nonce))
	if target != nil {
		DebugLog("decideVote: night %d pack target is seat %d", r.night, *target)
	} else {
		DebugLog("decideVote: night %d pack chose no kill", r.night)
	}
}

func (r *Resolver) handleCompound(s *seatState, st NightStep, schema ActionSchema, subKey string, sub Submission) Outcome {
	p, early := r.actorCheck(s, st, sub)
	if p == nil {
		return early
	}
	if subKey == "" {
		return reject(ReasonMalformed, "step key must name a sub-step")
	}
	step, i, ok := schema.Step(subKey)
	if !ok {
		return reject(ReasonUnknownID, "unknown sub-step %q", subKey)
	}
	if i < p.sub {
		return duplicate()
	}
	if i > p.sub {
		return reject(ReasonConstraintViolation, "sub-step %q must be resolved first", schema.Steps[p.sub].Key)
	}

	out := Outcome{Accepted: true}
	switch {
	case sub.Skip:
		if !r.skipAllowed(s, step) {
			return reject(ReasonConstraintViolation, "%s cannot be skipped", step.Key)
		}
		out.Applied = append(out.Applied, r.record(st, step.Key, s.seat, step.Effect, nil, true, sub.Nonce))
	case step.Kind == KindChooseSeat:
		if len(sub.Target) != 1 {
			return reject(ReasonMalformed, "choose exactly one seat")
		}
		target := sub.Target[0]
		if rej := r.checkTarget(s, step, target); rej != nil {
			return *rej
		}
		pot := r.potionsFor(s.seat)
		if step.Effect == EffectSave && !pot.antidote {
			return reject(ReasonConstraintViolation, "the antidote is used up")
		}
		if step.Effect == EffectPoison && !pot.poison {
			return reject(ReasonConstraintViolation, "the poison is used up")
		}
		out.Applied = append(out.Applied, r.record(st, step.Key, s.seat, step.Effect, []int{target}, false, sub.Nonce))
		r.applyEffect(s, step.Effect, target)
	default:
		if len(sub.Target) > 0 {
			return reject(ReasonMalformed, "%s takes no target", step.Key)
		}
		out.Applied = append(out.Applied, r.record(st, step.Key, s.seat, step.Effect, nil, step.Kind == KindSkip, sub.Nonce))
	}

	p.sub++
	if p.sub < len(schema.Steps) {
		out.Context = r.refreshContext(s.seat)
		return out
	}
	r.complete(p, &out)
	return out
}

func (r *Resolver) handleSwap(s *seatState, st NightStep, schema ActionSchema, _ string, sub Submission) Outcome {
	p, early := r.actorCheck(s, st, sub)
	if p == nil {
		return early
	}
	if sub.Skip {
		if !r.skipAllowed(s, schema) {
			return reject(ReasonConstraintViolation, "this action cannot be skipped")
		}
		p.pendingSwap = nil
		out := Outcome{Accepted: true}
		out.Applied = append(out.Applied, r.record(st, "", s.seat, schema.Effect, nil, true, sub.Nonce))
		r.complete(p, &out)
		return out
	}

	for _, t := range sub.Target {
		if rej := r.checkTarget(s, schema, t); rej != nil {
			return *rej
		}
	}
	var first, second int
	switch len(sub.Target) {
	case 1:
		if p.pendingSwap == nil {
			t := sub.Target[0]
			p.pendingSwap = &t
			return Outcome{Accepted: true, Context: r.refreshContext(s.seat)}
		}
		first, second = *p.pendingSwap, sub.Target[0]
	case 2:
		if p.pendingSwap != nil {
			return reject(ReasonConstraintViolation, "seat %d is already chosen, pick the second seat", *p.pendingSwap)
		}
		first, second = sub.Target[0], sub.Target[1]
	default:
		return reject(ReasonMalformed, "swap takes one or two seats")
	}
	if first == second {
		return reject(ReasonConstraintViolation, "swap needs two different seats")
	}

	p.pendingSwap = nil
	out := Outcome{Accepted: true}
	out.Applied = append(out.Applied, r.record(st, "", s.seat, schema.Effect, []int{first, second}, false, sub.Nonce))
	r.complete(p, &out)
	return out
}

func (r *Resolver) handleConfirm(s *seatState, st NightStep, schema ActionSchema, _ string, sub Submission) Outcome {
	p, early := r.actorCheck(s, st, sub)
	if p == nil {
		return early
	}
	if len(sub.Target) > 0 {
		return reject(ReasonMalformed, "this step takes no target")
	}
	if sub.Skip && !r.skipAllowed(s, schema) {
		return reject(ReasonConstraintViolation, "this step must be confirmed")
	}
	out := Outcome{Accepted: true}
	out.Applied = append(out.Applied, r.record(st, "", s.seat, schema.Effect, nil, sub.Skip, sub.Nonce))
	r.complete(p, &out)
	return out
}

func (r *Resolver) handleSkip(s *seatState, st NightStep, schema ActionSchema, _ string, sub Submission) Outcome {
	p, early := r.actorCheck(s, st, sub)
	if p == nil {
		return early
	}
	if len(sub.Target) > 0 {
		return reject(ReasonMalformed, "this step takes no target")
	}
	out := Outcome{Accepted: true}
	out.Applied = append(out.Applied, r.record(st, "", s.seat, schema.Effect, nil, true, sub.Nonce))
	r.complete(p, &out)
	return out
}
