package main

import "slices"

// View builds the snapshot one seat is allowed to see. Other seats' roles,
// targets and private contexts are never included.
func (r *Resolver) View(seat int) Snapshot {
	sn := Snapshot{
		Seat:         seat,
		Night:        r.night,
		StepIndex:    r.step,
		Status:       r.status,
		Players:      r.players(false),
		Actions:      make(map[string][]int),
		Ballots:      make(map[int]*int),
		Deaths:       slices.Clone(r.deaths),
		BlockedSeats: []int{},
	}
	if sn.Deaths == nil {
		sn.Deaths = []int{}
	}
	me, seated := r.seats[seat]
	if seated {
		for i := range sn.Players {
			if sn.Players[i].Seat == seat {
				sn.Players[i].RoleID = me.role.ID
			}
		}
	}

	if r.status == NightComplete {
		if n := len(r.reports); n > 0 {
			rep := r.reports[n-1]
			sn.Report = &rep
			sn.BlockedSeats = slices.Clone(rep.BlockedSeats)
		}
	} else if st, ok := r.plan.Step(r.step); ok {
		sn.Step = &st
		sn.StepKey = stepKey(r.night, st.Index, st.SchemaID, "")
		if r.blocked[seat] {
			sn.BlockedSeats = []int{seat}
		}
	}

	for _, a := range r.actions {
		if a.Seat != seat || a.Night != r.night {
			continue
		}
		key := stepKey(a.Night, a.StepIndex, a.SchemaID, a.Sub)
		sn.Actions[key] = []int{seat}
	}

	seesPack := seated && me.role.CanSeeWolves && r.packMeetingVisible()
	for _, b := range r.ballots {
		voter := r.seats[b.VoterSeat]
		if b.VoterSeat == seat || (seesPack && voter.role.CanSeeWolves) {
			sn.Ballots[b.VoterSeat] = copyTarget(b.TargetSeat)
		}
	}

	if ctx, ok := r.contexts[seat]; ok && r.status != NightComplete {
		sn.Context = &ctx
	}
	if p := r.progress[seat]; p != nil && p.reveal != nil {
		rv := *p.reveal
		sn.PendingReveal = &rv
	}
	return sn
}

func (r *Resolver) packMeetingVisible() bool {
	for _, st := range r.plan.Steps() {
		if st.Kind == KindWolfVote {
			return !st.ActsBlind
		}
	}
	return false
}

func copyTarget(t *int) *int {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
