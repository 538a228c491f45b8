package main

// VotePolicy decides a wolf meeting from the ballots cast so far, in
// arrival order. voters is the number of seats allowed to vote.
type VotePolicy interface {
	Resolve(ballots []Ballot, voters int) (target *int, decided bool)
}

var votePolicies = map[VoteResolution]VotePolicy{
	ResolutionFirstVote: firstVotePolicy{},
	ResolutionMajority:  majorityPolicy{},
}

func votePolicyFor(res VoteResolution) VotePolicy {
	if p, ok := votePolicies[res]; ok {
		return p
	}
	return firstVotePolicy{}
}

// firstVotePolicy settles on the first ballot to arrive.
type firstVotePolicy struct{}

func (firstVotePolicy) Resolve(ballots []Ballot, _ int) (*int, bool) {
	if len(ballots) == 0 {
		return nil, false
	}
	return ballots[0].TargetSeat, true
}

// majorityPolicy settles early once one option holds a strict majority of
// all voters; otherwise it waits for every ballot and takes the plurality.
// A tie for first place means no kill.
type majorityPolicy struct{}

const noKill = -1

func (majorityPolicy) Resolve(ballots []Ballot, voters int) (*int, bool) {
	if len(ballots) == 0 {
		return nil, false
	}
	counts := make(map[int]int)
	for _, b := range ballots {
		key := noKill
		if b.TargetSeat != nil {
			key = *b.TargetSeat
		}
		counts[key]++
	}

	best, bestCount, tied := noKill, 0, false
	for key, n := range counts {
		switch {
		case n > bestCount:
			best, bestCount, tied = key, n, false
		case n == bestCount:
			tied = true
		}
	}

	if bestCount*2 > voters {
		return seatOrNone(best), true
	}
	if len(ballots) < voters {
		return nil, false
	}
	if tied {
		return nil, true
	}
	return seatOrNone(best), true
}

func seatOrNone(key int) *int {
	if key == noKill {
		return nil
	}
	return &key
}
