package main

import (
	"slices"
	"testing"
)

func TestViewHidesOtherRoles(t *testing.T) {
	n := newTestNight(t, "werewolf", "werewolf", "hiddenWolf", "seer", "villager", "witch")

	sn := n.r.View(4)
	for _, p := range sn.Players {
		switch {
		case p.Seat == 4 && p.RoleID != "seer":
			t.Errorf("Expected own role seer, got %q", p.RoleID)
		case p.Seat != 4 && p.RoleID != "":
			t.Errorf("Expected seat %d role hidden from seat 4, got %q", p.Seat, p.RoleID)
		}
	}
	if sn.Context != nil {
		t.Errorf("Expected no context for a seat that is not acting, got %+v", sn.Context)
	}
	if sn.Step == nil || sn.Step.SchemaID != "wolfKill" {
		t.Errorf("Expected the wolf meeting to be open, got %+v", sn.Step)
	}
}

func TestViewPackVisibility(t *testing.T) {
	n := newTestNight(t, "werewolf", "werewolf", "hiddenWolf", "seer", "villager", "witch")

	wolf := n.r.View(1)
	if wolf.Context == nil || !slices.Equal(wolf.Context.Pack, []int{1, 2}) {
		t.Errorf("Expected werewolf to see pack [1 2], got %+v", wolf.Context)
	}
	hidden := n.r.View(3)
	if hidden.Context == nil {
		t.Fatalf("Expected the hidden wolf to have a meeting context")
	}
	if len(hidden.Context.Pack) != 0 {
		t.Errorf("Expected the hidden wolf to see no pack, got %v", hidden.Context.Pack)
	}

	n.expectAccepted(n.submit(1, "", 5), "wolf ballot")
	n.expectStep("witchPotions")

	if got := n.r.View(2).Ballots; got[1] == nil || *got[1] != 5 {
		t.Errorf("Expected seat 2 to see the pack ballot for 5, got %v", got)
	}
	if got := n.r.View(3).Ballots; len(got) != 0 {
		t.Errorf("Expected the hidden wolf to see no ballots, got %v", got)
	}
	if got := n.r.View(5).Ballots; len(got) != 0 {
		t.Errorf("Expected a villager to see no ballots, got %v", got)
	}
	if got := n.r.View(1).Ballots; got[1] == nil {
		t.Errorf("Expected the voter to see their own ballot")
	}
}

func TestViewContextIsPrivate(t *testing.T) {
	n := newTestNight(t, "werewolf", "werewolf", "hiddenWolf", "seer", "villager", "witch")
	n.expectAccepted(n.submit(1, "", 5), "wolf ballot")

	witch := n.r.View(6)
	if witch.Context == nil || witch.Context.KilledSeat == nil || *witch.Context.KilledSeat != 5 {
		t.Errorf("Expected the witch to be told seat 5 was attacked, got %+v", witch.Context)
	}
	if witch.Context != nil && witch.Context.NextSubStep != "save" {
		t.Errorf("Expected the save sub-step first, got %q", witch.Context.NextSubStep)
	}
	for _, seat := range []int{1, 2, 3, 4, 5} {
		if sn := n.r.View(seat); sn.Context != nil {
			t.Errorf("Expected seat %d to see no witch context, got %+v", seat, sn.Context)
		}
	}
	if got := n.r.View(6).Actions; len(got) != 0 {
		t.Errorf("Expected the witch to see none of the pack's actions, got %v", got)
	}
}

func TestViewPendingReveal(t *testing.T) {
	n := newTestNight(t, "werewolf", "seer", "villager", "villager")
	n.expectAccepted(n.skip(1, ""), "empty ballot")
	n.expectStep("seerCheck")

	out := n.expectAccepted(n.submit(2, "", 1), "seer check")
	sn := n.r.View(2)
	if sn.PendingReveal == nil || sn.PendingReveal.Result != TeamWolf {
		t.Fatalf("Expected a pending wolf reveal in the seer's view, got %+v", sn.PendingReveal)
	}
	if other := n.r.View(3); other.PendingReveal != nil {
		t.Errorf("Expected no reveal in another seat's view")
	}

	n.expectAccepted(n.ack(out.Reveal), "ack")
	if sn := n.r.View(2); sn.PendingReveal != nil || sn.Report == nil {
		t.Errorf("Expected a finished night with no pending reveal, got %+v", sn)
	}
}
