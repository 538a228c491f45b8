package main

import "slices"

// swapRemap returns the seat mapping produced by any swap recorded tonight.
func swapRemap(actions []RecordedAction) func(int) int {
	swapped := make(map[int]int)
	for _, a := range actions {
		if a.Effect != EffectSwap || a.Skipped || len(a.Targets) != 2 {
			continue
		}
		x, y := a.Targets[0], a.Targets[1]
		swapped[x], swapped[y] = y, x
	}
	return func(seat int) int {
		if to, ok := swapped[seat]; ok {
			return to
		}
		return seat
	}
}

// ComputeDeaths turns one night's recorded actions into its outcome. It is
// a pure function: the same record always yields the same report.
//
// The wolves' target dies unless exactly one of protection or save covers
// it; a seat that is both guarded and saved still dies. Poison ignores
// protection. Seats immune to night damage survive both.
func ComputeDeaths(rec NightRecord, roles map[int]RoleDescriptor) NightReport {
	remap := swapRemap(rec.Actions)

	var kill *int
	protected := make(map[int]bool)
	saved := make(map[int]bool)
	poisoned := make(map[int]bool)
	var blocked []int

	for _, a := range rec.Actions {
		if a.Skipped || len(a.Targets) == 0 {
			continue
		}
		t := remap(a.Targets[0])
		switch a.Effect {
		case EffectKill:
			kill = &t
		case EffectProtect:
			protected[t] = true
		case EffectSave:
			saved[t] = true
		case EffectPoison:
			poisoned[t] = true
		case EffectBlock:
			blocked = append(blocked, a.Targets[0])
		}
	}

	dead := make(map[int]bool)
	if kill != nil && !roles[*kill].ImmuneToNightDamage && protected[*kill] == saved[*kill] {
		dead[*kill] = true
	}
	for seat := range poisoned {
		if !roles[seat].ImmuneToNightDamage {
			dead[seat] = true
		}
	}

	deaths := make([]int, 0, len(dead))
	for seat := range dead {
		deaths = append(deaths, seat)
	}
	slices.Sort(deaths)
	slices.Sort(blocked)
	blocked = slices.Compact(blocked)
	if blocked == nil {
		blocked = []int{}
	}

	return NightReport{
		Night:        rec.Night,
		Deaths:       deaths,
		BlockedSeats: blocked,
		Peaceful:     len(deaths) == 0,
	}
}
