package main

import (
	"fmt"
	"sort"
)

// NightStep is one turn of the night: which role acts, under which schema.
type NightStep struct {
	Index    int        `json:"index"`
	RoleID   string     `json:"roleId"`
	SchemaID string     `json:"schemaId"`
	Kind     ActionKind `json:"kind"`
	// ActsBlind is set when the acting seats do not see their teammates
	// during this step.
	ActsBlind bool `json:"actsBlind,omitempty"`
}

// NightPlan is the ordered, immutable step list for one game.
type NightPlan struct {
	steps []NightStep
}

func (p NightPlan) Len() int {
	return len(p.steps)
}

func (p NightPlan) Step(i int) (NightStep, bool) {
	if i < 0 || i >= len(p.steps) {
		return NightStep{}, false
	}
	return p.steps[i], true
}

// Steps returns a copy of the step list.
func (p NightPlan) Steps() []NightStep {
	return append([]NightStep(nil), p.steps...)
}

// BuildNightPlan derives the night order from the roles present in a
// template. Roles present several times still get one step; the pack step
// is added once when any pack member is present.
func BuildNightPlan(reg *Registry, roleIDs []string) (NightPlan, error) {
	present := make(map[string]bool)
	for _, id := range roleIDs {
		role, err := reg.Role(id)
		if err != nil {
			return NightPlan{}, err
		}
		present[id] = true
		if role.ParticipatesInWolfVote {
			present[PackRoleID] = true
		}
	}

	var acting []RoleDescriptor
	for _, role := range reg.Roles() {
		if !present[role.ID] || !role.HasAction {
			continue
		}
		if role.SchemaID == "" {
			return NightPlan{}, fmt.Errorf("role %q acts at night but has no schema", role.ID)
		}
		acting = append(acting, role)
	}
	sort.SliceStable(acting, func(i, j int) bool {
		return acting[i].Priority < acting[j].Priority
	})

	steps := make([]NightStep, 0, len(acting))
	for i, role := range acting {
		schema, err := reg.Schema(role.SchemaID)
		if err != nil {
			return NightPlan{}, fmt.Errorf("night plan: %w", err)
		}
		step := NightStep{
			Index:    i,
			RoleID:   role.ID,
			SchemaID: schema.ID,
			Kind:     schema.Kind,
		}
		if schema.Meeting != nil && !schema.Meeting.CanSeeEachOther {
			step.ActsBlind = true
		}
		steps = append(steps, step)
	}
	DebugLog("BuildNightPlan: %d roles in template, %d night steps", len(roleIDs), len(steps))
	return NightPlan{steps: steps}, nil
}
