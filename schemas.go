package main

import "fmt"

// ActionKind discriminates the ActionSchema union.
type ActionKind string

const (
	KindChooseSeat ActionKind = "chooseSeat"
	KindWolfVote   ActionKind = "wolfVote"
	KindCompound   ActionKind = "compound"
	KindSwap       ActionKind = "swap"
	KindConfirm    ActionKind = "confirm"
	KindSkip       ActionKind = "skip"
)

// Effect says what an applied action does to the night's outcome.
// Death computation only ever looks at effects.
type Effect string

const (
	EffectNone    Effect = "none"
	EffectCheck   Effect = "check"
	EffectProtect Effect = "protect"
	EffectKill    Effect = "kill"
	EffectSave    Effect = "save"
	EffectPoison  Effect = "poison"
	EffectBlock   Effect = "block"
	EffectSwap    Effect = "swap"
	EffectStatus  Effect = "status"
)

// Constraint restricts the seats a submission may target.
type Constraint string

const (
	ConstraintNotSelf         Constraint = "notSelf"
	ConstraintAlive           Constraint = "alive"
	ConstraintNotRepeatTarget Constraint = "notRepeatTarget"
	ConstraintKilledSeatOnly  Constraint = "killedSeatOnly"
	ConstraintDistinctTargets Constraint = "distinctTargets"
)

// VoteResolution selects the VotePolicy of a wolf meeting.
type VoteResolution string

const (
	ResolutionFirstVote VoteResolution = "firstVote"
	ResolutionMajority  VoteResolution = "majority"
)

// SelfSavePolicy decides when the save step may target the acting seat.
type SelfSavePolicy string

const (
	SelfSaveNever      SelfSavePolicy = "never"
	SelfSaveFirstNight SelfSavePolicy = "firstNight"
	SelfSaveAlways     SelfSavePolicy = "always"
)

// Meeting configures a wolfVote step.
type Meeting struct {
	CanSeeEachOther bool           `yaml:"can_see_each_other" json:"canSeeEachOther"`
	Resolution      VoteResolution `yaml:"resolution" json:"resolution"`
	AllowEmptyVote  bool           `yaml:"allow_empty_vote" json:"allowEmptyVote"`
}

// ActionSchema is the declarative contract of one action kind. Only the
// fields relevant to Kind are set: Meeting for wolfVote, Steps for
// compound, SelfSave on a compound's save step.
type ActionSchema struct {
	ID          string         `yaml:"id" json:"id,omitempty"`
	Key         string         `yaml:"key" json:"key,omitempty"`
	Kind        ActionKind     `yaml:"kind" json:"kind"`
	CanSkip     bool           `yaml:"can_skip" json:"canSkip"`
	Constraints []Constraint   `yaml:"constraints" json:"constraints,omitempty"`
	Reveal      bool           `yaml:"reveal" json:"reveal,omitempty"`
	Effect      Effect         `yaml:"effect" json:"effect,omitempty"`
	Meeting     *Meeting       `yaml:"meeting" json:"meeting,omitempty"`
	Steps       []ActionSchema `yaml:"steps" json:"steps,omitempty"`
	SelfSave    SelfSavePolicy `yaml:"self_save" json:"selfSave,omitempty"`
}

// Step returns the named sub-step of a compound schema and its position.
func (s ActionSchema) Step(key string) (ActionSchema, int, bool) {
	for i, st := range s.Steps {
		if st.Key == key {
			return st, i, true
		}
	}
	return ActionSchema{}, -1, false
}

func (s ActionSchema) validate() error {
	switch s.Kind {
	case KindChooseSeat, KindSwap, KindConfirm:
	case KindSkip:
		if !s.CanSkip {
			return fmt.Errorf("schema %q: skip kind must be skippable", s.name())
		}
	case KindWolfVote:
		if s.Meeting == nil {
			return fmt.Errorf("schema %q: wolfVote needs a meeting", s.name())
		}
		switch s.Meeting.Resolution {
		case ResolutionFirstVote, ResolutionMajority:
		default:
			return fmt.Errorf("schema %q: unknown vote resolution %q", s.name(), s.Meeting.Resolution)
		}
	case KindCompound:
		if len(s.Steps) == 0 {
			return fmt.Errorf("schema %q: compound must enumerate at least one step", s.name())
		}
		seen := make(map[string]bool)
		targeted := false
		for _, st := range s.Steps {
			if st.Key == "" || seen[st.Key] {
				return fmt.Errorf("schema %q: sub-step keys must be unique and non-empty", s.name())
			}
			seen[st.Key] = true
			switch st.Kind {
			case KindChooseSeat:
				targeted = true
			case KindConfirm, KindSkip:
			default:
				return fmt.Errorf("schema %q: sub-step %q has unsupported kind %q", s.name(), st.Key, st.Kind)
			}
			st.ID = s.ID
			if err := st.validate(); err != nil {
				return err
			}
		}
		if !targeted {
			return fmt.Errorf("schema %q: compound needs a step that targets a seat", s.name())
		}
		return nil
	default:
		return fmt.Errorf("schema %q: unknown kind %q", s.name(), s.Kind)
	}
	if len(s.Steps) > 0 {
		return fmt.Errorf("schema %q: only compound schemas own steps", s.name())
	}
	switch s.SelfSave {
	case "", SelfSaveNever, SelfSaveFirstNight, SelfSaveAlways:
	default:
		return fmt.Errorf("schema %q: unknown self-save policy %q", s.name(), s.SelfSave)
	}
	return nil
}

func (s ActionSchema) name() string {
	if s.Key != "" {
		return s.ID + "/" + s.Key
	}
	return s.ID
}
