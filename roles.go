package main

// Team is the camp a role belongs to for reveal purposes.
type Team string

const (
	TeamWolf Team = "wolf"
	TeamGood Team = "good"
	// TeamThird is a display bucket only; reveals treat it as good.
	TeamThird Team = "third"
)

// RevealTeam is what a seer-style check reports: wolf or good, nothing else.
func (t Team) RevealTeam() Team {
	if t == TeamWolf {
		return TeamWolf
	}
	return TeamGood
}

// PackRoleID is the role whose step hosts the wolf-pack vote. Any pack
// member in a template pulls this step into the night plan.
const PackRoleID = "werewolf"

// RoleDescriptor is the static, per-role data loaded from roles.yaml.
type RoleDescriptor struct {
	ID                     string `yaml:"id" json:"id"`
	Name                   string `yaml:"name" json:"name"`
	Faction                string `yaml:"faction" json:"faction"`
	Team                   Team   `yaml:"team" json:"team"`
	HasAction              bool   `yaml:"has_action" json:"hasAction"`
	Priority               int    `yaml:"priority" json:"priority"`
	SchemaID               string `yaml:"schema" json:"schemaId,omitempty"`
	CanSeeWolves           bool   `yaml:"can_see_wolves" json:"canSeeWolves"`
	ParticipatesInWolfVote bool   `yaml:"wolf_vote" json:"participatesInWolfVote"`
	BlocksSkills           bool   `yaml:"blocks_skills" json:"blocksSkills"`
	ImmuneToNightDamage    bool   `yaml:"immune_to_night_damage" json:"immuneToNightDamage"`
}
