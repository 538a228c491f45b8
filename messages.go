package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Reason is the stable, machine-readable cause of a rejection.
type Reason string

const (
	ReasonUnknownID           Reason = "unknownId"
	ReasonConstraintViolation Reason = "constraintViolation"
	ReasonBlocked             Reason = "blocked"
	ReasonStaleSubmission     Reason = "staleSubmission"
	ReasonNotEligible         Reason = "notEligible"
	ReasonMalformed           Reason = "malformed"
	// ReasonDuplicateSubmission marks accepted no-ops. It is never sent to
	// the submitter as a rejection.
	ReasonDuplicateSubmission Reason = "duplicateSubmission"
)

// Target is either empty, a single seat, or a pair of seats (swap).
// On the wire it is null, a number, or a two element array.
type Target []int

func (t Target) MarshalJSON() ([]byte, error) {
	switch len(t) {
	case 0:
		return []byte("null"), nil
	case 1:
		return json.Marshal(t[0])
	default:
		return json.Marshal([]int(t))
	}
}

func (t *Target) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" || s == "" {
		*t = nil
		return nil
	}
	if strings.HasPrefix(s, "[") {
		var seats []int
		if err := json.Unmarshal(b, &seats); err != nil {
			return err
		}
		*t = seats
		return nil
	}
	var seat int
	if err := json.Unmarshal(b, &seat); err != nil {
		return fmt.Errorf("target must be a seat or a pair of seats: %w", err)
	}
	*t = Target{seat}
	return nil
}

// Submission is a device's intent for one step. Seat is always overwritten
// by the host from the connection's session before it reaches a resolver.
type Submission struct {
	Seat    int    `json:"seat"`
	StepKey string `json:"stepKey"`
	Target  Target `json:"target"`
	Skip    bool   `json:"skip,omitempty"`
	Nonce   uint64 `json:"nonce"`
}

// ID correlates rejections and reveals with the submission that caused them.
func (s Submission) ID() string {
	return fmt.Sprintf("%d:%d", s.Seat, s.Nonce)
}

// Ballot is one pack member's wolf vote; a nil target is an explicit no-kill.
type Ballot struct {
	VoterSeat  int  `json:"voterSeat"`
	TargetSeat *int `json:"targetSeat"`
}

// Ack acknowledges a reveal so the step can advance.
type Ack struct {
	Seat         int    `json:"seat"`
	StepKey      string `json:"stepKey"`
	SubmissionID string `json:"submissionId"`
}

type Rejection struct {
	SubmissionID string `json:"correlatedSubmissionId"`
	Seat         int    `json:"seat"`
	StepKey      string `json:"stepKey"`
	Reason       Reason `json:"reason"`
	Message      string `json:"message"`
}

func (r Rejection) Error() string {
	return fmt.Sprintf("%s: %s", r.Reason, r.Message)
}

// SubmitResult answers an accepted submission. Duplicate is set for
// no-ops such as a late ballot on an already decided vote.
type SubmitResult struct {
	SubmissionID string `json:"correlatedSubmissionId"`
	Duplicate    bool   `json:"duplicate,omitempty"`
}

type RevealEvent struct {
	SubmissionID string `json:"correlatedSubmissionId"`
	Seat         int    `json:"seat"`
	StepKey      string `json:"stepKey"`
	TargetSeat   int    `json:"targetSeat"`
	Result       Team   `json:"result"`
}

// StepContext is host-computed data private to one acting seat. Clients
// never send any of it back; the resolver recomputes what it needs.
type StepContext struct {
	StepKey         string `json:"stepKey"`
	Blocked         bool   `json:"blocked,omitempty"`
	KilledSeat      *int   `json:"killedSeat,omitempty"`
	SelfSaveAllowed bool   `json:"selfSaveAllowed,omitempty"`
	HasAntidote     bool   `json:"hasAntidote,omitempty"`
	HasPoison       bool   `json:"hasPoison,omitempty"`
	CanShoot        *bool  `json:"canShoot,omitempty"`
	Pack            []int  `json:"pack,omitempty"`
	Fellows         []int  `json:"fellows,omitempty"`
	NextSubStep     string `json:"nextSubStep,omitempty"`
	PendingSwap     *int   `json:"pendingSwap,omitempty"`
}

// StepOpened is emitted whenever the resolver opens a step.
type StepOpened struct {
	Step          NightStep           `json:"step"`
	StepKey       string              `json:"stepKey"`
	EligibleSeats []int               `json:"eligibleSeats"`
	Contexts      map[int]StepContext `json:"-"`
}

type NightReport struct {
	Night        int   `json:"night"`
	Deaths       []int `json:"deaths"`
	BlockedSeats []int `json:"blockedSeats"`
	Peaceful     bool  `json:"peaceful"`
}

// Message types on the websocket.
const (
	MsgSubmit          = "submit"
	MsgAck             = "ack"
	MsgSnapshotRequest = "snapshotRequest"
	MsgSnapshot        = "snapshot"
	MsgStepContext     = "stepContext"
	MsgResult          = "result"
	MsgRejection       = "rejection"
	MsgReveal          = "reveal"
	MsgReport          = "report"
	MsgNarration       = "narration"
	MsgNotice          = "notice"
)

// Envelope is the single JSON frame exchanged over the websocket.
type Envelope struct {
	Type       string        `json:"type"`
	Submission *Submission   `json:"submission,omitempty"`
	Ack        *Ack          `json:"ack,omitempty"`
	Snapshot   *Snapshot     `json:"snapshot,omitempty"`
	Context    *StepContext  `json:"context,omitempty"`
	Result     *SubmitResult `json:"result,omitempty"`
	Rejection  *Rejection    `json:"rejection,omitempty"`
	Reveal     *RevealEvent  `json:"reveal,omitempty"`
	Report     *NightReport  `json:"report,omitempty"`
	Text       string        `json:"text,omitempty"`
}

// stepKey renders "night:index:schema" or "night:index:schema/sub".
func stepKey(night, index int, schemaID, sub string) string {
	k := strconv.Itoa(night) + ":" + strconv.Itoa(index) + ":" + schemaID
	if sub != "" {
		k += "/" + sub
	}
	return k
}

func parseStepKey(key string) (night, index int, schemaID, sub string, err error) {
	parts := strings.SplitN(key, ":", 3)
	if len(parts) != 3 {
		return 0, 0, "", "", fmt.Errorf("step key %q: want night:index:schema", key)
	}
	night, err = strconv.Atoi(parts[0])
	if err != nil || night < 1 {
		return 0, 0, "", "", fmt.Errorf("step key %q: bad night", key)
	}
	index, err = strconv.Atoi(parts[1])
	if err != nil || index < 0 {
		return 0, 0, "", "", fmt.Errorf("step key %q: bad index", key)
	}
	schemaID, sub, _ = strings.Cut(parts[2], "/")
	if schemaID == "" {
		return 0, 0, "", "", fmt.Errorf("step key %q: missing schema", key)
	}
	return night, index, schemaID, sub, nil
}
