package main

import "log"

// Private deliveries to one seat. Rejections, reveals and contexts are
// never broadcast.

func sendRejection(h *Hub, roomID string, rej Rejection) {
	DebugLog("sendRejection: %s/%d %s: %s", roomID, rej.Seat, rej.Reason, rej.Message)
	h.sendEnvelope(roomID, rej.Seat, Envelope{Type: MsgRejection, Rejection: &rej})
}

func sendResult(h *Hub, roomID string, seat int, res SubmitResult) {
	h.sendEnvelope(roomID, seat, Envelope{Type: MsgResult, Result: &res})
}

func sendReveal(h *Hub, roomID string, rv RevealEvent) {
	h.sendEnvelope(roomID, rv.Seat, Envelope{Type: MsgReveal, Reveal: &rv})
}

func sendContext(h *Hub, roomID string, seat int, ctx StepContext) {
	h.sendEnvelope(roomID, seat, Envelope{Type: MsgStepContext, Context: &ctx})
}

func sendSnapshot(h *Hub, roomID string, sn Snapshot) {
	h.sendEnvelope(roomID, sn.Seat, Envelope{Type: MsgSnapshot, Snapshot: &sn})
}

func sendNotice(h *Hub, roomID string, seat int, text string) {
	log.Printf("Notice to %s/%d: %s", roomID, seat, text)
	h.sendEnvelope(roomID, seat, Envelope{Type: MsgNotice, Text: text})
}
