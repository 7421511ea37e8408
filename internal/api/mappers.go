package api

import (
	"github.com/maelsh/dueli-broadcast/internal/domain"
)

func ToRoomStatusResponse(roomID string, status domain.RoomStatus) RoomStatusResponse {
	return RoomStatusResponse{
		RoomID:          roomID,
		HostPresent:     status.HostPresent,
		OpponentPresent: status.OpponentPresent,
		Closed:          status.Closed,
	}
}

func ToSignalMessage(msg domain.SignalingMessage) SignalMessage {
	return SignalMessage{
		Seq:     msg.Seq,
		Round:   msg.Round,
		Kind:    string(msg.Kind),
		Sender:  string(msg.Sender),
		Payload: msg.Payload,
	}
}

func ToSignalMessages(msgs []domain.SignalingMessage) []SignalMessage {
	out := make([]SignalMessage, len(msgs))
	for i, m := range msgs {
		out[i] = ToSignalMessage(m)
	}
	return out
}

func FromPostSignalRequest(req PostSignalRequest) domain.SignalingMessage {
	return domain.SignalingMessage{
		Kind:    domain.SignalKind(req.Kind),
		Sender:  domain.Role(req.Sender),
		Payload: req.Payload,
	}
}
