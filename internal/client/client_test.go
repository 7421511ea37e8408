package client

import (
	"errors"
	"testing"

	"github.com/valyala/fasthttp"

	"github.com/maelsh/dueli-broadcast/internal/domain"
)

func TestStatusToError_MapsDomainSentinels(t *testing.T) {
	tests := []struct {
		code int
		want error
	}{
		{fasthttp.StatusNotFound, domain.ErrRoomNotFound},
		{fasthttp.StatusForbidden, domain.ErrPermissionDenied},
		{fasthttp.StatusConflict, domain.ErrRoomAlreadyExists},
		{fasthttp.StatusGone, domain.ErrRoomClosed},
	}
	for _, tt := range tests {
		err := statusToError(tt.code, []byte(`{"error":"details"}`))
		if !errors.Is(err, tt.want) {
			t.Errorf("code %d mapped to %v, want %v", tt.code, err, tt.want)
		}
	}

	err := statusToError(fasthttp.StatusInternalServerError, []byte("boom"))
	if err == nil {
		t.Fatal("expected generic error for 500")
	}
}

func TestWebSocketBaseURL(t *testing.T) {
	tests := []struct {
		base string
		want string
	}{
		{"http://localhost:8000", "ws://localhost:8000"},
		{"https://relay.example.com", "wss://relay.example.com"},
	}
	for _, tt := range tests {
		c := New(Config{BaseURL: tt.base, RoomID: "room-1"})
		if got := c.webSocketBaseURL(); got != tt.want {
			t.Errorf("webSocketBaseURL(%q) = %q, want %q", tt.base, got, tt.want)
		}
	}
}
