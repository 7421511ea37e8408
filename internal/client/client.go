// Package client is the participant-side registry client. It satisfies
// peer.Signaler over the HTTP poll surface and can optionally subscribe
// to the websocket push variant of the signaling log.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/valyala/fasthttp"

	"github.com/maelsh/dueli-broadcast/internal/api"
	"github.com/maelsh/dueli-broadcast/internal/domain"
)

type Config struct {
	BaseURL        string
	RoomID         string
	RequestTimeout time.Duration
}

type RegistryClient struct {
	cfg  Config
	http *fasthttp.Client
}

func New(cfg Config) *RegistryClient {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	return &RegistryClient{
		cfg:  cfg,
		http: &fasthttp.Client{ReadTimeout: cfg.RequestTimeout},
	}
}

// CreateRoom opens the room for a competition; host side only.
func (c *RegistryClient) CreateRoom(competitionID, userID string) (domain.RoomStatus, error) {
	var resp api.RoomStatusResponse
	err := c.doJSON(fasthttp.MethodPost, "/api/rooms",
		api.CreateRoomRequest{CompetitionID: competitionID, UserID: userID}, &resp)
	if err != nil {
		return domain.RoomStatus{}, err
	}
	return toDomainStatus(resp), nil
}

func (c *RegistryClient) Join(userID string, role domain.Role) (domain.RoomStatus, error) {
	var resp api.RoomStatusResponse
	err := c.doJSON(fasthttp.MethodPost, "/api/rooms/"+c.cfg.RoomID+"/join",
		api.JoinRoomRequest{UserID: userID, Role: string(role)}, &resp)
	if err != nil {
		return domain.RoomStatus{}, err
	}
	return toDomainStatus(resp), nil
}

func (c *RegistryClient) Status() (domain.RoomStatus, error) {
	var resp api.RoomStatusResponse
	if err := c.doJSON(fasthttp.MethodGet, "/api/rooms/"+c.cfg.RoomID+"/status", nil, &resp); err != nil {
		return domain.RoomStatus{}, err
	}
	return toDomainStatus(resp), nil
}

func (c *RegistryClient) Post(msg domain.SignalingMessage) error {
	return c.doJSON(fasthttp.MethodPost, "/api/rooms/"+c.cfg.RoomID+"/signals",
		api.PostSignalRequest{
			Kind:    string(msg.Kind),
			Sender:  string(msg.Sender),
			Payload: msg.Payload,
		}, nil)
}

func (c *RegistryClient) Pull(role domain.Role, sinceSeq uint64) ([]domain.SignalingMessage, error) {
	var resp api.PullSignalsResponse
	path := fmt.Sprintf("/api/rooms/%s/signals?role=%s&since=%d", c.cfg.RoomID, role, sinceSeq)
	if err := c.doJSON(fasthttp.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	out := make([]domain.SignalingMessage, len(resp.Signals))
	for i, m := range resp.Signals {
		out[i] = domain.SignalingMessage{
			Seq:     m.Seq,
			Round:   m.Round,
			Kind:    domain.SignalKind(m.Kind),
			Sender:  domain.Role(m.Sender),
			Payload: m.Payload,
		}
	}
	return out, nil
}

func (c *RegistryClient) Leave(userID string, role domain.Role) error {
	return c.doJSON(fasthttp.MethodPost, "/api/rooms/"+c.cfg.RoomID+"/leave",
		api.LeaveRoomRequest{UserID: userID, Role: string(role)}, nil)
}

// GoLive asks the server to transition the competition to live.
func (c *RegistryClient) GoLive(competitionID, actorID string) (api.GoLiveResponse, error) {
	var resp api.GoLiveResponse
	err := c.doJSON(fasthttp.MethodPost, "/api/competitions/"+competitionID+"/live",
		api.GoLiveRequest{ActorID: actorID}, &resp)
	return resp, err
}

// EndSession asks the server to end and finalize the competition.
func (c *RegistryClient) EndSession(competitionID, actorID string) (api.EndSessionResponse, error) {
	var resp api.EndSessionResponse
	err := c.doJSON(fasthttp.MethodPost, "/api/competitions/"+competitionID+"/end",
		api.EndSessionRequest{ActorID: actorID}, &resp)
	return resp, err
}

// SubscribeSignals consumes the websocket push endpoint, invoking
// handler per log entry until ctx is done or the socket drops.
func (c *RegistryClient) SubscribeSignals(ctx context.Context, role domain.Role, sinceSeq uint64, handler func(api.SignalMessage)) error {
	url := fmt.Sprintf("%s/ws/rooms/%s/signals?role=%s&since=%d",
		c.webSocketBaseURL(), c.cfg.RoomID, role, sinceSeq)
	slog.Debug("subscribing to signal push", "url", url)

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return fmt.Errorf("dial signal socket: %w", err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	for {
		var msg api.SignalMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		handler(msg)
	}
}

func (c *RegistryClient) webSocketBaseURL() string {
	baseURL := c.cfg.BaseURL
	if strings.HasPrefix(baseURL, "http") {
		baseURL = "ws" + baseURL[4:]
	}
	return baseURL
}

func (c *RegistryClient) doJSON(method, path string, body interface{}, out interface{}) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.cfg.BaseURL + path)
	req.Header.SetMethod(method)
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		req.Header.SetContentType("application/json")
		req.SetBody(payload)
	}

	if err := c.http.DoTimeout(req, resp, c.cfg.RequestTimeout); err != nil {
		return err
	}

	code := resp.StatusCode()
	if code >= 400 {
		return statusToError(code, resp.Body())
	}
	if out != nil && len(resp.Body()) > 0 {
		return json.Unmarshal(resp.Body(), out)
	}
	return nil
}

// statusToError maps the server's status codes back onto the domain
// sentinels so callers can errors.Is across the wire.
func statusToError(code int, body []byte) error {
	var e api.ErrorResponse
	detail := string(body)
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		detail = e.Error
	}
	switch code {
	case fasthttp.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrRoomNotFound, detail)
	case fasthttp.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrPermissionDenied, detail)
	case fasthttp.StatusConflict:
		return fmt.Errorf("%w: %s", domain.ErrRoomAlreadyExists, detail)
	case fasthttp.StatusGone:
		return fmt.Errorf("%w: %s", domain.ErrRoomClosed, detail)
	default:
		return fmt.Errorf("registry returned %d: %s", code, detail)
	}
}

func toDomainStatus(resp api.RoomStatusResponse) domain.RoomStatus {
	return domain.RoomStatus{
		HostPresent:     resp.HostPresent,
		OpponentPresent: resp.OpponentPresent,
		Closed:          resp.Closed,
	}
}
