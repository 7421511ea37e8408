// Package competition adapts the external competition service. The
// record itself (persistence, authorization) is owned by the
// surrounding backend; this core only reads the pairing and writes the
// status/URL fields.
package competition

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/maelsh/dueli-broadcast/internal/domain"
)

// HTTPService talks to the backend's competition endpoints.
type HTTPService struct {
	baseURL string
	timeout time.Duration
	client  *fasthttp.Client
}

func NewHTTPService(baseURL string, timeout time.Duration) *HTTPService {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPService{
		baseURL: baseURL,
		timeout: timeout,
		client:  &fasthttp.Client{ReadTimeout: timeout},
	}
}

type competitionPayload struct {
	ID         string `json:"id"`
	CreatorID  string `json:"creatorId"`
	OpponentID string `json:"opponentId"`
	Status     string `json:"status"`
}

type statusUpdatePayload struct {
	Status   string `json:"status"`
	VideoURL string `json:"videoUrl"`
}

func (s *HTTPService) GetCompetition(id string) (domain.Competition, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(s.baseURL + "/competitions/" + id)
	req.Header.SetMethod(fasthttp.MethodGet)

	if err := s.client.DoTimeout(req, resp, s.timeout); err != nil {
		return domain.Competition{}, fmt.Errorf("get competition: %w", err)
	}
	if resp.StatusCode() != fasthttp.StatusOK {
		return domain.Competition{}, fmt.Errorf("competition service returned %d", resp.StatusCode())
	}

	var p competitionPayload
	if err := json.Unmarshal(resp.Body(), &p); err != nil {
		return domain.Competition{}, fmt.Errorf("decode competition: %w", err)
	}
	return domain.Competition{
		ID:         p.ID,
		CreatorID:  p.CreatorID,
		OpponentID: p.OpponentID,
		Status:     p.Status,
	}, nil
}

func (s *HTTPService) SetLive(id string, distributionURL string) error {
	return s.patchStatus(id, statusUpdatePayload{Status: "live", VideoURL: distributionURL})
}

func (s *HTTPService) SetEnded(id string, recordedAssetURL string) error {
	return s.patchStatus(id, statusUpdatePayload{Status: "ended", VideoURL: recordedAssetURL})
}

func (s *HTTPService) patchStatus(id string, payload statusUpdatePayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(s.baseURL + "/competitions/" + id + "/status")
	req.Header.SetMethod(fasthttp.MethodPatch)
	req.Header.SetContentType("application/json")
	req.SetBody(body)

	if err := s.client.DoTimeout(req, resp, s.timeout); err != nil {
		return fmt.Errorf("update competition status: %w", err)
	}
	if code := resp.StatusCode(); code < 200 || code >= 300 {
		return fmt.Errorf("competition service returned %d", code)
	}
	return nil
}
