// Package transport implements the HTTP/JSON transport adapter: one
// synchronous HTTP call per protocol operation, each with a
// caller-supplied per-call timeout, distinguishing success,
// application-level failure and transport failure.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/twopc/commit/domain"
)

// Client is a thin HTTP client shared by the coordinator (talking to
// participants) and a participant (talking to the coordinator for a
// recovery inquiry) — the wire shapes differ by path, not by client.
type Client struct {
	HTTP *http.Client
}

func New() *Client {
	return &Client{HTTP: &http.Client{}}
}

// --- Participant API, called by the coordinator ---

func (c *Client) Begin(ctx context.Context, endpoint, txID string) error {
	_, _, err := c.post(ctx, endpoint+"/begin", domain.BeginRequest{TxID: txID}, &domain.OKResponse{})
	return err
}

func (c *Client) Prepare(ctx context.Context, endpoint, txID string, ops []domain.Operation) (domain.PrepareResponse, error) {
	var resp domain.PrepareResponse
	_, _, err := c.post(ctx, endpoint+"/prepare", domain.PrepareRequest{TxID: txID, Ops: ops}, &resp)
	return resp, err
}

func (c *Client) Commit(ctx context.Context, endpoint, txID string) error {
	_, _, err := c.post(ctx, endpoint+"/commit", domain.CommitRequest{TxID: txID}, &domain.OKResponse{})
	return err
}

func (c *Client) Abort(ctx context.Context, endpoint, txID string) error {
	_, _, err := c.post(ctx, endpoint+"/abort", domain.AbortRequest{TxID: txID}, &domain.OKResponse{})
	return err
}

func (c *Client) ParticipantStatus(ctx context.Context, endpoint, txID string) (domain.ParticipantState, error) {
	var resp domain.ParticipantStatusResponse
	err := c.get(ctx, endpoint+"/status/"+txID, &resp)
	return resp.State, err
}

func (c *Client) GetResource(ctx context.Context, endpoint, key string) (domain.ResourceResponse, error) {
	var resp domain.ResourceResponse
	err := c.get(ctx, endpoint+"/resource/"+key, &resp)
	return resp, err
}

// --- Coordinator API, called by a participant's recovery inquiry ---

// InquireStatus implements participant.Inquirer.
func (c *Client) InquireStatus(ctx context.Context, coordinatorEndpoint, txID string) (domain.Decision, error) {
	var resp domain.TxStatus
	err := c.get(ctx, coordinatorEndpoint+"/status/"+txID, &resp)
	if err != nil {
		return domain.DecisionNone, err
	}
	return resp.Decision, nil
}

func (c *Client) Execute(ctx context.Context, coordinatorEndpoint string, spec domain.TxSpec) (domain.TxStatus, error) {
	var resp domain.TxStatus
	_, _, err := c.post(ctx, coordinatorEndpoint+"/execute", spec, &resp)
	return resp, err
}

// Register tells the coordinator at coordinatorEndpoint how to reach
// this participant.
func (c *Client) Register(ctx context.Context, coordinatorEndpoint, participantID, selfEndpoint string) error {
	_, _, err := c.post(ctx, coordinatorEndpoint+"/register",
		domain.RegisterRequest{ParticipantID: participantID, Endpoint: selfEndpoint}, &domain.OKResponse{})
	return err
}

// post issues a JSON POST and classifies the outcome: a non-2xx
// response becomes a domain.Error whose kind follows the status code
// (400, 404 and 409 map to application kinds, 408 and 504 to Timeout,
// any other status to TransportError), carrying the body's error
// message when it decodes; a network error, timeout or unparsable 2xx
// body is a transport failure.
func (c *Client) post(ctx context.Context, url string, body, out any) (status int, raw []byte, err error) {
	encoded, err := json.Marshal(body)
	if err != nil {
		return 0, nil, domain.WrapInternal(err, "failed to encode request body")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(encoded))
	if err != nil {
		return 0, nil, domain.NewError(domain.KindTransportError, fmt.Sprintf("failed to build request to %s", url))
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return domain.NewError(domain.KindTransportError, fmt.Sprintf("failed to build request to %s", url))
	}
	_, _, err = c.do(req, out)
	return err
}

func (c *Client) do(req *http.Request, out any) (status int, raw []byte, err error) {
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return 0, nil, domain.NewError(domain.KindTransportError, fmt.Sprintf("%s %s: %v", req.Method, req.URL, err))
	}
	defer resp.Body.Close()

	raw, err = io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, domain.NewError(domain.KindTransportError, "failed to read response body")
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out != nil && len(raw) > 0 {
			if err := json.Unmarshal(raw, out); err != nil {
				return resp.StatusCode, raw, domain.NewError(domain.KindTransportError, "malformed response body")
			}
		}
		return resp.StatusCode, raw, nil
	}

	return resp.StatusCode, raw, classifyErrorResponse(resp.StatusCode, raw)
}

func classifyErrorResponse(status int, raw []byte) error {
	var errResp domain.ErrorResponse
	message := fmt.Sprintf("request failed with status %d", status)
	if json.Unmarshal(raw, &errResp) == nil && errResp.Error != "" {
		message = errResp.Error
	}

	switch status {
	case http.StatusBadRequest:
		return domain.NewError(domain.KindInvalidRequest, message)
	case http.StatusNotFound:
		return domain.NewError(domain.KindUnknownTransaction, message)
	case http.StatusConflict:
		return domain.NewError(domain.KindIllegalState, message)
	case http.StatusGatewayTimeout, http.StatusRequestTimeout:
		return domain.NewError(domain.KindTimeout, message)
	default:
		return domain.NewError(domain.KindTransportError, message)
	}
}
