package relay

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	nethttp "net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/zkrelay/codec"
	"github.com/ethpandaops/zkrelay/prover"
	"github.com/ethpandaops/zkrelay/utils"
)

const maxResponseSize = 1 << 20

var (
	ErrRelayUnreachable  = errors.New("relay unreachable")
	ErrMalformedResponse = codec.ErrMalformedResponse
)

// SubmissionRejectedError is returned when the relay answered with a
// decodable failure. Reason is the relay's own failure reason.
type SubmissionRejectedError struct {
	Status int
	Reason string
}

func (e *SubmissionRejectedError) Error() string {
	return fmt.Sprintf("submission rejected (status %v): %v", e.Status, e.Reason)
}

// Prover produces proofs for submissions.
type Prover interface {
	Prove(ctx context.Context, program *prover.Program, params *prover.PublicParameters) (*prover.Proof, *prover.PublicValues, error)
}

// Client talks to a relay. It never retries.
type Client struct {
	baseUrl string
	client  *nethttp.Client
	logger  logrus.FieldLogger
}

func NewClient(baseUrl string, timeout time.Duration, logger logrus.FieldLogger) (*Client, error) {
	if _, err := url.ParseRequestURI(baseUrl); err != nil {
		return nil, fmt.Errorf("invalid relay url %v: %w", baseUrl, err)
	}
	if timeout == 0 {
		timeout = 300 * time.Second
	}

	return &Client{
		baseUrl: strings.TrimRight(baseUrl, "/"),
		client:  &nethttp.Client{Timeout: timeout},
		logger:  logger,
	}, nil
}

// Info fetches the relay's informational text.
func (c *Client) Info(ctx context.Context) (string, error) {
	req, err := nethttp.NewRequestWithContext(ctx, "GET", c.baseUrl+"/", nethttp.NoBody)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", utils.GetBuildUserAgent())

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRelayUnreachable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRelayUnreachable, err)
	}
	if resp.StatusCode != nethttp.StatusOK {
		return "", fmt.Errorf("info request failed with status %v: %s", resp.StatusCode, data)
	}

	return string(data), nil
}

// Submit sends a submission and returns the relay's verdict.
func (c *Client) Submit(ctx context.Context, submission *codec.Submission) (*codec.VerifyResult, error) {
	body, err := codec.EncodeSubmission(submission)
	if err != nil {
		return nil, err
	}

	req, err := nethttp.NewRequestWithContext(ctx, "POST", c.baseUrl+"/post", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", utils.GetBuildUserAgent())

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRelayUnreachable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRelayUnreachable, err)
	}

	result, err := codec.DecodeResponse(data)
	if err != nil {
		c.logger.Debugf("undecodable relay response (status %v): %s", resp.StatusCode, data)
		return nil, fmt.Errorf("status %v: %w", resp.StatusCode, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 || !result.Success() {
		return result, &SubmissionRejectedError{
			Status: resp.StatusCode,
			Reason: result.Reason(),
		}
	}

	return result, nil
}

// ProveAndSubmit proves the program with the published parameters and
// submits the proof. Proving failures abort before any request is sent.
func (c *Client) ProveAndSubmit(ctx context.Context, backend Prover, program *prover.Program, params *prover.PublicParameters, recipient string) (*codec.VerifyResult, error) {
	start := time.Now()
	proof, _, err := backend.Prove(ctx, program, params)
	if err != nil {
		if !errors.Is(err, prover.ErrProofGenerationFailed) {
			err = fmt.Errorf("%w: %w", prover.ErrProofGenerationFailed, err)
		}
		return nil, err
	}
	c.logger.Infof("generated proof in %v (%v bytes)", time.Since(start).Round(time.Millisecond), len(proof.Data))

	return c.Submit(ctx, &codec.Submission{
		Proof:            proof,
		RecipientAddress: recipient,
	})
}
