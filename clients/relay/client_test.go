package relay

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/zkrelay/codec"
	"github.com/ethpandaops/zkrelay/prover"
)

type stubProver struct {
	err error
}

func (p *stubProver) Prove(context.Context, *prover.Program, *prover.PublicParameters) (*prover.Proof, *prover.PublicValues, error) {
	if p.err != nil {
		return nil, nil, p.err
	}
	return &prover.Proof{Backend: "stub", Data: []byte{0x01}}, &prover.PublicValues{Backend: "stub"}, nil
}

func newTestClient(t *testing.T, url string) *Client {
	t.Helper()
	logger, _ := test.NewNullLogger()
	client, err := NewClient(url, time.Second*5, logger)
	require.NoError(t, err)
	return client
}

func respond(status int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		io.WriteString(w, body)
	}
}

func testSubmission() *codec.Submission {
	return &codec.Submission{
		Proof:            &prover.Proof{Backend: "stub", Data: []byte{0x01}},
		RecipientAddress: "0x000000000000000000000000000000000000dEaD",
	}
}

func TestClient_Submit(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        string
		expectErr   error
		expectTx    string
		expectRejct *SubmissionRejectedError
	}{
		{
			name:     "paid",
			status:   http.StatusCreated,
			body:     `{"failure_reason":null,"tx_hash":"0xabc"}`,
			expectTx: "0xabc",
		},
		{
			name:        "rejected",
			status:      http.StatusUnprocessableEntity,
			body:        `{"failure_reason":"verification failed"}`,
			expectRejct: &SubmissionRejectedError{Status: 422, Reason: "verification failed"},
		},
		{
			name:        "payout failed",
			status:      http.StatusInternalServerError,
			body:        `{"failure_reason":"transaction reverted"}`,
			expectRejct: &SubmissionRejectedError{Status: 500, Reason: "transaction reverted"},
		},
		{
			name:      "undecodable body",
			status:    http.StatusBadGateway,
			body:      `<html>bad gateway</html>`,
			expectErr: ErrMalformedResponse,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			var received *codec.Submission
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/post", r.URL.Path)
				var err error
				received, err = codec.DecodeSubmission(r.Body)
				assert.NoError(t, err)
				respond(test.status, test.body)(w, r)
			}))
			defer server.Close()

			result, err := newTestClient(t, server.URL).Submit(context.Background(), testSubmission())
			require.NotNil(t, received)
			assert.Equal(t, testSubmission().RecipientAddress, received.RecipientAddress)

			switch {
			case test.expectErr != nil:
				assert.ErrorIs(t, err, test.expectErr)
			case test.expectRejct != nil:
				var rejected *SubmissionRejectedError
				require.True(t, errors.As(err, &rejected))
				assert.Equal(t, test.expectRejct, rejected)
				assert.Equal(t, test.expectRejct.Reason, result.Reason())
			default:
				require.NoError(t, err)
				assert.True(t, result.Success())
				assert.Equal(t, test.expectTx, result.TxHash)
			}
		})
	}
}

func TestClient_Unreachable(t *testing.T) {
	server := httptest.NewServer(respond(http.StatusOK, ""))
	url := server.URL
	server.Close()

	client := newTestClient(t, url)

	_, err := client.Submit(context.Background(), testSubmission())
	assert.ErrorIs(t, err, ErrRelayUnreachable)

	_, err = client.Info(context.Background())
	assert.ErrorIs(t, err, ErrRelayUnreachable)
}

func TestClient_Info(t *testing.T) {
	server := httptest.NewServer(respond(http.StatusOK, "The reward for sending a valid proof is 100 USDC."))
	defer server.Close()

	info, err := newTestClient(t, server.URL+"/").Info(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "The reward for sending a valid proof is 100 USDC.", info)
}

func TestClient_ProveAndSubmit(t *testing.T) {
	requests := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		respond(http.StatusCreated, `{"failure_reason":null}`)(w, r)
	}))
	defer server.Close()
	client := newTestClient(t, server.URL)

	_, err := client.ProveAndSubmit(context.Background(), &stubProver{err: prover.ErrTraceBoundExceeded}, &prover.Program{}, &prover.PublicParameters{}, "0x00")
	assert.ErrorIs(t, err, prover.ErrProofGenerationFailed)
	assert.ErrorIs(t, err, prover.ErrTraceBoundExceeded)
	assert.Equal(t, 0, requests)

	result, err := client.ProveAndSubmit(context.Background(), &stubProver{}, &prover.Program{}, &prover.PublicParameters{}, "0x00")
	require.NoError(t, err)
	assert.True(t, result.Success())
	assert.Equal(t, 1, requests)
}

func TestNewClient_InvalidUrl(t *testing.T) {
	logger, _ := test.NewNullLogger()
	_, err := NewClient("not a url", 0, logger)
	assert.Error(t, err)
}
