/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package chainrpc

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/agentgrant/consent/internal/retry"
	"github.com/agentgrant/consent/pkg/chainregistry"
)

func TestClient_Views(t *testing.T) {
	t.Run("get delegatees", func(t *testing.T) {
		client := newTestClient(t, &httpClientStub{
			do: func(req *http.Request) (*http.Response, error) {
				require.Equal(t, http.MethodPost, req.Method)
				require.Equal(t, "application/json", req.Header.Get("Content-Type"))

				body := readBody(t, req)
				require.Equal(t, methodCall, body.Get("method").String())
				require.Equal(t, "getDelegatees", body.Get("params.0.method").String())
				require.Equal(t, "0xcontract", body.Get("params.0.to").String())
				require.Equal(t, "0x1", body.Get("params.0.args.0").String())

				return jsonResponse(http.StatusOK, `{"jsonrpc":"2.0","id":1,"result":["0xaaa","0xbbb"]}`), nil
			},
		})

		delegatees, err := client.GetDelegatees(context.Background(), "0x1")
		require.NoError(t, err)
		require.Equal(t, []string{"0xaaa", "0xbbb"}, delegatees)
	})

	t.Run("get all registered tools", func(t *testing.T) {
		client := newTestClient(t, &httpClientStub{
			do: func(req *http.Request) (*http.Response, error) {
				return jsonResponse(http.StatusOK, `{"result":[
					{"toolId":"ipfs://tool-a","enabled":true},
					{"toolId":"ipfs://tool-b","enabled":false}
				]}`), nil
			},
		})

		tools, err := client.GetAllRegisteredTools(context.Background(), "0x1")
		require.NoError(t, err)
		require.Equal(t, []chainregistry.ToolState{
			{ID: "ipfs://tool-a", Enabled: true},
			{ID: "ipfs://tool-b", Enabled: false},
		}, tools)
	})

	t.Run("get tools with policy", func(t *testing.T) {
		client := newTestClient(t, &httpClientStub{
			do: func(req *http.Request) (*http.Response, error) {
				return jsonResponse(http.StatusOK, `{"result":[
					{"toolId":"ipfs://tool-a","delegatees":["0xaaa"],"policyIds":["ipfs://policy-1"]}
				]}`), nil
			},
		})

		tools, err := client.GetToolsWithPolicy(context.Background(), "0x1")
		require.NoError(t, err)
		require.Len(t, tools, 1)
		require.Equal(t, "ipfs://tool-a", tools[0].ToolID)
		require.Equal(t, []string{"0xaaa"}, tools[0].Delegatees)
		require.Equal(t, []string{"ipfs://policy-1"}, tools[0].PolicyIDs)
	})

	t.Run("get tool policy parameters", func(t *testing.T) {
		client := newTestClient(t, &httpClientStub{
			do: func(req *http.Request) (*http.Response, error) {
				body := readBody(t, req)
				require.Equal(t, "getToolPolicyParameters", body.Get("params.0.method").String())
				require.Equal(t, "maxAmount", body.Get("params.0.args.3.0").String())

				return jsonResponse(http.StatusOK,
					`{"result":[{"name":"maxAmount","value":"0xdeadbeef"}]}`), nil
			},
		})

		values, err := client.GetToolPolicyParameters(context.Background(),
			"0x1", "ipfs://tool-a", "0xaaa", []string{"maxAmount"})
		require.NoError(t, err)
		require.Equal(t, []chainregistry.ParameterValue{
			{Name: "maxAmount", Value: []byte{0xde, 0xad, 0xbe, 0xef}},
		}, values)
	})

	t.Run("invalid parameter hex", func(t *testing.T) {
		client := newTestClient(t, &httpClientStub{
			do: func(req *http.Request) (*http.Response, error) {
				return jsonResponse(http.StatusOK,
					`{"result":[{"name":"maxAmount","value":"0xzz"}]}`), nil
			},
		})

		_, err := client.GetToolPolicyParameters(context.Background(),
			"0x1", "ipfs://tool-a", "0xaaa", []string{"maxAmount"})
		require.ErrorContains(t, err, "decode parameter maxAmount")
	})

	t.Run("get permitted app ids", func(t *testing.T) {
		client := newTestClient(t, &httpClientStub{
			do: func(req *http.Request) (*http.Response, error) {
				return jsonResponse(http.StatusOK, `{"result":["app-1","app-2"]}`), nil
			},
		})

		appIDs, err := client.GetAllPermittedAppIDsForPKP(context.Background(), "0x1")
		require.NoError(t, err)
		require.Equal(t, []string{"app-1", "app-2"}, appIDs)
	})

	t.Run("rpc error", func(t *testing.T) {
		client := newTestClient(t, &httpClientStub{
			do: func(req *http.Request) (*http.Response, error) {
				return jsonResponse(http.StatusOK,
					`{"error":{"code":-32000,"message":"execution reverted"}}`), nil
			},
		})

		_, err := client.GetDelegatees(context.Background(), "0x1")
		require.ErrorContains(t, err, "rpc error -32000: execution reverted")
	})

	t.Run("http error", func(t *testing.T) {
		client := newTestClient(t, &httpClientStub{
			do: func(req *http.Request) (*http.Response, error) {
				return nil, errors.New("connection refused")
			},
		})

		_, err := client.GetDelegatees(context.Background(), "0x1")
		require.ErrorContains(t, err, "connection refused")
	})

	t.Run("unexpected status code", func(t *testing.T) {
		client := newTestClient(t, &httpClientStub{
			do: func(req *http.Request) (*http.Response, error) {
				return jsonResponse(http.StatusBadGateway, `upstream down`), nil
			},
		})

		_, err := client.GetPermittedToolsForDelegatee(context.Background(), "0x1", "0xaaa")
		require.ErrorContains(t, err, "unexpected status code 502")
	})
}

func TestClient_Writes(t *testing.T) {
	call := &chainregistry.WriteCall{
		Method:  "registerTools",
		TokenID: "0x1",
		Args:    []interface{}{[]string{"ipfs://tool-a"}},
	}

	t.Run("estimate gas", func(t *testing.T) {
		client := newTestClient(t, &httpClientStub{
			do: func(req *http.Request) (*http.Response, error) {
				body := readBody(t, req)
				require.Equal(t, methodEstimateGas, body.Get("method").String())
				require.Equal(t, "registerTools", body.Get("params.0.method").String())
				require.Equal(t, "0x1", body.Get("params.0.args.0").String())
				require.Equal(t, "0x04aabb", body.Get("params.0.from").String())

				return jsonResponse(http.StatusOK, `{"result":21000}`), nil
			},
		})

		gas, err := client.EstimateGas(context.Background(), call, &signerStub{})
		require.NoError(t, err)
		require.Equal(t, uint64(21000), gas)
	})

	t.Run("submit", func(t *testing.T) {
		signer := &signerStub{}

		client := newTestClient(t, &httpClientStub{
			do: func(req *http.Request) (*http.Response, error) {
				body := readBody(t, req)
				require.Equal(t, methodSendTx, body.Get("method").String())
				require.Equal(t, "registerTools", body.Get("params.0.payload.method").String())
				require.Equal(t, uint64(25200), body.Get("params.0.payload.gas").Uint())
				require.NotEmpty(t, body.Get("params.0.signature").String())

				return jsonResponse(http.StatusOK, `{"result":{"txHash":"0xfeed"}}`), nil
			},
		})

		txHash, err := client.Submit(context.Background(), call, 25200, signer)
		require.NoError(t, err)
		require.Equal(t, "0xfeed", txHash)
		require.Len(t, signer.signed, 1)
	})

	t.Run("submit with signing failure", func(t *testing.T) {
		client := newTestClient(t, &httpClientStub{
			do: func(req *http.Request) (*http.Response, error) {
				t.Fatal("gateway must not be called when signing fails")

				return nil, nil
			},
		})

		_, err := client.Submit(context.Background(), call, 25200,
			&signerStub{signErr: errors.New("key unavailable")})
		require.ErrorContains(t, err, "sign write payload")
	})

	t.Run("submit with missing tx hash", func(t *testing.T) {
		client := newTestClient(t, &httpClientStub{
			do: func(req *http.Request) (*http.Response, error) {
				return jsonResponse(http.StatusOK, `{"result":{}}`), nil
			},
		})

		_, err := client.Submit(context.Background(), call, 25200, &signerStub{})
		require.ErrorContains(t, err, "no transaction hash")
	})
}

func TestClient_WaitMined(t *testing.T) {
	t.Run("confirmed after pending", func(t *testing.T) {
		polls := 0

		client := newTestClient(t, &httpClientStub{
			do: func(req *http.Request) (*http.Response, error) {
				body := readBody(t, req)
				require.Equal(t, methodTxReceipt, body.Get("method").String())
				require.Equal(t, "0xfeed", body.Get("params.0").String())

				polls++
				if polls < 3 {
					return jsonResponse(http.StatusOK, `{"result":{"status":"pending"}}`), nil
				}

				return jsonResponse(http.StatusOK, `{"result":{"status":"confirmed"}}`), nil
			},
		})

		require.NoError(t, client.WaitMined(context.Background(), "0xfeed"))
		require.Equal(t, 3, polls)
	})

	t.Run("reverted stops polling", func(t *testing.T) {
		polls := 0

		client := newTestClient(t, &httpClientStub{
			do: func(req *http.Request) (*http.Response, error) {
				polls++

				return jsonResponse(http.StatusOK, `{"result":{"status":"reverted"}}`), nil
			},
		})

		err := client.WaitMined(context.Background(), "0xfeed")
		require.ErrorIs(t, err, chainregistry.ErrTxReverted)
		require.Equal(t, 1, polls)
	})

	t.Run("confirmation budget exhausted", func(t *testing.T) {
		client := newTestClient(t, &httpClientStub{
			do: func(req *http.Request) (*http.Response, error) {
				return jsonResponse(http.StatusOK, `{"result":{"status":"pending"}}`), nil
			},
		})

		err := client.WaitMined(context.Background(), "0xfeed")
		require.ErrorContains(t, err, "not confirmed")
	})
}

func TestSubmitterRevertedTxNotRepolled(t *testing.T) {
	receiptPolls := 0

	client := newTestClient(t, &httpClientStub{
		do: func(req *http.Request) (*http.Response, error) {
			switch readBody(t, req).Get("method").String() {
			case methodEstimateGas:
				return jsonResponse(http.StatusOK, `{"result":21000}`), nil
			case methodSendTx:
				return jsonResponse(http.StatusOK, `{"result":{"txHash":"0xdead"}}`), nil
			case methodTxReceipt:
				receiptPolls++

				return jsonResponse(http.StatusOK, `{"result":{"status":"reverted"}}`), nil
			default:
				return jsonResponse(http.StatusOK, `{"result":null}`), nil
			}
		},
	})

	submitter := chainregistry.NewSubmitter(client, retry.Policy{
		MaxAttempts:     4,
		InitialInterval: time.Millisecond,
		MaxInterval:     time.Millisecond,
	})

	_, err := submitter.Execute(context.Background(),
		chainregistry.NewRegisterToolsCall("0x1", []string{"ipfs://tool-a"}), &signerStub{})
	require.ErrorIs(t, err, chainregistry.ErrTxReverted)
	require.Equal(t, 1, receiptPolls)
}

func newTestClient(t *testing.T, httpClient httpClient) *Client {
	t.Helper()

	return NewClient(&Config{
		HTTPClient:      httpClient,
		RPCURL:          "https://chain.example.com/rpc",
		ContractAddress: "0xcontract",
		ConfirmAttempts: 3,
		ConfirmInterval: time.Millisecond,
	})
}

type httpClientStub struct {
	do func(req *http.Request) (*http.Response, error)
}

func (c *httpClientStub) Do(req *http.Request) (*http.Response, error) {
	return c.do(req)
}

type signerStub struct {
	signErr error
	signed  [][]byte
}

func (s *signerStub) Sign(_ context.Context, data []byte) ([]byte, error) {
	if s.signErr != nil {
		return nil, s.signErr
	}

	s.signed = append(s.signed, data)

	return bytes.Repeat([]byte{0x01}, 64), nil
}

func (s *signerStub) PublicKey() []byte {
	return []byte{0x04, 0xaa, 0xbb}
}

func readBody(t *testing.T, req *http.Request) gjson.Result {
	t.Helper()

	body, err := io.ReadAll(req.Body)
	require.NoError(t, err)

	return gjson.ParseBytes(body)
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(bytes.NewBufferString(body)),
	}
}
