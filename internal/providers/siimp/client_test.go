package siimp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/smallbiznis/billingops/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := New(config.SiimpConfig{BaseURL: srv.URL, APIKey: "secret"})
	require.NoError(t, err)
	return client
}

func TestNewRequiresConfig(t *testing.T) {
	_, err := New(config.SiimpConfig{BaseURL: "http://siimp"})
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestSearchNormalizesResponseShapes(t *testing.T) {
	cases := map[string]struct {
		body string
		want int
	}{
		"array":    {body: `[{"id":1},{"id":2}]`, want: 2},
		"envelope": {body: `{"data":[{"id":1},{"id":2},{"id":3}]}`, want: 3},
		"object":   {body: `{"id":7}`, want: 1},
		"scalar":   {body: `42`, want: 0},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(tc.body))
			})
			rows, err := client.Search(context.Background(), url.Values{})
			require.NoError(t, err)
			assert.Len(t, rows, tc.want)
		})
	}
}

func TestSearchSendsAPIKeyAndQuery(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get("X-Api-Key"))
		assert.Equal(t, PathSearch, r.URL.Path)
		assert.Equal(t, "10", r.URL.Query().Get("invoice_number_from"))
		_, _ = w.Write([]byte(`[{"id":123456789012}]`))
	})

	rows, err := client.Search(context.Background(), url.Values{"invoice_number_from": {"10"}})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	id, ok := rows[0].ID()
	require.True(t, ok)
	assert.Equal(t, int64(123456789012), id)
}

func TestNon200IsHTTPError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"message":"upstream down"}`))
	})

	_, err := client.Search(context.Background(), nil)
	var httpErr *HTTPError
	require.True(t, errors.As(err, &httpErr))
	assert.Equal(t, http.StatusBadGateway, httpErr.Status)
	assert.Equal(t, "upstream down", httpErr.Message)
}

func TestNon200WithoutMessage(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`oops`))
	})

	_, err := client.Search(context.Background(), nil)
	var httpErr *HTTPError
	require.True(t, errors.As(err, &httpErr))
	assert.Equal(t, "HTTP 500", httpErr.Message)
	assert.Equal(t, "oops", httpErr.Body)
}

func TestSuccessFalseIsBusinessError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":false,"message":"Fatura já está cancelada"}`))
	})

	_, err := client.Cancel(context.Background(), CancelRequest{ID: 5, Reason: "x"})
	var bizErr *BusinessError
	require.True(t, errors.As(err, &bizErr))
	assert.Equal(t, "Fatura já está cancelada", bizErr.Message)

	msg, _, ok := Detail(err)
	assert.True(t, ok)
	assert.Contains(t, msg, "cancelada")
}

func TestSuccessFalseWithoutMessage(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":false}`))
	})

	_, err := client.Send(context.Background(), 5, nil)
	var bizErr *BusinessError
	require.True(t, errors.As(err, &bizErr))
	assert.Equal(t, "BusinessError", bizErr.Message)
}

func TestPayPostsFields(t *testing.T) {
	var got map[string]any
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, PathPay, r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"success":true}`))
	})

	res, err := client.Pay(context.Background(), 42, map[string]any{
		"paid_at":      "2024-05-01",
		"value":        "100.50",
		"wallet_id":    3,
		"payment_form": 1,
		"discount":     0,
	})
	require.NoError(t, err)
	assert.Equal(t, true, res["success"])
	assert.EqualValues(t, 42, got["id"])
	assert.Equal(t, "2024-05-01", got["paid_at"])
}

func TestSendOmitsNilSendMail(t *testing.T) {
	var got map[string]any
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"success":true}`))
	})

	_, err := client.Send(context.Background(), 9, nil)
	require.NoError(t, err)
	_, present := got["send_mail"]
	assert.False(t, present)

	one := 1
	_, err = client.Send(context.Background(), 9, &one)
	require.NoError(t, err)
	assert.EqualValues(t, 1, got["send_mail"])
}

func TestRejectsInvalidID(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	})
	_, err := client.Pay(context.Background(), 0, nil)
	assert.ErrorIs(t, err, ErrInvalidID)
}
