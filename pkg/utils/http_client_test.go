package utils

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tcmartin/devportal/pkg/auth"
)

func TestHTTPClient_DoJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer svc-token", r.Header.Get("Authorization"))
		assert.Equal(t, "org-1", r.Header.Get("X-Organization-ID"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "yes", r.URL.Query().Get("dry_run"))

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "ci", body["name"])

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"id": "key-1"})
	}))
	defer server.Close()

	client := NewHTTPClient(WithTokenSource(auth.StaticTokenSource{BearerToken: "svc-token", OrgID: "org-1"}))

	var out struct {
		ID string `json:"id"`
	}
	resp, err := client.DoJSON(context.Background(), &HTTPRequest{
		URL:         server.URL,
		Method:      http.MethodPost,
		QueryParams: map[string]string{"dry_run": "yes"},
		Body:        map[string]string{"name": "ci"},
	}, &out)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "key-1", out.ID)
}

func TestHTTPClient_StatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"invalid credentials"}`))
	}))
	defer server.Close()

	_, err := NewHTTPClient().DoJSON(context.Background(), &HTTPRequest{URL: server.URL}, nil)

	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusBadRequest, statusErr.StatusCode)
	assert.Equal(t, "invalid credentials", statusErr.Message)
}

func TestHTTPClient_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer server.Close()

	client := NewHTTPClient(WithTimeout(20 * time.Millisecond))
	_, err := client.Do(context.Background(), &HTTPRequest{URL: server.URL})
	assert.Error(t, err)
}

func TestHTTPClient_NoCredentialsIsNotAnError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
	}))
	defer server.Close()

	client := NewHTTPClient(WithTokenSource(auth.StaticTokenSource{}))
	resp, err := client.Do(context.Background(), &HTTPRequest{URL: server.URL})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestJoinURL(t *testing.T) {
	u, err := JoinURL("https://api.example.com/base/", "api", "v1", "integrations", "hub spot", "test")
	require.NoError(t, err)
	assert.Equal(t, "https://api.example.com/base/api/v1/integrations/hub%20spot/test", u)

	_, err = JoinURL("not a url", "x")
	assert.Error(t, err)
}
