package crm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseProvider(t *testing.T) {
	p, err := ParseProvider(" HubSpot ")
	require.NoError(t, err)
	assert.Equal(t, HubSpot, p)

	_, err = ParseProvider("pipedrive")
	assert.ErrorIs(t, err, ErrUnknownProvider)

	assert.Equal(t, []Provider{Dynamics, HubSpot, LinkedIn, Salesforce}, Providers())
}

func TestCredentialsValidate(t *testing.T) {
	assert.NoError(t, Credentials{"access_token": "tok"}.Validate(HubSpot))

	err := Credentials{"client_id": "id"}.Validate(Salesforce)
	assert.ErrorIs(t, err, ErrMissingCredentials)
	assert.ErrorContains(t, err, "instance_url, client_secret")

	assert.ErrorIs(t, Credentials{}.Validate("zoho"), ErrUnknownProvider)
}

func TestClient_TestConnection(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/integrations/hubspot/test", r.URL.Path)

		var body struct {
			Credentials map[string]string `json:"credentials"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if body.Credentials["access_token"] == "bad" {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":"token rejected by HubSpot"}`))
			return
		}
		w.Write([]byte(`{"success":true,"message":"connected to portal 1234"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, nil)

	result, err := client.TestConnection(context.Background(), HubSpot, Credentials{"access_token": "good"})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "connected to portal 1234", result.Message)
	assert.Equal(t, HubSpot, result.Provider)
	assert.False(t, result.CheckedAt.IsZero())

	result, err = client.TestConnection(context.Background(), HubSpot, Credentials{"access_token": "bad"})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, "token rejected by HubSpot", result.Message)
}

func TestClient_TestConnectionValidatesFirst(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer server.Close()

	_, err := NewClient(server.URL, nil).TestConnection(context.Background(), Dynamics, Credentials{"tenant_id": "t"})
	assert.ErrorIs(t, err, ErrMissingCredentials)
	assert.Zero(t, atomic.LoadInt32(&calls))
}

func TestClient_ServerErrorIsAnError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	_, err := NewClient(server.URL, nil).CheckIntegration(context.Background(), Integration{ID: "int-1", Provider: Salesforce})
	assert.Error(t, err)
}

func TestClient_CreateAndListIntegrations(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/integrations", r.URL.Path)
		switch r.Method {
		case http.MethodPost:
			var req CreateIntegrationRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, LinkedIn, req.Provider)
			assert.Equal(t, "linkedin", req.Name)
			json.NewEncoder(w).Encode(Integration{ID: "int-1", Provider: req.Provider, Name: req.Name, Status: "active"})
		case http.MethodGet:
			w.Write([]byte(`{"integrations":[{"id":"int-1","provider":"linkedin","name":"linkedin","status":"active"}]}`))
		}
	}))
	defer server.Close()

	client := NewClient(server.URL, nil)

	created, err := client.CreateIntegration(context.Background(), CreateIntegrationRequest{
		Provider:    LinkedIn,
		Credentials: Credentials{"access_token": "tok", "organization_id": "42"},
	})
	require.NoError(t, err)
	assert.Equal(t, "int-1", created.ID)

	list, err := client.ListIntegrations(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, LinkedIn, list[0].Provider)

	_, err = client.CreateIntegration(context.Background(), CreateIntegrationRequest{Provider: "zoho"})
	assert.ErrorIs(t, err, ErrUnknownProvider)
}

func TestClient_ListIntegrationsBareArray(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"id":"a","provider":"hubspot"},{"id":"b","provider":"dynamics"}]`))
	}))
	defer server.Close()

	list, err := NewClient(server.URL, nil).ListIntegrations(context.Background())
	require.NoError(t, err)
	assert.Len(t, list, 2)
}
