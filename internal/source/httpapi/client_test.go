package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mwolters/catalog-harvester/internal/harvest"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	c, err := New(Config{
		BaseURL:        server.URL,
		AuthPath:       "/token",
		CategoriesPath: "/categories",
		SearchPath:     "/search",
		ClientID:       "client-123",
		UserAgent:      "catalog-harvester/1.0",
	}, zap.NewNop())
	require.NoError(t, err)
	return c
}

func TestClient_Authenticate(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/token", r.URL.Path)
		require.Equal(t, "catalog-harvester/1.0", r.Header.Get("User-Agent"))
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.JSONEq(t, `{"clientId":"client-123"}`, string(body))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"tok-abc"}`))
	}))

	cred, err := c.Authenticate(context.Background())
	require.NoError(t, err)
	require.Equal(t, "tok-abc", cred.Token)
	require.False(t, cred.IssuedAt.IsZero())
}

func TestClient_AuthenticateRejectsEmptyToken(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"access_token":""}`))
	}))

	_, err := c.Authenticate(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "empty access token")
}

func TestClient_CategoriesNormalizesNumericIDs(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/categories", r.URL.Path)
		require.Equal(t, "Bearer tok-abc", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`[
			{"id": 101, "name": "produce"},
			{"id": "202", "name": "dairy"},
			{"name": "no id"}
		]`))
	}))

	cats, err := c.Categories(context.Background(), harvest.Credential{Token: "tok-abc"})
	require.NoError(t, err)
	require.Equal(t, []harvest.Category{
		{ID: "101", Name: "produce"},
		{ID: "202", Name: "dairy"},
	}, cats)
}

func TestClient_FetchPage(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/search", r.URL.Path)
		q := r.URL.Query()
		require.Equal(t, "101", q.Get("taxonomyId"))
		require.Equal(t, "50", q.Get("offset"))
		require.Equal(t, "25", q.Get("size"))
		_, _ = w.Write([]byte(`{
			"products": [
				{"id": "p-1", "title": "apples"},
				{"id": 42, "title": "pears"},
				{"title": "missing id"}
			],
			"total": 130
		}`))
	}))

	page, err := c.FetchPage(context.Background(), harvest.Credential{Token: "tok"}, "101", 50, 25)
	require.NoError(t, err)
	require.Equal(t, 130, page.Total)
	require.Len(t, page.Items, 2, "products without the id field are dropped")
	require.Equal(t, "p-1", page.Items[0].ID)
	require.Equal(t, "42", page.Items[1].ID)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(page.Items[0].Payload, &payload))
	require.Equal(t, "apples", payload["title"])
}

func TestClient_CustomIDField(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"products":[{"productId":"x-9","id":"ignored"}],"total":1}`))
	}))
	t.Cleanup(server.Close)

	c, err := New(Config{BaseURL: server.URL, SearchPath: "/search", IDField: "productId"}, zap.NewNop())
	require.NoError(t, err)

	page, err := c.FetchPage(context.Background(), harvest.Credential{}, "1", 0, 10)
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	require.Equal(t, "x-9", page.Items[0].ID)
}

func TestClient_MapsThrottleResponses(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
	}))

	_, err := c.FetchPage(context.Background(), harvest.Credential{}, "101", 0, 50)
	var rl *harvest.RateLimitedError
	require.ErrorAs(t, err, &rl)
	require.Equal(t, 7*time.Second, rl.RetryAfter)
	require.True(t, harvest.IsRateLimited(err))
}

func TestClient_MapsAuthResponses(t *testing.T) {
	t.Parallel()

	for _, status := range []int{http.StatusUnauthorized, http.StatusForbidden} {
		c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(status)
		}))
		_, err := c.FetchPage(context.Background(), harvest.Credential{}, "101", 0, 50)
		var ae *harvest.AuthError
		require.ErrorAs(t, err, &ae)
		require.Equal(t, status, ae.StatusCode)
	}
}

func TestClient_MapsServerErrors(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("upstream exploded"))
	}))

	_, err := c.FetchPage(context.Background(), harvest.Credential{}, "101", 0, 50)
	var se *harvest.StatusError
	require.ErrorAs(t, err, &se)
	require.Equal(t, http.StatusInternalServerError, se.StatusCode)
	require.Contains(t, se.Body, "upstream exploded")
}

func TestClient_RequiresBaseURL(t *testing.T) {
	t.Parallel()

	_, err := New(Config{}, nil)
	require.Error(t, err)
}
