package search

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ticketing/internal/config"
	"ticketing/internal/models"
)

func TestBuildSearchQuery(t *testing.T) {
	from := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	q := buildSearchQuery(models.EventFilter{Keyword: "jazz", Category: "Music", From: &from})

	raw, err := json.Marshal(q)
	require.NoError(t, err)
	body := string(raw)

	assert.Contains(t, body, `"status":"approved"`)
	assert.Contains(t, body, `"category":"music"`)
	assert.Contains(t, body, `"query":"jazz"`)
	assert.Contains(t, body, `"gte":"2025-06-01T00:00:00Z"`)
	assert.NotContains(t, body, `"lte"`)
}

func TestBuildSortQuery(t *testing.T) {
	assert.Contains(t, buildSortQuery("jazz")[0], "_score")
	assert.Contains(t, buildSortQuery("")[0], "starts_at")
}

func newFakeES(t *testing.T, handle func(w http.ResponseWriter, r *http.Request, body string)) *ElasticsearchClient {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.Header().Set("Content-Type", "application/json")
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusOK)
			return
		}
		raw, _ := io.ReadAll(r.Body)
		handle(w, r, string(raw))
	}))
	t.Cleanup(srv.Close)

	client, err := NewElasticsearchClient(config.ElasticsearchConfig{URL: srv.URL, Index: "events"})
	require.NoError(t, err)
	return client
}

func TestElasticsearchClient_Search(t *testing.T) {
	var gotPath, gotBody string
	client := newFakeES(t, func(w http.ResponseWriter, r *http.Request, body string) {
		gotPath, gotBody = r.URL.Path, body
		_, _ = io.WriteString(w, `{"hits":{"total":{"value":12},"hits":[{"_source":{"id":7,"title":"Jazz Night","category":"music","status":"approved"}}]}}`)
	})

	events, total, err := client.Search(context.Background(), models.EventFilter{Keyword: "jazz", Page: 2, Limit: 5})
	require.NoError(t, err)

	assert.Equal(t, "/events/_search", gotPath)
	assert.True(t, strings.Contains(gotBody, `"from":5`))
	assert.Equal(t, 12, total)
	require.Len(t, events, 1)
	assert.Equal(t, int64(7), events[0].ID)
	assert.Equal(t, "Jazz Night", events[0].Title)
}

func TestElasticsearchClient_DeleteMissingIsNotAnError(t *testing.T) {
	client := newFakeES(t, func(w http.ResponseWriter, r *http.Request, body string) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"result":"not_found"}`)
	})

	assert.NoError(t, client.DeleteEvent(context.Background(), 99))
}
