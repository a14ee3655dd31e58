package azuredevops

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"regexp"
	"slices"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/itemsync/internal/fieldpath"
	"github.com/roach88/itemsync/internal/ir"
	"github.com/roach88/itemsync/internal/provider"
	"github.com/roach88/itemsync/internal/syncerr"
)

var afterPattern = regexp.MustCompile(`\[System\.Id\] > (\d+)`)

// fakeADO serves WIQL, batch fetch and JSON Patch writes for one project.
type fakeADO struct {
	mu       sync.Mutex
	items    map[int]map[string]any
	queries  []string
	creates  map[string][]map[string]any
	patches  map[string][]map[string]any
	nextID   int
	failWIQL int
}

func newFakeADO(t *testing.T, n int) (*fakeADO, *httptest.Server) {
	f := &fakeADO{
		items:   map[int]map[string]any{},
		creates: map[string][]map[string]any{},
		patches: map[string][]map[string]any{},
		nextID:  1000,
	}
	for i := 1; i <= n; i++ {
		f.items[i] = map[string]any{"System.Title": "Item " + strconv.Itoa(i)}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /{project}/_apis/wit/wiql", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Fabrikam Fiber", r.PathValue("project"))
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.failWIQL > 0 {
			f.failWIQL--
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		var body struct{ Query string }
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		f.queries = append(f.queries, body.Query)

		m := afterPattern.FindStringSubmatch(body.Query)
		require.NotNil(t, m)
		after, _ := strconv.Atoi(m[1])
		top, _ := strconv.Atoi(r.URL.Query().Get("$top"))

		var ids []int
		for id := range f.items {
			if id > after {
				ids = append(ids, id)
			}
		}
		slices.Sort(ids)
		if len(ids) > top {
			ids = ids[:top]
		}
		refs := make([]map[string]any, len(ids))
		for i, id := range ids {
			refs[i] = map[string]any{"id": id}
		}
		json.NewEncoder(w).Encode(map[string]any{"workItems": refs})
	})
	mux.HandleFunc("POST /{project}/_apis/wit/workitemsbatch", func(w http.ResponseWriter, r *http.Request) {
		var body struct{ IDs []int }
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		f.mu.Lock()
		defer f.mu.Unlock()
		var value []map[string]any
		for i := len(body.IDs) - 1; i >= 0; i-- {
			id := body.IDs[i]
			value = append(value, map[string]any{"id": id, "rev": 1, "fields": f.items[id]})
		}
		json.NewEncoder(w).Encode(map[string]any{"count": len(value), "value": value})
	})
	mux.HandleFunc("POST /{project}/_apis/wit/workitems/{type}", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json-patch+json", r.Header.Get("Content-Type"))
		var ops []map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&ops))
		f.mu.Lock()
		defer f.mu.Unlock()
		f.creates[r.PathValue("type")] = ops
		f.nextID++
		json.NewEncoder(w).Encode(map[string]any{"id": f.nextID})
	})
	mux.HandleFunc("PATCH /_apis/wit/workitems/{id}", func(w http.ResponseWriter, r *http.Request) {
		var ops []map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&ops))
		f.mu.Lock()
		defer f.mu.Unlock()
		f.patches[r.PathValue("id")] = ops
		w.Write([]byte(`{}`))
	})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, pat, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "pat", pat)
		assert.Equal(t, apiVersion, r.URL.Query().Get("api-version"))
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)
	return f, srv
}

func newProvider(t *testing.T, srv *httptest.Server) *Provider {
	t.Helper()
	p, err := New(ir.ProviderConfig{
		Name: "ado",
		Kind: "azuredevops",
		Options: map[string]string{
			"organizationUrl":     srv.URL,
			"project":             "Fabrikam Fiber",
			"personalAccessToken": "pat",
		},
		Mappings: map[string]ir.TypeMapping{"feature": {Name: "feature", Type: "item", ID: "id"}},
	})
	require.NoError(t, err)
	return p
}

func TestQueryPagesInIDOrder(t *testing.T) {
	f, srv := newFakeADO(t, PageSize+5)
	p := newProvider(t, srv)
	ctx := context.Background()

	page, err := p.Query(ctx, "feature", ir.Filter{"workItemType": "Feature"}, "")
	require.NoError(t, err)
	require.Len(t, page.Records, PageSize)
	assert.Equal(t, json.Number("1"), page.Records[0]["id"], "batch results are put back in id order")
	assert.Equal(t, strconv.Itoa(PageSize), page.Next)

	page, err = p.Query(ctx, "feature", ir.Filter{"workItemType": "Feature"}, page.Next)
	require.NoError(t, err)
	require.Len(t, page.Records, 5)
	assert.Empty(t, page.Next)

	title, ok := p.ReadNative(page.Records[0], mustPath(t, "fields.[System.Title]"))
	require.True(t, ok)
	assert.Equal(t, "Item 201", title)

	require.Len(t, f.queries, 2)
	assert.Contains(t, f.queries[1], "[System.Id] > 200")
	assert.Contains(t, f.queries[1], "[System.WorkItemType] = 'Feature'")
}

func TestQueryEmpty(t *testing.T) {
	_, srv := newFakeADO(t, 0)
	p := newProvider(t, srv)

	page, err := p.Query(context.Background(), "feature", nil, "")
	require.NoError(t, err)
	assert.Empty(t, page.Records)
	assert.Empty(t, page.Next)
}

func TestQueryServerErrorIsTransient(t *testing.T) {
	f, srv := newFakeADO(t, 1)
	f.failWIQL = 1
	p := newProvider(t, srv)

	_, err := p.Query(context.Background(), "feature", nil, "")
	assert.True(t, syncerr.IsTransient(err))
}

func TestWIQL(t *testing.T) {
	_, srv := newFakeADO(t, 0)
	p := newProvider(t, srv)

	q, err := p.WIQL(ir.Filter{
		"state":    []any{"New", "Active"},
		"areaPath": "Fabrikam Fiber\\O'Brien",
	}, "42")
	require.NoError(t, err)
	assert.Equal(t,
		"SELECT [System.Id] FROM WorkItems WHERE [System.TeamProject] = 'Fabrikam Fiber'"+
			" AND [System.Id] > 42"+
			" AND [System.AreaPath] = 'Fabrikam Fiber\\O''Brien'"+
			" AND [System.State] IN ('New', 'Active')"+
			" ORDER BY [System.Id] ASC", q)

	_, err = p.WIQL(nil, "abc")
	assert.Error(t, err)
}

func TestCreateAndUpdate(t *testing.T) {
	f, srv := newFakeADO(t, 0)
	p := newProvider(t, srv)
	ctx := context.Background()

	scope := ir.Filter{"workItemType": "User Story", "areaPath": "Fabrikam Fiber\\Web"}
	id, err := p.Create(ctx, "feature", scope, provider.Record{
		"fields": map[string]any{"System.Title": "Door sensor"},
	})
	require.NoError(t, err)
	assert.Equal(t, "1001", id)
	assert.Equal(t, []map[string]any{
		{"op": "add", "path": "/fields/System.AreaPath", "value": "Fabrikam Fiber\\Web"},
		{"op": "add", "path": "/fields/System.Title", "value": "Door sensor"},
	}, f.creates["$User Story"])

	err = p.Update(ctx, "feature", id, provider.Record{
		"fields": map[string]any{"System.Title": "Door sensor v2", "Custom.SyncStatus": "synced"},
	})
	require.NoError(t, err)
	assert.Equal(t, []map[string]any{
		{"op": "add", "path": "/fields/Custom.SyncStatus", "value": "synced"},
		{"op": "add", "path": "/fields/System.Title", "value": "Door sensor v2"},
	}, f.patches["1001"])

	_, err = p.Create(ctx, "feature", ir.Filter{}, provider.Record{})
	assert.True(t, syncerr.IsKind(err, syncerr.KindConfiguration))
}

func TestValidateFilter(t *testing.T) {
	_, srv := newFakeADO(t, 0)
	p := newProvider(t, srv)

	assert.NoError(t, p.ValidateFilter("feature", provider.RoleSource, ir.Filter{"state": []any{"New"}}))
	assert.NoError(t, p.ValidateFilter("feature", provider.RoleDestination, ir.Filter{"workItemType": "Feature"}))
	assert.Error(t, p.ValidateFilter("feature", provider.RoleDestination, ir.Filter{"state": "New"}))
	assert.Error(t, p.ValidateFilter("feature", provider.RoleSource, ir.Filter{"project": "x"}))
	assert.Error(t, p.ValidateFilter("story", provider.RoleSource, nil))
}

func TestItemURL(t *testing.T) {
	_, srv := newFakeADO(t, 0)
	p := newProvider(t, srv)
	assert.Equal(t, srv.URL+"/Fabrikam%20Fiber/_workitems/edit/7", p.ItemURL("feature", "7"))
}

func mustPath(t *testing.T, s string) fieldpath.Path {
	t.Helper()
	p, err := fieldpath.Parse(s)
	require.NoError(t, err)
	return p
}
