// Package jama implements a provider over the Jama Connect REST API.
//
// Filters name things the way users see them (project names, item type
// display names, release names); the provider resolves those to ids on
// first use and caches them for its lifetime. Authentication uses the
// OAuth client credentials flow against {url}/rest/oauth/token.
package jama

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/roach88/itemsync/internal/fieldpath"
	"github.com/roach88/itemsync/internal/ir"
	"github.com/roach88/itemsync/internal/provider"
	"github.com/roach88/itemsync/internal/provider/rest"
	"github.com/roach88/itemsync/internal/syncerr"
)

// PageSize is the largest page abstractitems accepts.
const PageSize = 50

// Filter keys.
const (
	KeyProject      = "project"
	KeyItemType     = "itemType"
	KeyDocumentKey  = "documentKey"
	KeyRelease      = "release"
	KeyTag          = "tag"
	KeyParentItemID = "parentItemId"
)

var knownKeys = []string{KeyProject, KeyItemType, KeyDocumentKey, KeyRelease, KeyTag, KeyParentItemID}

// Provider talks to one Jama instance.
type Provider struct {
	name     string
	url      string
	mappings map[string]ir.TypeMapping
	client   *rest.Client

	mu        sync.Mutex
	projects  map[string]int64 // by name
	itemTypes map[string]int64 // by display name
	releases  map[int64]map[string]int64
}

type options struct {
	httpClient *http.Client
}

// Option configures a Provider.
type Option func(*options)

// WithHTTPClient sets the HTTP client used for token and API requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(o *options) {
		o.httpClient = hc
	}
}

// New creates a provider from its options: url, clientId and clientSecret.
// Option values must already be resolved.
func New(cfg ir.ProviderConfig, opts ...Option) (*Provider, error) {
	var missing []string
	for _, key := range []string{"url", "clientId", "clientSecret"} {
		if cfg.Options[key] == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return nil, syncerr.Configuration("E110", "provider %q: missing options %s", cfg.Name, strings.Join(missing, ", "))
	}

	o := options{httpClient: http.DefaultClient}
	for _, opt := range opts {
		opt(&o)
	}

	base := strings.TrimRight(cfg.Options["url"], "/")
	cc := clientcredentials.Config{
		ClientID:     cfg.Options["clientId"],
		ClientSecret: cfg.Options["clientSecret"],
		TokenURL:     base + "/rest/oauth/token",
	}
	tokenCtx := context.WithValue(context.Background(), oauth2.HTTPClient, o.httpClient)
	hc := cc.Client(tokenCtx)
	hc.Timeout = o.httpClient.Timeout

	client, err := rest.New(cfg.Name, base+"/rest/v1", rest.WithHTTPClient(hc))
	if err != nil {
		return nil, err
	}
	return &Provider{
		name:     cfg.Name,
		url:      base,
		mappings: cfg.Mappings,
		client:   client,
		releases: make(map[int64]map[string]int64),
	}, nil
}

// ValidateFilter checks filter keys and shapes without network access.
//
// Sources need at least one of project, itemType, documentKey or release,
// every value must be a list, and release or tag require project.
// Destinations name the project, parent item and item type new items are
// created with.
func (p *Provider) ValidateFilter(mapping string, role provider.Role, filter ir.Filter) error {
	if _, ok := p.mappings[mapping]; !ok {
		return syncerr.Configuration("E301", "provider %q has no mapping %q", p.name, mapping)
	}
	for _, key := range filter.Keys() {
		if !slices.Contains(knownKeys, key) {
			return filterError(p.name, "unsupported filter key %q", key)
		}
	}

	if role == provider.RoleDestination {
		for _, key := range []string{KeyProject, KeyParentItemID, KeyItemType} {
			if _, ok := single(filter, key); !ok {
				return filterError(p.name, "destination filter needs a single %s", key)
			}
		}
		return nil
	}

	if !hasAny(filter, KeyProject, KeyItemType, KeyDocumentKey, KeyRelease) {
		return filterError(p.name, "source filter needs at least one of project, itemType, documentKey or release")
	}
	for _, key := range []string{KeyRelease, KeyTag} {
		if _, ok := filter[key]; ok && !hasAny(filter, KeyProject) {
			return filterError(p.name, "%s requires project", key)
		}
	}
	for _, key := range filter.Keys() {
		if key == KeyParentItemID {
			continue
		}
		if _, ok := filter[key].([]any); !ok {
			return filterError(p.name, "%s must be a list", key)
		}
	}
	return nil
}

// Query returns one page of abstract items. cursor is the startAt offset.
func (p *Provider) Query(ctx context.Context, mapping string, filter ir.Filter, cursor string) (provider.Page, error) {
	startAt := 0
	if cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil {
			return provider.Page{}, syncerr.Provider(p.name, "query", false, fmt.Errorf("invalid cursor %q", cursor))
		}
		startAt = n
	}

	q, err := p.searchParams(ctx, filter)
	if err != nil {
		return provider.Page{}, err
	}
	q.Set("startAt", strconv.Itoa(startAt))
	q.Set("maxResults", strconv.Itoa(PageSize))

	var resp listResponse
	if err := p.client.Do(ctx, "query", rest.Request{Method: http.MethodGet, Path: "abstractitems", Query: q}, &resp); err != nil {
		return provider.Page{}, err
	}

	var page provider.Page
	for _, rec := range resp.Data {
		keep, err := p.matches(ctx, rec, filter)
		if err != nil {
			return provider.Page{}, err
		}
		if keep {
			page.Records = append(page.Records, rec)
		}
	}
	if next := startAt + resp.Meta.PageInfo.ResultCount; resp.Meta.PageInfo.ResultCount > 0 && next < resp.Meta.PageInfo.TotalResults {
		page.Next = strconv.Itoa(next)
	}
	return page, nil
}

// searchParams translates the server-side filter keys to query parameters.
func (p *Provider) searchParams(ctx context.Context, filter ir.Filter) (url.Values, error) {
	q := url.Values{}

	var projectIDs []int64
	for _, v := range filter.Values(KeyProject) {
		id, err := p.projectID(ctx, ir.String(v))
		if err != nil {
			return nil, err
		}
		projectIDs = append(projectIDs, id)
		q.Add("project", strconv.FormatInt(id, 10))
	}
	for _, v := range filter.Values(KeyItemType) {
		id, err := p.itemTypeID(ctx, ir.String(v))
		if err != nil {
			return nil, err
		}
		q.Add("itemType", strconv.FormatInt(id, 10))
	}
	for _, v := range filter.Values(KeyDocumentKey) {
		q.Add("documentKey", ir.String(v))
	}
	for _, v := range filter.Values(KeyRelease) {
		found := false
		for _, pid := range projectIDs {
			id, ok, err := p.releaseID(ctx, pid, ir.String(v))
			if err != nil {
				return nil, err
			}
			if ok {
				q.Add("release", strconv.FormatInt(id, 10))
				found = true
			}
		}
		if !found {
			return nil, filterError(p.name, "release %q not found in the filtered projects", ir.String(v))
		}
	}
	return q, nil
}

// matches applies the keys abstractitems cannot filter on.
func (p *Provider) matches(ctx context.Context, rec provider.Record, filter ir.Filter) (bool, error) {
	if parent, ok := single(filter, KeyParentItemID); ok {
		got, _ := fieldpath.Get(rec, fieldpath.New("location", "parent", "item"))
		if ir.String(got) != ir.String(parent) {
			return false, nil
		}
	}
	tags := filter.Values(KeyTag)
	if len(tags) == 0 {
		return true, nil
	}

	names, err := p.itemTags(ctx, ir.String(rec["id"]))
	if err != nil {
		return false, err
	}
	rec["tags"] = names
	for _, t := range tags {
		if slices.Contains(names, any(ir.String(t))) {
			return true, nil
		}
	}
	return false, nil
}

// Create posts a new item under the destination's parent item. Only values
// under "fields" are written.
func (p *Provider) Create(ctx context.Context, mapping string, scope ir.Filter, values provider.Record) (string, error) {
	fields, err := p.fields(values, "create")
	if err != nil {
		return "", err
	}

	projectName, _ := single(scope, KeyProject)
	projectID, err := p.projectID(ctx, ir.String(projectName))
	if err != nil {
		return "", err
	}
	typeName, _ := single(scope, KeyItemType)
	typeID, err := p.itemTypeID(ctx, ir.String(typeName))
	if err != nil {
		return "", err
	}
	parentRaw, _ := single(scope, KeyParentItemID)
	parent, err := toID(parentRaw)
	if err != nil {
		return "", filterError(p.name, "parentItemId: %v", err)
	}

	body := map[string]any{
		"project":  projectID,
		"itemType": typeID,
		"location": map[string]any{"parent": map[string]any{"item": parent}},
		"fields":   fields,
	}
	var resp struct {
		Meta struct {
			ID any `json:"id"`
		} `json:"meta"`
	}
	if err := p.client.Do(ctx, "create", rest.Request{Method: http.MethodPost, Path: "items", Body: body}, &resp); err != nil {
		return "", err
	}
	if resp.Meta.ID == nil {
		return "", syncerr.Provider(p.name, "create", false, fmt.Errorf("response carries no item id"))
	}
	return ir.String(resp.Meta.ID), nil
}

// Update patches fields of an existing item in one request.
func (p *Provider) Update(ctx context.Context, mapping, id string, values provider.Record) error {
	fields, err := p.fields(values, "update")
	if err != nil {
		return err
	}
	patches := make([]map[string]any, 0, len(fields))
	for _, k := range ir.SortedKeys(fields) {
		patches = append(patches, map[string]any{"op": "add", "path": "/fields/" + k, "value": fields[k]})
	}
	err = p.client.Do(ctx, "update", rest.Request{
		Method: http.MethodPatch,
		Path:   "items/" + id,
		Body:   patches,
	}, nil)
	if se, ok := syncerr.As(err); ok {
		se.Item = id
	}
	return err
}

// ReadNative reads a path from an abstract item.
func (p *Provider) ReadNative(record provider.Record, path fieldpath.Path) (any, bool) {
	return fieldpath.Get(record, path)
}

// Capabilities reports atomic writes: an update is a single PATCH.
func (p *Provider) Capabilities() provider.Capabilities {
	return provider.Capabilities{AtomicWrites: true}
}

// ItemURL links to the item in the Jama UI.
func (p *Provider) ItemURL(_, id string) string {
	return p.url + "/perspective.req#/items/" + id
}

func (p *Provider) fields(values provider.Record, op string) (map[string]any, error) {
	for k := range values {
		if k != "fields" {
			return nil, syncerr.Provider(p.name, op, false, fmt.Errorf("only fields.* paths are writable, got %q", k))
		}
	}
	fields, _ := values["fields"].(map[string]any)
	if fields == nil {
		fields = map[string]any{}
	}
	return fields, nil
}

func filterError(provider, format string, args ...any) error {
	e := syncerr.Configuration("E121", format, args...)
	e.Provider = provider
	return e
}

// single returns the one value of key, unwrapping a one-element list.
func single(f ir.Filter, key string) (any, bool) {
	vals := f.Values(key)
	if len(vals) != 1 || vals[0] == nil {
		return nil, false
	}
	return vals[0], true
}

func hasAny(f ir.Filter, keys ...string) bool {
	for _, k := range keys {
		if _, ok := f[k]; ok {
			return true
		}
	}
	return false
}

func toID(v any) (int64, error) {
	switch n := ir.Normalize(v).(type) {
	case int64:
		return n, nil
	case string:
		return strconv.ParseInt(strings.TrimSpace(n), 10, 64)
	default:
		return 0, fmt.Errorf("%v is not an item id", v)
	}
}
