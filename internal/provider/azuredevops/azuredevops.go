// Package azuredevops implements a provider over Azure DevOps work items.
//
// Queries run as WIQL ordered by [System.Id]; each page is the next run of
// at most PageSize ids after the cursor, fetched in one workitemsbatch call.
// Writes are JSON Patch documents, so a multi-field update is atomic.
package azuredevops

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/roach88/itemsync/internal/fieldpath"
	"github.com/roach88/itemsync/internal/ir"
	"github.com/roach88/itemsync/internal/provider"
	"github.com/roach88/itemsync/internal/provider/rest"
	"github.com/roach88/itemsync/internal/syncerr"
)

const (
	// PageSize is the number of ids per WIQL page and batch fetch.
	PageSize   = 200
	apiVersion = "7.0"
	patchType  = "application/json-patch+json"
)

// filterFields maps filter keys to work item reference names.
var filterFields = map[string]string{
	"workItemType": "System.WorkItemType",
	"state":        "System.State",
	"areaPath":     "System.AreaPath",
	"assignedTo":   "System.AssignedTo",
	"createdBy":    "System.CreatedBy",
}

// scopeFields are written on create so the new work item matches the
// destination filter. The work item type is part of the URL instead.
var scopeFields = []string{"state", "areaPath", "assignedTo"}

// Provider talks to one Azure DevOps project.
type Provider struct {
	name     string
	org      string
	project  string
	mappings map[string]ir.TypeMapping
	client   *rest.Client
}

// Option configures the underlying REST client.
type Option = rest.Option

// New creates a provider from its options: organizationUrl, project and
// personalAccessToken.
func New(cfg ir.ProviderConfig, opts ...Option) (*Provider, error) {
	var missing []string
	for _, key := range []string{"organizationUrl", "project", "personalAccessToken"} {
		if cfg.Options[key] == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return nil, syncerr.Configuration("E110", "provider %q: missing options %s", cfg.Name, strings.Join(missing, ", "))
	}

	org := strings.TrimRight(cfg.Options["organizationUrl"], "/")
	opts = append([]Option{rest.WithBasicAuth("", cfg.Options["personalAccessToken"])}, opts...)
	client, err := rest.New(cfg.Name, org, opts...)
	if err != nil {
		return nil, err
	}
	return &Provider{
		name:     cfg.Name,
		org:      org,
		project:  cfg.Options["project"],
		mappings: cfg.Mappings,
		client:   client,
	}, nil
}

// ValidateFilter checks filter keys. A destination must name exactly one
// work item type, which is used when creating items.
func (p *Provider) ValidateFilter(mapping string, role provider.Role, filter ir.Filter) error {
	if _, ok := p.mappings[mapping]; !ok {
		return syncerr.Configuration("E301", "provider %q has no mapping %q", p.name, mapping)
	}
	for _, key := range filter.Keys() {
		if _, ok := filterFields[key]; !ok {
			return filterError(p.name, "unsupported filter key %q", key)
		}
		if len(filter.Values(key)) == 0 {
			return filterError(p.name, "filter key %q has no values", key)
		}
	}
	if role == provider.RoleDestination && len(filter.Values("workItemType")) != 1 {
		return filterError(p.name, "destination filter needs a single workItemType")
	}
	return nil
}

// WIQL builds the query for the page after cursor.
func (p *Provider) WIQL(filter ir.Filter, cursor string) (string, error) {
	after := int64(0)
	if cursor != "" {
		n, err := strconv.ParseInt(cursor, 10, 64)
		if err != nil {
			return "", fmt.Errorf("invalid cursor %q", cursor)
		}
		after = n
	}

	conds := []string{
		"[System.TeamProject] = " + quote(p.project),
		fmt.Sprintf("[System.Id] > %d", after),
	}
	for _, key := range filter.Keys() {
		field, ok := filterFields[key]
		if !ok {
			return "", fmt.Errorf("unsupported filter key %q", key)
		}
		vals := filter.Values(key)
		if len(vals) == 1 {
			conds = append(conds, fmt.Sprintf("[%s] = %s", field, quote(ir.String(vals[0]))))
			continue
		}
		quoted := make([]string, len(vals))
		for i, v := range vals {
			quoted[i] = quote(ir.String(v))
		}
		conds = append(conds, fmt.Sprintf("[%s] IN (%s)", field, strings.Join(quoted, ", ")))
	}
	return "SELECT [System.Id] FROM WorkItems WHERE " + strings.Join(conds, " AND ") +
		" ORDER BY [System.Id] ASC", nil
}

// Query returns the work items with ids after cursor.
func (p *Provider) Query(ctx context.Context, mapping string, filter ir.Filter, cursor string) (provider.Page, error) {
	wiql, err := p.WIQL(filter, cursor)
	if err != nil {
		return provider.Page{}, syncerr.Provider(p.name, "query", false, err)
	}

	var refs struct {
		WorkItems []struct {
			ID any `json:"id"`
		} `json:"workItems"`
	}
	err = p.client.Do(ctx, "query", rest.Request{
		Method: http.MethodPost,
		Path:   p.projectPath("_apis/wit/wiql"),
		Query:  url.Values{"api-version": {apiVersion}, "$top": {strconv.Itoa(PageSize)}},
		Body:   map[string]string{"query": wiql},
	}, &refs)
	if err != nil {
		return provider.Page{}, err
	}
	if len(refs.WorkItems) == 0 {
		return provider.Page{}, nil
	}

	ids := make([]any, len(refs.WorkItems))
	for i, ref := range refs.WorkItems {
		ids[i] = ref.ID
	}
	var batch struct {
		Value []provider.Record `json:"value"`
	}
	err = p.client.Do(ctx, "query", rest.Request{
		Method: http.MethodPost,
		Path:   p.projectPath("_apis/wit/workitemsbatch"),
		Query:  url.Values{"api-version": {apiVersion}},
		Body:   map[string]any{"ids": ids, "errorPolicy": "omit"},
	}, &batch)
	if err != nil {
		return provider.Page{}, err
	}

	byID := make(map[string]provider.Record, len(batch.Value))
	for _, rec := range batch.Value {
		if rec != nil {
			byID[ir.String(rec["id"])] = rec
		}
	}
	page := provider.Page{Records: make([]provider.Record, 0, len(ids))}
	for _, id := range ids {
		if rec, ok := byID[ir.String(id)]; ok {
			page.Records = append(page.Records, rec)
		}
	}
	if len(refs.WorkItems) == PageSize {
		page.Next = ir.String(ids[len(ids)-1])
	}
	return page, nil
}

// Create creates a work item of the destination's type inside its scope.
func (p *Provider) Create(ctx context.Context, mapping string, scope ir.Filter, values provider.Record) (string, error) {
	types := scope.Values("workItemType")
	if len(types) != 1 {
		return "", filterError(p.name, "destination filter needs a single workItemType")
	}
	fields, err := p.fields(values, "create")
	if err != nil {
		return "", err
	}
	for _, key := range scopeFields {
		if vals := scope.Values(key); len(vals) == 1 {
			if _, set := fields[filterFields[key]]; !set {
				fields[filterFields[key]] = vals[0]
			}
		}
	}

	var created struct {
		ID any `json:"id"`
	}
	err = p.client.Do(ctx, "create", rest.Request{
		Method:      http.MethodPost,
		Path:        p.projectPath("_apis/wit/workitems/$" + ir.String(types[0])),
		Query:       url.Values{"api-version": {apiVersion}},
		Body:        patchDocument(fields),
		ContentType: patchType,
	}, &created)
	if err != nil {
		return "", err
	}
	if created.ID == nil {
		return "", syncerr.Provider(p.name, "create", false, fmt.Errorf("response carries no work item id"))
	}
	return ir.String(created.ID), nil
}

// Update patches fields of an existing work item.
func (p *Provider) Update(ctx context.Context, mapping, id string, values provider.Record) error {
	fields, err := p.fields(values, "update")
	if err != nil {
		return err
	}
	err = p.client.Do(ctx, "update", rest.Request{
		Method:      http.MethodPatch,
		Path:        "_apis/wit/workitems/" + id,
		Query:       url.Values{"api-version": {apiVersion}},
		Body:        patchDocument(fields),
		ContentType: patchType,
	}, nil)
	if se, ok := syncerr.As(err); ok {
		se.Item = id
	}
	return err
}

// ReadNative reads a path from a work item.
func (p *Provider) ReadNative(record provider.Record, path fieldpath.Path) (any, bool) {
	return fieldpath.Get(record, path)
}

// Capabilities reports atomic writes.
func (p *Provider) Capabilities() provider.Capabilities {
	return provider.Capabilities{AtomicWrites: true}
}

// ItemURL links to the work item form.
func (p *Provider) ItemURL(_, id string) string {
	return p.org + "/" + url.PathEscape(p.project) + "/_workitems/edit/" + id
}

// projectPath is unescaped; the client escapes the whole path.
func (p *Provider) projectPath(suffix string) string {
	return p.project + "/" + suffix
}

func (p *Provider) fields(values provider.Record, op string) (map[string]any, error) {
	for k := range values {
		if k != "fields" {
			return nil, syncerr.Provider(p.name, op, false, fmt.Errorf("only fields.* paths are writable, got %q", k))
		}
	}
	out := map[string]any{}
	if fields, ok := values["fields"].(map[string]any); ok {
		for k, v := range fields {
			out[k] = v
		}
	}
	return out, nil
}

func patchDocument(fields map[string]any) []map[string]any {
	keys := ir.SortedKeys(fields)
	ops := make([]map[string]any, 0, len(keys))
	for _, k := range keys {
		ops = append(ops, map[string]any{"op": "add", "path": "/fields/" + k, "value": fields[k]})
	}
	return ops
}

// quote renders a WIQL string literal.
func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func filterError(provider, format string, args ...any) error {
	e := syncerr.Configuration("E121", format, args...)
	e.Provider = provider
	return e
}
