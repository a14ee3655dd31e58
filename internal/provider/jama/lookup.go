package jama

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/roach88/itemsync/internal/fieldpath"
	"github.com/roach88/itemsync/internal/ir"
	"github.com/roach88/itemsync/internal/provider"
	"github.com/roach88/itemsync/internal/provider/rest"
)

type pageInfo struct {
	StartIndex   int `json:"startIndex"`
	ResultCount  int `json:"resultCount"`
	TotalResults int `json:"totalResults"`
}

type listResponse struct {
	Meta struct {
		PageInfo pageInfo `json:"pageInfo"`
	} `json:"meta"`
	Data []provider.Record `json:"data"`
}

// listAll drains every page of a list endpoint.
func (p *Provider) listAll(ctx context.Context, path string, q url.Values) ([]provider.Record, error) {
	var out []provider.Record
	for startAt := 0; ; {
		page := url.Values{}
		for k, v := range q {
			page[k] = v
		}
		page.Set("startAt", strconv.Itoa(startAt))
		page.Set("maxResults", strconv.Itoa(PageSize))

		var resp listResponse
		if err := p.client.Do(ctx, "lookup", rest.Request{Method: http.MethodGet, Path: path, Query: page}, &resp); err != nil {
			return nil, err
		}
		out = append(out, resp.Data...)
		startAt += resp.Meta.PageInfo.ResultCount
		if resp.Meta.PageInfo.ResultCount == 0 || startAt >= resp.Meta.PageInfo.TotalResults {
			return out, nil
		}
	}
}

// index builds a name -> id table from list records.
func index(records []provider.Record, name fieldpath.Path) map[string]int64 {
	out := make(map[string]int64, len(records))
	for _, rec := range records {
		n, ok := fieldpath.Get(rec, name)
		if !ok {
			continue
		}
		id, err := toID(rec["id"])
		if err != nil {
			continue
		}
		out[ir.String(n)] = id
	}
	return out
}

func (p *Provider) projectID(ctx context.Context, name string) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.projects == nil {
		recs, err := p.listAll(ctx, "projects", nil)
		if err != nil {
			return 0, err
		}
		p.projects = index(recs, fieldpath.New("fields", "name"))
	}
	id, ok := p.projects[name]
	if !ok {
		return 0, filterError(p.name, "project %q not found", name)
	}
	return id, nil
}

func (p *Provider) itemTypeID(ctx context.Context, display string) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.itemTypes == nil {
		recs, err := p.listAll(ctx, "itemtypes", nil)
		if err != nil {
			return 0, err
		}
		p.itemTypes = index(recs, fieldpath.New("display"))
	}
	id, ok := p.itemTypes[display]
	if !ok {
		return 0, filterError(p.name, "itemType %q not found", display)
	}
	return id, nil
}

func (p *Provider) releaseID(ctx context.Context, project int64, name string) (int64, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	byName, ok := p.releases[project]
	if !ok {
		recs, err := p.listAll(ctx, "releases", url.Values{"project": {strconv.FormatInt(project, 10)}})
		if err != nil {
			return 0, false, err
		}
		byName = index(recs, fieldpath.New("name"))
		p.releases[project] = byName
	}
	id, ok := byName[name]
	return id, ok, nil
}

func (p *Provider) itemTags(ctx context.Context, itemID string) ([]any, error) {
	recs, err := p.listAll(ctx, "items/"+itemID+"/tags", nil)
	if err != nil {
		return nil, err
	}
	names := make([]any, 0, len(recs))
	for _, rec := range recs {
		names = append(names, ir.String(rec["name"]))
	}
	return names, nil
}
