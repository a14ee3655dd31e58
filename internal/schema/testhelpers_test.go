package schema

import "github.com/roach88/itemsync/internal/ir"

// testConfig returns a valid configuration syncing "item" from a Jama
// requirement mapping into an Azure DevOps feature mapping.
func testConfig() *ir.Config {
	return &ir.Config{
		Types: []ir.TypeDefinition{{
			Name: "item",
			Fields: []ir.FieldDefinition{
				{Name: "name", Kind: ir.KindString, Required: true},
				{Name: "description", Kind: ir.KindRichText},
				{Name: "modifiedAt", Kind: ir.KindDatetime, Default: "now"},
				{Name: "state", Kind: ir.KindEnum, Values: []string{"Open", "Closed", "Active"}},
				{Name: "sourceId", Kind: ir.KindString},
				{Name: "syncStatus", Kind: ir.KindSyncStatus},
			},
			Policy: ir.TypePolicy{
				ComparableFields: []string{"name", "description", "modifiedAt"},
				SyncableFields:   []string{"name", "description", "modifiedAt", "state", "sourceId", "syncStatus"},
				IdentityField:    "sourceId",
			},
		}},
		Providers: []ir.ProviderConfig{
			{
				Name: "jama",
				Kind: "memory",
				Mappings: map[string]ir.TypeMapping{
					"requirement": {
						Name: "requirement", Type: "item", ID: "id", Modified: "modifiedDate",
						Fields: []ir.FieldMapping{
							{Field: "name", Path: "fields.name"},
							{Field: "description", Path: "fields.description"},
							{Field: "modifiedAt", Path: "modifiedDate"},
							{Field: "state", Path: "fields.status"},
						},
					},
				},
			},
			{
				Name: "ado",
				Kind: "memory",
				Mappings: map[string]ir.TypeMapping{
					"feature": {
						Name: "feature", Type: "item", ID: "id", Modified: "fields.[System.ChangedDate]",
						Fields: []ir.FieldMapping{
							{Field: "name", Path: "fields.[System.Title]"},
							{Field: "description", Path: "fields.[System.Description]"},
							{Field: "modifiedAt", Path: "fields.[Custom.SourceModified]"},
							{Field: "state", Path: "fields.[System.State]"},
							{Field: "sourceId", Path: "fields.[Custom.SourceId]"},
							{Field: "syncStatus", Path: "fields.[Custom.SyncStatus]"},
						},
					},
				},
			},
		},
		Groups: []ir.SyncGroup{{
			Name: "requirements",
			Rules: []ir.SyncRule{{
				Name:        "jama-to-ado",
				Group:       "requirements",
				Source:      ir.Endpoint{Provider: "jama", Mapping: "requirement"},
				Destination: ir.Endpoint{Provider: "ado", Mapping: "feature"},
			}},
		}},
		Engine: ir.DefaultEngineSettings(),
	}
}
