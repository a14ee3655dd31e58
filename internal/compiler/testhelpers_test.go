package compiler

import (
	"testing"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
types: item: {
	fields: {
		name:       {type: "string", required: true}
		state:      {type: "enum", values: ["New", "Active", "Closed"]}
		modifiedAt: {type: "datetime", default: "now"}
		sourceId:   {type: "string"}
		syncStatus: {type: "syncStatus"}
	}
	comparableFields: ["name", "state"]
	syncableFields:   ["name", "state", "sourceId", "syncStatus"]
	identityField:    "sourceId"
}

providers: {
	jama: {
		provider: "jama"
		options: {
			baseUrl:  "https://jama.example.com"
			clientId: "env(JAMA_CLIENT_ID)"
			pageSize: 50
		}
		mappings: requirement: {
			type:     "item"
			id:       "id"
			modified: "modifiedDate"
			fields: {
				name:  "fields.name"
				state: "fields.status"
			}
		}
	}
	ado: {
		provider: "azuredevops"
		mappings: feature: {
			type:     "item"
			modified: "fields.[System.ChangedDate]"
			fields: {
				name:       "fields.[System.Title]"
				state:      "fields.[System.State]"
				sourceId:   "fields.[Custom.SourceId]"
				syncStatus: "fields.[Custom.SyncStatus]"
			}
		}
	}
}

sync: requirements: rules: "jama-to-ado": {
	source: {provider: "jama", mapping: "requirement", query: filter: project: ["P1", "P2"]}
	destination: {provider: "ado", mapping: "feature", query: filter: areaPath: "Team\\Features"}
	transforms: state: [
		{type: "mapping", map: {Open: "Active", Done: "Closed"}, strict: true},
	]
}

engine: {
	concurrency:       8
	maxWrites:         100
	conflictTolerance: "10m"
}
`

func compileCUE(t *testing.T, src string) cue.Value {
	t.Helper()
	v := cuecontext.New().CompileString(src)
	require.NoError(t, v.Err())
	return v
}

var cueRulePath = cue.ParsePath(`sync.requirements.rules."jama-to-ado"`)
