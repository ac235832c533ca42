package daemon

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/indexhost/pkg/searcher"
)

func TestSearchParams_Validate(t *testing.T) {
	tests := []struct {
		name    string
		params  SearchParams
		wantErr string
	}{
		{"valid", SearchParams{Index: "catalog", Query: "widget"}, ""},
		{"missing index", SearchParams{Query: "widget"}, "index is required"},
		{"blank query", SearchParams{Index: "catalog", Query: "   "}, "query is required"},
		{"query string mode", SearchParams{Index: "catalog", Query: "+a", Mode: "query_string"}, ""},
		{"unknown mode", SearchParams{Index: "catalog", Query: "a", Mode: "fuzzy"}, "unknown query mode"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.params.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSearchParams_ValidateDefaultsLimit(t *testing.T) {
	p := SearchParams{Index: "catalog", Query: "widget", Limit: -3}

	require.NoError(t, p.Validate())

	assert.Equal(t, searcher.DefaultLimit, p.Limit)
}

func TestIndexParams_Validate(t *testing.T) {
	assert.Error(t, (&IndexParams{}).Validate())
	assert.NoError(t, (&IndexParams{Index: "catalog"}).Validate())
}

func TestResponses_WireFormat(t *testing.T) {
	data, err := json.Marshal(NewErrorResponse("req-1", ErrCodeIndexNotFound, `index "x" not found`))
	require.NoError(t, err)
	assert.JSONEq(t,
		`{"jsonrpc":"2.0","error":{"code":-32001,"message":"index \"x\" not found"},"id":"req-1"}`,
		string(data))

	data, err = json.Marshal(NewSuccessResponse("req-2", PingResult{Pong: true}))
	require.NoError(t, err)
	assert.JSONEq(t, `{"jsonrpc":"2.0","result":{"pong":true},"id":"req-2"}`, string(data))
}

func TestError_Error(t *testing.T) {
	err := &Error{Code: ErrCodeSearchFailed, Message: "boom"}

	assert.Equal(t, "boom (code: -32002)", err.Error())
}
