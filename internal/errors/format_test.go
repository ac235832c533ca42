package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatForCLI_IncludesHintAndCode(t *testing.T) {
	// Given: a lock contention error
	err := WriteLockContention("/data/catalog", nil)

	// When: formatting for CLI
	result := FormatForCLI(err)

	// Then: message, hint and code are shown
	assert.Contains(t, result, "index write lock is held by another writer")
	assert.Contains(t, result, "Hint: is another process writing to the index?")
	assert.Contains(t, result, "Code: ERR_207_WRITE_LOCK_CONTENTION")
}

func TestFormatForCLI_FindsWrappedIndexError(t *testing.T) {
	err := fmt.Errorf("open writer: %w", MissingRegistration("writer", "catalog"))

	result := FormatForCLI(err)

	assert.Contains(t, result, `no writer is registered for index "catalog"`)
	assert.Contains(t, result, ErrCodeMissingRegistration)
}

func TestFormatForCLI_StandardError(t *testing.T) {
	result := FormatForCLI(errors.New("something went wrong"))

	assert.Contains(t, result, "something went wrong")
	assert.Contains(t, result, ErrCodeInternal)
	lines := strings.Split(strings.TrimSpace(result), "\n")
	assert.LessOrEqual(t, len(lines), 4)
}

func TestFormatForCLI_NilError(t *testing.T) {
	assert.Empty(t, FormatForCLI(nil))
}

func TestFormatJSON_IndexError(t *testing.T) {
	// Given: a network failure with a cause
	err := ReplicationNetwork("pull catalog", errors.New("connection refused"))

	// When: formatting as JSON
	data, jerr := FormatJSON(err)
	require.NoError(t, jerr)

	// Then: fields round-trip into the wire form
	var parsed map[string]any
	require.NoError(t, json.Unmarshal(data, &parsed))
	assert.Equal(t, ErrCodeReplicationNetwork, parsed["code"])
	assert.Equal(t, "NETWORK", parsed["category"])
	assert.Equal(t, true, parsed["retryable"])
	assert.Equal(t, "connection refused", parsed["cause"])
}

func TestFormatJSON_NilError(t *testing.T) {
	data, err := FormatJSON(nil)
	require.NoError(t, err)
	assert.Equal(t, "null", string(data))
}

func TestLogAttrs(t *testing.T) {
	err := UnsupportedLifetime("reader", "catalog", testLifetime("bogus"))

	attrs := LogAttrs(err)

	require.Equal(t, 0, len(attrs)%2)
	kv := map[string]any{}
	for i := 0; i < len(attrs); i += 2 {
		kv[attrs[i].(string)] = attrs[i+1]
	}
	assert.Equal(t, ErrCodeUnsupportedLifetime, kv["error_code"])
	assert.Equal(t, "catalog", kv["detail_index"])
	assert.Equal(t, false, kv["retryable"])

	assert.Equal(t, []any{"error", "plain"}, LogAttrs(errors.New("plain")))
	assert.Nil(t, LogAttrs(nil))
}
