package dagmodel

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTask_MetadataCondition_DecodesViaMapstructure(t *testing.T) {
	data := []byte(`{
		"id": "t1",
		"type": "mcp_tool",
		"tool": "net:fetch",
		"metadata": {"condition": {"requiredOutcome": "success"}, "pure": true}
	}`)

	var task Task
	require.NoError(t, json.Unmarshal(data, &task))

	require.NotNil(t, task.Metadata.Condition)
	assert.Equal(t, "success", task.Metadata.Condition.RequiredOutcome)
	require.NotNil(t, task.Metadata.Pure)
	assert.True(t, *task.Metadata.Pure)
}

func TestTask_MetadataCondition_WeaklyTypedInput(t *testing.T) {
	// WeaklyTypedInput lets a YAML-sourced "true" string still decode into
	// the bool field, the same tolerance the teacher's config loader
	// extends to its own documents.
	data := []byte(`{"id":"t1","type":"code_execution","code":"return 1","metadata":{"safeToFail":"true"}}`)

	var task Task
	require.NoError(t, json.Unmarshal(data, &task))

	require.NotNil(t, task.Metadata.SafeToFail)
	assert.True(t, *task.Metadata.SafeToFail)
}

func TestTask_Metadata_RoundTripsThroughJSON(t *testing.T) {
	pure := true
	task := Task{
		ID:   "t1",
		Kind: KindCode,
		Code: "return 1",
		Metadata: Metadata{
			Pure:      &pure,
			Condition: &Condition{RequiredOutcome: "success"},
		},
	}

	data, err := json.Marshal(task)
	require.NoError(t, err)

	var roundTripped Task
	require.NoError(t, json.Unmarshal(data, &roundTripped))
	assert.Equal(t, task.Metadata, roundTripped.Metadata)
}

func TestTask_Metadata_AbsentMetadataDecodesToZeroValue(t *testing.T) {
	data := []byte(`{"id":"t1","type":"mcp_tool","tool":"net:fetch"}`)

	var task Task
	require.NoError(t, json.Unmarshal(data, &task))
	assert.Equal(t, Metadata{}, task.Metadata)
}
