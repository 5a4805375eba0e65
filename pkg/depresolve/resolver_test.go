package depresolve

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/dagrunner/pkg/dagmodel"
)

func TestResolve_Success(t *testing.T) {
	task := dagmodel.Task{ID: "t2", DependsOn: []string{"t1"}}
	completed := map[string]dagmodel.TaskResult{
		"t1": {TaskID: "t1", Status: dagmodel.StatusSuccess, Output: "ok"},
	}

	resolved, err := Resolve(task, completed)
	require.NoError(t, err)
	assert.Equal(t, "ok", resolved["t1"].Output)
}

func TestResolve_MissingDependency(t *testing.T) {
	task := dagmodel.Task{ID: "t2", DependsOn: []string{"t1"}}

	_, err := Resolve(task, map[string]dagmodel.TaskResult{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, dagmodel.ErrMissingDependency))
	assert.Contains(t, err.Error(), "t1")
}

func TestResolve_DependencyFailed(t *testing.T) {
	task := dagmodel.Task{ID: "t2", DependsOn: []string{"t1"}}
	completed := map[string]dagmodel.TaskResult{
		"t1": {TaskID: "t1", Status: dagmodel.StatusError, Error: "boom"},
	}

	_, err := Resolve(task, completed)
	require.Error(t, err)
	assert.True(t, errors.Is(err, dagmodel.ErrDependencyFailed))
	assert.Contains(t, err.Error(), "t1")
}

func TestResolve_DependencyWarningAlsoFails(t *testing.T) {
	task := dagmodel.Task{ID: "t2", DependsOn: []string{"t1"}}
	completed := map[string]dagmodel.TaskResult{
		"t1": {TaskID: "t1", Status: dagmodel.StatusWarning, Error: "ignored but no output"},
	}

	_, err := Resolve(task, completed)
	require.Error(t, err)
	assert.True(t, errors.Is(err, dagmodel.ErrDependencyFailed))
	assert.Contains(t, err.Error(), "t1")
}

func TestResolve_NoDependencies(t *testing.T) {
	task := dagmodel.Task{ID: "t1"}
	resolved, err := Resolve(task, nil)
	require.NoError(t, err)
	assert.Empty(t, resolved)
}
