package task

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTasks() []Task {
	return []Task{
		{InstanceID: "django__django-001", Repo: "django/django", Difficulty: "<15 min fix"},
		{InstanceID: "django__django-002", Repo: "django/django", Difficulty: "15 min - 1 hour"},
		{InstanceID: "sympy__sympy-001", Repo: "sympy/sympy", Difficulty: "<15 min fix"},
	}
}

func TestRegistryGetByID(t *testing.T) {
	r := NewRegistry(sampleTasks())

	got, err := r.GetByID("sympy__sympy-001")
	require.NoError(t, err)
	assert.Equal(t, "sympy/sympy", got.Repo)

	_, err = r.GetByID("does-not-exist")
	assert.Error(t, err)
}

func TestRegistryIterAllPreservesOrder(t *testing.T) {
	tasks := sampleTasks()
	r := NewRegistry(tasks)

	got := r.IterAll()
	require.Len(t, got, 3)
	for i, task := range tasks {
		assert.Equal(t, task.InstanceID, got[i].InstanceID)
	}
}

func TestRegistryGetByRepoAndDifficulty(t *testing.T) {
	r := NewRegistry(sampleTasks())

	django := r.GetByRepo("django/django")
	assert.Len(t, django, 2)

	quick := r.GetByDifficulty("<15 min fix")
	assert.Len(t, quick, 2)
}

func TestRegistryDuplicateInstanceIDOverwrites(t *testing.T) {
	tasks := append(sampleTasks(), Task{InstanceID: "django__django-001", Repo: "django/django", Version: "5.0"})
	r := NewRegistry(tasks)

	assert.Equal(t, 3, r.Len())
	got, err := r.GetByID("django__django-001")
	require.NoError(t, err)
	assert.Equal(t, "5.0", got.Version)
}

func TestRegistrySelectInstanceIDShortCircuits(t *testing.T) {
	r := NewRegistry(sampleTasks())

	got, err := r.Select(Filter{InstanceID: "sympy__sympy-001", Repo: "django/django"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "sympy__sympy-001", got[0].InstanceID)
}

func TestRegistrySelectIntersectsRepoAndDifficulty(t *testing.T) {
	r := NewRegistry(sampleTasks())

	got, err := r.Select(Filter{Repo: "django/django", Difficulty: "<15 min fix"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "django__django-001", got[0].InstanceID)
}

func TestRegistrySelectMaxTasksTruncates(t *testing.T) {
	r := NewRegistry(sampleTasks())

	got, err := r.Select(Filter{MaxTasks: 2})
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestRegistrySelectUnknownInstanceID(t *testing.T) {
	r := NewRegistry(sampleTasks())

	_, err := r.Select(Filter{InstanceID: "nope"})
	assert.Error(t, err)
}
