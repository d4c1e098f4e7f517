package session

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dbtforge/internal/document"
)

func newRules() *Session[*document.RuleSet] {
	return New[*document.RuleSet](document.RuleSetCodec{})
}

func TestNew_StartsEmptyWithValue(t *testing.T) {
	s := newRules()
	assert.Equal(t, StateEmpty, s.State())
	require.NotNil(t, s.Value())
	assert.NotNil(t, s.Value().Rules)
	assert.Equal(t, document.KindRuleSet, s.Kind())
}

func TestProgress_CoercesMissingLists(t *testing.T) {
	s := New[*document.Schema](document.SchemaCodec{})
	gen := s.Begin()

	ok := s.Progress(gen, map[string]any{
		"schemas": []any{map[string]any{"name": "orders"}},
	})
	require.True(t, ok)

	v := s.Value()
	assert.Equal(t, StateStreaming, s.State())
	require.Len(t, v.Tables, 1)
	assert.Equal(t, "orders", v.Tables[0].Name)
	assert.NotNil(t, v.Tables[0].Columns)
	assert.NotNil(t, v.Relationships)
	assert.NotNil(t, v.SuggestedJoins)
	assert.NotNil(t, v.ModelingRecommendations)
}

func TestProgress_CoercionFailureKeepsPreviousValue(t *testing.T) {
	s := newRules()
	gen := s.Begin()
	require.True(t, s.Progress(gen, map[string]any{"dbtRules": []any{map[string]any{"tableName": "orders"}}}))

	assert.False(t, s.Progress(gen, []any{1, 2}))
	assert.False(t, s.Progress(gen, map[string]any{"dbtRules": "not a list"}))

	assert.Equal(t, StateStreaming, s.State())
	require.Len(t, s.Value().Rules, 1)
	assert.Equal(t, "orders", s.Value().Rules[0].TableName)
}

func TestProgress_EmptyObjectStillStreams(t *testing.T) {
	s := newRules()
	gen := s.Begin()
	require.True(t, s.Progress(gen, map[string]any{}))
	assert.Equal(t, StateStreaming, s.State())
	assert.Empty(t, s.Value().Rules)
	assert.NotNil(t, s.Value().Rules)
}

func TestFinalize_RoundTrip(t *testing.T) {
	s := newRules()
	gen := s.Begin()

	text := `{"dbtRules":[{"tableName":"orders","materialization":"table","columnTests":[{"columnName":"id","tests":["unique","not_null"]}]}],"summary":"one model"}`
	v, err := s.Finalize(gen, text)
	require.NoError(t, err)

	assert.Equal(t, StateFinalized, s.State())
	assert.Same(t, v, s.Value())
	require.Len(t, v.Rules, 1)
	assert.Equal(t, "table", v.Rules[0].Materialization)
	require.Len(t, v.Rules[0].ColumnTests, 1)
	assert.Equal(t, []document.TestSpec{{Name: "unique"}, {Name: "not_null"}}, v.Rules[0].ColumnTests[0].Tests)
	assert.NotNil(t, v.GlobalRecommendations)
	assert.Equal(t, "one model", v.Summary)
}

func TestFinalize_AcceptsFencedText(t *testing.T) {
	s := newRules()
	gen := s.Begin()
	_, err := s.Finalize(gen, "```json\n{\"dbtRules\":[]}\n```")
	require.NoError(t, err)
	assert.Equal(t, StateFinalized, s.State())
}

func TestFinalize_FailureLeavesStateUnchanged(t *testing.T) {
	s := newRules()
	gen := s.Begin()
	require.True(t, s.Progress(gen, map[string]any{"dbtRules": []any{map[string]any{"tableName": "orders"}}}))
	before := s.Snapshot()

	_, err := s.Finalize(gen, `{"dbtRules":[{"tableName":"orders"`)
	require.ErrorIs(t, err, ErrFinalize)

	after := s.Snapshot()
	assert.Equal(t, before, after)
	assert.Equal(t, StateStreaming, after.State)
}

func TestProgress_IgnoredAfterFinalize(t *testing.T) {
	s := newRules()
	gen := s.Begin()
	_, err := s.Finalize(gen, `{"dbtRules":[{"tableName":"orders"}]}`)
	require.NoError(t, err)

	assert.False(t, s.Progress(gen, map[string]any{"dbtRules": []any{}}))
	assert.Len(t, s.Value().Rules, 1)

	_, err = s.Finalize(gen, `{"dbtRules":[]}`)
	assert.ErrorIs(t, err, ErrSuperseded)
}

func TestBegin_ResetsToEmpty(t *testing.T) {
	s := newRules()
	gen := s.Begin()
	_, err := s.Finalize(gen, `{"dbtRules":[{"tableName":"orders"}]}`)
	require.NoError(t, err)

	next := s.Begin()
	assert.Greater(t, next, gen)
	assert.Equal(t, StateEmpty, s.State())
	assert.Empty(t, s.Value().Rules)
}

func TestStaleGenerationIsDropped(t *testing.T) {
	s := newRules()
	old := s.Begin()
	current := s.Begin()

	assert.False(t, s.Progress(old, map[string]any{"dbtRules": []any{map[string]any{"tableName": "stale"}}}))
	_, err := s.Finalize(old, `{"dbtRules":[{"tableName":"stale"}]}`)
	require.ErrorIs(t, err, ErrSuperseded)
	assert.Equal(t, StateEmpty, s.State())

	_, err = s.Finalize(current, `{"dbtRules":[{"tableName":"fresh"}]}`)
	require.NoError(t, err)
	assert.Equal(t, "fresh", s.Value().Rules[0].TableName)
}

func TestCommit(t *testing.T) {
	s := newRules()
	gen := s.Begin()

	assert.ErrorIs(t, s.Commit(s.Snapshot().Revision, s.codec.Empty()), ErrNotFinalized)

	_, err := s.Finalize(gen, `{"dbtRules":[{"tableName":"orders"}]}`)
	require.NoError(t, err)
	snap := s.Snapshot()

	updated := snap.Value.Clone()
	updated.Rules = append(updated.Rules, document.TableRule{TableName: "customers"})
	updated.Normalize()
	require.NoError(t, s.Commit(snap.Revision, updated))

	assert.Equal(t, []string{"orders", "customers"}, s.Value().TableNames())
	assert.Equal(t, StateFinalized, s.State())

	// A second patch computed from the old snapshot conflicts.
	err = s.Commit(snap.Revision, snap.Value)
	require.ErrorIs(t, err, ErrSuperseded)
	assert.Equal(t, []string{"orders", "customers"}, s.Value().TableNames())
}

func TestCommit_LosesToRegeneration(t *testing.T) {
	s := newRules()
	gen := s.Begin()
	_, err := s.Finalize(gen, `{"dbtRules":[{"tableName":"orders"}]}`)
	require.NoError(t, err)
	snap := s.Snapshot()

	gen = s.Begin()
	_, err = s.Finalize(gen, `{"dbtRules":[{"tableName":"regenerated"}]}`)
	require.NoError(t, err)

	require.ErrorIs(t, s.Commit(snap.Revision, snap.Value), ErrSuperseded)
	assert.Equal(t, []string{"regenerated"}, s.Value().TableNames())
}

func TestRestore(t *testing.T) {
	s := newRules()
	value := &document.RuleSet{Rules: []document.TableRule{{TableName: "orders"}}}
	value.Normalize()

	gen := s.Restore(value)
	snap := s.Snapshot()
	assert.Equal(t, gen, snap.Generation)
	assert.Equal(t, StateFinalized, snap.State)
	assert.Same(t, value, snap.Value)
	assert.NoError(t, s.Commit(snap.Revision, value.Clone()))
}

func TestObserversSeeEveryChangeInOrder(t *testing.T) {
	s := newRules()
	var states []State
	var revs []Revision
	s.Subscribe(func(snap Snapshot[*document.RuleSet]) {
		states = append(states, snap.State)
		revs = append(revs, snap.Revision)
	})

	gen := s.Begin()
	s.Progress(gen, map[string]any{})
	s.Progress(gen, []any{}) // rejected, no notification
	_, err := s.Finalize(gen, `{"dbtRules":[]}`)
	require.NoError(t, err)

	assert.Equal(t, []State{StateEmpty, StateStreaming, StateFinalized}, states)
	for i := 1; i < len(revs); i++ {
		assert.Greater(t, revs[i], revs[i-1])
	}
}

func TestConcurrentReaders(t *testing.T) {
	s := newRules()
	gen := s.Begin()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				snap := s.Snapshot()
				if snap.Value == nil || snap.Value.Rules == nil {
					t.Error("snapshot value lost its lists")
					return
				}
			}
		}()
	}
	for j := 0; j < 200; j++ {
		s.Progress(gen, map[string]any{"dbtRules": []any{map[string]any{"tableName": "t"}}})
	}
	wg.Wait()
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "empty", StateEmpty.String())
	assert.Equal(t, "streaming", StateStreaming.String())
	assert.Equal(t, "finalized", StateFinalized.String())
	assert.Equal(t, "unknown", State(42).String())
}
