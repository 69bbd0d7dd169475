package db

import (
	"testing"

	sharedDomain "github.com/davicafu/productflow/internal/shared/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fieldCriteria struct {
	field string
	op    sharedDomain.Operator
	value interface{}
}

func (c fieldCriteria) ToConditions() []sharedDomain.Criterion {
	return []sharedDomain.Criterion{{Field: c.field, Op: c.op, Value: c.value}}
}

var allowed = map[string]bool{"status": true, "id": true}

func TestBuildWhere_Postgres(t *testing.T) {
	crit := sharedDomain.And(
		fieldCriteria{field: "status", op: sharedDomain.OpEq, value: "ACTIVE"},
		nil,
		fieldCriteria{field: "id", op: sharedDomain.OpIn, value: []string{"a", "b"}},
	)

	where, args, err := BuildWhere(crit, allowed, Dollar, 0)
	require.NoError(t, err)
	assert.Equal(t, "status = $1 AND id IN ($2, $3)", where)
	assert.Equal(t, []interface{}{"ACTIVE", "a", "b"}, args)
}

func TestBuildWhere_SQLiteWithOffset(t *testing.T) {
	where, args, err := BuildWhere(fieldCriteria{field: "status", op: sharedDomain.OpEq, value: "ACTIVE"}, allowed, Question, 2)
	require.NoError(t, err)
	assert.Equal(t, "status = ?", where)
	assert.Len(t, args, 1)
}

func TestBuildWhere_Rejects(t *testing.T) {
	_, _, err := BuildWhere(fieldCriteria{field: "price; DROP TABLE products", op: sharedDomain.OpEq, value: 1}, allowed, Dollar, 0)
	assert.Error(t, err)

	_, _, err = BuildWhere(fieldCriteria{field: "id", op: sharedDomain.OpIn, value: "a"}, allowed, Dollar, 0)
	assert.Error(t, err)
}

func TestBuildWhere_EmptyInNeverMatches(t *testing.T) {
	where, args, err := BuildWhere(fieldCriteria{field: "id", op: sharedDomain.OpIn, value: []string{}}, allowed, Dollar, 0)
	require.NoError(t, err)
	assert.Equal(t, "1 = 0", where)
	assert.Empty(t, args)
}

func TestBuildWhere_NilCriteria(t *testing.T) {
	where, args, err := BuildWhere(nil, allowed, Dollar, 0)
	require.NoError(t, err)
	assert.Empty(t, where)
	assert.Nil(t, args)
}
