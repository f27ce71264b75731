package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseInsertInto(t *testing.T) {
	nodes, err := Parse(`insert {"name": "ferris", "age": 3} into pets`)
	require.NoError(t, err)
	require.Len(t, nodes, 1)

	into, ok := nodes[0].(IntoExpression)
	require.True(t, ok)
	assert.Equal(t, OpInsert, into.Op)

	target, ok := into.Target.(Identifier)
	require.True(t, ok)
	assert.Equal(t, "pets", target.Name)

	lit, ok := into.Value.(BsonLiteral)
	require.True(t, ok)
	obj, ok := lit.Value.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "ferris", obj["name"])
	assert.Equal(t, int64(3), obj["age"])
}

func TestParseUpdateIntoWithVariable(t *testing.T) {
	nodes, err := Parse(`update $doc into pets`)
	require.NoError(t, err)
	require.Len(t, nodes, 1)

	into, ok := nodes[0].(IntoExpression)
	require.True(t, ok)
	assert.Equal(t, OpUpdate, into.Op)

	val, ok := into.Value.(VariableIdentifier)
	require.True(t, ok)
	assert.Equal(t, "doc", val.Name)
}

func TestParseGet(t *testing.T) {
	nodes, err := Parse(`get pets`)
	require.NoError(t, err)
	require.Len(t, nodes, 1)

	single, ok := nodes[0].(SingleExpression)
	require.True(t, ok)
	assert.Equal(t, OpGet, single.Op)
	assert.Equal(t, Identifier{Name: "pets"}, single.Target)
}

func TestParseDeleteKey(t *testing.T) {
	nodes, err := Parse(`delete pets`)
	require.NoError(t, err)
	single, ok := nodes[0].(SingleExpression)
	require.True(t, ok)
	assert.Equal(t, OpDelete, single.Op)
	assert.Equal(t, Identifier{Name: "pets"}, single.Target)
}

func TestParseBareList(t *testing.T) {
	nodes, err := Parse(`list`)
	require.NoError(t, err)
	single, ok := nodes[0].(SingleExpression)
	require.True(t, ok)
	assert.Equal(t, OpList, single.Op)
	assert.Nil(t, single.Target)
}

func TestParseListDatabases(t *testing.T) {
	nodes, err := Parse(`list databases`)
	require.NoError(t, err)
	mon, ok := nodes[0].(MonadicExpression)
	require.True(t, ok)
	assert.Equal(t, OpList, mon.Op)
	assert.Equal(t, KindDatabase, mon.Target)
}

func TestParseInsertUser(t *testing.T) {
	nodes, err := Parse(`insert user alice password = "hunter2" permission = "read_and_write"`)
	require.NoError(t, err)
	mon, ok := nodes[0].(MonadicExpression)
	require.True(t, ok)
	assert.Equal(t, OpInsert, mon.Op)
	assert.Equal(t, KindUser, mon.Target)
	assert.Equal(t, "alice", mon.Ident)

	pw, ok := mon.Fields["password"].(BsonLiteral)
	require.True(t, ok)
	assert.Equal(t, "hunter2", pw.Value)

	perm, ok := mon.Fields["permission"].(BsonLiteral)
	require.True(t, ok)
	assert.Equal(t, "read_and_write", perm.Value)
}

func TestParseUpdateUserPartial(t *testing.T) {
	nodes, err := Parse(`update user alice permission = "admin"`)
	require.NoError(t, err)
	mon, ok := nodes[0].(MonadicExpression)
	require.True(t, ok)
	assert.Equal(t, OpUpdate, mon.Op)
	_, hasPassword := mon.Fields["password"]
	assert.False(t, hasPassword)
	perm, ok := mon.Fields["permission"].(BsonLiteral)
	require.True(t, ok)
	assert.Equal(t, "admin", perm.Value)
}

func TestParseDeleteUser(t *testing.T) {
	nodes, err := Parse(`delete user alice`)
	require.NoError(t, err)
	mon, ok := nodes[0].(MonadicExpression)
	require.True(t, ok)
	assert.Equal(t, OpDelete, mon.Op)
	assert.Equal(t, KindUser, mon.Target)
	assert.Equal(t, "alice", mon.Ident)
}

func TestParseDeleteDatabaseNamed(t *testing.T) {
	nodes, err := Parse(`delete database analytics`)
	require.NoError(t, err)
	mon, ok := nodes[0].(MonadicExpression)
	require.True(t, ok)
	assert.Equal(t, KindDatabase, mon.Target)
	assert.Equal(t, "analytics", mon.Ident)
}

func TestParseDeleteDatabaseCurrent(t *testing.T) {
	nodes, err := Parse(`delete database`)
	require.NoError(t, err)
	mon, ok := nodes[0].(MonadicExpression)
	require.True(t, ok)
	assert.Equal(t, KindDatabase, mon.Target)
	assert.Equal(t, "", mon.Ident)
}

func TestParseAssignmentThenUse(t *testing.T) {
	nodes, err := Parse(`doc := {"a": 1}
insert $doc into things`)
	require.NoError(t, err)
	require.Len(t, nodes, 2)

	assign, ok := nodes[0].(AssignmentExpression)
	require.True(t, ok)
	assert.Equal(t, "doc", assign.Name)

	into, ok := nodes[1].(IntoExpression)
	require.True(t, ok)
	val, ok := into.Value.(VariableIdentifier)
	require.True(t, ok)
	assert.Equal(t, "doc", val.Name)
}

func TestParseArrayAndNestedObject(t *testing.T) {
	nodes, err := Parse(`insert {"tags": ["a", "b"], "meta": {"x": 1.5}} into things`)
	require.NoError(t, err)
	into := nodes[0].(IntoExpression)
	obj := into.Value.(BsonLiteral).Value.(map[string]interface{})

	tags, ok := obj["tags"].([]interface{})
	require.True(t, ok)
	assert.Equal(t, []interface{}{"a", "b"}, tags)

	meta, ok := obj["meta"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, 1.5, meta["x"])
}

func TestParseUnexpectedTokenError(t *testing.T) {
	_, err := Parse(`frobnicate pets`)
	require.Error(t, err)
	var utErr *UnexpectedTokenError
	assert.ErrorAs(t, err, &utErr)
}

func TestParseSyntaxErrorFromLexer(t *testing.T) {
	_, err := Parse(`get "unterminated`)
	require.Error(t, err)
	var synErr *SyntaxError
	assert.ErrorAs(t, err, &synErr)
}

func TestParseMissingIntoKeyword(t *testing.T) {
	_, err := Parse(`insert {"a": 1} pets`)
	require.Error(t, err)
	var utErr *UnexpectedTokenError
	assert.ErrorAs(t, err, &utErr)
}
