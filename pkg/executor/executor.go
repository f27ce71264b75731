// Package executor walks a parsed AST left to right against one request's
// current database and authenticated principal, maintaining a per-request
// variable environment and dispatching each statement to the storage
// interface.
package executor

import (
	"fmt"

	"github.com/rustbase/rustbase/pkg/permission"
	"github.com/rustbase/rustbase/pkg/protoerr"
	"github.com/rustbase/rustbase/pkg/query"
	"github.com/rustbase/rustbase/pkg/storage"
)

// Executor runs one request's AST against shared storage. It is cheap to
// construct and is never retained beyond a single request: variables do
// not persist across requests.
type Executor struct {
	storage   *storage.Storage
	database  string
	principal *storage.Principal
	vars      map[string]interface{}
}

// New builds an Executor bound to database and principal. A nil principal
// means the session is anonymous and bypasses every permission check
// except user creation, which storage.CreateUser admits only while no
// users exist.
func New(s *storage.Storage, database string, principal *storage.Principal) *Executor {
	return &Executor{
		storage:   s,
		database:  database,
		principal: principal,
		vars:      make(map[string]interface{}),
	}
}

// Run walks nodes left to right. Each node produces an optional body;
// non-nil bodies are collected into the returned slice in order. The
// returned status reflects the last operation that produced one,
// defaulting to Ok. Execution stops at the first error.
func (e *Executor) Run(nodes []query.Node) ([]interface{}, protoerr.StatusCode, *protoerr.Error) {
	var bodies []interface{}
	status := protoerr.Ok

	for _, node := range nodes {
		body, st, perr := e.execute(node)
		if perr != nil {
			return nil, "", perr
		}
		if st != "" {
			status = st
		}
		if body != nil {
			bodies = append(bodies, body)
		}
	}

	return bodies, status, nil
}

// execute dispatches one node by its concrete type. The default case
// below is unreachable for any AST actually produced by pkg/query, and
// exists only to fail loudly rather than silently ignore an unhandled
// node kind.
func (e *Executor) execute(node query.Node) (interface{}, protoerr.StatusCode, *protoerr.Error) {
	switch n := node.(type) {
	case query.AssignmentExpression:
		return e.executeAssignment(n)
	case query.IntoExpression:
		return e.executeInto(n)
	case query.SingleExpression:
		return e.executeSingle(n)
	case query.MonadicExpression:
		return e.executeMonadic(n)
	default:
		return nil, "", protoerr.New(protoerr.InternalError, fmt.Sprintf("unreachable AST node kind: %T", node))
	}
}

func (e *Executor) executeAssignment(n query.AssignmentExpression) (interface{}, protoerr.StatusCode, *protoerr.Error) {
	value, perr := e.resolveValue(n.Value)
	if perr != nil {
		return nil, "", perr
	}
	e.vars[n.Name] = value
	return nil, "", nil
}

func (e *Executor) executeInto(n query.IntoExpression) (interface{}, protoerr.StatusCode, *protoerr.Error) {
	value, perr := e.resolveValue(n.Value)
	if perr != nil {
		return nil, "", perr
	}
	key, perr := e.resolveKey(n.Target)
	if perr != nil {
		return nil, "", perr
	}

	switch n.Op {
	case query.OpInsert:
		if perr := e.storage.Insert(e.principal, e.database, key, value); perr != nil {
			return nil, "", perr
		}
		return nil, protoerr.Inserted, nil
	case query.OpUpdate:
		if perr := e.storage.Update(e.principal, e.database, key, value); perr != nil {
			return nil, "", perr
		}
		return nil, protoerr.Updated, nil
	default:
		return nil, "", protoerr.New(protoerr.InternalError, fmt.Sprintf("unreachable IntoExpression op: %s", n.Op))
	}
}

func (e *Executor) executeSingle(n query.SingleExpression) (interface{}, protoerr.StatusCode, *protoerr.Error) {
	switch n.Op {
	case query.OpGet:
		key, perr := e.resolveKey(n.Target)
		if perr != nil {
			return nil, "", perr
		}
		value, perr := e.storage.Get(e.principal, e.database, key)
		if perr != nil {
			return nil, "", perr
		}
		return value, protoerr.Ok, nil
	case query.OpDelete:
		key, perr := e.resolveKey(n.Target)
		if perr != nil {
			return nil, "", perr
		}
		if perr := e.storage.DeleteKey(e.principal, e.database, key); perr != nil {
			return nil, "", perr
		}
		return nil, protoerr.Ok, nil
	case query.OpList:
		keys, perr := e.storage.List(e.principal, e.database)
		if perr != nil {
			return nil, "", perr
		}
		return keys, protoerr.Ok, nil
	default:
		return nil, "", protoerr.New(protoerr.InternalError, fmt.Sprintf("unreachable SingleExpression op: %s", n.Op))
	}
}

func (e *Executor) executeMonadic(n query.MonadicExpression) (interface{}, protoerr.StatusCode, *protoerr.Error) {
	switch n.Target {
	case query.KindUser:
		return e.executeUserForm(n)
	case query.KindDatabase:
		return e.executeDatabaseForm(n)
	default:
		return nil, "", protoerr.New(protoerr.InternalError, fmt.Sprintf("unreachable MonadicExpression target: %d", n.Target))
	}
}

func (e *Executor) executeUserForm(n query.MonadicExpression) (interface{}, protoerr.StatusCode, *protoerr.Error) {
	switch n.Op {
	case query.OpInsert:
		password, perr := e.requireStringField(n.Fields, "password")
		if perr != nil {
			return nil, "", perr
		}
		permName, perr := e.requireStringField(n.Fields, "permission")
		if perr != nil {
			return nil, "", perr
		}
		level, err := permission.Parse(permName)
		if err != nil {
			return nil, "", protoerr.New(protoerr.InvalidQuery, err.Error())
		}
		if perr := e.storage.CreateUser(e.principal, n.Ident, password, level); perr != nil {
			return nil, "", perr
		}
		return nil, protoerr.Inserted, nil

	case query.OpUpdate:
		var password *string
		var level *permission.Level
		if lit, ok := n.Fields["password"]; ok {
			s, perr := e.stringLiteral(lit, "password")
			if perr != nil {
				return nil, "", perr
			}
			password = &s
		}
		if lit, ok := n.Fields["permission"]; ok {
			s, perr := e.stringLiteral(lit, "permission")
			if perr != nil {
				return nil, "", perr
			}
			lvl, err := permission.Parse(s)
			if err != nil {
				return nil, "", protoerr.New(protoerr.InvalidQuery, err.Error())
			}
			level = &lvl
		}
		if password == nil && level == nil {
			return nil, "", protoerr.New(protoerr.InvalidQuery, "update user requires at least one of password/permission")
		}
		if perr := e.storage.UpdateUser(e.principal, n.Ident, password, level); perr != nil {
			return nil, "", perr
		}
		return nil, protoerr.Updated, nil

	case query.OpDelete:
		if perr := e.storage.DeleteUser(e.principal, n.Ident); perr != nil {
			return nil, "", perr
		}
		return nil, protoerr.Ok, nil

	default:
		return nil, "", protoerr.New(protoerr.InternalError, fmt.Sprintf("unreachable user-form op: %s", n.Op))
	}
}

func (e *Executor) executeDatabaseForm(n query.MonadicExpression) (interface{}, protoerr.StatusCode, *protoerr.Error) {
	switch n.Op {
	case query.OpDelete:
		name := n.Ident
		if name == "" {
			name = e.database
		}
		if perr := e.storage.DeleteDatabase(e.principal, name); perr != nil {
			return nil, "", perr
		}
		return nil, protoerr.Ok, nil

	case query.OpList:
		names, perr := e.storage.ListDatabases(e.principal)
		if perr != nil {
			return nil, "", perr
		}
		return names, protoerr.Ok, nil

	default:
		return nil, "", protoerr.New(protoerr.InternalError, fmt.Sprintf("unreachable database-form op: %s", n.Op))
	}
}

func (e *Executor) requireStringField(fields map[string]query.Node, name string) (string, *protoerr.Error) {
	lit, ok := fields[name]
	if !ok {
		return "", protoerr.New(protoerr.InvalidQuery, fmt.Sprintf("missing required field %q", name))
	}
	return e.stringLiteral(lit, name)
}

func (e *Executor) stringLiteral(n query.Node, name string) (string, *protoerr.Error) {
	lit, ok := n.(query.BsonLiteral)
	if !ok {
		return "", protoerr.New(protoerr.InvalidQuery, fmt.Sprintf("field %q must be a string literal", name))
	}
	s, ok := lit.Value.(string)
	if !ok {
		return "", protoerr.New(protoerr.InvalidQuery, fmt.Sprintf("field %q must be a string", name))
	}
	return s, nil
}

// resolveValue evaluates a value-position node: a BsonLiteral evaluates to
// itself; a VariableIdentifier is looked up in the variable environment
// and accepts any bound BSON type.
func (e *Executor) resolveValue(n query.Node) (interface{}, *protoerr.Error) {
	switch n := n.(type) {
	case query.BsonLiteral:
		return n.Value, nil
	case query.VariableIdentifier:
		v, ok := e.vars[n.Name]
		if !ok {
			return nil, protoerr.New(protoerr.InvalidQuery, fmt.Sprintf("undefined variable $%s", n.Name))
		}
		return v, nil
	default:
		return nil, protoerr.New(protoerr.InternalError, fmt.Sprintf("unreachable value node: %T", n))
	}
}

// resolveKey evaluates a key-position node. An Identifier is its own
// name; a VariableIdentifier must be bound to a string.
func (e *Executor) resolveKey(n query.Node) (string, *protoerr.Error) {
	switch n := n.(type) {
	case query.Identifier:
		return n.Name, nil
	case query.VariableIdentifier:
		v, ok := e.vars[n.Name]
		if !ok {
			return "", protoerr.New(protoerr.InvalidQuery, fmt.Sprintf("undefined variable $%s", n.Name))
		}
		s, ok := v.(string)
		if !ok {
			return "", protoerr.New(protoerr.InvalidQuery, fmt.Sprintf("variable $%s must be a string to use as a key", n.Name))
		}
		return s, nil
	default:
		return "", protoerr.New(protoerr.InternalError, fmt.Sprintf("unreachable key node: %T", n))
	}
}
