package query

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Stringify renders a parsed program back to query text, one statement per
// line. The output re-parses to an equal AST for every node the parser can
// produce, with one caveat: a float literal with an integral value renders
// without a fractional part and re-parses as an integer.
func Stringify(nodes []Node) string {
	lines := make([]string, 0, len(nodes))
	for _, n := range nodes {
		lines = append(lines, stringifyNode(n))
	}
	return strings.Join(lines, "\n")
}

func stringifyNode(n Node) string {
	switch n := n.(type) {
	case AssignmentExpression:
		return n.Name + " := " + stringifyOperand(n.Value)
	case IntoExpression:
		return n.Op.String() + " " + stringifyOperand(n.Value) + " into " + stringifyOperand(n.Target)
	case SingleExpression:
		if n.Target == nil {
			return n.Op.String()
		}
		return n.Op.String() + " " + stringifyOperand(n.Target)
	case MonadicExpression:
		return stringifyMonadic(n)
	default:
		return fmt.Sprintf("<unprintable %T>", n)
	}
}

func stringifyMonadic(n MonadicExpression) string {
	switch n.Target {
	case KindUser:
		var sb strings.Builder
		sb.WriteString(n.Op.String())
		sb.WriteString(" user ")
		sb.WriteString(n.Ident)
		// password before permission, matching the grammar table's order.
		for _, field := range []string{"password", "permission"} {
			if lit, ok := n.Fields[field]; ok {
				sb.WriteString(" ")
				sb.WriteString(field)
				sb.WriteString(" = ")
				sb.WriteString(stringifyOperand(lit))
			}
		}
		return sb.String()
	case KindDatabase:
		if n.Op == OpList {
			return "list databases"
		}
		if n.Ident == "" {
			return n.Op.String() + " database"
		}
		return n.Op.String() + " database " + n.Ident
	default:
		return fmt.Sprintf("<unprintable monadic target %d>", n.Target)
	}
}

func stringifyOperand(n Node) string {
	switch n := n.(type) {
	case Identifier:
		return n.Name
	case VariableIdentifier:
		return "$" + n.Name
	case BsonLiteral:
		return stringifyValue(n.Value)
	default:
		return fmt.Sprintf("<unprintable operand %T>", n)
	}
}

func stringifyValue(v interface{}) string {
	switch v := v.(type) {
	case nil:
		return "null"
	case bool:
		return strconv.FormatBool(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case string:
		return quoteString(v)
	case []interface{}:
		parts := make([]string, 0, len(v))
		for _, elem := range v {
			parts = append(parts, stringifyValue(elem))
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case map[string]interface{}:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, quoteString(k)+": "+stringifyValue(v[k]))
		}
		return "{" + strings.Join(parts, ", ") + "}"
	default:
		return fmt.Sprintf("<unprintable value %T>", v)
	}
}

func quoteString(s string) string {
	var sb strings.Builder
	sb.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			sb.WriteString(`\"`)
		case '\\':
			sb.WriteString(`\\`)
		case '\n':
			sb.WriteString(`\n`)
		case '\t':
			sb.WriteString(`\t`)
		case '\r':
			sb.WriteString(`\r`)
		default:
			sb.WriteRune(r)
		}
	}
	sb.WriteByte('"')
	return sb.String()
}
