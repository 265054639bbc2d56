package compile

import (
	"strings"

	"github.com/tern-db/tern"
	"github.com/tern-db/tern/rdf"
	"github.com/tern-db/tern/sparql"
)

// compileExpr lowers a SPARQL expression to a SQL expression over the
// relation r exposed under alias. The returned kind is the static type
// of the expression's value.
func (j *job) compileExpr(e sparql.Expression, r *rel, alias string) (string, ColKind, error) {
	switch x := e.(type) {
	case sparql.ExprVar:
		rv, ok := r.byName[x.Name]
		if !ok {
			// Unbound everywhere: SQL NULL.
			return "NULL", KindDynamic, nil
		}
		return r.colRef(alias, rv), rv.kind, nil

	case sparql.ExprParam:
		return j.addParam(x.Name), KindDynamic, nil

	case sparql.ExprIRI:
		return j.resourceID(x.IRI), KindResource, nil

	case sparql.ExprLiteral:
		switch x.Lit.Datatype {
		case rdf.XSDInteger, rdf.XSDLong, rdf.XSDInt, rdf.XSDByte:
			return x.Lit.Value, KindInteger, nil
		case rdf.XSDDouble, rdf.XSDDecimal:
			return x.Lit.Value, KindDouble, nil
		case rdf.XSDBoolean:
			if x.Lit.Value == "true" {
				return "1", KindBoolean, nil
			}
			return "0", KindBoolean, nil
		default:
			return j.addArg(x.Lit.Value), KindString, nil
		}

	case sparql.ExprBinary:
		return j.compileBinary(x, r, alias)

	case sparql.ExprUnary:
		inner, kind, err := j.compileExpr(x.X, r, alias)
		if err != nil {
			return "", KindDynamic, err
		}
		if x.Op == "!" {
			return "NOT (" + inner + ")", KindBoolean, nil
		}
		return "-(" + inner + ")", kind, nil

	case sparql.ExprIn:
		lhs, lhsKind, err := j.compileExpr(x.X, r, alias)
		if err != nil {
			return "", KindDynamic, err
		}
		var items []string
		for _, it := range x.List {
			s, k, err := j.compileExpr(it, r, alias)
			if err != nil {
				return "", KindDynamic, err
			}
			items = append(items, coerce(s, k, lhsKind))
		}
		op := " IN "
		if x.Not {
			op = " NOT IN "
		}
		return lhs + op + "(" + strings.Join(items, ", ") + ")", KindBoolean, nil

	case sparql.ExprExists:
		return j.compileExists(x, r, alias)

	case sparql.ExprCall:
		return j.compileCall(x, r, alias)

	default:
		return "", KindDynamic, tern.NewError(tern.ErrInternal, "unhandled expression %T", e)
	}
}

// coerce reconciles operand representations: Resource rowids meet text
// by resolving to the IRI string.
func coerce(expr string, from, to ColKind) string {
	if from == KindResource && to != KindResource && to != KindDynamic {
		return uriOf(expr)
	}
	if from == KindResource && to == KindDynamic {
		return uriOf(expr)
	}
	return expr
}

func (j *job) compileBinary(x sparql.ExprBinary, r *rel, alias string) (string, ColKind, error) {
	l, lk, err := j.compileExpr(x.L, r, alias)
	if err != nil {
		return "", KindDynamic, err
	}
	rhs, rk, err := j.compileExpr(x.R, r, alias)
	if err != nil {
		return "", KindDynamic, err
	}
	switch x.Op {
	case "||":
		return "(" + l + " OR " + rhs + ")", KindBoolean, nil
	case "&&":
		return "(" + l + " AND " + rhs + ")", KindBoolean, nil
	case "=", "!=", "<", ">", "<=", ">=":
		// Resource vs text comparisons resolve through the Resource
		// table; Resource vs Resource compares rowids.
		if lk == KindResource && rk != KindResource {
			l = uriOf(l)
		}
		if rk == KindResource && lk != KindResource {
			rhs = uriOf(rhs)
		}
		return "(" + l + " " + x.Op + " " + rhs + ")", KindBoolean, nil
	case "+", "-", "*", "/":
		kind := KindInteger
		if lk == KindDouble || rk == KindDouble {
			kind = KindDouble
		}
		return "(" + l + " " + x.Op + " " + rhs + ")", kind, nil
	default:
		return "", KindDynamic, tern.NewError(tern.ErrInternal, "unknown operator %q", x.Op)
	}
}

// compileExists builds a correlated EXISTS over the compiled pattern.
func (j *job) compileExists(x sparql.ExprExists, r *rel, alias string) (string, ColKind, error) {
	sub, err := j.compileGroup(x.Pattern, graphScope{})
	if err != nil {
		return "", KindDynamic, err
	}
	la := j.alias()
	var conds []string
	for _, sv := range sub.vars {
		if ov, shared := r.byName[sv.v]; shared {
			conds = append(conds, joinCond(sub.colRef(la, sv), sv.kind, r.colRef(alias, ov), ov.kind))
		}
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}
	sql := "EXISTS (SELECT 1 FROM (" + sub.sql + ") " + la + where + ")"
	if x.Not {
		sql = "NOT " + sql
	}
	return sql, KindBoolean, nil
}

func (j *job) compileCall(x sparql.ExprCall, r *rel, alias string) (string, ColKind, error) {
	// args compiles the call's arguments up front.
	args := make([]string, len(x.Args))
	kinds := make([]ColKind, len(x.Args))
	for i, a := range x.Args {
		s, k, err := j.compileExpr(a, r, alias)
		if err != nil {
			return "", KindDynamic, err
		}
		args[i] = s
		kinds[i] = k
	}
	str := func(i int) string { return coerce(args[i], kinds[i], KindString) }

	switch x.Func {
	// --- aggregates ---
	case "COUNT":
		if x.Star {
			return "COUNT(*)", KindInteger, nil
		}
		if x.Distinct {
			return "COUNT(DISTINCT " + args[0] + ")", KindInteger, nil
		}
		return "COUNT(" + args[0] + ")", KindInteger, nil
	case "SUM", "MIN", "MAX", "AVG":
		kind := kinds[0]
		if x.Func == "AVG" {
			kind = KindDouble
		}
		inner := args[0]
		if x.Distinct {
			inner = "DISTINCT " + inner
		}
		return x.Func + "(" + inner + ")", kind, nil
	case "SAMPLE":
		return "MIN(" + args[0] + ")", kinds[0], nil
	case "GROUP_CONCAT":
		inner := str(0)
		if x.Distinct {
			inner = "DISTINCT " + inner
		}
		var order string
		if len(x.OrderBy) > 0 {
			var terms []string
			for _, oc := range x.OrderBy {
				s, _, err := j.compileExpr(oc.Expr, r, alias)
				if err != nil {
					return "", KindDynamic, err
				}
				if oc.Descending {
					s += " DESC"
				}
				terms = append(terms, s)
			}
			order = " ORDER BY " + strings.Join(terms, ", ")
		}
		sep := ","
		if x.Separator != "" {
			sep = x.Separator
		}
		return "GROUP_CONCAT(" + inner + order + ", " + j.addArg(sep) + ")", KindString, nil

	// --- term accessors ---
	case "STR":
		return coerce(args[0], kinds[0], KindString), KindString, nil
	case "LANG":
		if v, ok := x.Args[0].(sparql.ExprVar); ok {
			if rv, bound := r.byName[v.Name]; bound && rv.hasLang {
				return "COALESCE(" + r.langRef(alias, rv) + ", '')", KindString, nil
			}
		}
		return "''", KindString, nil
	case "DATATYPE":
		return j.addArg(string(datatypeOf(kinds[0]))), KindString, nil
	case "BOUND":
		return "(" + args[0] + " IS NOT NULL)", KindBoolean, nil
	case "SAMETERM":
		return "(" + args[0] + " = " + coerce(args[1], kinds[1], kinds[0]) + ")", KindBoolean, nil
	case "ISIRI", "ISURI":
		return boolConst(kinds[0] == KindResource), KindBoolean, nil
	case "ISBLANK":
		if kinds[0] == KindResource {
			return "(" + uriOf(args[0]) + " LIKE 'urn:bnode:%')", KindBoolean, nil
		}
		return "0", KindBoolean, nil
	case "ISLITERAL":
		return boolConst(kinds[0] != KindResource && kinds[0] != KindDynamic), KindBoolean, nil
	case "ISNUMERIC":
		return boolConst(kinds[0] == KindInteger || kinds[0] == KindDouble), KindBoolean, nil
	case "IRI", "URI":
		return coerce(args[0], kinds[0], KindString), KindDynamic, nil
	case "STRLANG", "STRDT":
		return str(0), KindString, nil
	case "BNODE":
		return "('urn:bnode:' || tern_struuid())", KindDynamic, nil

	// --- control ---
	case "IF":
		return "CASE WHEN " + args[0] + " THEN " + args[1] + " ELSE " + args[2] + " END", kinds[1], nil
	case "COALESCE":
		return "COALESCE(" + strings.Join(args, ", ") + ")", kinds[0], nil

	// --- strings ---
	case "STRLEN":
		return "LENGTH(" + str(0) + ")", KindInteger, nil
	case "CONCAT":
		parts := make([]string, len(args))
		for i := range args {
			parts[i] = coerce(args[i], kinds[i], KindString)
		}
		return "(" + strings.Join(parts, " || ") + ")", KindString, nil
	case "UCASE":
		return "tern_ucase(" + str(0) + ")", KindString, nil
	case "LCASE":
		return "tern_lcase(" + str(0) + ")", KindString, nil
	case "CONTAINS":
		return "(INSTR(" + str(0) + ", " + str(1) + ") > 0)", KindBoolean, nil
	case "STRSTARTS":
		return "(SUBSTR(" + str(0) + ", 1, LENGTH(" + str(1) + ")) = " + str(1) + ")", KindBoolean, nil
	case "STRENDS":
		return "(SUBSTR(" + str(0) + ", -LENGTH(" + str(1) + ")) = " + str(1) + ")", KindBoolean, nil
	case "STRBEFORE":
		return "CASE WHEN INSTR(" + str(0) + ", " + str(1) + ") > 0 THEN SUBSTR(" + str(0) + ", 1, INSTR(" + str(0) + ", " + str(1) + ") - 1) ELSE '' END", KindString, nil
	case "STRAFTER":
		return "CASE WHEN INSTR(" + str(0) + ", " + str(1) + ") > 0 THEN SUBSTR(" + str(0) + ", INSTR(" + str(0) + ", " + str(1) + ") + LENGTH(" + str(1) + ")) ELSE '' END", KindString, nil
	case "SUBSTR":
		if len(args) == 3 {
			return "SUBSTR(" + str(0) + ", " + args[1] + ", " + args[2] + ")", KindString, nil
		}
		return "SUBSTR(" + str(0) + ", " + args[1] + ")", KindString, nil
	case "REGEX":
		flags := "''"
		if len(args) == 3 {
			flags = str(2)
		}
		return "tern_regex(" + str(0) + ", " + str(1) + ", " + flags + ")", KindBoolean, nil
	case "REPLACE":
		flags := "''"
		if len(args) == 4 {
			flags = str(3)
		}
		return "tern_replace(" + str(0) + ", " + str(1) + ", " + str(2) + ", " + flags + ")", KindString, nil
	case "ENCODE_FOR_URI":
		return "tern_encode_for_uri(" + str(0) + ")", KindString, nil

	// --- numbers ---
	case "ABS":
		return "ABS(" + args[0] + ")", kinds[0], nil
	case "ROUND":
		return "ROUND(" + args[0] + ")", kinds[0], nil
	case "CEIL":
		a := args[0]
		return "(CAST(" + a + " AS INTEGER) + (" + a + " > CAST(" + a + " AS INTEGER)))", KindInteger, nil
	case "FLOOR":
		a := args[0]
		return "(CAST(" + a + " AS INTEGER) - (" + a + " < CAST(" + a + " AS INTEGER)))", KindInteger, nil
	case "RAND":
		return "(ABS(RANDOM()) / 9223372036854775808.0)", KindDouble, nil

	// --- date/time ---
	case "NOW":
		return "STRFTIME('%Y-%m-%dT%H:%M:%SZ', 'now')", KindDateTime, nil
	case "YEAR":
		return "CAST(STRFTIME('%Y', " + str(0) + ") AS INTEGER)", KindInteger, nil
	case "MONTH":
		return "CAST(STRFTIME('%m', " + str(0) + ") AS INTEGER)", KindInteger, nil
	case "DAY":
		return "CAST(STRFTIME('%d', " + str(0) + ") AS INTEGER)", KindInteger, nil
	case "HOURS":
		return "CAST(STRFTIME('%H', " + str(0) + ") AS INTEGER)", KindInteger, nil
	case "MINUTES":
		return "CAST(STRFTIME('%M', " + str(0) + ") AS INTEGER)", KindInteger, nil
	case "SECONDS":
		return "CAST(STRFTIME('%S', " + str(0) + ") AS INTEGER)", KindInteger, nil
	case "TIMEZONE", "TZ":
		return "CASE WHEN " + str(0) + " LIKE '%Z' THEN 'Z' ELSE '' END", KindString, nil

	// --- hashes and ids ---
	case "MD5":
		return "tern_md5(" + str(0) + ")", KindString, nil
	case "SHA1":
		return "tern_sha1(" + str(0) + ")", KindString, nil
	case "SHA256":
		return "tern_sha256(" + str(0) + ")", KindString, nil
	case "SHA384":
		return "", KindDynamic, tern.NewError(tern.ErrUnsupported, "SHA384 is not available")
	case "SHA512":
		return "tern_sha512(" + str(0) + ")", KindString, nil
	case "UUID":
		return "tern_uuid()", KindDynamic, nil
	case "STRUUID":
		return "tern_struuid()", KindString, nil
	case "LANGMATCHES":
		// Case-insensitive: '*' matches any non-empty tag; otherwise the
		// range matches the whole tag or a leading run of its subtags.
		return "(" + str(1) + " = '*' AND " + str(0) + " != '' OR tern_lcase(" + str(0) + ") = tern_lcase(" + str(1) + ") OR tern_lcase(" + str(0) + ") LIKE tern_lcase(" + str(1) + ") || '-%')", KindBoolean, nil

	default:
		return "", KindDynamic, tern.NewError(tern.ErrUnsupported, "function %s is not supported", x.Func)
	}
}

func boolConst(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func datatypeOf(k ColKind) rdf.IRI {
	switch k {
	case KindInteger:
		return rdf.XSDInteger
	case KindDouble:
		return rdf.XSDDouble
	case KindBoolean:
		return rdf.XSDBoolean
	case KindDateTime:
		return rdf.XSDDateTime
	default:
		return rdf.XSDString
	}
}
