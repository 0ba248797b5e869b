package search

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/cadenza-av/cadenza/log"
	"github.com/cadenza-av/cadenza/model"
)

// Well-known property names resolved by the browse column mapper.
const (
	PropertyID           = "@id"
	PropertyRefID        = "@refID"
	PropertyParentID     = "@parentID"
	PropertyLastUpdated  = "last_updated"
	PropertyLastModified = "last_modified"
	PropertyPlayGroup    = "play_group"
	PropertyPath         = "path"
)

// Metadata table logical columns.
const (
	MetaName  = "name"
	MetaValue = "value"
)

// FieldType drives value rendering in predicates.
type FieldType int

const (
	FieldString FieldType = iota
	FieldInteger
	FieldBool
	FieldDate
)

// Property describes how one logical column prints.
type Property struct {
	Alias string // table alias; empty for expression-only fields
	Field string
	Type  FieldType
}

// ColumnMapper renders quoted identifiers for the active SQL dialect. All
// identifier assembly goes through a mapper; no hand-concatenated names.
type ColumnMapper interface {
	HasEntry(tag string) bool
	TableName() string
	TableQuoted() string
	MapQuoted(tag string, noAlias bool) string
	MapQuotedLower(tag string) string
	MapSortList(sortCols []string, tag, direction string) ([]string, bool)
	FieldType(tag string) FieldType
	Quote(ident string) string
}

// EnumColumnMapper maps logical tags onto one table with configurable
// identifier quote characters (they differ between engines).
type EnumColumnMapper struct {
	quoteBegin byte
	quoteEnd   byte
	tableAlias string
	tableName  string
	columns    map[string]Property
	order      []string
}

func NewEnumColumnMapper(quoteBegin, quoteEnd byte, tableAlias, tableName string, columns map[string]Property) *EnumColumnMapper {
	order := make([]string, 0, len(columns))
	for tag := range columns {
		order = append(order, tag)
	}
	sort.Strings(order)
	return &EnumColumnMapper{
		quoteBegin: quoteBegin,
		quoteEnd:   quoteEnd,
		tableAlias: tableAlias,
		tableName:  tableName,
		columns:    columns,
		order:      order,
	}
}

func (m *EnumColumnMapper) quote(ident string) string {
	return string(m.quoteBegin) + ident + string(m.quoteEnd)
}

func (m *EnumColumnMapper) HasEntry(tag string) bool {
	_, ok := m.columns[tag]
	return ok
}

func (m *EnumColumnMapper) TableName() string { return m.quote(m.tableName) }

func (m *EnumColumnMapper) TableQuoted() string {
	return m.quote(m.tableName) + " " + m.quote(m.tableAlias)
}

func (m *EnumColumnMapper) Alias() string { return m.quote(m.tableAlias) }

func (m *EnumColumnMapper) MapQuoted(tag string, noAlias bool) string {
	prop, ok := m.columns[tag]
	if !ok {
		return ""
	}
	return m.print(prop, noAlias)
}

func (m *EnumColumnMapper) print(prop Property, noAlias bool) string {
	if prop.Alias == "" || noAlias {
		return m.quote(prop.Field)
	}
	return m.quote(prop.Alias) + "." + m.quote(prop.Field)
}

func (m *EnumColumnMapper) MapQuotedLower(tag string) string {
	prop, ok := m.columns[tag]
	if !ok {
		return ""
	}
	return "LOWER(" + m.print(prop, false) + ")"
}

// MapSortList appends "col direction" for the tag unless the column is
// already present, and reports whether the tag resolved.
func (m *EnumColumnMapper) MapSortList(sortCols []string, tag, direction string) ([]string, bool) {
	prop, ok := m.columns[tag]
	if !ok {
		return sortCols, false
	}
	col := m.print(prop, false)
	for _, existing := range sortCols {
		if strings.HasPrefix(existing, col) {
			return sortCols, true
		}
	}
	return append(sortCols, col+" "+direction), true
}

func (m *EnumColumnMapper) FieldType(tag string) FieldType {
	if prop, ok := m.columns[tag]; ok {
		return prop.Type
	}
	return FieldString
}

func (m *EnumColumnMapper) Quote(ident string) string {
	if ident == "" {
		return ""
	}
	return m.quote(ident)
}

// Emitter renders AST nodes to SQL fragments.
type Emitter interface {
	EmitAsterisk() (string, error)
	EmitParenthesis(inner string) (string, error)
	EmitCompare(op, property, value string) (string, error)
	EmitStringOp(op, property, value string) (string, error)
	EmitExists(property, value string) (string, error)
	EmitAnd(lhs, rhs string) (string, error)
	EmitOr(lhs, rhs string) (string, error)
}

// DefaultSQLEmitter resolves properties over the browse, resource and
// metadata mappers, in that order; unknown properties fall through to a
// metadata (name, value) predicate.
type DefaultSQLEmitter struct {
	colMapper  ColumnMapper
	metaMapper ColumnMapper
	resMapper  ColumnMapper
	plyMapper  ColumnMapper
}

func NewDefaultSQLEmitter(col, meta, res, ply ColumnMapper) *DefaultSQLEmitter {
	return &DefaultSQLEmitter{colMapper: col, metaMapper: meta, resMapper: res, plyMapper: ply}
}

func (e *DefaultSQLEmitter) EmitAsterisk() (string, error) { return "", nil }

func (e *DefaultSQLEmitter) EmitParenthesis(inner string) (string, error) {
	return "(" + inner + ")", nil
}

func (e *DefaultSQLEmitter) EmitAnd(lhs, rhs string) (string, error) {
	return lhs + " AND " + rhs, nil
}

func (e *DefaultSQLEmitter) EmitOr(lhs, rhs string) (string, error) {
	return lhs + " OR " + rhs, nil
}

// propertyStatement returns the case-preserving and lowered column
// statements for a property.
func (e *DefaultSQLEmitter) propertyStatement(property string) (string, string, FieldType) {
	if e.colMapper != nil && e.colMapper.HasEntry(property) {
		return e.colMapper.MapQuoted(property, false), e.colMapper.MapQuotedLower(property),
			e.colMapper.FieldType(property)
	}
	if e.resMapper != nil && e.resMapper.HasEntry(property) {
		return e.resMapper.MapQuoted(property, false), e.resMapper.MapQuotedLower(property),
			e.resMapper.FieldType(property)
	}
	if e.plyMapper != nil && e.plyMapper.HasEntry(property) {
		return e.plyMapper.MapQuoted(property, false), e.plyMapper.MapQuotedLower(property),
			e.plyMapper.FieldType(property)
	}
	if e.metaMapper != nil {
		name := e.metaMapper.MapQuoted(MetaName, false)
		value := e.metaMapper.MapQuoted(MetaValue, false)
		lower := e.metaMapper.MapQuotedLower(MetaValue)
		return fmt.Sprintf("%s='%s' AND %s", name, sqlEscape(property), value),
			fmt.Sprintf("%s='%s' AND %s", name, sqlEscape(property), lower),
			FieldString
	}
	log.Warn("Unsupported search property, query may return no result", "property", property)
	return "", "", FieldString
}

func (e *DefaultSQLEmitter) EmitCompare(op, property, value string) (string, error) {
	prpUpper, prpLower, fieldType := e.propertyStatement(property)
	if prpUpper == "" {
		return "", fmt.Errorf("%w: unknown search property %q", model.ErrInvalidArgument, property)
	}

	// ">= @lastN" means "updated within the last N days".
	if (op == ">" || op == ">=") && strings.HasPrefix(value, "@last") {
		days, err := strconv.Atoi(value[len("@last"):])
		if err != nil {
			return "", fmt.Errorf("%w: malformed relative date %q", model.ErrInvalidArgument, value)
		}
		cutoff := model.Now().Unix() - int64(days)*24*3600
		return fmt.Sprintf("(%s %s %d)", prpUpper, op, cutoff), nil
	}

	if fieldType == FieldInteger || fieldType == FieldDate {
		if _, err := strconv.ParseInt(value, 10, 64); err == nil {
			return fmt.Sprintf("(%s %s %s)", prpUpper, op, value), nil
		}
	}

	if op != "=" && op != "!=" {
		return "", fmt.Errorf("%w: operator %q not supported for string property %q",
			model.ErrInvalidArgument, op, property)
	}
	return fmt.Sprintf("(%s%sLOWER('%s'))", prpLower, op, sqlEscape(value)), nil
}

func (e *DefaultSQLEmitter) EmitStringOp(op, property, value string) (string, error) {
	prpUpper, prpLower, _ := e.propertyStatement(property)
	if prpUpper == "" {
		return "", fmt.Errorf("%w: unknown search property %q", model.ErrInvalidArgument, property)
	}
	escaped := sqlEscape(value)
	switch strings.ToLower(op) {
	case "contains":
		return fmt.Sprintf("(%s LIKE LOWER('%%%s%%'))", prpLower, escaped), nil
	case "doesnotcontain":
		return fmt.Sprintf("(%s NOT LIKE LOWER('%%%s%%'))", prpLower, escaped), nil
	case "startswith":
		return fmt.Sprintf("(%s LIKE LOWER('%s%%'))", prpLower, escaped), nil
	case "derivedfrom":
		return fmt.Sprintf("(LOWER(%s) LIKE LOWER('%s%%'))", prpUpper, escaped), nil
	}
	return "", fmt.Errorf("%w: string operator %q not supported", model.ErrInvalidArgument, op)
}

func (e *DefaultSQLEmitter) EmitExists(property, value string) (string, error) {
	var existsClause string
	switch value {
	case "true":
		existsClause = "NOT NULL"
	case "false":
		existsClause = "NULL"
	default:
		return "", fmt.Errorf("%w: invalid value %q after exists", model.ErrInvalidArgument, value)
	}
	prpUpper, _, _ := e.propertyStatement(property)
	if prpUpper == "" {
		return "", fmt.Errorf("%w: unknown search property %q", model.ErrInvalidArgument, property)
	}
	return fmt.Sprintf("(%s IS %s)", prpUpper, existsClause), nil
}

// sqlEscape doubles single quotes so values are safe inside SQL string
// literals.
func sqlEscape(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}
