package search

import (
	"fmt"
	"slices"
	"strings"

	"github.com/cadenza-av/cadenza/log"
	"github.com/cadenza-av/cadenza/model"
)

// SortParser turns a CDS SortCriteria string ("+dc:title,-dc:date") into an
// ORDER BY fragment. Metadata sort keys produce a correlated INNER JOIN per
// key; the extra selected columns and join fragments are returned for the
// caller to splice into the final SELECT.
type SortParser struct {
	colMapper  ColumnMapper
	plyMapper  ColumnMapper
	metaMapper ColumnMapper
	criteria   string
}

func NewSortParser(col, ply, meta ColumnMapper, sortCriteria string) *SortParser {
	return &SortParser{colMapper: col, plyMapper: ply, metaMapper: meta, criteria: sortCriteria}
}

// Parse returns (orderBy, addColumns, addJoin). Unknown sort keys log a
// warning and are skipped; they never fail the query.
func (p *SortParser) Parse() (string, string, string) {
	if strings.TrimSpace(p.criteria) == "" {
		return "", "", ""
	}

	var sortCols []string
	var colBuf []string
	var joinBuf []string
	metaCount := 0

	for _, seg := range strings.Split(p.criteria, ",") {
		seg = strings.TrimSpace(seg)
		if seg == "" {
			continue
		}
		direction := "ASC"
		switch seg[0] {
		case '-':
			direction = "DESC"
			seg = seg[1:]
		case '+':
			seg = seg[1:]
		default:
			log.Warn("Missing sort direction, assuming ascending", "key", seg, "criteria", p.criteria)
		}

		if p.colMapper != nil {
			var ok bool
			if sortCols, ok = p.colMapper.MapSortList(sortCols, seg, direction); ok {
				continue
			}
		}
		if p.plyMapper != nil {
			var ok bool
			if sortCols, ok = p.plyMapper.MapSortList(sortCols, seg, direction); ok {
				continue
			}
		}

		if p.metaMapper != nil && slices.Contains(model.KnownMetadataKeys, seg) {
			alias := fmt.Sprintf("meta_prop%d", metaCount)
			metaCount++
			valueCol := p.metaMapper.Quote(alias) + "." + p.metaMapper.MapQuoted(MetaValue, true)
			colBuf = append(colBuf, valueCol)
			joinBuf = append(joinBuf, fmt.Sprintf("INNER JOIN %s %s ON %s = %s.%s AND %s.%s = '%s'",
				p.metaMapper.TableName(), p.metaMapper.Quote(alias),
				p.colMapper.MapQuoted(PropertyID, false),
				p.metaMapper.Quote(alias), p.metaMapper.MapQuoted(PropertyID, true),
				p.metaMapper.Quote(alias), p.metaMapper.MapQuoted(MetaName, true),
				sqlEscape(seg)))
			sortCols = append(sortCols, valueCol+" "+direction)
			continue
		}

		log.Warn("Unknown sort key", "key", seg, "criteria", p.criteria)
	}

	addColumns := ""
	if len(colBuf) > 0 {
		addColumns = ", " + strings.Join(colBuf, ", ")
	}
	return strings.Join(sortCols, ", "), addColumns, strings.Join(joinBuf, " ")
}
