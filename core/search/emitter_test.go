package search

import (
	"fmt"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/cadenza-av/cadenza/model"
)

func testMappers() (*EnumColumnMapper, *EnumColumnMapper, *EnumColumnMapper) {
	col := NewEnumColumnMapper('"', '"', "c", "cds_object", map[string]Property{
		PropertyID:           {Alias: "c", Field: "id", Type: FieldInteger},
		PropertyParentID:     {Alias: "c", Field: "parent_id", Type: FieldInteger},
		PropertyRefID:        {Alias: "c", Field: "ref_id", Type: FieldInteger},
		"dc:title":           {Alias: "c", Field: "dc_title", Type: FieldString},
		"upnp:class":         {Alias: "c", Field: "upnp_class", Type: FieldString},
		PropertyLastUpdated:  {Alias: "c", Field: "last_updated", Type: FieldDate},
		PropertyLastModified: {Alias: "c", Field: "last_modified", Type: FieldDate},
	})
	meta := NewEnumColumnMapper('"', '"', "m", "metadata", map[string]Property{
		PropertyID: {Alias: "m", Field: "item_id", Type: FieldInteger},
		MetaName:   {Alias: "m", Field: "property_name", Type: FieldString},
		MetaValue:  {Alias: "m", Field: "property_value", Type: FieldString},
	})
	res := NewEnumColumnMapper('"', '"', "re", "resource", map[string]Property{
		"res@size": {Alias: "re", Field: "size", Type: FieldInteger},
	})
	return col, meta, res
}

func compile(criteria string) (string, error) {
	col, meta, res := testMappers()
	emitter := NewDefaultSQLEmitter(col, meta, res, nil)
	root, err := NewParser(emitter, criteria).Parse()
	if err != nil {
		return "", err
	}
	return root.Emit()
}

var _ = Describe("DefaultSQLEmitter", func() {
	It("compiles derivedFrom to a case-insensitive prefix match", func() {
		sql, err := compile(`upnp:class derivedFrom "object.item.audioItem"`)
		Expect(err).ToNot(HaveOccurred())
		Expect(sql).To(Equal(`(LOWER("c"."upnp_class") LIKE LOWER('object.item.audioItem%'))`))
	})

	It("compiles contains on a mapped column", func() {
		sql, err := compile(`dc:title contains "deep"`)
		Expect(err).ToNot(HaveOccurred())
		Expect(sql).To(Equal(`(LOWER("c"."dc_title") LIKE LOWER('%deep%'))`))
	})

	It("compiles doesNotContain with NOT LIKE", func() {
		sql, err := compile(`dc:title doesNotContain "live"`)
		Expect(err).ToNot(HaveOccurred())
		Expect(sql).To(ContainSubstring("NOT LIKE"))
	})

	It("compiles metadata fallback properties as name/value predicates", func() {
		sql, err := compile(`upnp:artist = "Adele"`)
		Expect(err).ToNot(HaveOccurred())
		Expect(sql).To(ContainSubstring(`"m"."property_name"='upnp:artist'`))
		Expect(sql).To(ContainSubstring(`LOWER("m"."property_value")=LOWER('Adele')`))
	})

	It("compiles exists true and false", func() {
		sql, err := compile(`dc:title exists true`)
		Expect(err).ToNot(HaveOccurred())
		Expect(sql).To(Equal(`("c"."dc_title" IS NOT NULL)`))

		sql, err = compile(`dc:title exists false`)
		Expect(err).ToNot(HaveOccurred())
		Expect(sql).To(Equal(`("c"."dc_title" IS NULL)`))
	})

	It("joins relations with AND and OR left to right", func() {
		sql, err := compile(`dc:title contains "a" and dc:title contains "b" or dc:title contains "c"`)
		Expect(err).ToNot(HaveOccurred())
		Expect(sql).To(Equal(
			`(LOWER("c"."dc_title") LIKE LOWER('%a%')) AND ` +
				`(LOWER("c"."dc_title") LIKE LOWER('%b%')) OR ` +
				`(LOWER("c"."dc_title") LIKE LOWER('%c%'))`))
	})

	It("honors parentheses", func() {
		sql, err := compile(`dc:title contains "a" and (dc:title contains "b" or dc:title contains "c")`)
		Expect(err).ToNot(HaveOccurred())
		Expect(sql).To(ContainSubstring(`AND ((`))
	})

	It("rewrites @lastN relative dates against now", func() {
		fixed := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
		model.Now = func() time.Time { return fixed }
		defer func() { model.Now = time.Now }()

		sql, err := compile(`last_updated >= "@last7"`)
		Expect(err).ToNot(HaveOccurred())
		cutoff := fixed.Unix() - 7*24*3600
		Expect(sql).To(Equal(fmt.Sprintf(`("c"."last_updated" >= %d)`, cutoff)))
	})

	It("escapes single quotes in values", func() {
		sql, err := compile(`dc:title contains "it's"`)
		Expect(err).ToNot(HaveOccurred())
		Expect(sql).To(ContainSubstring("it''s"))
	})

	It("emits an empty predicate for the asterisk", func() {
		sql, err := compile("*")
		Expect(err).ToNot(HaveOccurred())
		Expect(sql).To(Equal(""))
	})

	It("maps numeric comparisons on integer columns without quoting", func() {
		sql, err := compile(`@parentID = "42"`)
		Expect(err).ToNot(HaveOccurred())
		Expect(sql).To(Equal(`("c"."parent_id" = 42)`))
	})
})
