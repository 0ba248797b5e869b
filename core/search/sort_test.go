package search

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("SortParser", func() {
	var col, meta *EnumColumnMapper

	BeforeEach(func() {
		col, meta, _ = testMappers()
	})

	It("maps known columns with directions", func() {
		orderBy, addCols, addJoin := NewSortParser(col, nil, meta, "+dc:title,-last_updated").Parse()
		Expect(orderBy).To(Equal(`"c"."dc_title" ASC, "c"."last_updated" DESC`))
		Expect(addCols).To(BeEmpty())
		Expect(addJoin).To(BeEmpty())
	})

	It("builds a correlated join per metadata sort key", func() {
		orderBy, addCols, addJoin := NewSortParser(col, nil, meta, "+upnp:artist").Parse()
		Expect(addJoin).To(ContainSubstring(`INNER JOIN "metadata" "meta_prop0"`))
		Expect(addJoin).To(ContainSubstring(`"meta_prop0"."property_name" = 'upnp:artist'`))
		Expect(addCols).To(ContainSubstring(`"meta_prop0"."property_value"`))
		Expect(orderBy).To(ContainSubstring(`"meta_prop0"."property_value" ASC`))
	})

	It("numbers multiple metadata aliases", func() {
		_, _, addJoin := NewSortParser(col, nil, meta, "+upnp:artist,-upnp:album").Parse()
		Expect(addJoin).To(ContainSubstring("meta_prop0"))
		Expect(addJoin).To(ContainSubstring("meta_prop1"))
	})

	It("skips unknown keys without failing", func() {
		orderBy, _, _ := NewSortParser(col, nil, meta, "+nonsense:key,+dc:title").Parse()
		Expect(orderBy).To(Equal(`"c"."dc_title" ASC`))
	})

	It("returns nothing for empty criteria", func() {
		orderBy, addCols, addJoin := NewSortParser(col, nil, meta, "  ").Parse()
		Expect(orderBy).To(BeEmpty())
		Expect(addCols).To(BeEmpty())
		Expect(addJoin).To(BeEmpty())
	})

	It("deduplicates repeated sort columns", func() {
		orderBy, _, _ := NewSortParser(col, nil, meta, "+dc:title,-dc:title").Parse()
		Expect(orderBy).To(Equal(`"c"."dc_title" ASC`))
	})
})

var _ = Describe("Parser errors", func() {
	It("rejects a property without operator", func() {
		_, err := compile(`dc:title`)
		Expect(err).To(HaveOccurred())
	})

	It("rejects unterminated strings", func() {
		_, err := compile(`dc:title contains "open`)
		Expect(err).To(HaveOccurred())
	})

	It("rejects trailing operators", func() {
		_, err := compile(`dc:title contains "x" and`)
		Expect(err).To(HaveOccurred())
	})

	It("rejects an unquoted rhs", func() {
		_, err := compile(`dc:title = deep`)
		Expect(err).To(HaveOccurred())
	})

	It("rejects empty criteria", func() {
		_, err := compile("")
		Expect(err).To(HaveOccurred())
	})
})
