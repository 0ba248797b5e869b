package persistence_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/cadenza-av/cadenza/model"
)

var _ = Describe("SettingRepository", func() {
	It("seeds the schema version during migration", func() {
		version, err := ds.Setting(ctx).Get(model.SettingDBVersion)
		Expect(err).ToNot(HaveOccurred())
		Expect(version).ToNot(BeEmpty())
	})

	It("inserts and overwrites values", func() {
		Expect(ds.Setting(ctx).Put("probe", "one")).To(Succeed())
		Expect(ds.Setting(ctx).Put("probe", "two")).To(Succeed())
		value, err := ds.Setting(ctx).Get("probe")
		Expect(err).ToNot(HaveOccurred())
		Expect(value).To(Equal("two"))
	})

	It("reports missing keys as not found", func() {
		_, err := ds.Setting(ctx).Get("never-written")
		Expect(err).To(MatchError(model.ErrNotFound))
	})

	It("records the reconciled resource attribute columns", func() {
		attrs, err := ds.Setting(ctx).Get(model.SettingResourceAttrs)
		Expect(err).ToNot(HaveOccurred())
		Expect(attrs).To(ContainSubstring("protocol_info"))
		Expect(attrs).To(ContainSubstring("duration"))
	})
})

var _ = Describe("ConfigValueRepository", func() {
	It("stores and lists UI edits", func() {
		Expect(ds.ConfigValue(ctx).Update("k1", "/server/name", "Cadenza", model.StatusChanged)).To(Succeed())
		values, err := ds.ConfigValue(ctx).GetAll()
		Expect(err).ToNot(HaveOccurred())
		Expect(values).ToNot(BeEmpty())
	})

	It("drops list entries on reset but restores scalars", func() {
		Expect(ds.ConfigValue(ctx).Update("k", "/import/dirs[2]", "x", model.StatusChanged)).To(Succeed())
		Expect(ds.ConfigValue(ctx).Update("k", "/import/dirs[2]", "x", model.StatusReset)).To(Succeed())
		values, err := ds.ConfigValue(ctx).GetAll()
		Expect(err).ToNot(HaveOccurred())
		for _, v := range values {
			Expect(v.Item).ToNot(Equal("/import/dirs[2]"))
		}

		Expect(ds.ConfigValue(ctx).Update("k", "/server/port", "49152", model.StatusChanged)).To(Succeed())
		Expect(ds.ConfigValue(ctx).Update("k", "/server/port", "49152", model.StatusReset)).To(Succeed())
		values, err = ds.ConfigValue(ctx).GetAll()
		Expect(err).ToNot(HaveOccurred())
		var found *model.ConfigValue
		for i := range values {
			if values[i].Item == "/server/port" {
				found = &values[i]
			}
		}
		Expect(found).ToNot(BeNil())
		Expect(found.Status).To(Equal(model.StatusUnchanged))
	})
})
