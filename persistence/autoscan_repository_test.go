package persistence_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/cadenza-av/cadenza/model"
)

var _ = Describe("AutoscanRepository", func() {
	newScan := func(objectID int32, recursive bool) *model.Autoscan {
		return &model.Autoscan{
			ObjectID:  objectID,
			Mode:      model.ScanModeTimed,
			Recursive: recursive,
			Interval:  30 * time.Minute,
			Location:  "",
		}
	}

	containerFor := func(path string) int32 {
		addItem(path+"/probe.mp3", "probe", "audio/mpeg")
		id, err := ds.Object(ctx).FindObjectIDByPath(path, false)
		ExpectWithOffset(1, err).ToNot(HaveOccurred())
		return id
	}

	It("persists and reloads scan settings", func() {
		id := containerFor("/scan/basic")
		scan := newScan(id, false)
		scan.Hidden = true
		Expect(ds.Autoscan(ctx).Add(scan)).To(Succeed())
		Expect(scan.ID).To(BeNumerically(">", 0))

		loaded, err := ds.Autoscan(ctx).Get(id)
		Expect(err).ToNot(HaveOccurred())
		Expect(loaded.Mode).To(Equal(model.ScanModeTimed))
		Expect(loaded.Hidden).To(BeTrue())
		Expect(loaded.Interval).To(Equal(30 * time.Minute))
		Expect(loaded.PathIDs).ToNot(BeEmpty())
		Expect(loaded.PathIDs[0]).To(Equal(id))
	})

	It("marks the target container persistent while the scan exists", func() {
		id := containerFor("/scan/persistent")
		scan := newScan(id, false)
		Expect(ds.Autoscan(ctx).Add(scan)).To(Succeed())

		obj, err := ds.Object(ctx).LoadObject(id)
		Expect(err).ToNot(HaveOccurred())
		Expect(obj.GetFlag(model.FlagPersistentContainer)).To(BeTrue())

		Expect(ds.Autoscan(ctx).Remove(scan.ID)).To(Succeed())
		obj, err = ds.Object(ctx).LoadObject(id)
		Expect(err).ToNot(HaveOccurred())
		Expect(obj.GetFlag(model.FlagPersistentContainer)).To(BeFalse())
	})

	It("rejects a second scan on the same container", func() {
		id := containerFor("/scan/dup")
		Expect(ds.Autoscan(ctx).Add(newScan(id, false))).To(Succeed())
		err := ds.Autoscan(ctx).Add(newScan(id, true))
		Expect(err).To(MatchError(model.ErrOverlappingAutoscan))
	})

	It("rejects a scan below a recursive scan and vice-versa", func() {
		parentID := containerFor("/scan/over")
		childID := containerFor("/scan/over/below")

		Expect(ds.Autoscan(ctx).Add(newScan(parentID, true))).To(Succeed())
		err := ds.Autoscan(ctx).Add(newScan(childID, false))
		Expect(err).To(MatchError(model.ErrOverlappingAutoscan))

		deepID := containerFor("/scan/stack/deep")
		topID, ferr := ds.Object(ctx).FindObjectIDByPath("/scan/stack", false)
		Expect(ferr).ToNot(HaveOccurred())

		Expect(ds.Autoscan(ctx).Add(newScan(deepID, false))).To(Succeed())
		err = ds.Autoscan(ctx).Add(newScan(topID, true))
		Expect(err).To(MatchError(model.ErrOverlappingAutoscan))
	})

	It("detaches persistent scans when the container is removed", func() {
		id := containerFor("/scan/detach")
		scan := newScan(id, true)
		scan.Persistent = true
		Expect(ds.Autoscan(ctx).Add(scan)).To(Succeed())

		obj, err := ds.Object(ctx).LoadObject(id)
		Expect(err).ToNot(HaveOccurred())
		Expect(obj.Location).To(Equal("/scan/detach"))

		// persistent containers survive the purge but the autoscan target
		// rows of deleted subtrees are repaired
		_, err = ds.Object(ctx).RemoveObjects([]int32{id}, true)
		Expect(err).ToNot(HaveOccurred())

		all, err := ds.Autoscan(ctx).GetAll(model.ScanModeTimed)
		Expect(err).ToNot(HaveOccurred())
		var detached *model.Autoscan
		for _, entry := range all {
			if entry.ID == scan.ID {
				detached = entry
			}
		}
		Expect(detached).ToNot(BeNil())
		Expect(detached.ObjectID).To(Equal(int32(model.InvalidObjectID)))
		Expect(detached.Location).To(Equal("/scan/detach"))
	})
})
