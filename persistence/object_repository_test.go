package persistence_test

import (
	"fmt"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/cadenza-av/cadenza/model"
)

var _ = Describe("ObjectRepository", func() {
	Describe("add and load", func() {
		It("creates missing physical ancestors and assigns ids", func() {
			obj := addItem("/library/music/song.mp3", "First Song", "audio/mpeg")

			containerID, err := ds.Object(ctx).FindObjectIDByPath("/library/music", false)
			Expect(err).ToNot(HaveOccurred())
			Expect(obj.ParentID).To(Equal(containerID))

			parentID, err := ds.Object(ctx).FindObjectIDByPath("/library", false)
			Expect(err).ToNot(HaveOccurred())

			loaded, err := ds.Object(ctx).LoadObject(containerID)
			Expect(err).ToNot(HaveOccurred())
			Expect(loaded.ParentID).To(Equal(parentID))
			Expect(loaded.IsContainer()).To(BeTrue())
		})

		It("round-trips an object through add, remove, add", func() {
			obj := addItem("/roundtrip/tune.mp3", "Tune", "audio/mpeg")
			obj.SetMetadata(model.MetaArtist, "Somebody")
			obj.SetMetadata(model.MetaAlbum, "Anthology")
			_, err := ds.Object(ctx).UpdateObject(obj)
			Expect(err).ToNot(HaveOccurred())

			first, err := ds.Object(ctx).LoadObject(obj.ID)
			Expect(err).ToNot(HaveOccurred())
			Expect(first.ID).To(Equal(obj.ID))

			_, err = ds.Object(ctx).RemoveObject(first.ID, false)
			Expect(err).ToNot(HaveOccurred())

			again := first.Clone()
			_, err = ds.Object(ctx).AddObject(again)
			Expect(err).ToNot(HaveOccurred())

			second, err := ds.Object(ctx).LoadObject(again.ID)
			Expect(err).ToNot(HaveOccurred())
			Expect(first.Equals(second)).To(BeTrue())
		})

		It("refuses updates on forbidden ids", func() {
			obj := model.NewObject(model.ObjectTypeContainer)
			obj.ID = model.RootID
			obj.Title = "nope"
			_, err := ds.Object(ctx).UpdateObject(obj)
			Expect(err).To(MatchError(model.ErrInvalidArgument))
		})

		It("returns not-found for unknown objects", func() {
			_, err := ds.Object(ctx).LoadObject(999999)
			Expect(err).To(MatchError(model.ErrNotFound))
		})
	})

	Describe("browse", func() {
		It("lists direct children with totals", func() {
			item := addItem("/browse/music/one.mp3", "One", "audio/mpeg")
			containerID, err := ds.Object(ctx).FindObjectIDByPath("/browse/music", false)
			Expect(err).ToNot(HaveOccurred())
			parent, err := ds.Object(ctx).LoadObject(containerID)
			Expect(err).ToNot(HaveOccurred())

			param := &model.BrowseParam{
				Parent:         parent,
				Flags:          model.BrowseDirectChildren | model.BrowseItems | model.BrowseContainers,
				RequestedCount: 10,
			}
			children, err := ds.Object(ctx).Browse(param)
			Expect(err).ToNot(HaveOccurred())
			Expect(children).To(HaveLen(1))
			Expect(children[0].ID).To(Equal(item.ID))
			Expect(param.TotalMatches).To(Equal(1))
		})

		It("returns the parent itself for the metadata flag", func() {
			addItem("/browse/meta/x.mp3", "X", "audio/mpeg")
			containerID, err := ds.Object(ctx).FindObjectIDByPath("/browse/meta", false)
			Expect(err).ToNot(HaveOccurred())
			parent, err := ds.Object(ctx).LoadObject(containerID)
			Expect(err).ToNot(HaveOccurred())

			param := &model.BrowseParam{Parent: parent, Flags: model.BrowseMetadata | model.BrowseItems | model.BrowseContainers}
			result, err := ds.Object(ctx).Browse(param)
			Expect(err).ToNot(HaveOccurred())
			Expect(result).To(HaveLen(1))
			Expect(result[0].ID).To(Equal(containerID))
			Expect(param.TotalMatches).To(Equal(1))
		})

		It("pages children from a starting index", func() {
			for _, name := range []string{"a", "b", "c", "d"} {
				addItem("/browse/page/"+name+".mp3", name, "audio/mpeg")
			}
			containerID, err := ds.Object(ctx).FindObjectIDByPath("/browse/page", false)
			Expect(err).ToNot(HaveOccurred())
			parent, err := ds.Object(ctx).LoadObject(containerID)
			Expect(err).ToNot(HaveOccurred())

			param := &model.BrowseParam{
				Parent:        parent,
				Flags:         model.BrowseDirectChildren | model.BrowseItems | model.BrowseContainers,
				StartingIndex: 2,
			}
			children, err := ds.Object(ctx).Browse(param)
			Expect(err).ToNot(HaveOccurred())
			Expect(children).To(HaveLen(2))
			Expect(param.TotalMatches).To(Equal(4))
			Expect(children[0].Title).To(Equal("c"))
		})
	})

	Describe("search", func() {
		It("finds items by class and title", func() {
			target := addItem("/search/deep.mp3", "Rolling In The Deep", "audio/mpeg")
			addItem("/search/other.mp3", "Shallow Water", "audio/mpeg")

			objects, total, err := ds.Object(ctx).Search(&model.SearchParam{
				Criteria:       `upnp:class derivedFrom "object.item.audioItem" and dc:title contains "deep"`,
				RequestedCount: 10,
			})
			Expect(err).ToNot(HaveOccurred())
			Expect(total).To(Equal(1))
			Expect(objects).To(HaveLen(1))
			Expect(objects[0].ID).To(Equal(target.ID))
		})

		It("accepts any valid query over an empty match set", func() {
			objects, total, err := ds.Object(ctx).Search(&model.SearchParam{
				Criteria:       `dc:title contains "definitely-not-there-xyzzy"`,
				RequestedCount: 10,
			})
			Expect(err).ToNot(HaveOccurred())
			Expect(total).To(BeZero())
			Expect(objects).To(BeEmpty())
		})

		It("rejects malformed criteria with the invalid-argument kind", func() {
			_, _, err := ds.Object(ctx).Search(&model.SearchParam{Criteria: `dc:title contains`})
			Expect(err).To(MatchError(model.ErrInvalidArgument))
		})
	})

	Describe("container chains", func() {
		It("is idempotent and reports newly created ids once", func() {
			leaf, created, err := ds.Object(ctx).AddContainerChain(
				"/Audio/Artists/Adele",
				"object.container/object.container.person.musicArtist/object.container.album.musicAlbum",
				0, map[string]string{model.MetaArtist: "Adele"})
			Expect(err).ToNot(HaveOccurred())
			Expect(leaf).To(BeNumerically(">", model.FsRootID))
			Expect(created).To(HaveLen(3))
			Expect(created[0]).To(Equal(leaf))

			leaf2, created2, err := ds.Object(ctx).AddContainerChain(
				"/Audio/Artists/Adele",
				"object.container/object.container.person.musicArtist/object.container.album.musicAlbum",
				0, nil)
			Expect(err).ToNot(HaveOccurred())
			Expect(leaf2).To(Equal(leaf))
			Expect(created2).To(BeEmpty())

			loaded, err := ds.Object(ctx).LoadObject(leaf)
			Expect(err).ToNot(HaveOccurred())
			Expect(loaded.Class).To(Equal(model.ClassMusicAlbum))
			Expect(loaded.Metadata).To(HaveKeyWithValue(model.MetaArtist, "Adele"))
			Expect(loaded.Virtual).To(BeTrue())
		})

		It("builds escaped virtual paths", func() {
			leaf, _, err := ds.Object(ctx).AddContainerChain("/Video", "object.container", 0, nil)
			Expect(err).ToNot(HaveOccurred())
			path, err := ds.Object(ctx).BuildContainerPath(leaf, "AC/DC")
			Expect(err).ToNot(HaveOccurred())
			Expect(path).To(Equal(`/Video/AC\/DC`))
		})
	})

	Describe("update ids", func() {
		It("returns an empty CSV for no ids", func() {
			csv, err := ds.Object(ctx).IncrementUpdateIDs(nil)
			Expect(err).ToNot(HaveOccurred())
			Expect(csv).To(BeEmpty())
		})

		It("returns one id,value pair per container", func() {
			leafA, _, err := ds.Object(ctx).AddContainerChain("/UpdA", "object.container", 0, nil)
			Expect(err).ToNot(HaveOccurred())
			leafB, _, err := ds.Object(ctx).AddContainerChain("/UpdB", "object.container", 0, nil)
			Expect(err).ToNot(HaveOccurred())

			csv, err := ds.Object(ctx).IncrementUpdateIDs([]int32{leafA, leafB})
			Expect(err).ToNot(HaveOccurred())
			Expect(csv).To(MatchRegexp(`^\d+,\d+,\d+,\d+$`))

			// a second bump increments again
			csv2, err := ds.Object(ctx).IncrementUpdateIDs([]int32{leafA})
			Expect(err).ToNot(HaveOccurred())
			Expect(csv2).To(Equal(intPairCSV(leafA, 2)))
		})
	})

	Describe("resources", func() {
		It("keeps res_id values dense after updates", func() {
			obj := addItem("/resupd/song.mp3", "Resources", "audio/mpeg")
			art := model.NewResource(model.HandlerID3, model.PurposeThumbnail)
			art.AddParameter(model.ResourceParamContentType, model.ContentTypeAlbumArt)
			obj.AddResource(art)
			sub := model.NewResource(model.HandlerSubtitle, model.PurposeSubtitle)
			obj.AddResource(sub)
			_, err := ds.Object(ctx).UpdateObject(obj)
			Expect(err).ToNot(HaveOccurred())

			loaded, err := ds.Object(ctx).LoadObject(obj.ID)
			Expect(err).ToNot(HaveOccurred())
			Expect(loaded.Resources).To(HaveLen(3))
			for i, res := range loaded.Resources {
				Expect(res.ID).To(Equal(i))
			}

			// shrink the list, ids stay dense from zero
			loaded.Resources = loaded.Resources[:1]
			_, err = ds.Object(ctx).UpdateObject(loaded)
			Expect(err).ToNot(HaveOccurred())
			reloaded, err := ds.Object(ctx).LoadObject(obj.ID)
			Expect(err).ToNot(HaveOccurred())
			Expect(reloaded.Resources).To(HaveLen(1))
			Expect(reloaded.Resources[0].ID).To(BeZero())
		})
	})

	Describe("remove", func() {
		It("cascades over descendants and purges empty containers", func() {
			item := addItem("/remove/tree/song.mp3", "Goner", "audio/mpeg")
			containerID, err := ds.Object(ctx).FindObjectIDByPath("/remove/tree", false)
			Expect(err).ToNot(HaveOccurred())

			changed, err := ds.Object(ctx).RemoveObject(containerID, true)
			Expect(err).ToNot(HaveOccurred())
			Expect(changed).ToNot(BeNil())
			Expect(changed.UPnP).ToNot(BeEmpty())

			_, err = ds.Object(ctx).LoadObject(item.ID)
			Expect(err).To(MatchError(model.ErrNotFound))
			_, err = ds.Object(ctx).LoadObject(containerID)
			Expect(err).To(MatchError(model.ErrNotFound))
			// the parent was left childless and purged too
			_, err = ds.Object(ctx).FindObjectIDByPath("/remove", false)
			Expect(err).To(MatchError(model.ErrNotFound))
		})

		It("removes items whose reference target goes away", func() {
			target := addItem("/refs/src/original.mp3", "Original", "audio/mpeg")

			leaf, _, err := ds.Object(ctx).AddContainerChain("/Virtual/Refs", "object.container", 0, nil)
			Expect(err).ToNot(HaveOccurred())

			virtual := model.NewObject(model.ObjectTypeItem)
			virtual.Virtual = true
			virtual.ParentID = leaf
			virtual.RefID = target.ID
			virtual.Title = "Alias"
			virtual.Class = target.Class
			virtual.MimeType = target.MimeType
			_, err = ds.Object(ctx).AddObject(virtual)
			Expect(err).ToNot(HaveOccurred())
			Expect(virtual.ID).ToNot(Equal(int32(model.InvalidObjectID)))

			_, err = ds.Object(ctx).RemoveObject(target.ID, true)
			Expect(err).ToNot(HaveOccurred())

			_, err = ds.Object(ctx).LoadObject(virtual.ID)
			Expect(err).To(MatchError(model.ErrNotFound))
		})

		It("silently drops duplicate reference inserts", func() {
			target := addItem("/refs/dup/original.mp3", "DupSource", "audio/mpeg")
			leaf, _, err := ds.Object(ctx).AddContainerChain("/Virtual/Dup", "object.container", 0, nil)
			Expect(err).ToNot(HaveOccurred())

			mkAlias := func() *model.Object {
				alias := model.NewObject(model.ObjectTypeItem)
				alias.Virtual = true
				alias.ParentID = leaf
				alias.RefID = target.ID
				alias.Title = "SameAlias"
				alias.Class = target.Class
				return alias
			}
			first := mkAlias()
			_, err = ds.Object(ctx).AddObject(first)
			Expect(err).ToNot(HaveOccurred())
			Expect(first.ID).ToNot(Equal(int32(model.InvalidObjectID)))

			second := mkAlias()
			_, err = ds.Object(ctx).AddObject(second)
			Expect(err).ToNot(HaveOccurred())
			Expect(second.ID).To(Equal(int32(model.InvalidObjectID)))
		})

		It("refuses to remove forbidden ids", func() {
			_, err := ds.Object(ctx).RemoveObject(model.FsRootID, true)
			Expect(err).To(MatchError(model.ErrInvalidArgument))
		})
	})
})

func intPairCSV(id int32, value int) string {
	return fmt.Sprintf("%d,%d", id, value)
}
