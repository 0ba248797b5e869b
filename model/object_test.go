package model

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Object", func() {
	It("constructs the matching variant from type bits", func() {
		container := NewObject(ObjectTypeContainer)
		Expect(container.IsContainer()).To(BeTrue())
		Expect(container.IsItem()).To(BeFalse())
		Expect(container.Class).To(Equal(ClassContainer))

		item := NewObject(ObjectTypeItem)
		Expect(item.IsPureItem()).To(BeTrue())

		external := NewObject(ObjectTypeItem | ObjectTypeItemExternalURL)
		Expect(external.IsItem()).To(BeTrue())
		Expect(external.IsExternalURL()).To(BeTrue())
		Expect(external.IsPureItem()).To(BeFalse())
	})

	It("sets and clears flags", func() {
		obj := NewObject(ObjectTypeContainer)
		obj.SetFlag(FlagPersistentContainer)
		Expect(obj.GetFlag(FlagPersistentContainer)).To(BeTrue())
		obj.SetFlag(FlagPlaylistRef)
		obj.ClearFlag(FlagPersistentContainer)
		Expect(obj.GetFlag(FlagPersistentContainer)).To(BeFalse())
		Expect(obj.GetFlag(FlagPlaylistRef)).To(BeTrue())
	})

	It("keeps resource ids dense on add", func() {
		obj := NewObject(ObjectTypeItem)
		obj.AddResource(NewResource(HandlerDefault, PurposeContent))
		obj.AddResource(NewResource(HandlerID3, PurposeThumbnail))
		obj.AddResource(NewResource(HandlerSubtitle, PurposeSubtitle))
		Expect(obj.Resources[0].ID).To(Equal(0))
		Expect(obj.Resources[1].ID).To(Equal(1))
		Expect(obj.Resources[2].ID).To(Equal(2))
	})

	It("clones deeply and drops identity", func() {
		obj := NewObject(ObjectTypeItem)
		obj.ID = 42
		obj.Title = "song"
		obj.SetMetadata(MetaArtist, "Adele")
		res := NewResource(HandlerDefault, PurposeContent)
		res.SetAttribute(ResAttrSize, "1000")
		obj.AddResource(res)

		clone := obj.Clone()
		Expect(clone.ID).To(Equal(int32(InvalidObjectID)))
		Expect(clone.Title).To(Equal("song"))

		clone.Metadata[MetaArtist] = "someone else"
		clone.Resources[0].SetAttribute(ResAttrSize, "2000")
		Expect(obj.Metadata[MetaArtist]).To(Equal("Adele"))
		Expect(obj.Resources[0].Attribute(ResAttrSize)).To(Equal("1000"))
	})

	It("compares structurally", func() {
		a := NewObject(ObjectTypeItem)
		a.Title = "song"
		a.SetMetadata(MetaArtist, "Adele")
		res := NewResource(HandlerDefault, PurposeContent)
		res.SetAttribute(ResAttrSize, "1000")
		a.AddResource(res)

		b := a.Clone()
		Expect(a.Equals(b)).To(BeTrue())

		b.Resources[0].AddParameter("extra", "1")
		Expect(a.Equals(b)).To(BeFalse())
	})

	It("finds handler-produced metadata resources", func() {
		obj := NewObject(ObjectTypeItem)
		art := NewResource(HandlerID3, PurposeThumbnail)
		art.AddParameter(ResourceParamContentType, ContentTypeAlbumArt)
		obj.AddResource(art)
		Expect(obj.IsMetaResource(ContentTypeAlbumArt)).To(BeTrue())
		Expect(obj.IsMetaResource(ContentTypeSubtitle)).To(BeFalse())
	})

	It("hashes locations deterministically", func() {
		Expect(LocationHash("/media/music")).To(Equal(LocationHash("/media/music")))
		Expect(LocationHash("/media/music")).ToNot(Equal(LocationHash("/media/video")))
	})

	It("matches derived classes by prefix", func() {
		obj := NewObject(ObjectTypeItem)
		obj.Class = ClassMusicTrack
		Expect(obj.DerivedFrom(ClassAudioItem)).To(BeTrue())
		Expect(obj.DerivedFrom(ClassMusicTrack)).To(BeTrue())
		Expect(obj.DerivedFrom(ClassVideoItem)).To(BeFalse())
		Expect(obj.DerivedFrom("object.item.audio")).To(BeFalse())
	})

	It("forbids mutations at or below the filesystem root", func() {
		Expect(IsForbiddenID(RootID)).To(BeTrue())
		Expect(IsForbiddenID(FsRootID)).To(BeTrue())
		Expect(IsForbiddenID(2)).To(BeFalse())
	})
})
