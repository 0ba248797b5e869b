package model

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Resource", func() {
	It("round-trips through encode and decode", func() {
		res := NewResource(HandlerFfmpeg, PurposeThumbnail)
		res.SetAttribute(ResAttrProtocolInfo, "http-get:*:image/jpeg:*")
		res.SetAttribute(ResAttrResolution, "320x240")
		res.AddParameter(ResourceParamContentType, ContentTypeAlbumArt)
		res.AddOption("file", "/tmp/art & more.jpg")

		encoded := res.Encode()
		decoded, err := DecodeResource(encoded)
		Expect(err).ToNot(HaveOccurred())
		Expect(decoded.Equals(res)).To(BeTrue())

		// canonical form is stable
		Expect(decoded.Encode()).To(Equal(encoded))
	})

	It("rejects malformed serializations", func() {
		_, err := DecodeResource("handlerType=1|garbagefield")
		Expect(err).To(MatchError(ErrInvalidArgument))

		_, err = DecodeResource("unknown:tag=1")
		Expect(err).To(MatchError(ErrInvalidArgument))
	})

	It("renders protocol info with a fallback mime type", func() {
		Expect(RenderProtocolInfo("audio/mpeg")).To(Equal("http-get:*:audio/mpeg:*"))
		Expect(RenderProtocolInfo("")).To(Equal("http-get:*:application/octet-stream:*"))
	})
})
