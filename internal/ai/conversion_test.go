package ai

import (
	"bytes"
	"image/png"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("toPNG", func() {
	When("the document is already PNG", func() {
		It("returns the bytes unchanged", func() {
			var buf bytes.Buffer
			Expect(png.Encode(&buf, pngSource())).To(Succeed())

			out, err := toPNG(Document{Data: buf.Bytes(), MIMEType: "IMAGE/PNG"})
			Expect(err).NotTo(HaveOccurred())
			Expect(out.Data).To(Equal(buf.Bytes()))
			Expect(out.MIMEType).To(Equal("image/png"))
		})
	})

	When("the document is JPEG", func() {
		It("re-encodes it as PNG", func() {
			out, err := toPNG(Document{Data: testJPEG(), MIMEType: "image/jpeg; charset=binary"})
			Expect(err).NotTo(HaveOccurred())
			Expect(out.MIMEType).To(Equal("image/png"))
			_, err = png.Decode(bytes.NewReader(out.Data))
			Expect(err).NotTo(HaveOccurred())
		})
	})

	When("the media type is missing", func() {
		It("assumes JPEG", func() {
			Expect(normalizeMIMEType("  ")).To(Equal("image/jpeg"))
		})
	})

	When("the data is not an image", func() {
		It("returns a decode error", func() {
			_, err := toPNG(Document{Data: []byte("hello"), MIMEType: "image/gif"})
			Expect(err).To(MatchError(ContainSubstring("decoding image/gif image")))
		})
	})
})

var _ = Describe("isHEIC", func() {
	It("detects HEIC brands", func() {
		Expect(isHEIC([]byte("\x00\x00\x00\x18ftypheic\x00\x00\x00\x00"))).To(BeTrue())
		Expect(isHEIC([]byte("\x00\x00\x00\x18ftypmif1\x00\x00\x00\x00"))).To(BeTrue())
	})

	It("rejects other data", func() {
		Expect(isHEIC([]byte("\x00\x00\x00\x18ftypisom\x00\x00\x00\x00"))).To(BeFalse())
		Expect(isHEIC([]byte("short"))).To(BeFalse())
	})
})
