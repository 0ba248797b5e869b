package search

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func allTokens(input string) ([]*Token, error) {
	lexer := NewLexer(input)
	var tokens []*Token
	for {
		tok, err := lexer.NextToken()
		if err != nil {
			return tokens, err
		}
		if tok == nil {
			return tokens, nil
		}
		tokens = append(tokens, tok)
	}
}

var _ = Describe("Lexer", func() {
	It("tokenizes a simple relation", func() {
		tokens, err := allTokens(`dc:title contains "foo"`)
		Expect(err).ToNot(HaveOccurred())
		Expect(tokens).To(HaveLen(5))
		Expect(tokens[0].Type).To(Equal(TokenProperty))
		Expect(tokens[0].Value).To(Equal("dc:title"))
		Expect(tokens[1].Type).To(Equal(TokenStringOp))
		Expect(tokens[2].Type).To(Equal(TokenDQuote))
		Expect(tokens[3].Type).To(Equal(TokenEscapedString))
		Expect(tokens[3].Value).To(Equal("foo"))
		Expect(tokens[4].Type).To(Equal(TokenDQuote))
	})

	It("recognizes operators case-insensitively", func() {
		tokens, err := allTokens(`upnp:class DerivedFrom "object.item" AND dc:title exists true`)
		Expect(err).ToNot(HaveOccurred())
		Expect(tokens[1].Type).To(Equal(TokenStringOp))
		Expect(tokens[5].Type).To(Equal(TokenAnd))
		Expect(tokens[7].Type).To(Equal(TokenExists))
		Expect(tokens[8].Type).To(Equal(TokenBoolVal))
	})

	It("handles escaped quotes and backslashes in literals", func() {
		tokens, err := allTokens(`dc:title = "say \"hi\" \\now"`)
		Expect(err).ToNot(HaveOccurred())
		Expect(tokens[3].Value).To(Equal(`say "hi" \now`))
	})

	It("splits two-character comparison operators", func() {
		tokens, err := allTokens(`last_updated >= "5"`)
		Expect(err).ToNot(HaveOccurred())
		Expect(tokens[1].Type).To(Equal(TokenCompareOp))
		Expect(tokens[1].Value).To(Equal(">="))
	})

	It("tracks positions and reports unexpected characters", func() {
		_, err := allTokens(`dc:title # "x"`)
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring(`"#"`))
	})

	It("accepts the lone asterisk", func() {
		tokens, err := allTokens("*")
		Expect(err).ToNot(HaveOccurred())
		Expect(tokens).To(HaveLen(1))
		Expect(tokens[0].Type).To(Equal(TokenAsterisk))
	})

	It("accepts attribute-style properties", func() {
		tokens, err := allTokens(`res@size > "100"`)
		Expect(err).ToNot(HaveOccurred())
		Expect(tokens[0].Type).To(Equal(TokenProperty))
		Expect(tokens[0].Value).To(Equal("res@size"))
	})
})
