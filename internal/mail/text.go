package mail

import (
	"strings"

	"golang.org/x/net/html"
)

// skipTextTags は本文テキストとして扱わない要素。
var skipTextTags = map[string]bool{
	"head":   true,
	"style":  true,
	"script": true,
	"title":  true,
}

// PlainText はHTML本文からテキストだけを取り出す。
// 連続する空白は1つにまとめ、段落や改行タグは改行に置き換える。
func PlainText(htmlBody string) string {
	tokenizer := html.NewTokenizer(strings.NewReader(htmlBody))

	var lines []string
	var current strings.Builder
	skipDepth := 0

	flush := func() {
		if line := strings.Join(strings.Fields(current.String()), " "); line != "" {
			lines = append(lines, line)
		}
		current.Reset()
	}

	for {
		tt := tokenizer.Next()
		switch tt {
		case html.ErrorToken:
			flush()
			return strings.Join(lines, "\n")

		case html.StartTagToken, html.SelfClosingTagToken:
			tn, _ := tokenizer.TagName()
			tagName := string(tn)
			if skipTextTags[tagName] && tt == html.StartTagToken {
				skipDepth++
				continue
			}
			if isBreakTag(tagName) {
				flush()
			}

		case html.EndTagToken:
			tn, _ := tokenizer.TagName()
			tagName := string(tn)
			if skipTextTags[tagName] {
				if skipDepth > 0 {
					skipDepth--
				}
				continue
			}
			if isBreakTag(tagName) {
				flush()
			}

		case html.TextToken:
			if skipDepth > 0 {
				continue
			}
			current.Write(tokenizer.Text())
			current.WriteByte(' ')
		}
	}
}

func isBreakTag(name string) bool {
	switch name {
	case "br", "p", "div", "li", "tr", "h1", "h2", "h3", "h4", "h5", "h6":
		return true
	}
	return false
}
