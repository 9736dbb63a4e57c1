// Package security はアプリケーションのセキュリティ機能を提供する。
//
// TextSanitizer はMeetupのタイトル・場所・説明文を保存前にサニタイズし、
// 公開一覧やRSSを通じたXSSを防ぐ。
// bluemondayライブラリの許可リストベースのポリシーを使用する。
package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizer はユーザー入力テキストのサニタイズ機能のインターフェースを定義する。
type TextSanitizer interface {
	// PlainText はすべてのタグを除去したプレーンテキストを返す。
	// タイトルや場所など、書式を持たない項目に使用する。
	PlainText(s string) string

	// RichText は許可タグ（p, br, ul, ol, li, strong, em, a）のみを残したHTMLを返す。
	// 説明文に使用する。aタグのhrefはhttp/httpsの絶対URLのみ許可される。
	RichText(s string) string
}

// textSanitizer はTextSanitizerの実装。
// bluemondayのポリシーはスレッドセーフなので、1インスタンスを共有してよい。
type textSanitizer struct {
	strict *bluemonday.Policy
	rich   *bluemonday.Policy
}

// NewTextSanitizer はTextSanitizerの新しいインスタンスを生成する。
func NewTextSanitizer() *textSanitizer {
	rich := bluemonday.NewPolicy()
	rich.AllowElements("p", "br", "ul", "ol", "li", "strong", "em")
	rich.AllowAttrs("href").OnElements("a")
	rich.AllowURLSchemes("http", "https")
	rich.AllowRelativeURLs(false)
	rich.AddTargetBlankToFullyQualifiedLinks(true)
	rich.RequireNoReferrerOnLinks(true)

	return &textSanitizer{
		strict: bluemonday.StrictPolicy(),
		rich:   rich,
	}
}

// angleBrackets は実体参照を戻した後に残る山括弧を除去する。
// 実体参照で渡された "&lt;script&gt;" がタグとして保存されないようにする。
var angleBrackets = strings.NewReplacer("<", "", ">", "")

// PlainText はタグを除去し、bluemondayがエスケープした実体参照を元に戻して返す。
// 戻した結果の山括弧は取り除き、前後の空白も取り除く。
func (s *textSanitizer) PlainText(in string) string {
	return strings.TrimSpace(angleBrackets.Replace(html.UnescapeString(s.strict.Sanitize(in))))
}

// RichText は許可タグ以外を除去したHTMLを返す。
func (s *textSanitizer) RichText(in string) string {
	return strings.TrimSpace(s.rich.Sanitize(in))
}

// compile-time interface check
var _ TextSanitizer = (*textSanitizer)(nil)
