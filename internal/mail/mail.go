// Package mail はテンプレートを使ったメール送信を提供する。
package mail

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"log/slog"
	"net/mail"
)

//go:embed templates/*.html
var templatesFS embed.FS

// Address はメールアドレスと表示名を表す。
type Address struct {
	Name  string
	Email string
}

// String は "表示名 <address>" 形式の文字列を返す。表示名はRFC 2047でエンコードされる。
func (a Address) String() string {
	return (&mail.Address{Name: a.Name, Address: a.Email}).String()
}

// Message は送信するメールを表す。
type Message struct {
	To       Address
	Subject  string
	Template string // templates/ 配下のファイル名（拡張子なし）
	Data     any
}

// Mailer はメール送信のインターフェース。
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// Renderer は埋め込みテンプレートからHTML本文を生成する。
type Renderer struct {
	templates *template.Template
}

// NewRenderer は埋め込みテンプレートを読み込んだRendererを生成する。
func NewRenderer() (*Renderer, error) {
	tmpl, err := template.ParseFS(templatesFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse mail templates: %w", err)
	}
	return &Renderer{templates: tmpl}, nil
}

// Render は指定テンプレートにdataを適用したHTMLを返す。
func (r *Renderer) Render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := r.templates.ExecuteTemplate(&buf, name+".html", data); err != nil {
		return "", fmt.Errorf("failed to render mail template %q: %w", name, err)
	}
	return buf.String(), nil
}

// LogMailer はメールを送信せずにログへ出力するMailer。
// SMTPが設定されていない開発環境で使う。
type LogMailer struct {
	renderer *Renderer
	logger   *slog.Logger
}

// NewLogMailer はLogMailerを生成する。
func NewLogMailer(renderer *Renderer, logger *slog.Logger) *LogMailer {
	return &LogMailer{renderer: renderer, logger: logger}
}

// Send はテンプレートを描画し、宛先と件名、本文のテキストをログに出力する。
func (m *LogMailer) Send(ctx context.Context, msg Message) error {
	body, err := m.renderer.Render(msg.Template, msg.Data)
	if err != nil {
		return err
	}
	m.logger.InfoContext(ctx, "mail suppressed (SMTP not configured)",
		slog.String("to", msg.To.String()),
		slog.String("subject", msg.Subject),
		slog.String("body", PlainText(body)),
	)
	return nil
}

var (
	_ Mailer = (*LogMailer)(nil)
	_ Mailer = (*SMTPMailer)(nil)
)
