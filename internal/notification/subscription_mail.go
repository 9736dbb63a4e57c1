// Package notification は参加登録などのイベントに伴う通知ジョブを提供する。
package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hitoshi/meetapp/internal/mail"
	"github.com/hitoshi/meetapp/internal/worker/dispatch"
)

// SubscriptionMailKey は参加登録通知メールのジョブキー。
const SubscriptionMailKey = "SubscriptionMail"

// subscriptionMailSubject は参加登録通知メールの件名。
const subscriptionMailSubject = "新しい参加登録"

// Contact は通知の宛先または参加者の連絡先を表す。
type Contact struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// SubscriptionMailPayload は参加登録通知ジョブのpayload。
type SubscriptionMailPayload struct {
	Organizer   Contact   `json:"organizer"`
	Subscriber  Contact   `json:"subscriber"`
	MeetupID    int64     `json:"meetup_id"`
	MeetupTitle string    `json:"meetup_title"`
	MeetupDate  time.Time `json:"meetup_date"`
}

// subscriptionMailData はsubscriptionテンプレートに渡す値。
type subscriptionMailData struct {
	Organizer string
	Meetup    string
	Date      string
	Name      string
	Email     string
}

// SubscriptionMailHandler は参加登録を主催者にメールで通知するジョブハンドラ。
type SubscriptionMailHandler struct {
	mailer   mail.Mailer
	location *time.Location
}

// NewSubscriptionMailHandler はSubscriptionMailHandlerを生成する。
// 開催日時はlocationのタイムゾーンで表示する。locがnilの場合はUTC。
func NewSubscriptionMailHandler(mailer mail.Mailer, loc *time.Location) *SubscriptionMailHandler {
	if loc == nil {
		loc = time.UTC
	}
	return &SubscriptionMailHandler{mailer: mailer, location: loc}
}

// Key はジョブキーを返す。
func (h *SubscriptionMailHandler) Key() string {
	return SubscriptionMailKey
}

// Handle はpayloadを復元し、主催者宛てに通知メールを送信する。
// payloadが壊れている場合は再試行しても成功しないため、Permanentエラーを返す。
func (h *SubscriptionMailHandler) Handle(ctx context.Context, payload json.RawMessage) error {
	var p SubscriptionMailPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return dispatch.Permanent(fmt.Errorf("failed to decode subscription mail payload: %w", err))
	}
	if p.Organizer.Email == "" {
		return dispatch.Permanent(fmt.Errorf("subscription mail payload has no organizer email (meetup %d)", p.MeetupID))
	}

	msg := mail.Message{
		To:       mail.Address{Name: p.Organizer.Name, Email: p.Organizer.Email},
		Subject:  subscriptionMailSubject,
		Template: "subscription",
		Data: subscriptionMailData{
			Organizer: p.Organizer.Name,
			Meetup:    p.MeetupTitle,
			Date:      p.MeetupDate.In(h.location).Format("2006/01/02 15:04"),
			Name:      p.Subscriber.Name,
			Email:     p.Subscriber.Email,
		},
	}
	if err := h.mailer.Send(ctx, msg); err != nil {
		return fmt.Errorf("failed to send subscription mail: %w", err)
	}
	return nil
}

// compile-time interface check
var _ dispatch.Handler = (*SubscriptionMailHandler)(nil)
