package listing

import (
	"context"
	"fmt"
	"mime"
	"net/url"
	"path"

	"github.com/gorilla/feeds"

	"github.com/hitoshi/meetapp/internal/model"
)

// FeedLimit はRSSフィードに含めるMeetupの最大件数。
const FeedLimit = 50

// UpcomingFeed は開催予定のMeetupを開催日時の近い順に並べたRSS 2.0を返す。
func (s *Service) UpcomingFeed(ctx context.Context) (string, error) {
	details, err := s.meetupRepo.ListUpcoming(ctx, s.now(), FeedLimit, 0)
	if err != nil {
		return "", fmt.Errorf("開催予定のMeetupの取得に失敗しました: %w", err)
	}

	feed := &feeds.Feed{
		Title:       "meetapp: 開催予定のMeetup",
		Link:        &feeds.Link{Href: s.baseURL + "/meetups"},
		Description: "開催予定のMeetup一覧",
		Created:     s.now(),
	}

	feed.Items = make([]*feeds.Item, 0, len(details))
	for _, d := range details {
		day := d.Date.In(s.location).Format("2006-01-02")
		feed.Items = append(feed.Items, &feeds.Item{
			Id:          fmt.Sprintf("%s/meetups/%d", s.baseURL, d.ID),
			Title:       d.Title,
			Link:        &feeds.Link{Href: s.baseURL + "/meetups?date=" + url.QueryEscape(day)},
			Description: d.Description,
			Author:      &feeds.Author{Name: d.Organizer.Name},
			Created:     d.Date,
			Updated:     d.UpdatedAt,
			Enclosure: &feeds.Enclosure{
				Url:    model.FileURL(s.baseURL, d.Banner.Path),
				Length: "0",
				Type:   mime.TypeByExtension(path.Ext(d.Banner.Path)),
			},
		})
	}

	rss, err := feed.ToRss()
	if err != nil {
		return "", fmt.Errorf("RSSの生成に失敗しました: %w", err)
	}
	return rss, nil
}
