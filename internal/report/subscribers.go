// Package report は参加者一覧などの表計算ファイル出力を提供する。
package report

import (
	"bytes"
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/hitoshi/meetapp/internal/model"
	"github.com/hitoshi/meetapp/internal/repository"
)

// XLSXContentType はxlsxファイルのContent-Type。
const XLSXContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

const subscribersSheet = "参加者"

var subscribersHeader = []any{"No.", "名前", "メールアドレス", "登録日時"}

// SubscribersXLSX はMeetupの参加者一覧をxlsx形式で生成する。
// 1行目にMeetupのタイトルと開催日時、3行目に見出し、4行目以降に参加者を出力する。
// 日時はlocのタイムゾーンで表示する。
func SubscribersXLSX(m *model.Meetup, subscribers []repository.Subscriber, loc *time.Location) ([]byte, error) {
	if loc == nil {
		loc = time.UTC
	}

	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName(f.GetSheetName(f.GetActiveSheetIndex()), subscribersSheet); err != nil {
		return nil, fmt.Errorf("failed to rename sheet: %w", err)
	}

	title := []any{m.Title, m.Date.In(loc).Format("2006/01/02 15:04")}
	if err := f.SetSheetRow(subscribersSheet, "A1", &title); err != nil {
		return nil, fmt.Errorf("failed to write title row: %w", err)
	}
	if err := f.SetSheetRow(subscribersSheet, "A3", &subscribersHeader); err != nil {
		return nil, fmt.Errorf("failed to write header row: %w", err)
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, fmt.Errorf("failed to create style: %w", err)
	}
	if err := f.SetCellStyle(subscribersSheet, "A1", "A1", bold); err != nil {
		return nil, fmt.Errorf("failed to set title style: %w", err)
	}
	if err := f.SetCellStyle(subscribersSheet, "A3", "D3", bold); err != nil {
		return nil, fmt.Errorf("failed to set header style: %w", err)
	}

	for i, s := range subscribers {
		cell, err := excelize.CoordinatesToCellName(1, i+4)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve cell: %w", err)
		}
		row := []any{i + 1, s.Name, s.Email, s.SubscribedAt.In(loc).Format("2006/01/02 15:04")}
		if err := f.SetSheetRow(subscribersSheet, cell, &row); err != nil {
			return nil, fmt.Errorf("failed to write subscriber row: %w", err)
		}
	}

	if err := f.SetColWidth(subscribersSheet, "B", "D", 24); err != nil {
		return nil, fmt.Errorf("failed to set column width: %w", err)
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to write xlsx: %w", err)
	}
	return bytes.Clone(buf.Bytes()), nil
}
