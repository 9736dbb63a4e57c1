package repository

import (
	"errors"

	"github.com/lib/pq"
)

var (
	// ErrDuplicate は一意制約違反を表す。
	ErrDuplicate = errors.New("repository: duplicate key")
	// ErrForeignKey は参照先が存在しない外部キー制約違反を表す。
	ErrForeignKey = errors.New("repository: foreign key violation")
	// ErrNotFound は更新・削除対象の行が存在しないことを表す。
	ErrNotFound = errors.New("repository: not found")
	// ErrScheduleConflict は同じ日時のMeetupへの参加登録が既に存在することを表す。
	ErrScheduleConflict = errors.New("repository: schedule conflict")
)

// PostgreSQLのエラーコード
const (
	pqUniqueViolation     = "23505"
	pqForeignKeyViolation = "23503"
)

// translateError はpq.Errorの制約違反をリポジトリのセンチネルエラーに変換する。
// 対象外のエラーはそのまま返す。
func translateError(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return err
	}
	switch pqErr.Code {
	case pqUniqueViolation:
		return ErrDuplicate
	case pqForeignKeyViolation:
		return ErrForeignKey
	}
	return err
}
