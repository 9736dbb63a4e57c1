package repository

import (
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

// newMockDB はsqlmockを使ったテスト用DBを生成する。
// テスト終了時に期待したクエリがすべて実行されたことを検証する。
func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("満たされていない期待があります: %v", err)
		}
		db.Close()
	})
	return db, mock
}
