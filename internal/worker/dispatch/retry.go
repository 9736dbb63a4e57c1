package dispatch

import (
	"errors"
	"time"
)

const (
	// initialBackoff は指数バックオフの初回遅延（30秒）。
	initialBackoff = 30 * time.Second
	// maxBackoff は指数バックオフの最大遅延（30分）。
	maxBackoff = 30 * time.Minute
)

// CalculateBackoff は失敗回数に基づいて指数バックオフ遅延を計算する。
// 初回30秒、2倍ずつ増加、最大30分。
func CalculateBackoff(failures int) time.Duration {
	delay := initialBackoff
	for i := 0; i < failures; i++ {
		delay *= 2
		if delay > maxBackoff {
			return maxBackoff
		}
	}
	return delay
}

// permanentError は再試行しても成功しない失敗を表す。
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent はerrを再試行不要な失敗として包む。errがnilの場合はnilを返す。
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent はerrがPermanentで包まれているかを返す。
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}
