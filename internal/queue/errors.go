package queue

import "errors"

// permanentError は再試行しても成功しない失敗を表す。
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent はerrを再試行不要の失敗としてマークする。
// ハンドラーがこのエラーを返したジョブは即座にデッドレターへ移される。
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent はerrがPermanentでマークされているかどうかを返す。
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}
