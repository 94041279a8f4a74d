package repository

import "github.com/google/uuid"

// isUUID はidがUUID形式かどうかを返す。
// uuid型カラムに不正な文字列を渡すとPostgreSQLがエラーを返すため、事前に判定する。
func isUUID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
