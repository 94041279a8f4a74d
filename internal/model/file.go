package model

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// FileKind はファイルレコードの種別を表す。
type FileKind string

const (
	// FileKindFolder はフォルダ。バイナリを持たない。
	FileKindFolder FileKind = "folder"
	// FileKindFile は通常ファイル。
	FileKindFile FileKind = "file"
	// FileKindImage は画像ファイル。登録後にサイズ違いの派生画像が非同期生成される。
	FileKindImage FileKind = "image"
)

// ParseFileKind は文字列をFileKindに変換する。
// 未知の値の場合はfalseを返す。
func ParseFileKind(s string) (FileKind, bool) {
	switch FileKind(s) {
	case FileKindFolder, FileKindFile, FileKindImage:
		return FileKind(s), true
	default:
		return "", false
	}
}

// HasContent はこの種別がバイナリを保持するかどうかを返す。
func (k FileKind) HasContent() bool {
	return k != FileKindFolder
}

// ParentRef は親フォルダの参照を表す。
// ゼロ値はルート（親なし）を意味し、実IDとは比較されない。
type ParentRef struct {
	id string
}

// RootParent はルートを指すParentRefを返す。
func RootParent() ParentRef {
	return ParentRef{}
}

// ParentID は指定IDのフォルダを指すParentRefを返す。
// 空文字列はルートとして扱う。
func ParentID(id string) ParentRef {
	return ParentRef{id: id}
}

// IsRoot はルートを指しているかどうかを返す。
func (p ParentRef) IsRoot() bool {
	return p.id == ""
}

// ID は親フォルダのIDを返す。ルートの場合はfalseを返す。
func (p ParentRef) ID() (string, bool) {
	if p.IsRoot() {
		return "", false
	}
	return p.id, true
}

// String はログ出力用の文字列表現を返す。
func (p ParentRef) String() string {
	if p.IsRoot() {
		return "root"
	}
	return p.id
}

// MarshalJSON はルートを0、実IDを文字列としてエンコードする。
func (p ParentRef) MarshalJSON() ([]byte, error) {
	if p.IsRoot() {
		return []byte("0"), nil
	}
	return json.Marshal(p.id)
}

// UnmarshalJSON は0、"0"、null、空文字列をルートとして受け付ける。
// 0以外の数値は文字列のIDとして扱い、存在しない親として後段で判定する。
func (p *ParentRef) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case nil:
		*p = RootParent()
	case float64:
		if v == 0 {
			*p = RootParent()
			break
		}
		*p = ParentID(strconv.FormatFloat(v, 'f', -1, 64))
	case string:
		*p = ParseParentRef(v)
	default:
		return fmt.Errorf("invalid parent id type: %T", raw)
	}
	return nil
}

// ParseParentRef はクエリ文字列などの値からParentRefを生成する。
// 空文字列と"0"はルートとして扱う。
func ParseParentRef(s string) ParentRef {
	if s == "" || s == "0" {
		return RootParent()
	}
	return ParentID(s)
}

// FileRecord はメタデータカタログに保存されるファイル/フォルダのレコード。
// StoragePathはKindがフォルダ以外の場合にのみ設定される。
type FileRecord struct {
	ID          string
	OwnerID     string
	Name        string
	Kind        FileKind
	IsPublic    bool
	Parent      ParentRef
	StoragePath string
	CreatedAt   time.Time
}

// DerivativeSizes は派生画像の幅（px）一覧。
var DerivativeSizes = []int{500, 250, 100}

// IsDerivativeSize は指定サイズが派生画像のサイズとして有効かどうかを返す。
func IsDerivativeSize(size int) bool {
	for _, s := range DerivativeSizes {
		if s == size {
			return true
		}
	}
	return false
}
