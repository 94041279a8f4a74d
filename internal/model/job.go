package model

// ジョブキュー名
const (
	// QueueDerivatives は派生画像生成ジョブのキュー。
	QueueDerivatives = "fileQueue"
	// QueueWelcome はウェルカム通知ジョブのキュー。
	QueueWelcome = "userQueue"
)

// DerivativeJobPayload は派生画像生成ジョブのペイロード。
type DerivativeJobPayload struct {
	UserID string `json:"userId"`
	FileID string `json:"fileId"`
}

// WelcomeJobPayload はウェルカム通知ジョブのペイロード。
type WelcomeJobPayload struct {
	UserID string `json:"userId"`
}
