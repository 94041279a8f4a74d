// Command filesmanager はファイル管理APIサーバーとジョブワーカーを起動する。
//
// サブコマンド:
//
//	serve        APIサーバー（デフォルト）
//	worker       派生画像生成とウェルカム通知のワーカー
//	migrate      データベースマイグレーション
//	requeue      デッドレターのジョブを待機列に戻す
//	healthcheck  /health を確認する（Dockerヘルスチェック用）
package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/filesmanager/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "filesmanager: %v\n", err)
		os.Exit(1)
	}
}
