// エッジゲートウェイのエントリポイント。
// IDトークンの検証、セッショントークンの発行、ベンダーAPIへの中継を担当する。
// ブラウザから直接アクセスされる唯一のサービスであり、セキュリティの境界線となる。
package main

import (
	"os"

	"github.com/sirupsen/logrus"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		logrus.WithError(err).Error("ゲートウェイの実行に失敗しました")
		os.Exit(1)
	}
}
