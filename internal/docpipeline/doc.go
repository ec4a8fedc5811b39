// Package docpipeline はiLovePDF形式の多段階ドキュメント処理を中継する。
//
// 認証、タスク開始、アップロード、処理、ダウンロードの5段階はそれぞれ独立した呼び出しで、
// タスクの状態（server, task, token）は毎回クライアントから受け取る。
// ゲートウェイ側には何も保存せず、途中の段階で失敗しても巻き戻しは行わない。
// あわせてConvertAPIによるPDFからDOCXへの変換も提供する。
package docpipeline
