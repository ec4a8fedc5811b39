// Package httpclient はベンダーAPIを呼び出すためのリトライ付きHTTPクライアントを提供する。
//
// 試行ごとにタイムアウト付きのコンテキストを生成し、通信障害やタイムアウトの場合は
// min(1秒 * 2^試行回数, 8秒) だけ待ってから同じリクエストを再送する。
// 2xx以外のレスポンスはリトライせず呼び出し側に返す。再送は同一ボディで行うため、
// 冪等でない呼び出しではMaxRetriesを0にすること。
//
// レスポンスボディは WithMaxResponseBytes の上限までしか読み込まない。上限を超えた読み込みは
// ErrResponseTooLarge を返し、ReadBody ではKindTransportのエラーになる。
package httpclient
