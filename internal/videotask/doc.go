// Package videotask は動画タスク系ベンダー（Kling、Luma、PixVerse）のアダプターを提供する。
//
// 呼び出し側はベンダーに依存しないRequestを渡し、アダプターがベンダーごとの
// フィールド名、単位、カメラ制御の形、認証方式、タスクIDの位置の違いを吸収する。
package videotask
