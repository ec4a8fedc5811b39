package generation

import (
	"encoding/json"
	"testing"
)

// TestExtractVideoURL は結果の形ごとのURL抽出を検証する。
func TestExtractVideoURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		response string
		want     string
	}{
		{
			name:     "generateVideoResponseの形",
			response: `{"generateVideoResponse":{"generatedSamples":[{"video":{"uri":"https://a/1.mp4"}}]}}`,
			want:     "https://a/1.mp4",
		},
		{
			name:     "generatedVideosの形",
			response: `{"generatedVideos":[{"video":{"uri":"https://a/2.mp4"}}]}`,
			want:     "https://a/2.mp4",
		},
		{
			name:     "videos.gcsUriの形",
			response: `{"videos":[{"gcsUri":"gs://b/3.mp4"}]}`,
			want:     "gs://b/3.mp4",
		},
		{
			name:     "videos.uriの形",
			response: `{"videos":[{"uri":"https://a/4.mp4"}]}`,
			want:     "https://a/4.mp4",
		},
		{
			name:     "Base64埋め込みはdata URLになること",
			response: `{"videos":[{"bytesBase64Encoded":"AAAA","mimeType":"video/webm"}]}`,
			want:     "data:video/webm;base64,AAAA",
		},
		{
			name:     "MIMEタイプが無い場合video/mp4になること",
			response: `{"videos":[{"bytesBase64Encoded":"AAAA"}]}`,
			want:     "data:video/mp4;base64,AAAA",
		},
		{
			name:     "複数一致する場合は先頭の抽出関数が優先されること",
			response: `{"videos":[{"gcsUri":"gs://b/x.mp4","uri":"https://a/y.mp4"}]}`,
			want:     "gs://b/x.mp4",
		},
		{
			name:     "空の配列ではエラーにならず空文字列になること",
			response: `{"generatedVideos":[],"videos":[]}`,
			want:     "",
		},
		{
			name:     "想定外の型でもパニックしないこと",
			response: `{"videos":"not-an-array","generateVideoResponse":{"generatedSamples":[1]}}`,
			want:     "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var response map[string]any
			if err := json.Unmarshal([]byte(tt.response), &response); err != nil {
				t.Fatalf("テストデータのパースに失敗: %v", err)
			}
			if got := ExtractVideoURL(response); got != tt.want {
				t.Errorf("ExtractVideoURL() = %q, want %q", got, tt.want)
			}
		})
	}

	if got := ExtractVideoURL(nil); got != "" {
		t.Errorf("ExtractVideoURL(nil) = %q, want empty", got)
	}
}
