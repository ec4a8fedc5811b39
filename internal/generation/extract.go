package generation

// Extractor はオペレーションの結果から動画のURLを取り出す。見つからない場合は空文字列を返す。
type Extractor func(response map[string]any) string

// Extractors は結果の形ごとの抽出関数。先頭から順に試し、最初に見つかったURLを使う。
var Extractors = []Extractor{
	// Gemini API
	pathString("generateVideoResponse", "generatedSamples", 0, "video", "uri"),
	pathString("generatedVideos", 0, "video", "uri"),
	// Vertex AI
	pathString("videos", 0, "gcsUri"),
	pathString("videos", 0, "uri"),
	inlineVideo,
}

// ExtractVideoURL はExtractorsを順に適用し、最初に得られたURLを返す。
// どの形にも一致しない場合は空文字列を返す。
func ExtractVideoURL(response map[string]any) string {
	if response == nil {
		return ""
	}
	for _, extract := range Extractors {
		if url := extract(response); url != "" {
			return url
		}
	}
	return ""
}

// inlineVideo はBase64で埋め込まれた動画をdata URLに変換する。
func inlineVideo(response map[string]any) string {
	data, _ := dig(response, "videos", 0, "bytesBase64Encoded").(string)
	if data == "" {
		return ""
	}
	mimeType, _ := dig(response, "videos", 0, "mimeType").(string)
	return "data:" + defaultString(mimeType, "video/mp4") + ";base64," + data
}

// pathString はpathの位置にある文字列を取り出すExtractorを返す。
func pathString(path ...any) Extractor {
	return func(response map[string]any) string {
		s, _ := dig(response, path...).(string)
		return s
	}
}

// dig はstringのキーとintのインデックスでJSONの値をたどる。途中で見つからない場合はnilを返す。
func dig(v any, path ...any) any {
	for _, p := range path {
		switch key := p.(type) {
		case string:
			m, ok := v.(map[string]any)
			if !ok {
				return nil
			}
			v = m[key]
		case int:
			s, ok := v.([]any)
			if !ok || key >= len(s) {
				return nil
			}
			v = s[key]
		default:
			return nil
		}
	}
	return v
}
