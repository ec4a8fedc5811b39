package docpipeline

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/nao1215/edgegate/pkg/apperror"
	"github.com/nao1215/edgegate/pkg/httpclient"
)

// ConvertConfig はConvertAPIの設定。
type ConvertConfig struct {
	// Secret はBearerトークンとして送るシークレット。
	Secret string
	// BaseURL はAPIのURL。
	BaseURL string
}

// convertParameter はConvertAPIのパラメータ1件。
type convertParameter struct {
	Name      string     `json:"Name"`
	Value     any        `json:"Value,omitempty"`
	FileValue *fileValue `json:"FileValue,omitempty"`
}

// fileValue はConvertAPIに渡すファイル。
type fileValue struct {
	Name string `json:"Name"`
	Data string `json:"Data"`
}

// ConvertPDFToDOCX はPDFをDOCXに変換し、ConvertAPIのレスポンスをそのまま返す。
func (p *Pipeline) ConvertPDFToDOCX(ctx context.Context, fileName, fileData string) (json.RawMessage, error) {
	if err := requireFields(map[string]string{"fileName": fileName, "fileData": fileData}, "fileName", "fileData"); err != nil {
		return nil, err
	}
	if p.convert.Secret == "" {
		return nil, apperror.Internal("ConvertAPIのシークレットが設定されていません", nil)
	}

	payload := map[string]any{
		"Parameters": []convertParameter{
			{Name: "File", FileValue: &fileValue{Name: fileName, Data: stripDataURL(fileData)}},
			{Name: "StoreFile", Value: true},
		},
	}
	fn, err := httpclient.JSONRequest(http.MethodPost, strings.TrimRight(p.convert.BaseURL, "/")+"/convert/pdf/to/docx",
		payload, bearer(p.convert.Secret))
	if err != nil {
		return nil, apperror.Internal("リクエストの作成に失敗しました", err)
	}

	opts := httpclient.Options{MaxRetries: 0, Timeout: p.retry.Timeout, Label: "convertapi.pdf_to_docx"}
	resp, err := p.client.Execute(ctx, fn, opts)
	if err != nil {
		return nil, p.stageFailed("convert", err)
	}
	raw, err := httpclient.ReadBody(opts.Label, resp)
	if err != nil {
		return nil, p.stageFailed("convert", err)
	}

	logStage("convert").WithField("file", fileName).Info("PDFをDOCXに変換しました")
	return rawJSON(raw), nil
}
