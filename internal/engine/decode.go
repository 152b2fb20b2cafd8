package engine

import (
	"encoding/base64"
	"encoding/json"
	"mime"
	"net/http"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/htmlindex"
)

// ContentEncodingBase64 marks content that could not be decoded as text.
const ContentEncodingBase64 = "base64"

// decodedBody is the best-effort text form of a response body.
type decodedBody struct {
	Text     string
	Encoding string
	JSON     any
}

func decodeBody(header http.Header, body []byte) decodedBody {
	mediaType, params, _ := mime.ParseMediaType(header.Get("Content-Type"))

	text, ok := decodeText(params["charset"], body)
	if !ok {
		return decodedBody{Text: base64.StdEncoding.EncodeToString(body), Encoding: ContentEncodingBase64}
	}

	out := decodedBody{Text: text}
	if mediaType == "application/json" || strings.HasSuffix(mediaType, "+json") {
		var v any
		if err := json.Unmarshal([]byte(text), &v); err == nil {
			out.JSON = v
		}
	}
	return out
}

func decodeText(charset string, body []byte) (string, bool) {
	cs := strings.ToLower(strings.TrimSpace(charset))
	if cs != "" && cs != "utf-8" && cs != "utf8" {
		if enc, err := htmlindex.Get(cs); err == nil {
			if decoded, err := enc.NewDecoder().Bytes(body); err == nil {
				return string(decoded), true
			}
		}
	}
	if utf8.Valid(body) {
		return string(body), true
	}
	return "", false
}
