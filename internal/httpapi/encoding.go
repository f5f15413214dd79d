// encoding.go implements the JSON (de)serialization helpers the HTTP
// surface uses: HTML-safe-escaping disabled so JSON punctuation in
// details strings round-trips unchanged, and a uniform fault body on
// encode failure.
package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
)

const contentType = "application/json; charset=utf-8"

func writeJSON(w http.ResponseWriter, status int, v any) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		w.Header().Set("Content-Type", contentType)
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"faultcode":"Server","faultstring":"failed to encode response"}` + "\n"))
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

func decodeJSONBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	return dec.Decode(v)
}
