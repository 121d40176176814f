package httpmiddleware

import (
	"net/http"

	"github.com/go-faster/jx"
)

// writeError responds with the same {"code","message"} body the API handlers
// use, so clients parse middleware rejections the same way.
func writeError(w http.ResponseWriter, code int, message string) {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("code", func(e *jx.Encoder) { e.Int(code) })
		e.Field("message", func(e *jx.Encoder) { e.Str(message) })
	})
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(e.Bytes())
}
