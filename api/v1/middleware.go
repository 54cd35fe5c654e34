package v1

import (
	"context"
	"errors"
	"net/http"
)

// MiddlewareTaskValidation decodes and validates a task submission before
// the handler runs. The decoded body travels in the request context.
func MiddlewareTaskValidation(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body taskBody
		if err := decodeJSONStrict(w, r, &body, 1<<20, "application/json"); err != nil {
			markErr(w, err)
			if errors.Is(err, ErrContentType) {
				http.Error(w, err.Error(), http.StatusUnsupportedMediaType)
				return
			}
			http.Error(w, "invalid JSON: "+err.Error(), http.StatusBadRequest)
			return
		}
		if err := validate.Struct(body); err != nil {
			markErr(w, err)
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		ctx := context.WithValue(r.Context(), ctxKeyTask{}, body)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// MiddlewareControl decodes the pause/resume/cancel action body.
func MiddlewareControl(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body controlBody
		if err := decodeJSONStrict(w, r, &body, 1<<20, "application/json"); err != nil {
			markErr(w, err)
			if errors.Is(err, ErrContentType) {
				http.Error(w, err.Error(), http.StatusUnsupportedMediaType)
				return
			}
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if body.Action == "" {
			markErr(w, ErrActionJSON)
			http.Error(w, ErrActionJSON.Error(), http.StatusBadRequest)
			return
		}
		ctx := context.WithValue(r.Context(), ctxKeyControl{}, body)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
