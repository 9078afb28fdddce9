package i18n

import "net/http"

// Middleware injects a localizer into every request context. The request
// language comes from Accept-Language when present, otherwise lang.
func Middleware(lang string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqLang := lang
			if al := r.Header.Get("Accept-Language"); al != "" {
				reqLang = al
			}
			ctx := WithLocalizer(r.Context(), NewLocalizer(reqLang))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
