package middleware

import (
	"net/http"
	"runtime/debug"

	"tradecore/pkg/utils"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var httpPanics = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "tradecore",
	Subsystem: "api",
	Name:      "panics_total",
	Help:      "Recovered handler panics",
})

// Recovery - middleware восстановления после паники в handler.
// Клиент получает 500 без деталей, стек уходит в лог.
func Recovery(next http.Handler) http.Handler {
	log := utils.L().WithComponent("api")

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				httpPanics.Inc()
				log.Error("handler panic",
					utils.Any("panic", rec),
					utils.String("method", r.Method),
					utils.String("path", r.URL.Path),
					utils.String("stack", string(debug.Stack())))
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			}
		}()

		next.ServeHTTP(w, r)
	})
}
