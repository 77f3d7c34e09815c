package logging

import (
	"log/slog"
	"net/http"
	_ "net/http/pprof" // register pprof handlers
)

// startPprof starts a pprof HTTP server on the given address.
// Only called when PprofEnabled is set.
func startPprof(addr string) {
	go func() {
		Logger().Info("pprof_server_start", slog.String("addr", addr))
		if err := http.ListenAndServe(addr, nil); err != nil {
			Logger().Error("pprof_server_error", slog.String("error", err.Error()))
		}
	}()
}
