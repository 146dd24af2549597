// Package debug provides the handler for the debug listener: pprof profiles
// and a live runtime dashboard.
package debug

import (
	"net/http"
	"net/http/pprof"

	"github.com/arl/statsviz"
)

// Mux registers the debug routes on a fresh mux so they never leak onto the
// public API listener.
func Mux() (*http.ServeMux, error) {
	mux := http.NewServeMux()

	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	if err := statsviz.Register(mux); err != nil {
		return nil, err
	}

	return mux, nil
}
