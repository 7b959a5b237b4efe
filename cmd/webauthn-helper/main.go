// Command webauthn-helper is the stateless CLI entry point for the
// WebAuthn relying-party helper (spec §4.7, §6.1). It wires os.Args,
// os.Stdin/Stdout/Stderr to the dispatcher and exits with the code the
// dispatcher returns.
//
// Grounded on the teacher's main.go, which is the package-level wiring
// point for the HTTP server; here the same role wires a single
// subcommand dispatch instead of an http.Server.
package main

import (
	"os"

	"github.com/openwrt/webauthn-helper/internal/dispatch"
	"github.com/openwrt/webauthn-helper/internal/rlog"
)

// installPanicHook is the process-wide panic hook spec §4.7 step 2
// requires: installed once at start, never uninstalled. dispatch.Run
// already recovers from panics raised inside command execution; this
// hook catches anything that might somehow escape that barrier (e.g. a
// panic while writing the envelope) before the runtime prints a raw
// goroutine trace to stderr.
func installPanicHook() {
	if r := recover(); r != nil {
		rlog.Log.WithField("panic", r).Error("unrecovered panic reached main")
		os.Exit(1)
	}
}

func main() {
	defer installPanicHook()
	os.Exit(dispatch.Run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}
