// Package main is the entry point for diffview.
// The serve command runs the viewer: an HTTP server exposing the WebSocket
// subscription protocol, the editor action and the embedded UI.
package main

import (
	"fmt"
	"os"

	"github.com/kandev/diffview/internal/common/logger"
	"github.com/kandev/diffview/internal/i18n"
)

func main() {
	tr, err := i18n.New(logger.Default())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load translations: %v\n", err)
		os.Exit(1)
	}
	tr.SetLanguage(i18n.DetectLanguage(os.Getenv))

	if err := newRootCmd(tr).Execute(); err != nil {
		os.Exit(1)
	}
}
