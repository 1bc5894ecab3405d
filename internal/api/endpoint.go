package api

import (
	"net/http"

	"github.com/spf13/cobra"
)

// Endpoint pairs an HTTP route with the CLI command that calls it, so a
// server operation is defined once and exposed both ways.
type Endpoint interface {
	// Route returns the HTTP method, path, and handler for this endpoint.
	Route() (method, path string, handler http.HandlerFunc)

	// RequiresInit reports whether the endpoint needs the store and job
	// manager to be up before it can serve requests.
	RequiresInit() bool

	// Command returns a cobra command that calls this endpoint over HTTP.
	// getServerURL is evaluated at run time, after flag parsing.
	Command(getServerURL func() string) *cobra.Command
}
