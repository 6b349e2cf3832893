// Package dashboard serves a prebuilt web dashboard from a directory.
//
// The dashboard is a single-page application talking to the REST API and
// the relay endpoint. Unknown paths fall back to index.html so client-side
// routing works. Nothing is embedded: operators point the server at the
// build output of whichever dashboard they deploy.
package dashboard
