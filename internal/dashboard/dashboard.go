package dashboard

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path"
	"path/filepath"
)

// ErrNoIndex is returned when the directory has no index.html.
var ErrNoIndex = errors.New("dashboard: index.html not found")

// Handler returns an http.Handler serving the dashboard in dir.
//
// It fails when dir is not a directory or lacks index.html, so a
// misconfigured deployment is caught at startup rather than on first load.
func Handler(dir string) (http.Handler, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("dashboard: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("dashboard: %s is not a directory", dir)
	}
	if _, err := os.Stat(filepath.Join(dir, "index.html")); err != nil {
		return nil, ErrNoIndex
	}

	root := http.Dir(dir)
	fileServer := http.FileServer(root)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// index.html and the bootstrap script change between deploys.
		w.Header().Set("Cache-Control", "no-cache, must-revalidate")

		upath := path.Clean("/" + r.URL.Path)
		if upath == "/" {
			fileServer.ServeHTTP(w, r)
			return
		}

		f, err := root.Open(upath)
		if err != nil {
			// SPA fallback
			r.URL.Path = "/"
			fileServer.ServeHTTP(w, r)
			return
		}
		f.Close()

		fileServer.ServeHTTP(w, r)
	}), nil
}
