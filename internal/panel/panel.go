package panel

import (
	"embed"
	"io/fs"
	"net/http"
	"os"
	"path"
	"strings"
)

//go:embed web
var content embed.FS

const indexFile = "index.html"

// Handler serves the console assets. When dir names an existing directory
// the assets are read from it, otherwise the embedded copy is used.
//
// Paths without an extension fall back to index.html so the page can use
// client-side routes. A missing asset with an extension is a 404.
func Handler(dir string) http.Handler {
	assets := assetFS(dir)
	files := http.FileServerFS(assets)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-cache, must-revalidate")

		name := strings.TrimPrefix(path.Clean("/"+r.URL.Path), "/")
		switch {
		case name == "" || name == indexFile:
			serveIndex(w, assets)
		case exists(assets, name):
			files.ServeHTTP(w, r)
		case path.Ext(name) != "":
			http.NotFound(w, r)
		default:
			serveIndex(w, assets)
		}
	})
}

func assetFS(dir string) fs.FS {
	if dir != "" {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			return os.DirFS(dir)
		}
	}
	sub, err := fs.Sub(content, "web")
	if err != nil {
		panic("panel: embedded assets missing: " + err.Error())
	}
	return sub
}

func exists(fsys fs.FS, name string) bool {
	info, err := fs.Stat(fsys, name)
	return err == nil && !info.IsDir()
}

func serveIndex(w http.ResponseWriter, fsys fs.FS) {
	data, err := fs.ReadFile(fsys, indexFile)
	if err != nil {
		http.Error(w, "console assets missing", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(data) //nolint:errcheck // client went away
}
