package main

import (
	"embed"
	"io/fs"
	"net/http"
)

// web/ holds the Telegram web-app shell served at /.
//
//go:embed web/*
var embeddedWeb embed.FS

func webHandler() (http.Handler, error) {
	sub, err := fs.Sub(embeddedWeb, "web")
	if err != nil {
		return nil, err
	}
	return http.FileServer(http.FS(sub)), nil
}
