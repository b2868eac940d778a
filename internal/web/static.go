package web

import "embed"

// staticFiles holds the operator console (index.html, booth.js).
//
//go:embed static/*
var staticFiles embed.FS
