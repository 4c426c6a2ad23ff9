package web

import "embed"

// Content holds the embedded web frontend files (page templates, the
// orrery renderer script, and styles).
//
//go:embed index.html orrery.html orrery.js styles.css
var Content embed.FS
