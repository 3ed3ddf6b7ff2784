// Package prompts embeds the analysis workflow prompt templates.
package prompts

import "embed"

//go:embed *.md
var FS embed.FS
