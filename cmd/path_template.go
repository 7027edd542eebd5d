package cmd

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// PathTemplate provides functionality to generate S3 object keys from templates
type PathTemplate struct {
	template string
}

// NewPathTemplate creates a new PathTemplate instance
func NewPathTemplate(template string) *PathTemplate {
	return &PathTemplate{template: template}
}

// Generate replaces placeholders in the template with actual values
// Supports: {prefix}, {ordinal}, {file}, {YYYY}, {MM}, {DD}, {HH}
func (pt *PathTemplate) Generate(prefix string, ordinal int64, path string, timestamp time.Time) string {
	result := pt.template

	result = strings.ReplaceAll(result, "{prefix}", filepath.Base(prefix))
	result = strings.ReplaceAll(result, "{ordinal}", fmt.Sprintf("%d", ordinal))
	result = strings.ReplaceAll(result, "{file}", filepath.Base(path))

	// Replace date/time placeholders
	result = strings.ReplaceAll(result, "{YYYY}", timestamp.Format("2006"))
	result = strings.ReplaceAll(result, "{MM}", timestamp.Format("01"))
	result = strings.ReplaceAll(result, "{DD}", timestamp.Format("02"))
	result = strings.ReplaceAll(result, "{HH}", timestamp.Format("15"))

	return strings.TrimPrefix(result, "/")
}

// GenerateFilename creates the output file name for a partition:
// <prefix>_<ordinal><formatExt>[<compressionExt>]
func GenerateFilename(prefix string, ordinal int64, formatExt string, compressionExt string) string {
	filename := fmt.Sprintf("%s_%d%s", prefix, ordinal, formatExt)

	// Add compression extension if not "none"
	if compressionExt != "" {
		filename += compressionExt
	}

	return filename
}

// outputPath places a file name under the output directory. A prefix that is
// already an absolute path is used as is.
func outputPath(dir, filename string) string {
	if filepath.IsAbs(filename) || dir == "" {
		return filename
	}
	return filepath.Join(dir, filename)
}
