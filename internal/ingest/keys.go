// Package ingest connects the HL7 transforms to object storage. It decides
// which uploaded objects a function handles, runs the transform, writes the
// artifacts next to the input and reports what happened.
package ingest

import (
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/CDCgov/NEDSS-Infrastructure/internal/config"
)

// Directory names used under a user prefix.
const (
	DirIncoming      = "incoming"
	DirSplitCSV      = "splitcsv"
	DirSplitDAT      = "splitdat"
	DirSplitDATMulti = "splitdat_multi_obr"
	DirSplitOBR      = "splitobr"
	DirRenamed       = "renamed_file"
	DirErrors        = "errors"
)

// ErrSkipped marks an object the function does not handle.
var ErrSkipped = errors.New("ingest: object skipped")

// processedDirs lists, per function, the output directories whose objects
// must never be picked up again.
var processedDirs = map[string][]string{
	config.FunctionSplitCSV: {DirSplitCSV, DirSplitDAT, DirSplitDATMulti, DirSplitOBR, DirRenamed, DirErrors},
	config.FunctionSplitDAT: {DirSplitCSV, DirSplitDAT, DirSplitDATMulti, DirSplitOBR, DirRenamed, DirErrors},
	config.FunctionSplitOBR: {DirSplitOBR},
	config.FunctionAddExt:   {DirRenamed},
}

var extensions = map[string]string{
	config.FunctionSplitCSV: ".csv",
	config.FunctionSplitDAT: ".dat",
	config.FunctionSplitOBR: ".hl7",
}

// Location is a decoded object key split into the parts used to name
// outputs.
type Location struct {
	Key string
	// Prefix is the user directory: every component above the parent
	// directory of the file.
	Prefix string
	User   string
	Site   string
	File   string
	Base   string
}

// ParseKey checks that key is an input of function and splits it. Objects
// the function does not handle return an error wrapping ErrSkipped.
func ParseKey(function, key string) (*Location, error) {
	dirs, ok := processedDirs[function]
	if !ok {
		return nil, fmt.Errorf("ingest: unknown function %q", function)
	}
	for _, d := range dirs {
		if strings.Contains("/"+key, "/"+d+"/") {
			return nil, fmt.Errorf("%w: %s is already under %s/", ErrSkipped, key, d)
		}
	}

	if function == config.FunctionAddExt {
		return parseIncomingAnywhere(key)
	}

	parts := strings.Split(key, "/")
	if len(parts) < 4 {
		return nil, fmt.Errorf("%w: %s has fewer than 4 path components", ErrSkipped, key)
	}
	parent := parts[len(parts)-2]
	if parent != DirIncoming && !(function == config.FunctionSplitOBR && parent == DirSplitDATMulti) {
		return nil, fmt.Errorf("%w: %s is not under %s/", ErrSkipped, key, DirIncoming)
	}
	if !strings.HasSuffix(strings.ToLower(key), extensions[function]) {
		return nil, fmt.Errorf("%w: %s is not a %s file", ErrSkipped, key, extensions[function])
	}
	return newLocation(key, parts[:len(parts)-2], parts[len(parts)-1]), nil
}

// parseIncomingAnywhere accepts any key with an incoming component followed
// by at least one more component. Sub-directories below incoming are
// allowed; the last component is the file.
func parseIncomingAnywhere(key string) (*Location, error) {
	parts := strings.Split(key, "/")
	idx := -1
	for i, p := range parts {
		if p == DirIncoming {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, fmt.Errorf("%w: %s has no %s/ directory", ErrSkipped, key, DirIncoming)
	}
	rest := parts[idx+1:]
	if len(rest) == 0 || rest[len(rest)-1] == "" {
		return nil, fmt.Errorf("%w: %s has no file name after %s/", ErrSkipped, key, DirIncoming)
	}
	return newLocation(key, parts[:idx], rest[len(rest)-1]), nil
}

func newLocation(key string, prefix []string, file string) *Location {
	loc := &Location{
		Key:    key,
		Prefix: strings.Join(prefix, "/"),
		File:   file,
		Base:   baseName(file),
		Site:   "unknown",
	}
	if n := len(prefix); n > 0 {
		loc.User = prefix[n-1]
		if n > 1 && prefix[n-2] != "" {
			loc.Site = prefix[n-2]
		}
	}
	return loc
}

// baseName strips one trailing dot, then the extension.
func baseName(file string) string {
	file = strings.TrimSuffix(file, ".")
	if i := strings.LastIndex(file, "."); i >= 0 {
		return file[:i]
	}
	return file
}

// OutputKey joins the user prefix, an output directory and a file name.
func (l *Location) OutputKey(dir, name string) string {
	return path.Join(l.Prefix, dir, name)
}

// Numbered names a sequenced output: "{user}_{base}{infix}_{n}{ext}".
func (l *Location) Numbered(dir, infix string, n int, ext string) string {
	return l.OutputKey(dir, fmt.Sprintf("%s_%s%s_%d%s", l.User, l.Base, infix, n, ext))
}

// ErrorKey names the diagnostic artifact of the n-th reject of function.
func (l *Location) ErrorKey(function string, n int) string {
	return l.Numbered(path.Join(DirErrors, function), "", n, ".txt")
}
