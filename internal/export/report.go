package export

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/county-esda/internal/spreg"
)

// Format is a report encoding.
type Format string

// Report encodings.
const (
	JSON Format = "json"
	YAML Format = "yaml"
)

// ParseFormat accepts json, yaml or yml, case-insensitively.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "json":
		return JSON, nil
	case "yaml", "yml":
		return YAML, nil
	}
	return "", eris.Errorf("export: unknown report format %q", s)
}

// Ext returns the file extension for f.
func (f Format) Ext() string {
	if f == YAML {
		return ".yaml"
	}
	return ".json"
}

// Write encodes v as indented JSON or as YAML.
func Write(w io.Writer, v any, f Format) error {
	switch f {
	case JSON, "":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(v); err != nil {
			return eris.Wrap(err, "export: encode json")
		}
	case YAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return eris.Wrap(err, "export: encode yaml")
		}
		if err := enc.Close(); err != nil {
			return eris.Wrap(err, "export: flush yaml")
		}
	default:
		return eris.Errorf("export: unknown report format %q", f)
	}
	return nil
}

// WriteRegression writes one report entry per fitted specification, in
// the order given.
func WriteRegression(w io.Writer, results []spreg.Result, f Format) error {
	reports := make([]spreg.Report, 0, len(results))
	for _, r := range results {
		if r == nil {
			continue
		}
		reports = append(reports, spreg.NewReport(r))
	}
	return Write(w, reports, f)
}

// WriteFile creates path (and its directory) and hands the file to fn.
func WriteFile(path string, fn func(io.Writer) error) (err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrapf(err, "export: create directory for %s", path)
	}
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "export: create %s", path)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = eris.Wrapf(cerr, "export: close %s", path)
		}
	}()
	return fn(f)
}
