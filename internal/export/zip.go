package export

import (
	"archive/zip"
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"dbtforge/internal/logging"
)

// Write packages p as a ZIP archive. Entries are written in a fixed order
// so the same project always produces the same listing.
func Write(w io.Writer, p Project) error {
	if p.Rules == nil || len(p.Rules.Rules) == 0 {
		return ErrNoRules
	}
	timer := logging.StartTimer(logging.CategoryExport, "write project")
	defer timer.Stop()

	ts := p.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	zw := zip.NewWriter(w)
	add := func(name string, data []byte, mode os.FileMode) error {
		hdr := &zip.FileHeader{Name: name, Method: zip.Deflate, Modified: ts}
		hdr.SetMode(mode)
		f, err := zw.CreateHeader(hdr)
		if err != nil {
			return fmt.Errorf("failed to add %s: %w", name, err)
		}
		if _, err := f.Write(data); err != nil {
			return fmt.Errorf("failed to write %s: %w", name, err)
		}
		logging.ExportDebug("added %s (%d bytes)", name, len(data))
		return nil
	}

	projectData, err := projectYAML(p)
	if err != nil {
		return err
	}
	if err := add("dbt_project.yml", projectData, 0644); err != nil {
		return err
	}
	profiles, err := profilesYAML(p)
	if err != nil {
		return err
	}
	if err := add("profiles.yml", profiles, 0644); err != nil {
		return err
	}
	sources, err := sourcesYAML(p)
	if err != nil {
		return err
	}
	if sources != nil {
		if err := add("models/sources.yml", sources, 0644); err != nil {
			return err
		}
	}

	names := modelNames(p.Rules.Rules)
	for i, tr := range p.Rules.Rules {
		name := names[i]
		if err := add("models/"+name+".sql", []byte(modelSQL(tr)), 0644); err != nil {
			return err
		}
		yml, own, err := modelYAML(tr, name, p.Schema)
		if err != nil {
			return fmt.Errorf("model %s: %w", name, err)
		}
		if !own && tr.YAMLConfig != "" {
			logging.Get(logging.CategoryExport).Warn("model %s: yamlConfig is not valid YAML, generated one instead", name)
		}
		if err := add("models/"+name+".yml", yml, 0644); err != nil {
			return err
		}
	}

	withSeeds := p.IncludeSeeds && p.Input != nil && len(p.Input.Sheets) > 0
	if withSeeds {
		seeds := seedNames(p.Input.Sheets)
		for i, s := range p.Input.Sheets {
			var buf bytes.Buffer
			cw := csv.NewWriter(&buf)
			if err := cw.Write(s.Headers); err != nil {
				return err
			}
			if err := cw.WriteAll(s.Rows); err != nil {
				return fmt.Errorf("seed %s: %w", s.Name, err)
			}
			if err := add("seeds/"+seeds[i]+".csv", buf.Bytes(), 0644); err != nil {
				return err
			}
		}
	}

	if err := add("run_pipeline.sh", []byte(runScript(p, withSeeds)), 0755); err != nil {
		return err
	}
	if err := add("README.md", []byte(readme(p, names)), 0644); err != nil {
		return err
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to finish archive: %w", err)
	}
	logging.Export("exported %d models", len(p.Rules.Rules))
	return nil
}

// WriteFile writes the archive to path, creating parent directories.
func WriteFile(path string, p Project) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	var buf bytes.Buffer
	if err := Write(&buf, p); err != nil {
		return err
	}
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
