package external

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"goa.design/agenthost/internal/errs"
)

// manifestFile is the on-disk shape of manifest.json. All
// fields are required except EntryPoint, which defaults to
// DefaultEntryPoint when empty or absent.
type manifestFile struct {
	Name       string   `json:"name"`
	Version    string   `json:"version"`
	EntryPoint string   `json:"entry_point"`
	Signature  string   `json:"signature"`
	Tools      []string `json:"tools"`
}

// LoadAgentPackage reads manifest.json out of dir and returns the
// AgentPackage it describes, with Dir and BamlSrcPath filled in relative to
// dir. Parsing manifest.json is a one-shot, single-file JSON decode with no
// schema validation or cross-references beyond required-field checks, so it
// is implemented directly against encoding/json rather than a third-party
// schema/config library.
func LoadAgentPackage(dir string) (AgentPackage, error) {
	manifestPath := filepath.Join(dir, "manifest.json")
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return AgentPackage{}, errs.Wrap(errs.InvalidArgument, err, fmt.Sprintf("read manifest %s", manifestPath))
	}

	var m manifestFile
	if err := json.Unmarshal(data, &m); err != nil {
		return AgentPackage{}, errs.Wrap(errs.InvalidArgument, err, fmt.Sprintf("parse manifest %s", manifestPath))
	}
	if m.Name == "" {
		return AgentPackage{}, errs.Newf(errs.InvalidArgument, "manifest %s: name is required", manifestPath)
	}
	if m.Version == "" {
		return AgentPackage{}, errs.Newf(errs.InvalidArgument, "manifest %s: version is required", manifestPath)
	}
	if m.Signature == "" {
		return AgentPackage{}, errs.Newf(errs.InvalidArgument, "manifest %s: signature is required", manifestPath)
	}
	if len(m.Tools) == 0 {
		return AgentPackage{}, errs.Newf(errs.InvalidArgument, "manifest %s: tools is required", manifestPath)
	}

	entryPoint := m.EntryPoint
	if entryPoint == "" {
		entryPoint = DefaultEntryPoint
	}

	return AgentPackage{
		Name:        m.Name,
		Version:     m.Version,
		EntryPoint:  entryPoint,
		Signature:   m.Signature,
		Tools:       m.Tools,
		Dir:         dir,
		BamlSrcPath: filepath.Join(dir, "baml_src"),
	}, nil
}
