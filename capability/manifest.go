package capability

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"go.yaml.in/yaml/v3"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/caffeineduck/jsxbox/vdom"
)

//go:embed schema/manifest.schema.json
var schemaBytes []byte

var (
	compiledSchema *jsonschema.Schema
	compileOnce    sync.Once
	compileErr     error
	printer        = message.NewPrinter(language.English)
)

// Manifest is the YAML description of the capabilities a documentation
// site grants to its components.
//
//	modules:
//	  "@docs/ui":
//	    exports:
//	      Button: {kind: intrinsic, tag: button, attrs: {class: ui-button}}
//	      version: {kind: value, value: "2.1.0"}
//	  "@docs/data":
//	    builtin: kv
//	    config: {max_entries: 100}
type Manifest struct {
	Modules map[string]ModuleSpec `yaml:"modules"`
}

type ModuleSpec struct {
	Description string                `yaml:"description"`
	Builtin     string                `yaml:"builtin"`
	Config      BuiltinConfig         `yaml:"config"`
	Exports     map[string]ExportSpec `yaml:"exports"`
}

type ExportSpec struct {
	Kind  string            `yaml:"kind"`
	Tag   string            `yaml:"tag"`
	Attrs map[string]string `yaml:"attrs"`
	Value any               `yaml:"value"`
}

type BuiltinConfig struct {
	MaxKeySize        int      `yaml:"max_key_size"`
	MaxValueSize      int      `yaml:"max_value_size"`
	MaxEntries        int      `yaml:"max_entries"`
	AllowedHosts      []string `yaml:"allowed_hosts"`
	MaxBodySize       int64    `yaml:"max_body_size"`
	MaxURLLength      int      `yaml:"max_url_length"`
	RequestTimeout    string   `yaml:"request_timeout"`
	RequestsPerSecond float64  `yaml:"requests_per_second"`
	Locale            string   `yaml:"locale"`
}

// ValidationIssue is a single schema violation in a manifest.
type ValidationIssue struct {
	Path    string
	Message string
	Keyword string
}

// ManifestError reports every schema violation found in a manifest.
type ManifestError struct {
	Issues []ValidationIssue
}

func (e *ManifestError) Error() string {
	var b strings.Builder
	b.WriteString("invalid capabilities manifest:")
	for _, is := range e.Issues {
		path := is.Path
		if path == "" {
			path = "/"
		}
		fmt.Fprintf(&b, "\n  %s: %s", path, is.Message)
	}
	return b.String()
}

func getSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schemaBytes))
		if err != nil {
			compileErr = fmt.Errorf("unmarshaling schema JSON: %w", err)
			return
		}

		c := jsonschema.NewCompiler()
		if err := c.AddResource("manifest.schema.json", doc); err != nil {
			compileErr = fmt.Errorf("adding schema resource: %w", err)
			return
		}
		compiledSchema, compileErr = c.Compile("manifest.schema.json")
		if compileErr != nil {
			compileErr = fmt.Errorf("compiling schema: %w", compileErr)
		}
	})
	return compiledSchema, compileErr
}

// ValidateManifest checks raw YAML against the manifest schema. Schema
// violations come back as issues; the error is for malformed YAML or a
// broken schema.
func ValidateManifest(data []byte) ([]ValidationIssue, error) {
	schema, err := getSchema()
	if err != nil {
		return nil, fmt.Errorf("loading schema: %w", err)
	}

	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing YAML: %w", err)
	}
	jsonData, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("converting to JSON: %w", err)
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("preparing JSON for validation: %w", err)
	}

	err = schema.Validate(inst)
	if err == nil {
		return nil, nil
	}
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return nil, fmt.Errorf("unexpected validation error type: %w", err)
	}
	return extractIssues(ve), nil
}

func extractIssues(ve *jsonschema.ValidationError) []ValidationIssue {
	var issues []ValidationIssue
	collectIssues(ve, &issues)
	if len(issues) == 0 {
		return []ValidationIssue{{Message: ve.Error()}}
	}

	seen := make(map[string]bool)
	var out []ValidationIssue
	for _, is := range issues {
		key := is.Path + "|" + is.Keyword + "|" + is.Message
		if !seen[key] {
			seen[key] = true
			out = append(out, is)
		}
	}
	return out
}

func collectIssues(ve *jsonschema.ValidationError, issues *[]ValidationIssue) {
	if len(ve.Causes) > 0 {
		for _, cause := range ve.Causes {
			collectIssues(cause, issues)
		}
		return
	}

	var keyword, msg string
	if ve.ErrorKind != nil {
		if kw := ve.ErrorKind.KeywordPath(); len(kw) > 0 {
			keyword = kw[len(kw)-1]
		}
		msg = ve.ErrorKind.LocalizedString(printer)
	}
	if keyword == "oneOf" || keyword == "allOf" || keyword == "$ref" || keyword == "" {
		return
	}

	path := ""
	if len(ve.InstanceLocation) > 0 {
		path = "/" + strings.Join(ve.InstanceLocation, "/")
	}
	*issues = append(*issues, ValidationIssue{Path: path, Message: msg, Keyword: keyword})
}

// ParseManifest validates and decodes a manifest.
func ParseManifest(data []byte) (*Manifest, error) {
	issues, err := ValidateManifest(data)
	if err != nil {
		return nil, err
	}
	if len(issues) > 0 {
		return nil, &ManifestError{Issues: issues}
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decoding manifest: %w", err)
	}
	return &m, nil
}

// LoadManifest reads, validates and builds the registry described by the
// manifest at path.
func LoadManifest(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	m, err := ParseManifest(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m.Registry()
}

// Registry builds the capability registry the manifest describes. Builtin
// modules get their own backing store or client.
func (m *Manifest) Registry() (*Registry, error) {
	b := NewBuilder()
	for id, spec := range m.Modules {
		mod, err := spec.module()
		if err != nil {
			return nil, fmt.Errorf("module %q: %w", id, err)
		}
		b.Module(id, mod)
	}
	return b.Build()
}

func (s ModuleSpec) module() (Module, error) {
	cfg := s.Config
	switch s.Builtin {
	case "":
	case "kv":
		return NewKV(KVConfig{
			MaxKeySize:   cfg.MaxKeySize,
			MaxValueSize: cfg.MaxValueSize,
			MaxEntries:   cfg.MaxEntries,
		}).Module(), nil
	case "http":
		var timeout time.Duration
		if cfg.RequestTimeout != "" {
			d, err := time.ParseDuration(cfg.RequestTimeout)
			if err != nil {
				return nil, fmt.Errorf("request_timeout: %w", err)
			}
			timeout = d
		}
		return NewHTTP(HTTPConfig{
			AllowedHosts:      cfg.AllowedHosts,
			MaxBodySize:       cfg.MaxBodySize,
			MaxURLLength:      cfg.MaxURLLength,
			RequestTimeout:    timeout,
			RequestsPerSecond: cfg.RequestsPerSecond,
		}).Module(), nil
	case "format":
		return NewFormat(cfg.Locale).Module(), nil
	default:
		return nil, fmt.Errorf("unknown builtin %q", s.Builtin)
	}

	mod := make(Module, len(s.Exports))
	for name, e := range s.Exports {
		switch e.Kind {
		case "intrinsic":
			if !vdom.ValidTag(e.Tag) {
				return nil, fmt.Errorf("export %q: invalid tag %q", name, e.Tag)
			}
			mod[name] = vdom.Intrinsic{Tag: strings.ToLower(e.Tag), Attrs: e.Attrs}
		case "value":
			if e.Value == nil {
				return nil, fmt.Errorf("export %q: %w", name, ErrNilValue)
			}
			mod[name] = e.Value
		default:
			return nil, fmt.Errorf("export %q: unknown kind %q", name, e.Kind)
		}
	}
	return mod, nil
}
