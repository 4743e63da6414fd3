package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/SupenBysz/gitea-mcp-tool-sub001/internal/config"
	"github.com/SupenBysz/gitea-mcp-tool-sub001/internal/db"
	"github.com/SupenBysz/gitea-mcp-tool-sub001/internal/domain"
	"github.com/SupenBysz/gitea-mcp-tool-sub001/internal/engine"
	"github.com/SupenBysz/gitea-mcp-tool-sub001/internal/migrate"
)

// LoadWorkflowConfig parses the document at path and validates it. A
// document with validation errors is still returned so callers can report it.
func LoadWorkflowConfig(path string) (*config.WorkflowConfig, config.ValidationResult, error) {
	cfg, err := config.FromFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, config.ValidationResult{}, fmt.Errorf("config %s not found; create one with wf config init", path)
		}
		return nil, config.ValidationResult{}, err
	}
	return cfg, cfg.Validate(), nil
}

// InitWorkflowConfig writes a default document. An existing file is kept
// unless force is set.
func InitWorkflowConfig(path, projectType, language string, force bool) (*config.WorkflowConfig, error) {
	if !config.ValidProjectType(projectType) {
		return nil, fmt.Errorf("unknown project type %q (backend, frontend, fullstack, library)", projectType)
	}
	if _, err := os.Stat(path); err == nil && !force {
		return nil, fmt.Errorf("%s already exists; use --force to overwrite", path)
	}
	cfg := config.GenerateDefault(projectType, language)
	data, err := config.Serialize(cfg)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return nil, fmt.Errorf("write %s: %w", path, err)
	}
	return cfg, nil
}

// OpenEngine opens and migrates the workspace database.
func OpenEngine(ctx context.Context, workspace string) (engine.Engine, func() error, error) {
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return engine.Engine{}, nil, err
	}
	if err := migrate.Migrate(ctx, conn); err != nil {
		conn.Close()
		return engine.Engine{}, nil, fmt.Errorf("migrate: %w", err)
	}
	return engine.New(conn), conn.Close, nil
}

// labelRef accepts either a bare label name or a tracker label object.
type labelRef string

func (l *labelRef) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*l = labelRef(s)
		return nil
	}
	var obj struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*l = labelRef(obj.Name)
	return nil
}

type issueSnapshot struct {
	Number    int        `json:"number"`
	Index     int        `json:"index"`
	Title     string     `json:"title"`
	Body      string     `json:"body"`
	State     string     `json:"state"`
	Labels    []labelRef `json:"labels"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

func openInput(path string) (io.ReadCloser, error) {
	if path == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	return os.Open(path)
}

// ReadIssues reads a JSON array of issues as returned by the tracker API.
// Labels may be names or objects with a name field.
func ReadIssues(path string) ([]domain.Issue, error) {
	rc, err := openInput(path)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return DecodeIssues(rc)
}

func DecodeIssues(r io.Reader) ([]domain.Issue, error) {
	var raw []issueSnapshot
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode issues: %w", err)
	}
	issues := make([]domain.Issue, 0, len(raw))
	for _, s := range raw {
		num := s.Number
		if num == 0 {
			num = s.Index
		}
		issue := domain.Issue{
			Number:    num,
			Title:     s.Title,
			Body:      s.Body,
			State:     s.State,
			CreatedAt: s.CreatedAt,
			UpdatedAt: s.UpdatedAt,
		}
		for _, l := range s.Labels {
			if l != "" {
				issue.Labels = append(issue.Labels, string(l))
			}
		}
		issues = append(issues, issue)
	}
	return issues, nil
}

// ReadRemoteLabels reads a JSON array of repository labels.
func ReadRemoteLabels(path string) ([]domain.RemoteLabel, error) {
	var labels []domain.RemoteLabel
	if err := readJSON(path, &labels); err != nil {
		return nil, fmt.Errorf("decode labels: %w", err)
	}
	return labels, nil
}

// ReadRemoteColumns reads a JSON array of project board columns.
func ReadRemoteColumns(path string) ([]domain.RemoteColumn, error) {
	var cols []domain.RemoteColumn
	if err := readJSON(path, &cols); err != nil {
		return nil, fmt.Errorf("decode columns: %w", err)
	}
	return cols, nil
}

// LabelNames flattens labels to names.
func LabelNames(labels []domain.RemoteLabel) []string {
	names := make([]string, 0, len(labels))
	for _, l := range labels {
		names = append(names, l.Name)
	}
	return names
}

func readJSON(path string, v any) error {
	rc, err := openInput(path)
	if err != nil {
		return err
	}
	defer rc.Close()
	return json.NewDecoder(rc).Decode(v)
}

// Manifest lists repositories for a batch evaluation.
type Manifest struct {
	Concurrency  int                  `yaml:"concurrency"`
	Repositories []ManifestRepository `yaml:"repositories"`
}

type ManifestRepository struct {
	Name   string `yaml:"name"`
	Config string `yaml:"config"`
	Issues string `yaml:"issues"`
	Labels string `yaml:"labels,omitempty"`
}

// ReadManifest loads a batch manifest. Relative paths resolve against the
// manifest's directory. A repository whose config cannot be loaded is
// returned with ConfigErr set so the batch reports it instead of aborting.
func ReadManifest(path string) (Manifest, []engine.RepositoryInput, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, nil, err
	}
	var m Manifest
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil {
		return Manifest{}, nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	base := filepath.Dir(path)
	resolve := func(p string) string {
		if p == "" || p == "-" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(base, p)
	}

	inputs := make([]engine.RepositoryInput, 0, len(m.Repositories))
	for i, r := range m.Repositories {
		if r.Name == "" {
			return m, nil, fmt.Errorf("manifest repositories[%d]: name is required", i)
		}
		in := engine.RepositoryInput{Repository: r.Name}
		if r.Config == "" {
			in.ConfigErr = errors.New("config path is required")
		} else if cfg, err := config.FromFile(resolve(r.Config)); err != nil {
			in.ConfigErr = fmt.Errorf("config %s: %w", r.Config, err)
		} else {
			in.Config = cfg
		}
		if r.Issues != "" {
			issues, err := ReadIssues(resolve(r.Issues))
			if err != nil {
				return m, nil, fmt.Errorf("%s: %w", r.Name, err)
			}
			in.Issues = issues
		}
		if r.Labels != "" {
			labels, err := ReadRemoteLabels(resolve(r.Labels))
			if err != nil {
				return m, nil, fmt.Errorf("%s: %w", r.Name, err)
			}
			in.RepoLabels = LabelNames(labels)
		}
		inputs = append(inputs, in)
	}
	return m, inputs, nil
}
