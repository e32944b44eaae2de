package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultFileNames are tried in order when no compose file is given.
var DefaultFileNames = []string{"lxc-compose.yml", "lxc-compose.yaml"}

// EnvFileName is read from the compose file's directory when present.
const EnvFileName = ".env"

// FindFile returns path if set, otherwise the first default compose file in dir.
func FindFile(dir, path string) (string, error) {
	if path != "" {
		return path, nil
	}
	for _, name := range DefaultFileNames {
		candidate := filepath.Join(dir, name)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("no compose file found in %s (tried %v)", dir, DefaultFileNames)
}

// LoadDocument reads a compose file, expands variables defined in the
// adjacent .env file and parses the result.
func LoadDocument(path string) (*Document, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", path, err)
	}

	// #nosec G304
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to read compose file: %w", err)
	}

	dir := filepath.Dir(abs)
	envPath := filepath.Join(dir, EnvFileName)
	env := map[string]string{}
	envFile := ""
	if _, statErr := os.Stat(envPath); statErr == nil {
		env, err = godotenv.Read(envPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", envPath, err)
		}
		envFile = envPath
	} else if !errors.Is(statErr, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to stat %s: %w", envPath, statErr)
	}

	doc, err := Parse([]byte(ExpandEnv(string(data), env)))
	if err != nil {
		return nil, err
	}
	doc.Path = abs
	doc.Dir = dir
	doc.Env = env
	doc.EnvFile = envFile
	return doc, nil
}

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

// ExpandEnv replaces ${KEY} and $KEY for keys present in env. References to
// unknown keys are left untouched so in-container shell variables survive.
func ExpandEnv(text string, env map[string]string) string {
	if len(env) == 0 {
		return text
	}
	return envRef.ReplaceAllStringFunc(text, func(ref string) string {
		m := envRef.FindStringSubmatch(ref)
		key := m[1]
		if key == "" {
			key = m[2]
		}
		if v, ok := env[key]; ok {
			return v
		}
		return ref
	})
}

type rawDocument struct {
	Version    string    `yaml:"version"`
	Containers yaml.Node `yaml:"containers"`
}

// Parse decodes a compose document and validates its structure.
func Parse(data []byte) (*Document, error) {
	var raw rawDocument
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse compose document: %w", err)
	}

	containers, err := parseContainers(&raw.Containers)
	if err != nil {
		return nil, err
	}

	doc := &Document{Version: raw.Version, Containers: containers}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return doc, nil
}

func parseContainers(node *yaml.Node) ([]ContainerSpec, error) {
	seen := make(map[string]bool)
	var out []ContainerSpec

	add := func(spec ContainerSpec) error {
		if seen[spec.Name] {
			return newError(DuplicateName, spec.Name, "name", "container defined more than once")
		}
		seen[spec.Name] = true
		out = append(out, spec)
		return nil
	}

	switch node.Kind {
	case yaml.MappingNode:
		for i := 0; i+1 < len(node.Content); i += 2 {
			key := node.Content[i].Value
			spec, err := decodeContainer(key, node.Content[i+1])
			if err != nil {
				return nil, err
			}
			if spec.Name != "" && spec.Name != key {
				return nil, newError(InvalidField, key, "name", "name %q does not match key", spec.Name)
			}
			spec.Name = key
			if err := add(spec); err != nil {
				return nil, err
			}
		}
	case yaml.SequenceNode:
		for i, item := range node.Content {
			spec, err := decodeContainer("", item)
			if err != nil {
				return nil, err
			}
			if spec.Name == "" {
				return nil, newError(InvalidField, fmt.Sprintf("#%d", i+1), "name", "list entries require a name")
			}
			if err := add(spec); err != nil {
				return nil, err
			}
		}
	case 0:
		return nil, newError(InvalidField, "", "containers", "no containers defined")
	default:
		if isNull(node) {
			return nil, newError(InvalidField, "", "containers", "no containers defined")
		}
		return nil, newError(InvalidField, "", "containers", "line %d: expected a mapping or a list", node.Line)
	}

	if len(out) == 0 {
		return nil, newError(InvalidField, "", "containers", "no containers defined")
	}
	return out, nil
}

// decodeContainer decodes one container field by field so that errors name
// the offending key.
func decodeContainer(name string, node *yaml.Node) (ContainerSpec, error) {
	var spec ContainerSpec
	if isNull(node) {
		return spec, nil
	}
	if node.Kind != yaml.MappingNode {
		return spec, newError(InvalidField, name, "", "line %d: container must be a mapping", node.Line)
	}

	for i := 0; i+1 < len(node.Content); i += 2 {
		key, value := node.Content[i].Value, node.Content[i+1]
		var target any
		switch key {
		case "name":
			target = &spec.Name
		case "template":
			target = &spec.Template
		case "image":
			target = &spec.Image
		case "includes":
			target = &spec.Includes
		case "packages":
			target = &spec.Packages
		case "exposed_ports":
			target = &spec.ExposedPorts
		case "mounts":
			target = &spec.Mounts
		case "environment":
			target = &spec.Environment
		case "services":
			target = &spec.Services
		case "depends_on":
			target = &spec.DependsOn
		case "post_install":
			target = &spec.PostInstall
		case "tests":
			target = &spec.Tests
		case "logs":
			target = &spec.Logs
		default:
			return spec, newError(InvalidField, containerLabel(name, spec.Name), key, "line %d: unknown field", node.Content[i].Line)
		}
		if err := value.Decode(target); err != nil {
			return spec, newError(InvalidField, containerLabel(name, spec.Name), key, "%v", err)
		}
	}
	return spec, nil
}

func containerLabel(key, name string) string {
	if key != "" {
		return key
	}
	return name
}
