package config

import (
	"fmt"
	"path"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// TestKind names a group of point-in-time tests.
type TestKind string

// Test kinds, in the order they are executed.
const (
	TestInternal       TestKind = "internal"
	TestExternal       TestKind = "external"
	TestPortForwarding TestKind = "port_forwarding"
)

// TestKinds lists every supported test kind in execution order.
var TestKinds = []TestKind{TestInternal, TestExternal, TestPortForwarding}

// ParseTestKind validates a test kind name.
func ParseTestKind(s string) (TestKind, error) {
	for _, k := range TestKinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown test kind %q (expected internal, external or port_forwarding)", s)
}

// Document is a parsed compose file.
type Document struct {
	Version    string
	Containers []ContainerSpec

	// Path is the absolute path of the compose file, Dir its directory.
	// Relative mount sources and host test scripts resolve against Dir.
	Path string
	Dir  string

	// Env holds the variables read from the .env file next to the document.
	Env     map[string]string
	EnvFile string
}

// Container returns the spec with the given name.
func (d *Document) Container(name string) (ContainerSpec, bool) {
	for _, c := range d.Containers {
		if c.Name == name {
			return c, true
		}
	}
	return ContainerSpec{}, false
}

// Names returns container names in document order.
func (d *Document) Names() []string {
	names := make([]string, 0, len(d.Containers))
	for _, c := range d.Containers {
		names = append(names, c.Name)
	}
	return names
}

// ContainerSpec is one entry of the `containers` section as the user wrote it.
type ContainerSpec struct {
	Name         string               `yaml:"name,omitempty"`
	Template     string               `yaml:"template,omitempty"`
	Image        string               `yaml:"image,omitempty"`
	Includes     StringList           `yaml:"includes,omitempty"`
	Packages     StringList           `yaml:"packages,omitempty"`
	ExposedPorts PortList             `yaml:"exposed_ports,omitempty"`
	Mounts       []Mount              `yaml:"mounts,omitempty"`
	Environment  StringMap            `yaml:"environment,omitempty"`
	Services     map[string]StringMap `yaml:"services,omitempty"`
	DependsOn    StringList           `yaml:"depends_on,omitempty"`
	PostInstall  []LabeledCommand     `yaml:"post_install,omitempty"`
	Tests        Tests                `yaml:"tests,omitempty"`
	Logs         []LogEntry           `yaml:"logs,omitempty"`
}

// StringList accepts either a single string or a list of strings.
type StringList []string

// UnmarshalYAML implements yaml.Unmarshaler.
func (l *StringList) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		if isNull(value) {
			*l = nil
			return nil
		}
		*l = StringList{value.Value}
		return nil
	case yaml.SequenceNode:
		out := make(StringList, 0, len(value.Content))
		for _, item := range value.Content {
			if item.Kind != yaml.ScalarNode {
				return fmt.Errorf("line %d: expected a string", item.Line)
			}
			out = append(out, item.Value)
		}
		*l = out
		return nil
	default:
		return fmt.Errorf("line %d: expected a string or a list of strings", value.Line)
	}
}

// PortList accepts either a single port or a list of ports.
type PortList []int

// UnmarshalYAML implements yaml.Unmarshaler.
func (p *PortList) UnmarshalYAML(value *yaml.Node) error {
	var items []*yaml.Node
	switch value.Kind {
	case yaml.ScalarNode:
		if isNull(value) {
			*p = nil
			return nil
		}
		items = []*yaml.Node{value}
	case yaml.SequenceNode:
		items = value.Content
	default:
		return fmt.Errorf("line %d: expected a port or a list of ports", value.Line)
	}

	out := make(PortList, 0, len(items))
	for _, item := range items {
		if item.Kind != yaml.ScalarNode {
			return fmt.Errorf("line %d: expected a port number", item.Line)
		}
		port, err := strconv.Atoi(strings.TrimSpace(item.Value))
		if err != nil || port < 1 || port > 65535 {
			return fmt.Errorf("line %d: invalid port %q", item.Line, item.Value)
		}
		out = append(out, port)
	}
	*p = out
	return nil
}

// StringMap is a map of scalar values. Non-string scalars keep their
// literal text, so `PORT: 8080` yields "8080". A list of KEY=VALUE strings
// is accepted as well.
type StringMap map[string]string

// UnmarshalYAML implements yaml.Unmarshaler.
func (m *StringMap) UnmarshalYAML(value *yaml.Node) error {
	out := StringMap{}
	switch value.Kind {
	case yaml.ScalarNode:
		if isNull(value) {
			*m = nil
			return nil
		}
		return fmt.Errorf("line %d: expected a mapping", value.Line)
	case yaml.MappingNode:
		for i := 0; i+1 < len(value.Content); i += 2 {
			k, v := value.Content[i], value.Content[i+1]
			if v.Kind != yaml.ScalarNode {
				return fmt.Errorf("line %d: value of %q must be a scalar", v.Line, k.Value)
			}
			if isNull(v) {
				out[k.Value] = ""
				continue
			}
			out[k.Value] = v.Value
		}
	case yaml.SequenceNode:
		for _, item := range value.Content {
			key, val, ok := strings.Cut(item.Value, "=")
			if item.Kind != yaml.ScalarNode || !ok || key == "" {
				return fmt.Errorf("line %d: expected KEY=VALUE", item.Line)
			}
			out[key] = val
		}
	default:
		return fmt.Errorf("line %d: expected a mapping", value.Line)
	}
	*m = out
	return nil
}

// LabeledCommand is a shell command run inside a container during
// provisioning. Source records the layer it came from once composed.
type LabeledCommand struct {
	Name    string `yaml:"name,omitempty"`
	Command string `yaml:"command"`
	Source  string `yaml:"source,omitempty"`
}

// UnmarshalYAML implements yaml.Unmarshaler. A bare string is a command
// without a name.
func (c *LabeledCommand) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		*c = LabeledCommand{Command: value.Value}
		return nil
	}
	type plain LabeledCommand
	var p plain
	if err := value.Decode(&p); err != nil {
		return err
	}
	if strings.TrimSpace(p.Command) == "" {
		return fmt.Errorf("line %d: command is required", value.Line)
	}
	*c = LabeledCommand(p)
	return nil
}

// Label returns the display name of the command.
func (c LabeledCommand) Label() string {
	if c.Name != "" {
		return c.Name
	}
	first, _, _ := strings.Cut(strings.TrimSpace(c.Command), "\n")
	if len(first) > 60 {
		first = first[:57] + "..."
	}
	return first
}

// Mount binds a host path into the container.
type Mount struct {
	Source string `yaml:"source"`
	Target string `yaml:"target"`
}

// UnmarshalYAML implements yaml.Unmarshaler for "host:container" strings and
// {source, target} mappings.
func (m *Mount) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		src, dst, ok := strings.Cut(value.Value, ":")
		if !ok || src == "" || dst == "" {
			return fmt.Errorf("line %d: mount %q must be host:container", value.Line, value.Value)
		}
		*m = Mount{Source: src, Target: dst}
		return nil
	}
	type plain Mount
	var p plain
	if err := value.Decode(&p); err != nil {
		return err
	}
	if p.Source == "" || p.Target == "" {
		return fmt.Errorf("line %d: mount requires source and target", value.Line)
	}
	*m = Mount(p)
	return nil
}

// TestEntry is a named test script. Source is "Local" or the include that
// contributed it; LibraryPath is the store directory of that include.
type TestEntry struct {
	Name        string `yaml:"name"`
	Path        string `yaml:"path"`
	Source      string `yaml:"source,omitempty"`
	LibraryPath string `yaml:"library_path,omitempty"`
}

// UnmarshalYAML implements yaml.Unmarshaler for "name:path" strings.
func (t *TestEntry) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		name, p := splitNamePath(value.Value)
		*t = TestEntry{Name: name, Path: p}
		return nil
	}
	type plain TestEntry
	var p plain
	if err := value.Decode(&p); err != nil {
		return err
	}
	if p.Path == "" {
		return fmt.Errorf("line %d: test path is required", value.Line)
	}
	if p.Name == "" {
		p.Name, _ = splitNamePath(p.Path)
	}
	*t = TestEntry(p)
	return nil
}

// LogEntry names a log file inside the container.
type LogEntry struct {
	Name string `yaml:"name"`
	Path string `yaml:"path"`
}

// UnmarshalYAML implements yaml.Unmarshaler for "name:path" strings.
func (l *LogEntry) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		name, p := splitNamePath(value.Value)
		*l = LogEntry{Name: name, Path: p}
		return nil
	}
	type plain LogEntry
	var p plain
	if err := value.Decode(&p); err != nil {
		return err
	}
	*l = LogEntry(p)
	return nil
}

// Tests groups test entries by kind.
type Tests map[TestKind][]TestEntry

// UnmarshalYAML implements yaml.Unmarshaler. A plain list is treated as
// internal tests.
func (t *Tests) UnmarshalYAML(value *yaml.Node) error {
	out := Tests{}
	switch value.Kind {
	case yaml.ScalarNode:
		if isNull(value) {
			*t = nil
			return nil
		}
		return fmt.Errorf("line %d: expected a mapping of test kinds", value.Line)
	case yaml.SequenceNode:
		var entries []TestEntry
		if err := value.Decode(&entries); err != nil {
			return err
		}
		out[TestInternal] = entries
	case yaml.MappingNode:
		for i := 0; i+1 < len(value.Content); i += 2 {
			kind, err := ParseTestKind(value.Content[i].Value)
			if err != nil {
				return fmt.Errorf("line %d: %w", value.Content[i].Line, err)
			}
			var entries []TestEntry
			if err := value.Content[i+1].Decode(&entries); err != nil {
				return err
			}
			out[kind] = append(out[kind], entries...)
		}
	default:
		return fmt.Errorf("line %d: expected a mapping of test kinds", value.Line)
	}
	*t = out
	return nil
}

// splitNamePath splits "name:path". Without a name the file's base name,
// minus extension, is used.
func splitNamePath(s string) (string, string) {
	s = strings.TrimSpace(s)
	if name, p, ok := strings.Cut(s, ":"); ok && name != "" && p != "" {
		return name, p
	}
	base := path.Base(s)
	return strings.TrimSuffix(base, path.Ext(base)), s
}

func isNull(n *yaml.Node) bool {
	return n.Kind == yaml.ScalarNode && (n.Tag == "!!null" || (n.Tag == "" && n.Value == ""))
}
