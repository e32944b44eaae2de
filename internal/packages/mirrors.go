package packages

import (
	"fmt"
	"strings"
)

// OS families the installer knows how to drive.
const (
	OSAlpine = "alpine"
	OSDebian = "debian"
	OSUbuntu = "ubuntu"
)

// DefaultMirrors are tried after the image's own repositories.
var DefaultMirrors = map[string][]string{
	OSAlpine: {
		"https://dl-cdn.alpinelinux.org/alpine",
		"https://mirrors.edge.kernel.org/alpine",
		"https://mirror.leaseweb.com/alpine",
	},
	OSUbuntu: {
		"http://archive.ubuntu.com/ubuntu",
		"https://mirrors.edge.kernel.org/ubuntu",
	},
	OSDebian: {
		"http://deb.debian.org/debian",
		"https://mirrors.edge.kernel.org/debian",
		"http://ftp.us.debian.org/debian",
	},
}

var releaseCodenames = map[string]string{
	"24.04": "noble",
	"22.04": "jammy",
	"20.04": "focal",
	"12":    "bookworm",
	"11":    "bullseye",
}

// Family maps an OS name from the template library to a package manager
// family, e.g. "ubuntu-minimal" to ubuntu.
func Family(os string) string {
	switch {
	case os == OSAlpine:
		return OSAlpine
	case strings.HasPrefix(os, OSUbuntu):
		return OSUbuntu
	case os == OSDebian:
		return OSDebian
	default:
		return ""
	}
}

// Codename returns the release codename for an apt-based version, passing
// codenames through unchanged.
func Codename(version string) string {
	if c, ok := releaseCodenames[version]; ok {
		return c
	}
	return version
}

// repoFile is a repository configuration to write for a mirror.
type repoFile struct {
	Path    string
	Content string
	Remove  []string
}

// repositoryFor renders the repository file pointing family at mirror.
func repositoryFor(family, version, mirror string) (repoFile, error) {
	mirror = strings.TrimRight(mirror, "/")
	if version == "" {
		return repoFile{}, fmt.Errorf("unknown %s release, cannot switch mirrors", family)
	}
	switch family {
	case OSAlpine:
		branch := "v" + version
		if version == "edge" {
			branch = "edge"
		}
		return repoFile{
			Path:    "/etc/apk/repositories",
			Content: fmt.Sprintf("%[1]s/%[2]s/main\n%[1]s/%[2]s/community\n", mirror, branch),
		}, nil
	case OSUbuntu:
		c := Codename(version)
		components := "main restricted universe multiverse"
		return repoFile{
			Path: "/etc/apt/sources.list",
			Content: fmt.Sprintf("deb %[1]s %[2]s %[3]s\ndeb %[1]s %[2]s-updates %[3]s\ndeb %[1]s %[2]s-security %[3]s\n",
				mirror, c, components),
			Remove: []string{"/etc/apt/sources.list.d/ubuntu.sources"},
		}, nil
	case OSDebian:
		c := Codename(version)
		return repoFile{
			Path:    "/etc/apt/sources.list",
			Content: fmt.Sprintf("deb %[1]s %[2]s main\ndeb %[1]s %[2]s-updates main\n", mirror, c),
			Remove:  []string{"/etc/apt/sources.list.d/debian.sources"},
		}, nil
	default:
		return repoFile{}, fmt.Errorf("no repository layout for OS %q", family)
	}
}

// installCommands returns the argv sequence and environment installing
// packages for family.
func installCommands(family string, pkgs []string) ([][]string, map[string]string, error) {
	switch family {
	case OSAlpine:
		return [][]string{
			{"apk", "update"},
			append([]string{"apk", "add", "--no-cache"}, pkgs...),
		}, nil, nil
	case OSUbuntu, OSDebian:
		cmds := [][]string{
			{"apt-get", "update"},
			append([]string{"apt-get", "install", "-y", "--no-install-recommends"}, pkgs...),
		}
		return cmds, map[string]string{"DEBIAN_FRONTEND": "noninteractive"}, nil
	default:
		return nil, nil, fmt.Errorf("unsupported OS %q", family)
	}
}
