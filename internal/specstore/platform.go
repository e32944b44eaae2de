package specstore

import "strings"

// templatePlatforms maps well-known template names to the <os>/<version>
// directory their library services live under.
var templatePlatforms = map[string][2]string{
	"alpine-3.19":          {"alpine", "3.19"},
	"alpine":               {"alpine", "3.19"},
	"ubuntu-24.04":         {"ubuntu", "24.04"},
	"ubuntu-22.04":         {"ubuntu", "22.04"},
	"ubuntu-lts":           {"ubuntu", "24.04"},
	"ubuntu-noble":         {"ubuntu", "24.04"},
	"ubuntu-jammy":         {"ubuntu", "22.04"},
	"ubuntu-minimal-24.04": {"ubuntu-minimal", "24.04"},
	"ubuntu-minimal-22.04": {"ubuntu-minimal", "22.04"},
	"ubuntu-minimal-lts":   {"ubuntu-minimal", "24.04"},
	"ubuntu-minimal-noble": {"ubuntu-minimal", "24.04"},
	"ubuntu-minimal-jammy": {"ubuntu-minimal", "22.04"},
	"debian-12":            {"debian", "12"},
	"debian-11":            {"debian", "11"},
	"debian-bookworm":      {"debian", "12"},
	"debian-bullseye":      {"debian", "11"},
}

var codenames = map[string]string{
	"noble":    "24.04",
	"jammy":    "22.04",
	"focal":    "20.04",
	"bookworm": "12",
	"bullseye": "11",
}

// TemplatePlatform returns the os and version for a well-known template name.
func TemplatePlatform(name string) (string, string, bool) {
	p, ok := templatePlatforms[name]
	return p[0], p[1], ok
}

// ImagePlatform derives os and version from an image reference such as
// "images:alpine/3.19", "images:debian/bookworm" or "ubuntu:24.04".
func ImagePlatform(image string) (string, string, bool) {
	remote, ref, ok := strings.Cut(image, ":")
	if !ok {
		ref, remote = image, ""
	}

	switch remote {
	case "ubuntu", "ubuntu-daily", "ubuntu-minimal":
		// ubuntu:24.04, ubuntu:noble, ubuntu-minimal:24.04
		version := normalizeVersion(ref)
		if version == "" {
			return "", "", false
		}
		if remote == "ubuntu-daily" {
			remote = "ubuntu"
		}
		return remote, version, true
	}

	parts := strings.Split(ref, "/")
	if len(parts) < 2 || parts[0] == "" {
		return "", "", false
	}
	version := normalizeVersion(parts[1])
	if version == "" {
		return "", "", false
	}
	return parts[0], version, true
}

func normalizeVersion(v string) string {
	if mapped, ok := codenames[v]; ok {
		return mapped
	}
	if v == "" || strings.ContainsAny(v, " /") {
		return ""
	}
	return v
}
