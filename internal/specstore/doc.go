// Package specstore resolves templates and library services.
//
// A [Library] reads YAML definitions through a [Fetcher]: a local directory,
// an HTTPS base URL or an s3:// bucket prefix. The layout is the same for all
// three:
//
//	templates/<name>.yml
//	services/<os>/<version>/<service>/lxc-compose.yml
//	services/<os>/<version>/<service>/tests/...
//
// Parsed entries are cached for the life of the Library, so one CLI run
// fetches each definition at most once.
package specstore
