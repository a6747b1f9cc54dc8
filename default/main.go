// Package defaults provides embedded default assets (config and kernel banner).
package defaults

import _ "embed"

//go:embed default_config.toml
var DefaultConfigTOML string

//go:embed default_banner.txt
var DefaultBanner string
