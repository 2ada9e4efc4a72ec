// Package config provides application configuration loaded from environment
// variables (prefix GBT) with an optional YAML overlay. The configuration is
// immutable after Load; consumers receive it by value or pointer at
// construction time and never mutate it.
package config
