// Package config provides configuration structures and utilities for threadkeep.
// It defines crawl settings (targets, sampling ratios, pacing, failure bounds),
// storage locations, the optional language-model settings, and the YAML
// configuration file that can override them per community.
package config
