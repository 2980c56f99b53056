// Package env captures details about where anthemcas keeps its
// configuration. Inspect it with `anthemcas env`.
package env

import "os"

// ConfigRoot is the directory anthemcas looks in for its default
// configuration file when none is given on the command line.
var ConfigRoot = findConfigRoot()

func findConfigRoot() string {
	if env := os.Getenv("ANTHEMCAS_CONFIG"); env != "" {
		return env
	}
	return os.ExpandEnv("$HOME/.config/anthemcas") // default
}
