package config

import (
	"flag"
)

// Flags are the command-line options of the coinverse server.
type Flags struct {
	ConfigPath string
	Setup      bool
}

// ParseFlags parses os.Args with the given flag set.
func ParseFlags(fs *flag.FlagSet, args []string) (Flags, error) {
	var f Flags
	fs.StringVar(&f.ConfigPath, "config", "", "path to yaml config")
	fs.BoolVar(&f.Setup, "setup", false, "run the interactive configuration wizard and exit")
	if err := fs.Parse(args); err != nil {
		return Flags{}, err
	}
	return f, nil
}
