// Boreas is a streaming weather-assistant client: it subscribes to a
// server-pushed event stream, interprets the typed answer protocol, and
// records completed transcripts.
package main

import (
	"flag"
	"fmt"
	"os"
)

var version = "dev"

const usage = `usage: boreas [flags] <command> [args]

commands:
  subscribe          follow the configured event stream until interrupted
  ask "question"     stream one answer to stdout and record the transcript
  history [n]        print the n most recent transcripts (default 10)

flags:
  -config path       config file (default configs/boreas.yaml)
  -version           print version and exit
`

func main() {
	configPath := flag.String("config", "configs/boreas.yaml", "path to config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	if *showVersion {
		fmt.Println("boreas", version)
		os.Exit(0)
	}

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	if err := run(*configPath, flag.Arg(0), flag.Args()[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
