package main

import (
	"fmt"
	"os"

	"github.com/Murali47k/pig3on/internal/cli/receiver"
	"github.com/Murali47k/pig3on/internal/cli/scan"
	"github.com/Murali47k/pig3on/internal/cli/sender"
	"github.com/Murali47k/pig3on/internal/cli/settings"
	"github.com/Murali47k/pig3on/internal/cli/watch"
	"github.com/Murali47k/pig3on/internal/config"
	"github.com/Murali47k/pig3on/internal/termio"
)

const banner = `
 ____  _       _____
|  _ \(_) __ _|___ / ___  _ __
| |_) | |/ _` + "`" + ` | |_ \/ _ \| '_ \
|  __/| | (_| |___) | (_) | | | |
|_|   |_|\__, |____/ \___/|_| |_|
         |___/
Pig3on v` + config.Version + `
P2P file transfer for your local network
`

func main() {
	termio.Init()
	args := os.Args[1:]
	if len(args) == 0 {
		printBanner()
		printUsage()
		return
	}
	if args[0] == "--version" || args[0] == "-v" || args[0] == "version" {
		printBanner()
		return
	}

	cmdName := args[0]
	switch cmdName {
	case "scan":
		scan.Run(args[1:])
	case "send":
		sender.Run(args[1:])
	case "receive":
		receiver.Run(args[1:])
	case "status":
		settings.RunStatus(args[1:])
	case "config":
		settings.RunConfig(args[1:])
	case "watch":
		watch.Run(args[1:])
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(termio.Stderr(), "unknown command: %s\n", cmdName)
		printUsage()
		termio.Flush()
		os.Exit(2)
	}
	termio.Flush()
}

func printUsage() {
	fmt.Fprintln(termio.Stderr(), "usage: pig3on <command> [args]")
	fmt.Fprintln(termio.Stderr(), "commands:")
	fmt.Fprintln(termio.Stderr(), "  scan      list nearby devices running 'pig3on receive'")
	fmt.Fprintln(termio.Stderr(), "  send      pair with a nearby device and send files to it")
	fmt.Fprintln(termio.Stderr(), "  receive   listen for pairing requests and incoming files")
	fmt.Fprintln(termio.Stderr(), "  status    show this device's identity and settings")
	fmt.Fprintln(termio.Stderr(), "  config    show or change saved settings")
	fmt.Fprintln(termio.Stderr(), "  watch     print the event feed of a running send or receive")
	fmt.Fprintln(termio.Stderr(), "quick examples:")
	fmt.Fprintln(termio.Stderr(), "  pig3on receive")
	fmt.Fprintln(termio.Stderr(), "  pig3on send document.pdf")
	fmt.Fprintln(termio.Stderr(), "  pig3on send a.png b.png --to laptop")
	fmt.Fprintln(termio.Stderr(), "  pig3on send notes.txt --addr 192.168.1.20")
	fmt.Fprintln(termio.Stderr(), "  pig3on config --name studio-pc")
	fmt.Fprintln(termio.Stderr(), "to learn detailed usage:")
	fmt.Fprintln(termio.Stderr(), "  pig3on send --help")
	fmt.Fprintln(termio.Stderr(), "  pig3on receive --help")
	termio.Flush()
}

func printBanner() {
	fmt.Fprint(termio.Stdout(), banner)
	termio.Flush()
}
