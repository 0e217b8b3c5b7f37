package main

import (
	"fmt"

	"github.com/fatih/color"
	flag "github.com/spf13/pflag"
)

var (
	flagConfig     string
	flagServer     string
	flagDial       string
	flagAutoAnswer bool
	flagHelp       bool
	flagVersion    bool
)

func init() {
	flag.StringVarP(&flagConfig, "config", "c", "/etc/kaheactl/config.yaml", "Configuration file")
	flag.StringVarP(&flagServer, "server", "s", "", "Signaling server URL (overrides config)")
	flag.StringVarP(&flagDial, "dial", "d", "", "Dial this target after registering")
	flag.BoolVarP(&flagAutoAnswer, "auto-answer", "a", false, "Answer incoming calls automatically")

	flag.BoolVarP(&flagHelp, "help", "h", false, "Print usage information and exit")
	flag.BoolVarP(&flagVersion, "version", "v", false, "Print version information and exit")
}

const helpString = `Calling client for connected devices

Usage: kaheactl [OPTION]...

Configuration:
  -c, --config=FILE      Configuration file (default: /etc/kaheactl/config.yaml)
  -s, --server=URI       Signaling server URL, overriding the config file

Calls:
  -d, --dial=TARGET      Dial TARGET once registered
  -a, --auto-answer      Answer incoming calls automatically

Miscellaneous:
  -h, --help             Prints this help message and exits
  -v, --version          Prints version information and exits

Please report bugs to: aloha@lanikailabs.com`

// Help information is printed and program exits
func help() {
	r := color.New(color.FgRed)
	y := color.New(color.FgYellow)
	b := color.New(color.FgCyan)

	//  _         _
	// | | __ __ _| |__   ___  __ _
	// | |/ // _` | '_ \ / _ \/ _` |
	// |   <| (_| | | | |  __/ (_| |
	// |_|\_\\__,_|_| |_|\___|\__,_|

	r.Printf(" _    ")
	y.Printf("     ")
	b.Printf(" _    ")
	y.Println("          ")

	r.Printf("| | __")
	y.Printf(" __ _")
	b.Printf("| |__ ")
	r.Printf("  ___ ")
	y.Println(" __ _ ")

	r.Printf("| |/ /")
	y.Printf("/ _` ")
	b.Printf("| '_ \\")
	r.Printf(" / _ \\")
	y.Println("/ _` |")

	r.Printf("|   < ")
	y.Printf("| (_| ")
	b.Printf("| | | ")
	r.Printf("|  __/")
	y.Println(" (_| |")

	r.Printf("|_|\\_\\")
	y.Printf("\\__,_")
	b.Printf("|_| |_|")
	r.Printf("\\___|")
	y.Println("\\__,_|")

	fmt.Println(helpString)
}
