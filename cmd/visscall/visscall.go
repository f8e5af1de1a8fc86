// Copyright (C) 2017 Michael J. Fromberger. All Rights Reserved.

// Program visscall issues a function call to a VISS-style vehicle signal
// server, subscribes to signal paths, and prints whatever the server sends
// back until the connection closes.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/creachadair/wschannel"
	"github.com/fatih/color"
	"github.com/spf13/pflag"
	"github.com/visslink/visrpc"
	"github.com/visslink/visrpc/internal/vlog"
)

var (
	okLine  = color.New(color.FgGreen)
	subLine = color.New(color.FgCyan)
	errLine = color.New(color.FgRed)
)

func main() {
	flags := pflag.NewFlagSet(filepath.Base(os.Args[0]), pflag.ContinueOnError)
	serverURL := flags.StringP("server", "S", "", "WebSocket URL of the server (required)")
	signals := flags.StringArrayP("subscribe", "s", nil, "Signal path to subscribe to (repeatable)")
	callCmd := flags.StringP("call", "c", "", `Function call, as "<function> [<argument> ...]" (required)`)
	flags.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: %[1]s -S ws://<host>:<port>/ [-s signal ...] -c '<function> [argument ...]'

Connect to a vehicle signal server, subscribe to the named signals, issue
one function call, and print everything the server sends back. The program
runs until the connection closes or it is interrupted.

argument format:
  <type>:<value>           single element, e.g. int32:4711
  <type>:<len>:<v1,v2,...> array element, e.g. int8:3:1,2,3
  <type> is one of: int8, uint8, int16, uint16, int32, uint32,
                    bool, float, double, string
  a string argument declares its maximum length and is never split:
  string:32:Bob

Example:
  %[1]s -S ws://localhost:8088/ -s Vehicle.DriveTrain.FuelSystem.Level \
      -c 'print_name_and_age string:32:Bob int32:42'

Options:
`, filepath.Base(os.Args[0]))
		flags.PrintDefaults()
	}
	if err := flags.Parse(os.Args[1:]); err != nil {
		os.Exit(255)
	}
	if *serverURL == "" {
		fmt.Fprintln(os.Stderr, "No -S server specified.")
		flags.Usage()
		os.Exit(255)
	}
	if *callCmd == "" {
		fmt.Fprintln(os.Stderr, "No call using -c 'function [arg] [...]' specified.")
		flags.Usage()
		os.Exit(255)
	}
	function, args, err := visrpc.ParseCommand(*callCmd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid call: %v.\n", err)
		flags.Usage()
		os.Exit(255)
	}

	log := vlog.New(os.Stderr, vlog.Info).WithField("job", "visscall")

	ch, err := wschannel.Dial(*serverURL, nil)
	if err != nil {
		log.WithField("server", *serverURL).WithError(err).Error("unable to connect")
		os.Exit(1)
	}
	cli := visrpc.NewClient(ch, &visrpc.ClientOptions{
		Logger: log.Engine(),
		OnSignal: func(n visrpc.Notification) {
			subLine.Printf("Received subscription: subscriptionId: %d signal: %s value: %s\n",
				n.SubscriptionID, n.Path, string(n.Value))
		},
	})

	ctx := context.Background()
	for _, path := range *signals {
		id, err := cli.Subscribe(ctx, path)
		if err != nil {
			errLine.Printf("Subscription error Signal: %s error: %v\n", path, err)
			continue
		}
		okLine.Printf("Subscription reply Signal: %s SubscriptionID: %d\n", path, id)
	}

	reply, err := cli.Call(ctx, function, args)
	if err != nil {
		errLine.Printf("Call error reply function: %s error: %v\n", function, err)
	} else {
		okLine.Printf("Call success reply function: %s reply: %s\n", function, formatArgs(reply))
	}

	// Read pushed values until the server closes the connection or the
	// process is interrupted.
	if err := cli.Wait(); err != nil {
		log.WithError(err).Error("connection failed")
		os.Exit(1)
	}
}

// formatArgs renders reply arguments in the command-line argument syntax.
func formatArgs(args []visrpc.Argument) string {
	if len(args) == 0 {
		return "(empty)"
	}
	strs := make([]string, len(args))
	for i, arg := range args {
		strs[i] = arg.String()
	}
	return strings.Join(strs, " ")
}
