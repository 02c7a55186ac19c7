// Copyright (C) 2026, Chunkdb, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/manifoldco/promptui"
	"go.uber.org/zap"

	"github.com/chunkdb/chunkdb/cluster"
	"github.com/chunkdb/chunkdb/transport"
	"github.com/chunkdb/chunkdb/wire"
)

func main() {
	addr := flag.String("controller", "localhost:5100", "controller address to connect to")
	timeout := flag.Duration("timeout", 10*time.Second, "request timeout")
	flag.Parse()

	tr := transport.New(*timeout, zap.NewNop())
	tr.OnMessage(func(string, *wire.Message) {})
	defer tr.Close()

	ctx := context.Background()
	if err := tr.Connect(ctx, *addr); err != nil {
		fmt.Fprintf(os.Stderr, "unable to connect to %s: %v\n", *addr, err)
		os.Exit(1)
	}

	attempt := &wire.JoinAttempt{
		NodeType: cluster.ConsoleNode,
		Name:     fmt.Sprintf("console-%d", os.Getpid()),
		Port:     0,
	}
	pend, err := tr.Send(*addr, attempt, true)
	if err != nil || !pend.BlockUntilDone() {
		fmt.Fprintf(os.Stderr, "controller did not answer the join\n")
		os.Exit(1)
	}
	switch resp := pend.Response().Payload.(type) {
	case *wire.JoinSuccess:
		fmt.Printf("connected to %s (primary: %v)\n", *addr, resp.Primary)
	case *wire.JoinFailure:
		fmt.Fprintf(os.Stderr, "join rejected: %s\n", resp.Reason)
		os.Exit(1)
	default:
		fmt.Fprintf(os.Stderr, "unexpected join response\n")
		os.Exit(1)
	}

	prompt := promptui.Prompt{Label: "chunkdb"}
	for {
		line, err := prompt.Run()
		if err != nil {
			if errors.Is(err, promptui.ErrInterrupt) || errors.Is(err, io.EOF) {
				return
			}
			fmt.Fprintf(os.Stderr, "prompt failed: %v\n", err)
			return
		}
		if line == "exit" || line == "quit" {
			return
		}
		if line == "" {
			continue
		}

		pend, err := tr.Send(*addr, &wire.DataOperation{Operation: []byte(line)}, true)
		if err != nil || !pend.BlockUntilDone() {
			fmt.Println("request timed out")
			continue
		}
		switch r := pend.Response().Payload.(type) {
		case *wire.DataOperationResult:
			if r.Failed {
				fmt.Printf("error: %s\n", r.Message)
			} else {
				fmt.Println(r.Message)
			}
		default:
			fmt.Println("unexpected reply")
		}
	}
}
