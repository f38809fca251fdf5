package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/google/shlex"
	"github.com/spf13/cobra"

	"github.com/rskv-p/nodebus/busapi"
	"github.com/rskv-p/nodebus/config"
	"github.com/rskv-p/nodebus/logger"
	"github.com/rskv-p/nodebus/node"
	"github.com/rskv-p/nodebus/value"
)

var consoleCmd = &cobra.Command{
	Use:   "console",
	Short: "Interactive REPL against an in-process node",
	RunE:  runConsole,
}

// runConsole starts a node with no remote transport and drives it from
// stdin lines, tokenized the way a shell would via shlex — grounded on the
// teacher's runn_serv process launcher, which shlex.Splits a command
// string before exec'ing it.
func runConsole(cmd *cobra.Command, args []string) error {
	cfg := config.Default()
	log := logger.New(logger.Options{Level: cfg.LogLevel, Service: "nodebus-console"})

	n := node.New(cfg, log, nil, nil)
	if err := n.Start(); err != nil {
		return err
	}
	defer n.Stop()

	fmt.Println("nodebus console. commands: request <topic> [json], publish <topic> [json], subscribe <pattern>, quit")

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		tokens, err := shlex.Split(line)
		if err != nil {
			fmt.Println("parse error:", err)
			continue
		}
		if len(tokens) == 0 {
			continue
		}

		switch tokens[0] {
		case "quit", "exit":
			return nil
		case "request":
			runRequest(n, tokens[1:])
		case "publish":
			runPublish(n, tokens[1:])
		case "subscribe":
			runSubscribe(n, tokens[1:])
		default:
			fmt.Println("unknown command:", tokens[0])
		}
	}
}

func parsePayload(tokens []string) (value.Value, error) {
	if len(tokens) == 0 {
		return value.Value{}, nil
	}
	var raw map[string]any
	if err := json.Unmarshal([]byte(strings.Join(tokens, " ")), &raw); err != nil {
		return value.Value{}, fmt.Errorf("invalid json payload: %w", err)
	}
	return value.From(raw), nil
}

func runRequest(n *node.Node, tokens []string) {
	if len(tokens) == 0 {
		fmt.Println("usage: request <topic> [json]")
		return
	}
	payload, err := parsePayload(tokens[1:])
	if err != nil {
		fmt.Println(err)
		return
	}
	result, err := n.Request(tokens[0], payload)
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	printJSON(result)
}

func runPublish(n *node.Node, tokens []string) {
	if len(tokens) == 0 {
		fmt.Println("usage: publish <topic> [json]")
		return
	}
	payload, err := parsePayload(tokens[1:])
	if err != nil {
		fmt.Println(err)
		return
	}
	if err := n.Publish(tokens[0], payload, busapi.WithRetain()); err != nil {
		fmt.Println("error:", err)
	}
}

func runSubscribe(n *node.Node, tokens []string) {
	if len(tokens) == 0 {
		fmt.Println("usage: subscribe <pattern>")
		return
	}
	pattern := tokens[0]
	_, err := n.Subscribe(pattern, "local:console", func(ctx busapi.EventContext, payload *value.Value) error {
		fmt.Printf("[event] %s ", ctx.TopicPath().AsString())
		if payload != nil {
			printJSON(*payload)
		} else {
			fmt.Println()
		}
		return nil
	}, map[string]string{"path": pattern}, busapi.WithIncludePast())
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	fmt.Println("subscribed to", pattern)
}

func printJSON(v value.Value) {
	b, err := json.MarshalIndent(v.Raw(), "", "  ")
	if err != nil {
		fmt.Println(v.Raw())
		return
	}
	fmt.Println(string(b))
}
