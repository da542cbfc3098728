package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/parley-chat/parley/client"
)

func usage() {
	fmt.Fprintln(os.Stderr, `usage: parleyctl [-server URL] <command> [args]

commands:
  register <username> <password>
  login <username> <password>
  logout
  ls
  new <title>
  show <conversation-id>
  send <conversation-id> <text>
  usage`)
	os.Exit(2)
}

func main() {
	server := flag.String("server", "http://localhost:8080", "server base URL")
	flag.Parse()
	args := flag.Args()
	if len(args) == 0 {
		usage()
	}

	home, err := os.UserHomeDir()
	if err != nil {
		fatal(err)
	}
	store := client.NewFileStore(filepath.Join(home, ".parley", "session.json"))
	c := client.New(*server, store)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch args[0] {
	case "register":
		requireArgs(args, 3)
		resp, err := c.Register(ctx, args[1], args[2])
		if err != nil {
			fatal(err)
		}
		fmt.Printf("registered as %s (id %d)\n", resp.User.Username, resp.User.ID)
	case "login":
		requireArgs(args, 3)
		resp, err := c.Login(ctx, args[1], args[2])
		if err != nil {
			fatal(err)
		}
		fmt.Printf("logged in as %s\n", resp.User.Username)
	case "logout":
		if err := c.Logout(); err != nil {
			fatal(err)
		}
		fmt.Println("logged out")
	case "ls":
		conversations, err := c.ListConversations(ctx)
		if err != nil {
			fatal(err)
		}
		for _, conv := range conversations {
			fmt.Printf("%d\t%s\t%s\n", conv.ID, conv.UpdatedAt.Format(time.RFC3339), conv.Title)
		}
	case "new":
		requireArgs(args, 2)
		conv, err := c.CreateConversation(ctx, args[1])
		if err != nil {
			fatal(err)
		}
		fmt.Printf("created conversation %d\n", conv.ID)
	case "show":
		requireArgs(args, 2)
		id := parseID(args[1])
		detail, err := c.GetConversation(ctx, id)
		if err != nil {
			fatal(err)
		}
		fmt.Printf("# %s\n", detail.Title)
		for _, msg := range detail.Messages {
			fmt.Printf("[%s] %s\n", msg.Role, msg.Content)
		}
	case "send":
		requireArgs(args, 3)
		id := parseID(args[1])
		exchange, err := c.SendMessage(ctx, id, args[2])
		if err != nil {
			fatal(err)
		}
		fmt.Printf("[assistant] %s\n", exchange.Assistant.Content)
	case "usage":
		total, err := c.Usage(ctx)
		if err != nil {
			fatal(err)
		}
		fmt.Printf("total tokens: %d\n", total)
	default:
		usage()
	}
}

func requireArgs(args []string, n int) {
	if len(args) < n {
		usage()
	}
}

func parseID(s string) int64 {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		fatal(fmt.Errorf("invalid conversation id %q", s))
	}
	return id
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "error:", err)
	os.Exit(1)
}
