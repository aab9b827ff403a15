package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/xhj721521/teamchat/internal/config"
	"github.com/xhj721521/teamchat/internal/session"
)

func main() {
	sessionFlag := flag.String("session", "", "session name (overrides config default)")
	flag.Parse()

	sessionName := session.Resolve(*sessionFlag)
	if err := session.ValidateName(sessionName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	socketPath := session.SocketPath(sessionName)
	if cfg, err := config.Load(session.ConfigPath()); err == nil && cfg.SocketPath != "" {
		socketPath = cfg.SocketPath
	}
	c := newClient(socketPath)

	switch args[0] {
	case "status":
		c.get("/v1/status")
	case "join":
		c.post(requireTeam(args, "join")+"/join", nil)
	case "messages":
		c.get(requireTeam(args, "messages") + "/messages")
	case "send":
		if len(args) < 3 {
			fmt.Fprintln(os.Stderr, "usage: teamchatctl send <team> <text>")
			os.Exit(1)
		}
		c.post("/v1/teams/"+args[1]+"/messages", map[string]string{"text": strings.Join(args[2:], " ")})
	case "retry":
		if len(args) < 3 {
			fmt.Fprintln(os.Stderr, "usage: teamchatctl retry <team> <client-id>")
			os.Exit(1)
		}
		c.post("/v1/teams/"+args[1]+"/messages/"+args[2]+"/retry", nil)
	case "older":
		c.post(requireTeam(args, "older")+"/older", nil)
	case "read":
		c.post(requireTeam(args, "read")+"/read", nil)
	case "leave":
		c.post(requireTeam(args, "leave")+"/reset", nil)
	case "checkpoint":
		c.post("/v1/checkpoint", nil)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func requireTeam(args []string, cmd string) string {
	if len(args) < 2 {
		fmt.Fprintf(os.Stderr, "usage: teamchatctl %s <team>\n", cmd)
		os.Exit(1)
	}
	return "/v1/teams/" + args[1]
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: teamchatctl [--session <name>] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  status                   Show daemon status")
	fmt.Fprintln(os.Stderr, "  join <team>              Bootstrap history and connect live channel")
	fmt.Fprintln(os.Stderr, "  messages <team>          Print the conversation state")
	fmt.Fprintln(os.Stderr, "  send <team> <text>       Send a message")
	fmt.Fprintln(os.Stderr, "  retry <team> <id>        Retry a failed send")
	fmt.Fprintln(os.Stderr, "  older <team>             Load an older history page")
	fmt.Fprintln(os.Stderr, "  read <team>              Mark the conversation read")
	fmt.Fprintln(os.Stderr, "  leave <team>             Leave the team and discard its state")
	fmt.Fprintln(os.Stderr, "  checkpoint               Persist all conversation snapshots")
}

type client struct {
	http *http.Client
}

func newClient(socketPath string) *client {
	return &client{
		http: &http.Client{
			Timeout: 10 * time.Second,
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
					var d net.Dialer
					return d.DialContext(ctx, "unix", socketPath)
				},
			},
		},
	}
}

func (c *client) get(path string) {
	resp, err := c.http.Get("http://teamchatd" + path)
	c.render(resp, err)
}

func (c *client) post(path string, body any) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
	}
	resp, err := c.http.Post("http://teamchatd"+path, "application/json", &buf)
	c.render(resp, err)
}

func (c *client) render(resp *http.Response, err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: cannot reach daemon: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = resp.Body.Close() }()

	data, _ := io.ReadAll(resp.Body)
	if len(data) > 0 {
		var pretty bytes.Buffer
		if json.Indent(&pretty, data, "", "  ") == nil {
			fmt.Println(pretty.String())
		} else {
			fmt.Println(string(data))
		}
	}
	if resp.StatusCode >= 400 {
		os.Exit(1)
	}
}
