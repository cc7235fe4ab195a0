package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/matheus3301/wpptriage/internal/analysis"
	"github.com/matheus3301/wpptriage/internal/client"
	"github.com/matheus3301/wpptriage/internal/config"
	"github.com/matheus3301/wpptriage/internal/daemon"
	"github.com/matheus3301/wpptriage/internal/lock"
	"github.com/matheus3301/wpptriage/internal/logging"
	"github.com/matheus3301/wpptriage/internal/report"
	"github.com/matheus3301/wpptriage/internal/scheduler"
	"github.com/matheus3301/wpptriage/internal/session"
)

func main() {
	sessionFlag := flag.String("session", "", "session name (overrides WPPTRIAGE_SESSION)")
	addrFlag := flag.String("addr", "", "daemon HTTP address (default: from config)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	debugFlag := flag.Bool("debug", false, "log API calls to stderr")
	flag.Parse()

	sessionName := session.Resolve(*sessionFlag)
	if err := session.ValidateName(sessionName); err != nil {
		fatalf("%v", err)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	if pid, held := lock.Holder(session.Dir(sessionName)); !held {
		fatalf("daemon for session %q is not running (start triaged)", sessionName)
	} else if !*jsonFlag && args[0] == "status" {
		fmt.Printf("Daemon:  running (PID %d)\n", pid)
	}

	addr := *addrFlag
	if addr == "" {
		addr = configuredAddr(sessionName)
	}
	logger := logging.NewConsole(*debugFlag)
	defer func() { _ = logger.Sync() }()

	c, err := client.New(session.SocketPath(sessionName), client.BaseURL(addr), logger)
	if err != nil {
		fatalf("cannot connect to daemon for session %q: %v", sessionName, err)
	}
	defer func() { _ = c.Close() }()

	timeout := 10 * time.Second
	if args[0] == "analyze" {
		timeout = 10 * time.Minute
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	switch args[0] {
	case "status":
		cmdStatus(ctx, c, *jsonFlag)
	case "analyze":
		cmdAnalyze(ctx, c, args[1:], *jsonFlag)
	case "send":
		if len(args) < 3 {
			fatalf("usage: triagectl send <chat_id> <text>")
		}
		cmdSend(ctx, c, args[1], strings.Join(args[2:], " "), *jsonFlag)
	case "stats":
		cmdStats(ctx, c, args[1:], *jsonFlag)
	case "cron":
		cmdCron(ctx, c, args[1:], *jsonFlag)
	case "report":
		cmdReport(ctx, c, *jsonFlag)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: triagectl [--session <name>] [--addr <host:port>] [--json] [--debug] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  status                        Show daemon health and counters")
	fmt.Fprintln(os.Stderr, "  analyze [-chat id] [-minutes n]  Run an analysis now")
	fmt.Fprintln(os.Stderr, "  send <chat_id> <text>         Send a message")
	fmt.Fprintln(os.Stderr, "  stats                         Show stored statistics")
	fmt.Fprintln(os.Stderr, "  stats refresh                 Recompute counters from the latest report")
	fmt.Fprintln(os.Stderr, "  cron status                   Show the analysis schedule")
	fmt.Fprintln(os.Stderr, "  cron enable [schedule]        Enable scheduled analysis")
	fmt.Fprintln(os.Stderr, "  cron disable                  Disable scheduled analysis")
	fmt.Fprintln(os.Stderr, "  report                        Print the latest stored report")
}

func configuredAddr(sessionName string) string {
	cfg, err := config.LoadOrDefault(session.ConfigPath(sessionName))
	if err != nil {
		return config.DefaultHTTPAddr
	}
	if cfg, err = config.LoadEnv(cfg, session.EnvPath()); err != nil {
		return config.DefaultHTTPAddr
	}
	return cfg.HTTP.Addr
}

func cmdStatus(ctx context.Context, c *client.Client, jsonOut bool) {
	serving, err := c.Serving(ctx, daemon.ServiceName)
	if err != nil {
		fatalf("health check: %v", err)
	}
	st, err := c.Status(ctx)
	if err != nil {
		fatalf("%v", err)
	}
	if jsonOut {
		outputJSON(map[string]any{"serving": serving, "status": st})
		return
	}
	fmt.Printf("State:   %s (serving: %v)\n", st.DaemonState, serving)
	fmt.Printf("Model:   %s\n", st.Model)
	fmt.Printf("Progress: %s %d%% %s\n", st.Progress.Phase, st.Progress.Percent, st.Progress.Message)
	fmt.Printf("Messages:   %d\n", st.BotStats.TotalMessages)
	fmt.Printf("Active:     %d\n", st.BotStats.ActiveChats)
	fmt.Printf("Unanswered: %d\n", st.BotStats.UnansweredConversations)
	fmt.Printf("Urgent:     %d\n", st.BotStats.UrgentConversations)
	if !st.BotStats.LastAnalysisTime.IsZero() {
		fmt.Printf("Last run:   %s\n", st.BotStats.LastAnalysisTime.Local().Format(time.DateTime))
	}
}

func cmdAnalyze(ctx context.Context, c *client.Client, args []string, jsonOut bool) {
	fs := flag.NewFlagSet("analyze", flag.ExitOnError)
	chat := fs.String("chat", "", "deliver the report to this chat id")
	minutes := fs.Int("minutes", 0, "look-back window in minutes (default: config)")
	_ = fs.Parse(args)

	res, err := c.Analyze(ctx, analysis.Request{TargetChatID: *chat, Minutes: *minutes})
	if err != nil {
		fatalf("%v", err)
	}
	if jsonOut {
		outputJSON(res)
		return
	}
	fmt.Println(res.Message)
	if res.Report != nil {
		fmt.Println()
		fmt.Println(report.NewFormatter(time.Now).Format(res.Report))
	}
}

func cmdSend(ctx context.Context, c *client.Client, chatID, text string, jsonOut bool) {
	d, err := c.Send(ctx, chatID, text)
	if err != nil {
		fatalf("%v", err)
	}
	if jsonOut {
		outputJSON(d)
		return
	}
	fmt.Printf("Sent: %s\n", d.ServerMsgID)
}

func cmdStats(ctx context.Context, c *client.Client, args []string, jsonOut bool) {
	if len(args) > 0 {
		if args[0] != "refresh" {
			fatalf("usage: triagectl stats [refresh]")
		}
		st, err := c.RefreshStats(ctx)
		if err != nil {
			fatalf("%v", err)
		}
		if jsonOut {
			outputJSON(st)
			return
		}
		fmt.Printf("Unanswered: %d\nUrgent:     %d\n", st.UnansweredConversations, st.UrgentConversations)
		return
	}

	st, err := c.DatabaseStats(ctx)
	if err != nil {
		fatalf("%v", err)
	}
	if jsonOut {
		outputJSON(st)
		return
	}
	fmt.Printf("Messages:      %d\n", st.Counts.Messages)
	fmt.Printf("Conversations: %d (%d unanswered)\n", st.Counts.Conversations, st.Counts.Unanswered)
	fmt.Printf("Reports:       %d\n", st.Counts.Reports)
	fmt.Printf("Outbox:        %d\n", st.Counts.Outbox)
	fmt.Printf("Today:         %d analyses, %d urgent\n", st.Today.AnalysesRun, st.Today.UrgentConversations)
	for _, d := range st.History {
		fmt.Printf("  %s  %3d conversations  %3d unanswered  %.1f msgs/chat\n",
			d.Date, d.Conversations, d.Unanswered, d.AvgMessagesPerChat)
	}
}

func cmdCron(ctx context.Context, c *client.Client, args []string, jsonOut bool) {
	sub := "status"
	if len(args) > 0 {
		sub = args[0]
	}

	var err error
	var st *scheduler.Status
	switch sub {
	case "status":
		st, err = c.CronStatus(ctx)
	case "enable":
		schedule := strings.Join(args[1:], " ")
		st, err = c.CronUpdate(ctx, true, schedule)
	case "disable":
		st, err = c.CronUpdate(ctx, false, "")
	default:
		fatalf("unknown cron subcommand: %s", sub)
	}
	if err != nil {
		var apiErr *client.APIError
		if errors.As(err, &apiErr) {
			fatalf("%s", apiErr.Detail)
		}
		fatalf("%v", err)
	}
	if jsonOut {
		outputJSON(st)
		return
	}
	printCron(st)
}

func printCron(st *scheduler.Status) {
	fmt.Printf("Enabled:  %v\n", st.Enabled)
	fmt.Printf("Schedule: %s\n", st.Schedule)
	if st.NextRun != nil {
		fmt.Printf("Next run: %s\n", st.NextRun.Local().Format(time.DateTime))
	}
}

func cmdReport(ctx context.Context, c *client.Client, jsonOut bool) {
	r, err := c.LatestReport(ctx)
	if err != nil {
		fatalf("%v", err)
	}
	if r == nil {
		fmt.Println("No reports stored yet.")
		return
	}
	if jsonOut {
		outputJSON(r)
		return
	}
	fmt.Println(report.NewFormatter(time.Now).Format(r))
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
	}
}
