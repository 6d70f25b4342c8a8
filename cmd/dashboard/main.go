// Package main runs a terminal dashboard of live admin presence.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/jobportal/backend/internal/dashboard"
)

func main() {
	_ = godotenv.Load()

	server := flag.String("server", envOr("DASHBOARD_SERVER", "http://localhost:8080"), "presence server base URL")
	email := flag.String("email", os.Getenv("DASHBOARD_EMAIL"), "admin email")
	password := flag.String("password", os.Getenv("DASHBOARD_PASSWORD"), "admin password")
	token := flag.String("token", os.Getenv("DASHBOARD_TOKEN"), "JWT (skips login)")
	flag.Parse()

	logger := newLogger()
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	view := dashboard.NewRosterView()
	client := dashboard.NewClient(*server, *token, view, logger)
	if *token == "" {
		if err := client.Login(ctx, *email, *password); err != nil {
			logger.Fatal("login", zap.Error(err))
		}
	}
	if err := client.Connect(ctx); err != nil {
		logger.Error("connect", zap.Error(err))
	}
	defer client.Close()

	commands := make(chan string)
	go readCommands(os.Stdin, commands)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	render(os.Stdout, view, time.Now())
	for {
		select {
		case <-ctx.Done():
			return
		case cmd, ok := <-commands:
			if !ok || cmd == "q" {
				return
			}
			if cmd == "r" {
				if err := client.Reconnect(ctx); err != nil {
					logger.Error("reconnect", zap.Error(err))
				}
			}
			render(os.Stdout, view, time.Now())
		case now := <-ticker.C:
			render(os.Stdout, view, now)
		}
	}
}

func readCommands(r io.Reader, out chan<- string) {
	defer close(out)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		out <- strings.ToLower(strings.TrimSpace(scanner.Text()))
	}
}

func render(w io.Writer, view *dashboard.RosterView, now time.Time) {
	rows := view.Rows(now)
	fmt.Fprint(w, "\033[H\033[2J")
	fmt.Fprintf(w, "Admin presence  [%s]  %d admins  %s\n\n", view.State(), len(rows), now.Format("15:04:05"))

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "\tNAME\tEMAIL\tSTATUS\tIP\tLOGIN\tDURATION")
	for _, r := range rows {
		mark := ""
		switch {
		case r.New:
			mark = "+"
		case r.Updated:
			mark = "*"
		}
		login, duration := "-", "-"
		if r.LoginTime != nil {
			login = r.LoginTime.Local().Format("15:04:05")
			duration = r.Duration.Truncate(time.Second).String()
			if r.Ended {
				duration += " (ended)"
			}
		}
		ip := r.IP
		if ip == "" {
			ip = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n", mark, r.Name, r.Email, r.Status, ip, login, duration)
	}
	tw.Flush()
	fmt.Fprintln(w, "\nr+Enter reconnect, q+Enter quit")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.OutputPaths = []string{"stderr"}
	logger, _ := config.Build()
	return logger
}
