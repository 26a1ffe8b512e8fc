package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/axxuxy/ax-image/internal/format"
	"github.com/axxuxy/ax-image/internal/service"
)

func runConsole(ctx context.Context, downloads *service.DownloadService, settings *service.SettingsService, in io.Reader, out io.Writer) {
	fmt.Fprintln(out, "Runtime Console: type help for commands, exit closes the console (the server keeps running)")

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "axim> ")
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				fmt.Fprintf(out, "console read error: %v\n", err)
			}
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		parsed, err := parseCommandLine(line)
		if err != nil {
			fmt.Fprintf(out, "parse command error: %v\n", err)
			continue
		}
		if len(parsed) == 0 {
			continue
		}

		switch strings.ToLower(parsed[0]) {
		case "help":
			printConsoleUsage(out)
			continue
		case "exit", "quit":
			fmt.Fprintln(out, "runtime console closed")
			return
		}

		if err := executeConsoleCommand(ctx, downloads, settings, parsed, out); err != nil {
			fmt.Fprintf(out, "command failed: %v\n", err)
		}
	}
}

func executeConsoleCommand(ctx context.Context, downloads *service.DownloadService, settings *service.SettingsService, args []string, out io.Writer) error {
	switch strings.ToLower(args[0]) {
	case "jobs":
		fmt.Fprintln(out, "id\twebsite\tpost\ttype\tstate\tprogress")
		for _, job := range downloads.Jobs() {
			state := job.State()
			req := job.Request()
			status := "queued"
			switch {
			case state.Err != nil:
				status = "failed: " + state.Err.Error()
			case state.Stopped:
				status = "stopped"
			case state.Downloading:
				status = "downloading"
			case state.DownloadedAt != nil:
				status = "done"
			}
			fmt.Fprintf(out, "%s\t%s\t%d\t%s\t%s\t%s\n",
				job.ID(), req.Website, req.Post.ID, req.Type, status,
				progressText(state.Downloaded, job.Info().Size))
		}
		return nil
	case "stop", "resume", "cancel":
		if len(args) < 2 {
			return fmt.Errorf("usage: %s <job_id>", args[0])
		}
		id := strings.TrimSpace(args[1])
		var err error
		switch strings.ToLower(args[0]) {
		case "stop":
			err = downloads.Stop(id)
		case "resume":
			err = downloads.Resume(id)
		default:
			err = downloads.Cancel(id)
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s: %s\n", strings.ToLower(args[0]), id)
		return nil
	case "limit":
		if len(args) < 2 {
			fmt.Fprintf(out, "concurrency_limit=%d\n", downloads.Manager().ConcurrencyLimit())
			return nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(args[1]))
		if err != nil {
			return fmt.Errorf("invalid limit: %s", args[1])
		}
		if err := settings.SetConcurrencyLimit(ctx, n); err != nil {
			return err
		}
		fmt.Fprintf(out, "concurrency_limit=%d\n", n)
		return nil
	case "downloaded":
		filter := ""
		if len(args) > 1 {
			filter = strings.Join(args[1:], " ")
		}
		items, err := downloads.QueryDownloaded(ctx, service.DownloadedQueryInput{Filter: filter, Limit: 20})
		if err != nil {
			return err
		}
		for _, item := range items {
			fmt.Fprintf(out, "%s\t%s\t%d\t%s\t%s\n",
				format.YMD(item.DownloadedAt), item.Website, item.ID, item.DownloadType, format.BitText(item.Size))
		}
		return nil
	default:
		return fmt.Errorf("unknown command: %s", args[0])
	}
}

func printConsoleUsage(out io.Writer) {
	fmt.Fprintln(out, "Runtime Console Commands:")
	fmt.Fprintln(out, "  jobs")
	fmt.Fprintln(out, "  stop <job_id>")
	fmt.Fprintln(out, "  resume <job_id>")
	fmt.Fprintln(out, "  cancel <job_id>")
	fmt.Fprintln(out, "  limit [n]")
	fmt.Fprintln(out, "  downloaded [cel filter]")
	fmt.Fprintln(out, "  help")
	fmt.Fprintln(out, "  exit")
}

func parseCommandLine(input string) ([]string, error) {
	var args []string
	var current strings.Builder
	var quote rune

	for _, r := range input {
		switch r {
		case '\'', '"':
			if quote == 0 {
				// quotes only open at token start; elsewhere they are literal
				if current.Len() == 0 {
					quote = r
					continue
				}
				current.WriteRune(r)
				continue
			}
			if quote == r {
				quote = 0
				continue
			}
			current.WriteRune(r)
		case ' ', '\t':
			if quote != 0 {
				current.WriteRune(r)
				continue
			}
			if current.Len() > 0 {
				args = append(args, current.String())
				current.Reset()
			}
		default:
			current.WriteRune(r)
		}
	}

	if quote != 0 {
		return nil, fmt.Errorf("unterminated quote")
	}
	if current.Len() > 0 {
		args = append(args, current.String())
	}
	return args, nil
}
