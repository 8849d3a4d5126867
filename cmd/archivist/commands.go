package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"text/tabwriter"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mattjoyce/archivist/internal/doctor"
	"github.com/mattjoyce/archivist/internal/pack"
	"github.com/mattjoyce/archivist/internal/tui"
)

func runWatch(args []string, stderr io.Writer) int {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := configFlag(fs)
	apiURL := fs.String("api-url", "", "API base URL (default: derived from api.listen in config)")
	token := fs.String("token", os.Getenv("ARCHIVIST_TOKEN"), "Bearer token with archives:ro scope")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	if *apiURL == "" {
		cfg, ok := loadConfig(*configPath, stderr)
		if !ok {
			return 1
		}
		*apiURL = baseURL(cfg.API.Listen)
		if *token == "" {
			*token = cfg.API.Auth.APIKey
		}
	}

	p := tea.NewProgram(tui.NewMonitor(*apiURL, *token), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(stderr, "Monitor failed: %v\n", err)
		return 1
	}
	return 0
}

// baseURL turns a listen address into a URL a local client can dial.
func baseURL(listen string) string {
	host, port, err := net.SplitHostPort(listen)
	if err != nil {
		return "http://" + listen
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}

func runArchivers(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("archivers", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := configFlag(fs)
	jsonOut := fs.Bool("json", false, "Output as JSON")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg, ok := loadConfig(*configPath, stderr)
	if !ok {
		return 1
	}
	reg, unregister, err := buildRegistry(cfg)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to register archivers: %v\n", err)
		return 1
	}
	defer unregister()

	descs := reg.Descriptors()
	if *jsonOut {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(descs); err != nil {
			fmt.Fprintf(stderr, "Failed to render JSON: %v\n", err)
			return 1
		}
		return 0
	}

	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tLINKED\tEXTENDED")
	for _, d := range descs {
		linked := d.LinkedToolID
		if linked == "" {
			linked = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%t\n", d.ID, d.Name, linked, d.Extended)
	}
	_ = tw.Flush()
	return 0
}

func runConfigNoun(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 || args[0] != "check" {
		fmt.Fprintln(stderr, "Usage: archivist config check [--config PATH] [--json]")
		return 1
	}
	return runConfigCheck(args[1:], stdout, stderr)
}

func runConfigCheck(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("config check", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := configFlag(fs)
	jsonOut := fs.Bool("json", false, "Output as JSON")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg, ok := loadConfig(*configPath, stderr)
	if !ok {
		return 1
	}
	reg, unregister, err := buildRegistry(cfg)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to register archivers: %v\n", err)
		return 1
	}
	defer unregister()

	result := doctor.New(cfg, reg).Validate()
	if *jsonOut {
		out, err := doctor.FormatJSON(result)
		if err != nil {
			fmt.Fprintf(stderr, "Failed to render JSON: %v\n", err)
			return 1
		}
		fmt.Fprintln(stdout, out)
	} else {
		fmt.Fprint(stdout, doctor.FormatHuman(result))
	}
	if !result.Valid {
		return 1
	}
	return 0
}

func runExtract(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("extract", flag.ContinueOnError)
	fs.SetOutput(stderr)
	dest := fs.String("o", "", "Destination directory (default: artifact name without .zip)")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(stderr, "Usage: archivist extract [-o DIR] ARTIFACT.zip")
		return 1
	}

	src := fs.Arg(0)
	if *dest == "" {
		*dest = strings.TrimSuffix(src, ".zip")
		if *dest == src {
			*dest = src + ".d"
		}
	}
	if err := pack.Extract(src, *dest); err != nil {
		fmt.Fprintf(stderr, "Extract failed: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "extracted %s to %s\n", src, *dest)
	return 0
}
