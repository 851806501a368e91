// Package main provides the nextcloud-filepicker CLI: browse a remote
// file namespace, mediate public share links, and run the local HTTP
// bridge for UI hosts.
package main

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"

	_ "github.com/lib/pq"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/Daxiongmao87/nextcloud-filepicker/internal/browse"
	"github.com/Daxiongmao87/nextcloud-filepicker/internal/config"
	"github.com/Daxiongmao87/nextcloud-filepicker/internal/dav"
	"github.com/Daxiongmao87/nextcloud-filepicker/internal/export"
	"github.com/Daxiongmao87/nextcloud-filepicker/internal/httpapi"
	"github.com/Daxiongmao87/nextcloud-filepicker/internal/logging"
	"github.com/Daxiongmao87/nextcloud-filepicker/internal/metrics"
	"github.com/Daxiongmao87/nextcloud-filepicker/internal/notify"
	"github.com/Daxiongmao87/nextcloud-filepicker/internal/obscure"
	"github.com/Daxiongmao87/nextcloud-filepicker/internal/pathmap"
	"github.com/Daxiongmao87/nextcloud-filepicker/internal/picker"
	"github.com/Daxiongmao87/nextcloud-filepicker/internal/preview"
	"github.com/Daxiongmao87/nextcloud-filepicker/internal/remote"
	"github.com/Daxiongmao87/nextcloud-filepicker/internal/settings"
	"github.com/Daxiongmao87/nextcloud-filepicker/internal/sharelink"
)

func main() {
	assumeYes := flag.Bool("y", false, "Create share links without asking")
	previewSize := flag.Int("size", 0, "Preview box size in pixels (default from config)")
	outFile := flag.String("o", "", "Write preview output to a file instead of stdout")
	overwrite := flag.Bool("overwrite", false, "Overwrite existing export objects")

	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	st, err := settings.Open(settings.DefaultPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening settings: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load(st)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	if err := logging.Init(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing logging: %v\n", err)
		os.Exit(1)
	}
	defer logging.Sync()

	a, err := newApp(st, cfg, *assumeYes)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer a.close()

	cmd := args[0]
	cmdArgs := args[1:]

	switch cmd {
	case "browse", "ls":
		a.cmdBrowse(cmdArgs)
	case "select":
		a.cmdSelect(cmdArgs)
	case "resolve":
		a.cmdResolve(cmdArgs)
	case "upload":
		a.cmdUpload(cmdArgs)
	case "mkdir":
		a.cmdMkdir(cmdArgs)
	case "search":
		a.cmdSearch(cmdArgs)
	case "preview":
		a.cmdPreview(cmdArgs, *previewSize, *outFile)
	case "export":
		a.cmdExport(cmdArgs, *overwrite)
	case "config":
		a.cmdConfig(cmdArgs)
	case "serve":
		a.cmdServe()
	case "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`nextcloud-filepicker

Usage: nextcloud-filepicker [flags] <command> [args]

Flags:
  -y                 Create share links without asking
  -size <px>         Preview box size in pixels (preview)
  -o <file>          Write preview output to a file (preview)
  -overwrite         Overwrite existing export objects (export)

Commands:
  browse, ls [dir]   List a directory of the configured source
  select <path>      Resolve a file to its public link, creating one
                     after confirmation if none exists
  resolve <url>      Show the file path recorded for a public link
  upload <file> <dir>  Upload a local file into a remote directory
  mkdir <path>       Create a remote directory
  search <name>      Search the remote namespace by display name
  preview <path>     Fetch a preview image for a remote file
  export <path>      Copy a remote file into the export target
  config get <key>   Show a stored setting
  config set <key> [value]  Store a setting (app_password prompts)
  serve              Run the HTTP bridge and metrics servers
  help               Show this help message

Settings keys: server_url, username, app_password, subdirectory,
skip_share_confirm

Examples:
  nextcloud-filepicker config set server_url https://cloud.example.com
  nextcloud-filepicker config set username alice
  nextcloud-filepicker config set app_password
  nextcloud-filepicker browse img
  nextcloud-filepicker -y select img/cat.png
  nextcloud-filepicker serve`)
}

// app bundles the collaborators the subcommands share.
type app struct {
	st       *settings.Store
	cfg      *config.Config
	client   *remote.Client
	session  *browse.Session
	notifier *notify.Broadcaster
	banners  chan notify.Notification
	links    pathmap.Store
	db       *sql.DB
}

func newApp(st *settings.Store, cfg *config.Config, assumeYes bool) (*app, error) {
	client := remote.New(remote.Config{
		ServerURL:    cfg.ServerURL,
		Username:     cfg.Username,
		AppPassword:  cfg.AppPassword,
		Subdirectory: cfg.Subdirectory,
	})

	a := &app{st: st, cfg: cfg, client: client}

	if cfg.PathmapBackend == "postgres" && cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open path map database: %w", err)
		}
		pg := pathmap.NewPGStore(db)
		if err := pg.EnsureSchema(context.Background()); err != nil {
			db.Close()
			return nil, fmt.Errorf("prepare path map schema: %w", err)
		}
		a.db = db
		a.links = pg
	} else {
		a.links = pathmap.NewSettingsStore(st)
	}

	a.notifier = notify.NewBroadcaster()
	a.banners = a.notifier.Subscribe()

	a.session = browse.NewSession(client, sharelink.New(client), a.links, a.notifier, cfg)
	if assumeYes {
		a.session.SetApprover(func(string) bool { return true })
	} else {
		a.session.SetApprover(promptApprover)
	}

	return a, nil
}

func (a *app) close() {
	if a.db != nil {
		a.db.Close()
	}
}

// drainBanners prints any pending notifications to stderr. Commands
// call it once their operation has finished.
func (a *app) drainBanners() {
	for {
		select {
		case n := <-a.banners:
			fmt.Fprintf(os.Stderr, "[%s] %s\n", n.Level, n.Message)
		default:
			return
		}
	}
}

func (a *app) picker() picker.Picker {
	p, err := picker.FromConfig(a.cfg, a.session, a.client)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	return p
}

func promptApprover(path string) bool {
	fmt.Fprintf(os.Stderr, "No public link exists for %s.\n", path)
	fmt.Fprint(os.Stderr, "Create one? Anyone with the link will be able to read the file. [y/N]: ")

	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

func (a *app) cmdBrowse(args []string) {
	dir := ""
	if len(args) > 0 {
		dir = args[0]
	}

	target, err := a.picker().List(context.Background(), dir)
	a.drainBanners()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error listing %s: %v\n", displayDir(dir), err)
		os.Exit(1)
	}

	if len(target.Dirs) == 0 && len(target.Files) == 0 {
		fmt.Printf("%s is empty\n", displayDir(dir))
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tTYPE\tSIZE\tSHARED")
	for _, d := range target.Dirs {
		fmt.Fprintf(w, "%s/\tdir\t\t\n", d.Name)
	}
	for _, f := range target.Files {
		shared := ""
		if f.Shared {
			shared = "yes"
		}
		fmt.Fprintf(w, "%s\tfile\t%s\t%s\n", f.Name, formatSize(f.Size), shared)
	}
	w.Flush()
}

func (a *app) cmdSelect(args []string) {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "Usage: nextcloud-filepicker select <path>")
		os.Exit(1)
	}

	sel, err := a.picker().Select(context.Background(), args[0])
	a.drainBanners()
	if err != nil {
		if errors.Is(err, browse.ErrDeclined) {
			fmt.Fprintln(os.Stderr, "Declined; no link was created.")
		} else {
			fmt.Fprintf(os.Stderr, "Error selecting %s: %v\n", args[0], err)
		}
		os.Exit(1)
	}

	fmt.Println(sel.URL)
}

func (a *app) cmdResolve(args []string) {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "Usage: nextcloud-filepicker resolve <url>")
		os.Exit(1)
	}

	path, found := a.session.ResolveDisplay(context.Background(), args[0])
	if !found {
		fmt.Fprintln(os.Stderr, "No recorded mapping; showing the name derived from the URL.")
	}
	fmt.Println(path)
}

func (a *app) cmdUpload(args []string) {
	if len(args) < 2 {
		fmt.Fprintln(os.Stderr, "Usage: nextcloud-filepicker upload <file> <dir>")
		os.Exit(1)
	}
	local, dir := args[0], args[1]

	f, err := os.Open(local)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening %s: %v\n", local, err)
		os.Exit(1)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	name := filepath.Base(local)
	err = a.picker().Upload(context.Background(), dir, name, f, info.Size())
	a.drainBanners()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error uploading %s: %v\n", local, err)
		os.Exit(1)
	}
	fmt.Printf("Uploaded %s to %s (%s)\n", name, displayDir(dir), formatSize(info.Size()))
}

func (a *app) cmdMkdir(args []string) {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "Usage: nextcloud-filepicker mkdir <path>")
		os.Exit(1)
	}

	err := a.picker().CreateDirectory(context.Background(), args[0])
	a.drainBanners()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating %s: %v\n", args[0], err)
		os.Exit(1)
	}
	fmt.Printf("Created %s\n", args[0])
}

func (a *app) cmdSearch(args []string) {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "Usage: nextcloud-filepicker search <name>")
		os.Exit(1)
	}

	if err := a.cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	resp, err := a.client.Search(ctx, dav.BuildSearchRequest(a.client.Account(), args[0]))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error searching: %v\n", err)
		os.Exit(1)
	}

	entries, err := dav.TranslateSearch(resp.Bytes(), dav.RootPrefix{
		Account: a.client.Account(),
		Subdir:  a.client.Subdirectory(),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading results: %v\n", err)
		os.Exit(1)
	}

	if len(entries) == 0 {
		fmt.Println("No matches")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PATH\tTYPE\tSIZE")
	for _, e := range entries {
		kind := "file"
		size := formatSize(e.Size)
		if e.Dir {
			kind = "dir"
			size = ""
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", e.Href, kind, size)
	}
	w.Flush()
}

func (a *app) cmdPreview(args []string, size int, outFile string) {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "Usage: nextcloud-filepicker preview <path> [-size N] [-o file]")
		os.Exit(1)
	}

	if err := a.cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	g := preview.New(a.client, a.cfg.PreviewSize)
	data, contentType, err := g.For(context.Background(), args[0], size)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error fetching preview for %s: %v\n", args[0], err)
		os.Exit(1)
	}

	if outFile == "" {
		os.Stdout.Write(data)
		return
	}
	if err := os.WriteFile(outFile, data, 0644); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing %s: %v\n", outFile, err)
		os.Exit(1)
	}
	fmt.Printf("Wrote %s (%s) to %s\n", formatSize(int64(len(data))), contentType, outFile)
}

func (a *app) cmdExport(args []string, overwrite bool) {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "Usage: nextcloud-filepicker export <path> [-overwrite]")
		os.Exit(1)
	}

	if err := a.cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	target, err := export.FromConfig(ctx, a.cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error preparing export target: %v\n", err)
		os.Exit(1)
	}
	defer target.Close()

	exp := export.NewExporter(a.client, target, overwrite)
	key, skipped, err := exp.Export(ctx, args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error exporting %s: %v\n", args[0], err)
		os.Exit(1)
	}
	if skipped {
		fmt.Printf("Already exported: %s (use -overwrite to replace)\n", key)
		return
	}
	fmt.Printf("Exported %s to %s:%s\n", args[0], target.Type(), key)
}

// settingsKeys are the keys config set accepts, with whether the
// value is a boolean.
var settingsKeys = map[string]bool{
	"server_url":         false,
	"username":           false,
	"app_password":       false,
	"subdirectory":       false,
	"skip_share_confirm": true,
}

func (a *app) cmdConfig(args []string) {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "Usage: nextcloud-filepicker config get|set <key> [value]")
		os.Exit(1)
	}

	switch args[0] {
	case "get":
		if len(args) < 2 {
			keys := make([]string, 0, len(settingsKeys))
			for k := range settingsKeys {
				keys = append(keys, k)
			}
			fmt.Fprintf(os.Stderr, "Usage: nextcloud-filepicker config get <key>\nKeys: %s\n", strings.Join(keys, ", "))
			os.Exit(1)
		}
		a.configGet(args[1])
	case "set":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "Usage: nextcloud-filepicker config set <key> [value]")
			os.Exit(1)
		}
		value := ""
		if len(args) > 2 {
			value = args[2]
		}
		a.configSet(args[1], value)
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n", args[0])
		os.Exit(1)
	}
}

func (a *app) configGet(key string) {
	if _, ok := settingsKeys[key]; !ok {
		fmt.Fprintf(os.Stderr, "Unknown key: %s\n", key)
		os.Exit(1)
	}
	if key == "app_password" {
		if a.st.GetString(key, "") != "" {
			fmt.Println("(set)")
		} else {
			fmt.Println("(unset)")
		}
		return
	}
	fmt.Println(a.st.GetString(key, ""))
}

func (a *app) configSet(key, value string) {
	isBool, ok := settingsKeys[key]
	if !ok {
		fmt.Fprintf(os.Stderr, "Unknown key: %s\n", key)
		os.Exit(1)
	}

	switch {
	case key == "app_password":
		if value == "" {
			fmt.Fprint(os.Stderr, "App password: ")
			raw, err := term.ReadPassword(int(syscall.Stdin))
			fmt.Fprintln(os.Stderr)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error reading password: %v\n", err)
				os.Exit(1)
			}
			value = string(raw)
		}
		obscured, err := obscure.Obscure(value)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error storing password: %v\n", err)
			os.Exit(1)
		}
		if err := a.st.Set(key, obscured); err != nil {
			fmt.Fprintf(os.Stderr, "Error saving settings: %v\n", err)
			os.Exit(1)
		}

	case isBool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %s wants true or false, got %q\n", key, value)
			os.Exit(1)
		}
		if err := a.st.Set(key, b); err != nil {
			fmt.Fprintf(os.Stderr, "Error saving settings: %v\n", err)
			os.Exit(1)
		}

	default:
		if err := a.st.Set(key, value); err != nil {
			fmt.Fprintf(os.Stderr, "Error saving settings: %v\n", err)
			os.Exit(1)
		}
	}

	fmt.Printf("Set %s\n", key)
}

func (a *app) cmdServe() {
	cfg := a.cfg

	logging.Info("nextcloud-filepicker bridge starting",
		zap.String("listen", cfg.ListenAddr),
		zap.String("metrics", cfg.MetricsAddr))

	pick, err := picker.FromConfig(cfg, a.session, a.client)
	if err != nil {
		logging.Fatal("picker init failed", zap.Error(err))
	}

	var previews *preview.Generator
	if cfg.ServerURL != "" {
		previews = preview.New(a.client, cfg.PreviewSize)
	}

	srv := httpapi.NewServer(pick, a.session, previews, a.notifier, cfg)

	metricsServer := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: metrics.Handler(),
	}
	go func() {
		logging.Info("metrics server listening", zap.String("addr", cfg.MetricsAddr))
		if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
			logging.Error("metrics server error", zap.Error(err))
		}
	}()

	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: srv.Handler(),
	}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logging.Info("shutting down...")
		httpServer.Close()
		metricsServer.Close()
	}()

	logging.Info("bridge listening",
		zap.String("addr", cfg.ListenAddr),
		zap.String("picker", pick.Type()))
	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		logging.Fatal("server error", zap.Error(err))
	}
}

func displayDir(dir string) string {
	if dir == "" {
		return "/"
	}
	return dir
}

func formatSize(bytes int64) string {
	const (
		KB = 1024
		MB = 1024 * KB
		GB = 1024 * MB
	)

	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.2f GB", float64(bytes)/GB)
	case bytes >= MB:
		return fmt.Sprintf("%.2f MB", float64(bytes)/MB)
	case bytes >= KB:
		return fmt.Sprintf("%.2f KB", float64(bytes)/KB)
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
