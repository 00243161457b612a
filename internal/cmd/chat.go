package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/shlex"
	"github.com/reeflective/readline"
	"github.com/spf13/cobra"

	"github.com/esannihith/Image-meta-attribute-ai/internal/appdir"
	"github.com/esannihith/Image-meta-attribute-ai/internal/config"
	"github.com/esannihith/Image-meta-attribute-ai/internal/conversion"
	"github.com/esannihith/Image-meta-attribute-ai/internal/fileutil"
	"github.com/esannihith/Image-meta-attribute-ai/internal/logging"
	"github.com/esannihith/Image-meta-attribute-ai/internal/realtime"
	"github.com/esannihith/Image-meta-attribute-ai/internal/session"
	"github.com/esannihith/Image-meta-attribute-ai/internal/upload"
)

// chatCmd starts the interactive session.
var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Interactive chat about an uploaded image",
	Long: `Start an interactive session with the analysis backend.

Upload an image with /upload, then type questions about it.

Commands:
  /upload <path>  - Upload an image for analysis
  /clear          - Discard the image and the conversation
  /save [path]    - Export the conversation as HTML
  /export [path]  - Export the conversation as JSON
  /status         - Show connection and request state
  /help           - Show available commands
  /quit, /exit    - Exit`,
	RunE: runChat,
}

func init() {
	rootCmd.AddCommand(chatCmd)
}

// chatUI holds the interactive session state shared between the readline
// loop and the coordinator callbacks.
type chatUI struct {
	coordinator *session.Coordinator
	manager     *realtime.Manager

	mu      sync.Mutex
	prompts []config.Prompt
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("\n\n👋 Shutting down...")
		cancel()
	}()

	manager, err := realtime.New(cfg.Server.URL, logging.Realtime())
	if err != nil {
		return fmt.Errorf("invalid server URL: %w", err)
	}
	defer manager.Close()

	if err := appdir.EnsureDir(); err != nil {
		return err
	}
	previewsDir, err := appdir.PreviewsDir()
	if err != nil {
		return err
	}
	previews, err := session.NewPreviewStore(previewsDir, logging.Session())
	if err != nil {
		return fmt.Errorf("failed to create preview store: %w", err)
	}

	ui := &chatUI{manager: manager, prompts: cfg.Prompts}

	ui.coordinator = session.New(session.Config{
		Channel:         manager,
		Uploader:        upload.New(cfg.Server.URL, upload.WithLogger(logging.Upload())),
		Previews:        previews,
		QuestionTimeout: cfg.Server.QuestionTimeout,
		Logger:          logging.Session(),
		Callbacks: session.Callbacks{
			OnMessage: func(msg session.Message) {
				if msg.Sender == session.SenderAssistant {
					fmt.Printf("\n🤖 %s\n", msg.Content)
				}
			},
			OnProgress: func(pct int) {
				fmt.Printf("\r⬆️  Uploading... %3d%%", pct)
				if pct >= 100 {
					fmt.Println()
				}
			},
		},
	})

	// Reload suggested prompts when the config file changes.
	watcher, err := config.NewWatcher(cfgPath, func(newCfg *config.Config) {
		ui.mu.Lock()
		ui.prompts = newCfg.Prompts
		ui.mu.Unlock()
	}, logging.ConfigLog())
	if err == nil {
		if err := watcher.Start(); err == nil {
			defer watcher.Close()
		}
	}

	fmt.Printf("🔌 Connecting to %s\n", cfg.Server.URL)
	if err := manager.Connect(ctx); err != nil {
		fmt.Printf("⚠️  Not connected yet (%v); retrying in the background.\n", err)
	} else {
		fmt.Println("✅ Connected.")
	}

	return ui.runLoop(ctx)
}

// slashCommands defines the available slash commands with their descriptions.
var slashCommands = []struct {
	name        string
	description string
}{
	{"/upload", "Upload an image for analysis"},
	{"/clear", "Discard the image and the conversation"},
	{"/save", "Export the conversation as HTML"},
	{"/export", "Export the conversation as JSON"},
	{"/status", "Show connection and request state"},
	{"/help", "Show available commands"},
	{"/quit", "Exit"},
	{"/exit", "Exit (alias)"},
	{"/q", "Exit (alias)"},
}

func (ui *chatUI) runLoop(ctx context.Context) error {
	rl := readline.NewShell()
	rl.Prompt.Primary(func() string { return "imagechat> " })

	history := readline.NewInMemoryHistory()
	rl.History.Add("default", history)

	rl.Completer = func(line []rune, cursor int) readline.Completions {
		return ui.completeInput(string(line), cursor)
	}

	fmt.Println("\n📝 Upload an image with /upload <path>, then ask questions. Tab completes commands.")

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		line, err := rl.Readline()
		if err != nil {
			if err == io.EOF || err == readline.ErrInterrupt {
				fmt.Println("\n👋 Goodbye!")
				return nil
			}
			return err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			if ui.handleCommand(line) {
				continue
			}
		}

		ui.ask(line)
	}
}

// ask enforces the UI-boundary preconditions before delegating to the
// coordinator: no concurrent requests, and an image must have been analyzed.
func (ui *chatUI) ask(text string) {
	if ui.coordinator.Processing() {
		fmt.Println("⏳ Still waiting for the previous request; try again in a moment.")
		return
	}
	if !ui.coordinator.HasImage() {
		fmt.Println("🖼️  No image yet. Upload one with /upload <path> first.")
		return
	}
	ui.coordinator.Ask(text)
}

// handleCommand dispatches a slash command. Returns true if handled.
func (ui *chatUI) handleCommand(line string) bool {
	parts, err := shlex.Split(strings.TrimPrefix(line, "/"))
	if err != nil || len(parts) == 0 {
		fmt.Printf("❓ Could not parse command: %v\n", err)
		return true
	}

	switch strings.ToLower(parts[0]) {
	case "quit", "exit", "q":
		fmt.Println("👋 Goodbye!")
		os.Exit(0)

	case "upload":
		if len(parts) < 2 {
			fmt.Println("Usage: /upload <path>")
			return true
		}
		ui.upload(parts[1])

	case "clear":
		ui.coordinator.ClearImage()
		fmt.Println("🧹 Image and conversation cleared.")

	case "save":
		ui.save(argOr(parts, 1, ""), "html")

	case "export":
		ui.save(argOr(parts, 1, ""), "json")

	case "status":
		ui.printStatus()

	case "help", "h", "?":
		printChatHelp()

	default:
		fmt.Printf("❓ Unknown command: /%s (use /help for available commands)\n", parts[0])
	}
	return true
}

// upload performs the static validation the coordinator deliberately leaves
// to the UI boundary: existence, file type, size, and single-flight.
func (ui *chatUI) upload(path string) {
	if ui.coordinator.Processing() {
		fmt.Println("⏳ An upload or question is already in flight.")
		return
	}

	stat, err := os.Stat(path)
	if err != nil {
		fmt.Printf("❌ Cannot read %s: %v\n", path, err)
		return
	}
	if stat.IsDir() {
		fmt.Printf("❌ %s is a directory.\n", path)
		return
	}
	if stat.Size() > session.MaxImageSize {
		fmt.Printf("❌ %s is larger than %d MB.\n", path, session.MaxImageSize/(1024*1024))
		return
	}
	if !session.IsSupportedImageExt(filepath.Ext(path)) {
		fmt.Println("❌ Unsupported file type. Allowed: png, jpg, jpeg, gif, tiff, webp.")
		return
	}

	ui.coordinator.BeginUpload(path)
}

func argOr(parts []string, i int, def string) string {
	if len(parts) > i {
		return parts[i]
	}
	return def
}

// save exports the conversation history as a standalone HTML transcript or
// as JSON. An empty path defaults to a timestamped file in the transcripts
// directory.
func (ui *chatUI) save(path, format string) {
	history := ui.coordinator.History()
	if len(history) == 0 {
		fmt.Println("Nothing to save yet.")
		return
	}

	if path == "" {
		dir, err := appdir.TranscriptsDir()
		if err != nil {
			fmt.Printf("❌ Cannot resolve transcripts directory: %v\n", err)
			return
		}
		path = filepath.Join(dir, time.Now().Format("20060102-150405")+"."+format)
	}

	var err error
	switch format {
	case "json":
		err = fileutil.WriteJSONAtomic(path, history, 0644)
	default:
		err = os.WriteFile(path, []byte(conversion.Transcript(history, nil)), 0644)
	}
	if err != nil {
		fmt.Printf("❌ Failed to save transcript: %v\n", err)
		return
	}
	fmt.Printf("💾 Saved %d messages to %s\n", len(history), path)
}

func (ui *chatUI) printStatus() {
	connected := ui.manager.IsConnected()
	fmt.Printf("Connection: %v", connected)
	if connected {
		fmt.Printf(" (id %s)", ui.manager.ConnectionID())
	} else if err := ui.manager.LastError(); err != nil {
		fmt.Printf(" (last error: %v)", err)
	}
	fmt.Println()
	fmt.Printf("Image: ")
	if p := ui.coordinator.Preview(); p != nil {
		fmt.Printf("%s (%s)", p.Name, p.MimeType)
	} else {
		fmt.Printf("none")
	}
	fmt.Println()
	fmt.Printf("Processing: %v, upload progress: %d%%\n",
		ui.coordinator.Processing(), ui.coordinator.UploadProgress())
}

func printChatHelp() {
	fmt.Println(`
Available commands:
  /upload <path>  - Upload an image for analysis (quotes allowed for spaces)
  /clear          - Discard the image and the conversation
  /save [path]    - Export the conversation as HTML
  /export [path]  - Export the conversation as JSON
  /status         - Show connection and request state
  /help, /h, /?   - Show this help message
  /quit, /exit    - Exit

Tips:
  - Type a question and press Enter once an image has been analyzed
  - Use up/down arrows for input history
  - Use Tab to autocomplete slash commands and suggested questions`)
}

// completeInput provides tab completion: slash commands when the input
// starts with "/", configured suggested questions otherwise.
func (ui *chatUI) completeInput(line string, cursor int) readline.Completions {
	if cursor > len(line) {
		cursor = len(line)
	}
	text := line[:cursor]

	if strings.HasPrefix(text, "/") {
		var pairs []string
		for _, cmd := range slashCommands {
			if strings.HasPrefix(cmd.name, text) {
				pairs = append(pairs, cmd.name, cmd.description)
			}
		}
		if len(pairs) == 0 {
			return readline.Completions{}
		}
		return readline.CompleteValuesDescribed(pairs...).
			Tag("commands").
			NoSpace('/')
	}

	ui.mu.Lock()
	prompts := ui.prompts
	ui.mu.Unlock()

	var pairs []string
	for _, p := range prompts {
		if strings.HasPrefix(strings.ToLower(p.Prompt), strings.ToLower(text)) {
			pairs = append(pairs, p.Prompt, p.Name)
		}
	}
	if len(pairs) == 0 {
		return readline.Completions{}
	}
	return readline.CompleteValuesDescribed(pairs...).Tag("suggested questions")
}
