// cloudimg - OneBot bridge for CloudFlare ImgBed
// License: MIT
//
// Copyright (c) 2026 cloudimg contributors

package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/chzyer/readline"
	"github.com/foolllll-j/cloudimg/pkg/bot"
	"github.com/foolllll-j/cloudimg/pkg/bus"
	"github.com/foolllll-j/cloudimg/pkg/channels"
	"github.com/foolllll-j/cloudimg/pkg/commands"
	"github.com/foolllll-j/cloudimg/pkg/config"
	"github.com/foolllll-j/cloudimg/pkg/imgbed"
	"github.com/foolllll-j/cloudimg/pkg/keywords"
	"github.com/foolllll-j/cloudimg/pkg/logger"
	"github.com/foolllll-j/cloudimg/pkg/utils"
)

const version = "0.1.0"
const logo = "☁"

func main() {
	if err := loadEnvFile(".env"); err != nil && !os.IsNotExist(err) {
		fmt.Printf("Error loading .env: %v\n", err)
		os.Exit(1)
	}

	if len(os.Args) < 2 {
		printHelp()
		os.Exit(1)
	}

	command := os.Args[1]

	switch command {
	case "onboard":
		onboard()
	case "gateway":
		gatewayCmd()
	case "console":
		consoleCmd()
	case "link":
		linkCmd()
	case "random":
		randomCmd()
	case "status":
		statusCmd()
	case "version", "--version", "-v":
		fmt.Printf("%s cloudimg v%s\n", logo, version)
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printHelp()
		os.Exit(1)
	}
}

func printHelp() {
	fmt.Printf("%s cloudimg - OneBot bridge for CloudFlare ImgBed v%s\n\n", logo, version)
	fmt.Println("Usage: cloudimg <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  onboard     Write a default configuration")
	fmt.Println("  gateway     Connect to OneBot and serve chat commands")
	fmt.Println("  console     Run chat commands locally (CQ codes accepted)")
	fmt.Println("  link        Manage keyword mappings (list, add, remove)")
	fmt.Println("  random      Fetch a random file URL from the image host")
	fmt.Println("  status      Show cloudimg status")
	fmt.Println("  version     Show version information")
}

func onboard() {
	configPath := getConfigPath()

	if _, err := os.Stat(configPath); err == nil {
		fmt.Printf("Config already exists at %s\n", configPath)
		fmt.Print("Overwrite? (y/n): ")
		var response string
		fmt.Scanln(&response)
		if response != "y" {
			fmt.Println("Aborted.")
			return
		}
	}

	cfg := config.DefaultConfig()
	if err := config.SaveConfig(configPath, cfg); err != nil {
		fmt.Printf("Error saving config: %v\n", err)
		os.Exit(1)
	}
	os.MkdirAll(cfg.DataPath(), 0755)

	fmt.Printf("%s cloudimg is ready!\n", logo)
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Set imgbed.base_url and onebot.ws_url in", configPath)
	fmt.Println("  2. Add your QQ number to bot.admins")
	fmt.Println("  3. Start: cloudimg gateway")
}

// parseDebug raises the log level when --debug is present and returns the
// remaining arguments.
func parseDebug(args []string) []string {
	rest := make([]string, 0, len(args))
	for _, arg := range args {
		if arg == "--debug" || arg == "-d" {
			logger.SetLevel(logger.DEBUG)
			fmt.Println("🔍 Debug mode enabled")
			continue
		}
		rest = append(rest, arg)
	}
	return rest
}

func newImgBedClient(cfg *config.Config) *imgbed.Client {
	return imgbed.NewClient(imgbed.Options{
		BaseURL:            cfg.ImgBed.BaseURL,
		UploadURL:          cfg.ImgBed.UploadURL,
		AuthCode:           cfg.ImgBed.AuthCode,
		Timeout:            cfg.UploadTimeout(),
		InsecureSkipVerify: cfg.ImgBed.InsecureSkipVerify,
	})
}

func gatewayCmd() {
	parseDebug(os.Args[2:])

	cfg, err := loadConfig()
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	dataDir := cfg.DataPath()
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		fmt.Printf("Error creating data dir: %v\n", err)
		os.Exit(1)
	}
	if err := logger.EnableFileLogging(filepath.Join(dataDir, "cloudimg.log")); err != nil {
		fmt.Printf("Warning: file logging disabled: %v\n", err)
	}
	defer logger.DisableFileLogging()

	msgBus := bus.NewMessageBus()
	channelManager, err := channels.NewManager(cfg, msgBus)
	if err != nil {
		fmt.Printf("Error creating channel manager: %v\n", err)
		os.Exit(1)
	}

	host, ok := channelManager.MediaHost("onebot")
	if !ok {
		fmt.Println("⚠ Warning: OneBot is not configured, quoted and forwarded media will not be found")
	}

	store := keywords.NewStore(dataDir)
	router := commands.Setup(cfg, store, newImgBedClient(cfg), host)
	b := bot.NewBot(cfg, msgBus, router)

	fmt.Printf("\n📦 Commands: %d loaded, %d keywords\n", router.Registry().Count(), len(store.Keywords()))
	logger.InfoCF("bot", "Bot initialized", map[string]interface{}{
		"commands": router.Registry().Count(),
		"keywords": len(store.Keywords()),
		"admins":   len(cfg.Bot.Admins),
	})

	enabledChannels := channelManager.GetEnabledChannels()
	if len(enabledChannels) > 0 {
		fmt.Printf("✓ Channels enabled: %s\n", enabledChannels)
	} else {
		fmt.Println("⚠ Warning: No channels enabled")
	}
	if cfg.ImgBed.BaseURL == "" {
		fmt.Println("⚠ Warning: imgbed.base_url is not set")
	}
	fmt.Println("Press Ctrl+C to stop")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := channelManager.StartAll(ctx); err != nil {
		fmt.Printf("Error starting channels: %v\n", err)
	}

	go b.Run(ctx)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	fmt.Println("\nShutting down...")
	cancel()
	b.Stop()
	channelManager.StopAll(context.Background())
	fmt.Println("✓ Gateway stopped")
}

func consoleCmd() {
	args := parseDebug(os.Args[2:])
	message := ""
	for i := 0; i < len(args); i++ {
		if (args[i] == "-m" || args[i] == "--message") && i+1 < len(args) {
			message = args[i+1]
			i++
		}
	}

	cfg, err := loadConfig()
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	store := keywords.NewStore(cfg.DataPath())
	router := commands.Setup(cfg, store, newImgBedClient(cfg), nil)
	b := bot.NewBot(cfg, bus.NewMessageBus(), router)

	if message != "" {
		if !runConsoleLine(b, message) {
			os.Exit(1)
		}
		return
	}

	fmt.Printf("%s Console mode, running as admin (Ctrl+C to exit)\n\n", logo)
	interactiveMode(b)
}

func interactiveMode(b *bot.Bot) {
	prompt := fmt.Sprintf("%s > ", logo)

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          prompt,
		HistoryFile:     filepath.Join(os.TempDir(), ".cloudimg_history"),
		HistoryLimit:    100,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})

	if err != nil {
		fmt.Printf("Error initializing readline: %v\n", err)
		fmt.Println("Falling back to simple input mode...")
		simpleInteractiveMode(b)
		return
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt || err == io.EOF {
				fmt.Println("\nGoodbye!")
				return
			}
			fmt.Printf("Error reading input: %v\n", err)
			continue
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			fmt.Println("Goodbye!")
			return
		}
		runConsoleLine(b, input)
	}
}

func simpleInteractiveMode(b *bot.Bot) {
	reader := bufio.NewReader(os.Stdin)
	for {
		fmt.Printf("%s > ", logo)
		line, err := reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				fmt.Println("\nGoodbye!")
				return
			}
			fmt.Printf("Error reading input: %v\n", err)
			continue
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			fmt.Println("Goodbye!")
			return
		}
		runConsoleLine(b, input)
	}
}

func runConsoleLine(b *bot.Bot, input string) bool {
	reply, err := b.ProcessDirect(context.Background(), input, true)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return false
	}
	if reply == nil {
		fmt.Println("(not a command)")
		return true
	}

	fmt.Println()
	if reply.Content != "" {
		fmt.Printf("%s %s\n", logo, reply.Content)
	}
	for _, item := range reply.Media {
		fmt.Printf("%s [%s] %s\n", logo, item.Type, item.URL)
	}
	fmt.Println()
	return true
}

func linkCmd() {
	args := parseDebug(os.Args[2:])
	if len(args) == 0 {
		linkHelp()
		return
	}

	cfg, err := loadConfig()
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}
	store := keywords.NewStore(cfg.DataPath())

	switch args[0] {
	case "list":
		linkListCmd(store)
	case "add":
		if len(args) < 3 {
			fmt.Println("Usage: cloudimg link add <keyword> <folder> [img|vid]")
			return
		}
		contentArg := ""
		if len(args) > 3 {
			contentArg = args[3]
		}
		contentType, ok := keywords.ParseContentType(contentArg)
		if !ok {
			fmt.Printf("Invalid content type %q, expected img or vid\n", contentArg)
			os.Exit(1)
		}
		if err := store.Set(args[1], keywords.Mapping{Folder: args[2], ContentType: contentType}); err != nil {
			fmt.Printf("Error saving mapping: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("✓ /%s -> %s (%s)\n", args[1], args[2], contentType)
	case "remove":
		if len(args) < 2 {
			fmt.Println("Usage: cloudimg link remove <keyword>")
			return
		}
		removed, err := store.Remove(args[1])
		if err != nil {
			fmt.Printf("Error removing mapping: %v\n", err)
			os.Exit(1)
		}
		if !removed {
			fmt.Printf("✗ Keyword %s not found\n", args[1])
			return
		}
		fmt.Printf("✓ Removed /%s\n", args[1])
	default:
		fmt.Printf("Unknown link command: %s\n", args[0])
		linkHelp()
	}
}

func linkHelp() {
	fmt.Println("\nLink commands:")
	fmt.Println("  list                              List keyword mappings")
	fmt.Println("  add <keyword> <folder> [img|vid]  Map /keyword to a folder")
	fmt.Println("  remove <keyword>                  Remove a mapping")
}

func linkListCmd(store *keywords.Store) {
	keys := store.Keywords()
	if len(keys) == 0 {
		fmt.Println("No keyword mappings.")
		return
	}

	fmt.Println("\nKeyword mappings:")
	fmt.Println("-----------------")
	for _, key := range keys {
		m, _ := store.Get(key)
		fmt.Printf("  /%s -> %s (%s)\n", key, m.Folder, m.ContentType)
	}
}

func randomCmd() {
	args := parseDebug(os.Args[2:])

	cfg, err := loadConfig()
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	folder, contentArg := "", ""
	if len(args) > 0 {
		folder = args[0]
	}
	if len(args) > 1 {
		contentArg = args[1]
	}
	contentType, ok := keywords.ParseContentType(contentArg)
	if !ok {
		fmt.Printf("Invalid content type %q, expected img or vid\n", contentArg)
		os.Exit(1)
	}

	result, err := newImgBedClient(cfg).Random(context.Background(), folder, contentType)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("%s [%s] %s\n", logo, result.Kind, result.URL)
}

func statusCmd() {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		return
	}

	configPath := getConfigPath()

	fmt.Printf("%s cloudimg Status\n\n", logo)

	if _, err := os.Stat(configPath); err == nil {
		fmt.Println("Config:", configPath, "✓")
	} else {
		fmt.Println("Config:", configPath, "✗")
	}

	dataDir := cfg.DataPath()
	if _, err := os.Stat(dataDir); err == nil {
		fmt.Println("Data:", dataDir, "✓")
	} else {
		fmt.Println("Data:", dataDir, "✗")
	}

	status := func(value string) string {
		if value != "" {
			return "✓ " + utils.RedactURL(value)
		}
		return "not set"
	}
	fmt.Println("OneBot:", status(cfg.OneBot.WSUrl))
	fmt.Println("ImgBed:", status(cfg.ImgBed.BaseURL))
	if cfg.ImgBed.UploadURL != "" {
		fmt.Println("Upload endpoint:", status(cfg.ImgBed.UploadURL))
	}
	fmt.Printf("Admins: %d\n", len(cfg.Bot.Admins))
	fmt.Printf("Keywords: %d\n", len(keywords.NewStore(dataDir).Keywords()))
}

func getConfigPath() string {
	if p := os.Getenv("CLOUDIMG_CONFIG"); p != "" {
		return p
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".cloudimg", "config.json")
}

func loadConfig() (*config.Config, error) {
	return config.LoadConfig(getConfigPath())
}
