// Command mastocli is a small example client exercising the library: app
// registration, browser-based login with a local callback listener, timeline
// reads, posting, and logout.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/fedikit/masto/internal/browser"
	"github.com/fedikit/masto/internal/buildinfo"
	"github.com/fedikit/masto/internal/config"
	"github.com/fedikit/masto/internal/logging"
	"github.com/fedikit/masto/internal/misc"
	"github.com/fedikit/masto/internal/util"
	"github.com/fedikit/masto/sdk/masto/api"
	"github.com/fedikit/masto/sdk/masto/auth"
)

const callbackTimeout = 5 * time.Minute

var (
	configPath string
	register   bool
	login      bool
	noBrowser  bool
	timeline   string
	postText   string
	doLogout   bool
	doVerify   bool
	version    bool
)

func init() {
	logging.SetupBaseLogger()

	flag.StringVar(&configPath, "config", "config.yaml", "path to the configuration file")
	flag.BoolVar(&register, "register", false, "register a new application on the instance")
	flag.BoolVar(&login, "login", false, "start the browser-based login flow")
	flag.BoolVar(&noBrowser, "no-browser", false, "print the authorization URL instead of opening a browser")
	flag.StringVar(&timeline, "timeline", "", "print a timeline: home or public")
	flag.StringVar(&postText, "post", "", "publish a status with the given text")
	flag.BoolVar(&doLogout, "logout", false, "discard stored credentials")
	flag.BoolVar(&doVerify, "verify", false, "verify the stored credentials against the instance")
	flag.BoolVar(&version, "version", false, "print version information and exit")
}

func main() {
	// Environment overrides (MASTO_*) may live in a local .env file.
	if err := godotenv.Load(); err == nil {
		log.Debug("loaded environment from .env")
	}

	flag.Parse()

	if version {
		fmt.Printf("mastocli %s (%s, built %s)\n", buildinfo.Version, buildinfo.Commit, buildinfo.BuildDate)
		return
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("loading configuration failed: %v", err)
	}
	applyEnvOverrides(cfg)

	logging.SetDebug(cfg.Debug)
	if cfg.LogDir != "" {
		if err = logging.EnableFileOutput(cfg.LogDir); err != nil {
			log.Warnf("enabling file logging failed: %v", err)
		}
	}

	ctx := context.Background()

	if register {
		if err = registerApp(ctx, cfg); err != nil {
			log.Fatalf("application registration failed: %v", err)
		}
		return
	}

	if cfg.ClientID == "" {
		log.Fatal("no client-id configured; run with -register first")
	}

	manager, executor := buildStack(cfg)
	if err = manager.Initialize(ctx); err != nil {
		log.Warnf("restoring stored session failed: %v", err)
	}

	switch {
	case login:
		err = runLogin(ctx, cfg, manager)
	case doLogout:
		manager.Logout(ctx)
		fmt.Println("Logged out.")
	case doVerify:
		err = runVerify(ctx, cfg, executor)
	case timeline != "":
		err = runTimeline(ctx, cfg, executor, timeline)
	case postText != "":
		err = runPost(ctx, cfg, executor, postText)
	default:
		fmt.Printf("State: %s\n", manager.CurrentState())
		flag.Usage()
	}
	if err != nil {
		log.Fatalf("command failed: %v", err)
	}
}

// applyEnvOverrides lets secrets stay out of the config file.
func applyEnvOverrides(cfg *config.Config) {
	if v := os.Getenv("MASTO_CLIENT_ID"); v != "" {
		cfg.ClientID = v
	}
	if v := os.Getenv("MASTO_CLIENT_SECRET"); v != "" {
		cfg.ClientSecret = v
	}
	if v := os.Getenv("MASTO_ENCRYPTION_KEY"); v != "" {
		cfg.EncryptionKey = v
	}
}

// buildStack wires the credential store, auth manager, and request executor
// from the configuration.
func buildStack(cfg *config.Config) (*auth.Manager, *api.Executor) {
	httpClient := &http.Client{Timeout: 30 * time.Second}
	if cfg.ProxyURL != "" {
		httpClient = util.SetProxy(cfg.ProxyURL, httpClient)
	}

	flow := auth.NewFlow(auth.FlowConfig{
		InstanceURL:  cfg.InstanceURL,
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURI:  cfg.RedirectURI,
		Scopes:       cfg.Scopes,
		HTTPClient:   httpClient,
	})

	ops := auth.NewOSFileOps(cfg.AuthFile)
	var store auth.Store = auth.NewFileStore(ops)
	if cfg.EncryptionKey != "" {
		encrypted, err := auth.NewEncryptedFileStore(ops, []byte(cfg.EncryptionKey))
		if err != nil {
			log.Fatalf("initializing encrypted credential store failed: %v", err)
		}
		store = encrypted
	}

	manager := auth.NewManager(flow, store, auth.WithBaseTransport(httpClient.Transport))
	executor := api.NewExecutor(manager, api.WithTransportOptions(api.TransportOptions{ProxyURL: cfg.ProxyURL}))
	return manager, executor
}

// registerApp registers the CLI on the instance and writes the issued client
// credentials back into the configuration file.
func registerApp(ctx context.Context, cfg *config.Config) error {
	httpClient := &http.Client{Timeout: 30 * time.Second}
	if cfg.ProxyURL != "" {
		httpClient = util.SetProxy(cfg.ProxyURL, httpClient)
	}

	creds, err := auth.RegisterApplication(ctx, httpClient, cfg.InstanceURL,
		"mastocli", []string{cfg.RedirectURI}, cfg.Scopes, "")
	if err != nil {
		return err
	}

	cfg.ClientID = creds.ClientID
	cfg.ClientSecret = creds.ClientSecret
	if err = cfg.Save(configPath); err != nil {
		return err
	}
	fmt.Printf("Registered application; credentials saved to %s\n", configPath)
	return nil
}

// runLogin drives the full authorization flow: open the authorization URL,
// collect the callback (via the local listener or pasted input), and exchange
// the code.
func runLogin(ctx context.Context, cfg *config.Config, manager *auth.Manager) error {
	if manager.IsAuthenticated() {
		fmt.Println("Already authenticated.")
		return nil
	}

	misc.LogCredentialSeparator()
	authURL, err := manager.StartAuthentication()
	if err != nil {
		return err
	}

	useBrowser := !noBrowser && browser.IsAvailable()
	if useBrowser {
		if err = browser.OpenURL(authURL); err != nil {
			log.Warnf("opening browser failed: %v", err)
			useBrowser = false
		}
	}
	if !useBrowser {
		fmt.Printf("Open this URL in your browser:\n\n  %s\n\n", authURL)
		if err = clipboard.WriteAll(authURL); err == nil {
			fmt.Println("(copied to clipboard)")
		}
	}

	server := auth.NewCallbackServer(cfg.CallbackPort, "")
	if err = server.Start(); err != nil {
		log.Warnf("callback listener unavailable: %v", err)
		return loginFromPastedCallback(ctx, manager)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Stop(stopCtx)
	}()

	result, err := server.WaitForCallback(callbackTimeout)
	if err != nil {
		return err
	}
	if result.Error != "" {
		manager.HandleCallbackError(result.Error, "")
		return fmt.Errorf("authorization denied: %s", result.Error)
	}

	if err = manager.HandleAuthorizationCode(ctx, result.Code); err != nil {
		return err
	}
	fmt.Println("Login successful.")
	return nil
}

// loginFromPastedCallback falls back to reading the redirect URL from stdin
// when no local listener could be started.
func loginFromPastedCallback(ctx context.Context, manager *auth.Manager) error {
	fmt.Print("Paste the full callback URL (or just the code): ")
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return err
	}

	callback, err := misc.ParseOAuthCallback(line)
	if err != nil {
		return err
	}
	if callback == nil {
		return fmt.Errorf("no callback input provided")
	}
	if callback.Error != "" {
		manager.HandleCallbackError(callback.Error, callback.ErrorDescription)
		return fmt.Errorf("authorization denied: %s", callback.Error)
	}

	if err = manager.HandleAuthorizationCode(ctx, callback.Code); err != nil {
		return err
	}
	fmt.Println("Login successful.")
	return nil
}

func runVerify(ctx context.Context, cfg *config.Config, executor *api.Executor) error {
	client := api.NewClient(executor, cfg.InstanceURL)
	account, err := client.VerifyCredentials(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Authenticated as @%s (%s)\n", account.Acct, account.DisplayName)
	return nil
}

func runTimeline(ctx context.Context, cfg *config.Config, executor *api.Executor, name string) error {
	client := api.NewClient(executor, cfg.InstanceURL)

	var statuses []api.Status
	var err error
	switch name {
	case "home":
		statuses, err = client.HomeTimeline(ctx, 20, "")
	case "public":
		statuses, err = client.PublicTimeline(ctx, 20, "")
	default:
		return fmt.Errorf("unknown timeline %q (want home or public)", name)
	}
	if err != nil {
		return err
	}

	for _, status := range statuses {
		text := strings.TrimSpace(stripTags(status.Content))
		fmt.Printf("@%s: %s\n", status.Account.Acct, text)
	}
	return nil
}

func runPost(ctx context.Context, cfg *config.Config, executor *api.Executor, text string) error {
	client := api.NewClient(executor, cfg.InstanceURL)
	status, err := client.PostStatus(ctx, text, nil)
	if err != nil {
		return err
	}
	fmt.Printf("Posted: %s\n", status.URL)
	return nil
}

// stripTags removes HTML markup from status content for terminal output.
func stripTags(content string) string {
	var b strings.Builder
	inTag := false
	for _, r := range content {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
		case !inTag:
			b.WriteRune(r)
		}
	}
	return b.String()
}
